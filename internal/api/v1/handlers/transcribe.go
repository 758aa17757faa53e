package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "kotoba-transcriber/internal/api/errors"
	"kotoba-transcriber/internal/api/middleware"
	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/model"
	"kotoba-transcriber/internal/app/session"
	"kotoba-transcriber/internal/app/staging"
	"kotoba-transcriber/internal/app/transcription"
)

const (
	mediaField = "media"
	langField  = "lang"
)

// Transcriber runs inference on a staged file
type Transcriber interface {
	Transcribe(ctx context.Context, path, lang string) (*model.TranscriptionResult, error)
}

// Stager owns the on-disk copy of an upload
type Stager interface {
	Stage(ctx context.Context, r io.Reader) (*staging.StagedFile, error)
	Release(f *staging.StagedFile)
}

// ModelSession is the part of the model session the handlers touch
type ModelSession interface {
	GetOrInit(ctx context.Context) (provider.Pipeline, error)
	Ready() bool
}

// TranscribeHandler serves /transcribe
type TranscribeHandler struct {
	engine  Transcriber
	store   Stager
	session ModelSession
	logger  *zap.Logger

	warming atomic.Bool
}

// NewTranscribeHandler creates a new transcribe handler
func NewTranscribeHandler(engine Transcriber, store Stager, sess ModelSession, logger *zap.Logger) *TranscribeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscribeHandler{engine: engine, store: store, session: sess, logger: logger}
}

// Form handles GET /transcribe
// Returns the upload form and starts loading the model if it is not loaded yet.
func (h *TranscribeHandler) Form(c *gin.Context) {
	h.warmUp()
	c.Data(http.StatusOK, "text/html; charset=utf-8", uploadForm)
}

// warmUp loads the model in the background. At most one load is kicked off
// at a time; a failure is logged and retried by the next request.
func (h *TranscribeHandler) warmUp() {
	if h.session.Ready() || !h.warming.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer h.warming.Store(false)
		if _, err := h.session.GetOrInit(context.Background()); err != nil {
			h.logger.Error("model warm-up failed", zap.Error(err))
		}
	}()
}

// Transcribe handles POST /transcribe
// Stages the "media" upload, transcribes it and always removes the staged copy.
func (h *TranscribeHandler) Transcribe(c *gin.Context) {
	fileHeader, err := c.FormFile(mediaField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.HandleError(c, apierrors.NewPayloadTooLargeError("upload too large"))
			return
		}
		middleware.HandleError(c, apierrors.NewBadRequestError("no media file"))
		return
	}
	if fileHeader.Filename == "" {
		middleware.HandleError(c, apierrors.NewBadRequestError("no media file"))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %w", staging.ErrStaging, err))
		return
	}
	defer src.Close()

	req := model.TranscriptionRequest{
		Media:    src,
		Filename: fileHeader.Filename,
		Lang:     strings.TrimSpace(c.PostForm(langField)),
	}
	if req.Lang == "" {
		req.Lang = model.DefaultLanguage
	}

	ctx := c.Request.Context()
	staged, err := h.store.Stage(ctx, req.Media)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer h.store.Release(staged)

	result, err := h.engine.Transcribe(ctx, staged.Path, req.Lang)
	if err != nil {
		h.fail(c, err)
		return
	}
	result.Original = req.Filename

	c.PureJSON(http.StatusOK, result)
}

// fail logs err and answers with an opaque server error for its category.
func (h *TranscribeHandler) fail(c *gin.Context, err error) {
	h.logger.Error("transcription request failed",
		zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		zap.Error(err))
	_ = c.Error(err)
	middleware.HandleError(c, toAPIError(err))
}

func toAPIError(err error) *apierrors.APIError {
	switch {
	case errors.Is(err, staging.ErrStaging):
		return apierrors.NewInternalError("failed to store upload")
	case errors.Is(err, session.ErrModelInit):
		return apierrors.NewInternalError("model initialization failed")
	case errors.Is(err, transcription.ErrInference):
		return apierrors.NewInternalError("transcription failed")
	default:
		return apierrors.NewInternalError("internal server error")
	}
}
