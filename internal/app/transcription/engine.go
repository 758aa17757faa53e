// Package transcription turns a staged media file into a timestamped transcript.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/metrics"
	"kotoba-transcriber/internal/app/model"
)

// ErrInference wraps failures of the inference pass itself.
var ErrInference = errors.New("inference failed")

// Inference is always run as Japanese transcription. The requested
// language is only echoed back in the result.
const (
	inferenceLanguage = "japanese"
	inferenceTask     = provider.TaskTranscribe
)

// Session is the part of session.Session the engine uses.
type Session interface {
	GetOrInit(ctx context.Context) (provider.Pipeline, error)
	Infer(ctx context.Context, path string, opts provider.GenerateOptions, timeout time.Duration) (*provider.Output, time.Duration, error)
}

// DurationProbe reports the media length in seconds. It is used to close
// segments whose end timestamp the model left open.
type DurationProbe func(ctx context.Context, path string) (float64, error)

// Engine runs inference through the shared session and normalizes its output.
type Engine struct {
	session Session
	timeout time.Duration
	probe   DurationProbe
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithTimeout bounds a single inference pass, not counting the wait for the
// inference slot. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithDurationProbe sets how open-ended segments are closed
func WithDurationProbe(p DurationProbe) Option {
	return func(e *Engine) { e.probe = p }
}

// WithMetrics records inference timings and segment counts
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over s.
func NewEngine(s Session, opts ...Option) *Engine {
	e := &Engine{session: s, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transcribe runs one inference pass over path. lang is recorded in the
// result but does not influence the model. Duration covers the pipeline run
// only, not model loading or queueing behind other requests.
func (e *Engine) Transcribe(ctx context.Context, path, lang string) (*model.TranscriptionResult, error) {
	if lang == "" {
		lang = model.DefaultLanguage
	}

	if _, err := e.session.GetOrInit(ctx); err != nil {
		return nil, err
	}

	out, elapsed, err := e.session.Infer(ctx, path, provider.GenerateOptions{
		Language:         inferenceLanguage,
		Task:             inferenceTask,
		ReturnTimestamps: true,
	}, e.timeout)

	if err != nil {
		e.metrics.RecordInference("error", elapsed)
		e.logger.Error("inference failed", zap.String("path", path), zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if out == nil {
		e.metrics.RecordInference("error", elapsed)
		return nil, fmt.Errorf("%w: empty output", ErrInference)
	}
	e.metrics.RecordInference("ok", elapsed)

	segments := e.segments(ctx, path, out.Chunks)
	if n := len(segments); n > 0 {
		e.metrics.RecordSegments(n, segments[n-1].End)
	}

	e.logger.Info("transcribed",
		zap.String("path", path),
		zap.Int("segments", len(segments)),
		zap.Duration("elapsed", elapsed))

	return &model.TranscriptionResult{
		Text:     out.Text,
		File:     path,
		Lang:     lang,
		Segments: segments,
		Duration: elapsed.Seconds(),
	}, nil
}

// segments maps chunks one-to-one, in order, and enforces start <= end.
func (e *Engine) segments(ctx context.Context, path string, chunks []provider.Chunk) []model.Segment {
	mediaEnd := -1.0
	if e.probe != nil && lo.ContainsBy(chunks, func(c provider.Chunk) bool { return c.Timestamp[1] == nil }) {
		if d, err := e.probe(ctx, path); err == nil {
			mediaEnd = d
		} else {
			e.logger.Debug("could not probe media duration", zap.String("path", path), zap.Error(err))
		}
	}

	return lo.Map(chunks, func(c provider.Chunk, _ int) model.Segment {
		return normalize(c, mediaEnd)
	})
}

// normalize converts one chunk. A missing start is 0. A missing end is
// mediaEnd when known (>= 0), otherwise the start. An end before the
// start is raised to the start.
func normalize(c provider.Chunk, mediaEnd float64) model.Segment {
	seg := model.Segment{Text: c.Text}
	if c.Timestamp[0] != nil {
		seg.Start = *c.Timestamp[0]
	}
	switch {
	case c.Timestamp[1] != nil:
		seg.End = *c.Timestamp[1]
	case mediaEnd >= 0:
		seg.End = mediaEnd
	default:
		seg.End = seg.Start
	}
	if seg.Start < 0 {
		seg.Start = 0
	}
	if seg.End < seg.Start {
		seg.End = seg.Start
	}
	return seg
}
