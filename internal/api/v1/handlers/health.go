package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apierrors "kotoba-transcriber/internal/api/errors"
	"kotoba-transcriber/internal/api/middleware"
	"kotoba-transcriber/internal/app/model"
)

// healthCheckTimeout bounds the backend liveness probe.
const healthCheckTimeout = 5 * time.Second

// ModelReporter exposes the loaded model settings and backend liveness
type ModelReporter interface {
	Settings() (model.ModelSettings, bool)
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves /health
type HealthHandler struct {
	session ModelReporter
	backend string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(sess ModelReporter, backend string) *HealthHandler {
	return &HealthHandler{session: sess, backend: backend}
}

// Get handles GET /health
// The service is healthy whether or not the model has been loaded yet. A
// loaded backend that stopped serving makes it unavailable.
func (h *HealthHandler) Get(c *gin.Context) {
	settings, ready := h.session.Settings()
	if ready {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.session.HealthCheck(ctx); err != nil {
			_ = c.Error(err)
			middleware.HandleError(c, apierrors.NewServiceUnavailableError("inference backend unavailable"))
			return
		}
	}

	body := gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"backend":     h.backend,
		"model_ready": ready,
	}
	if ready {
		body["model"] = settings
	}
	c.JSON(http.StatusOK, body)
}
