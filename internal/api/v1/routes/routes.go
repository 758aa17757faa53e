package routes

import (
	"github.com/gin-gonic/gin"

	"kotoba-transcriber/internal/api/middleware"
	"kotoba-transcriber/internal/api/v1/handlers"
)

// HandlerContainer holds the handlers served by the API
type HandlerContainer struct {
	Transcribe *handlers.TranscribeHandler
	Health     *handlers.HealthHandler

	// MaxUploadBytes bounds POST /transcribe bodies; zero disables the limit.
	MaxUploadBytes int64
}

// RegisterRoutes registers the transcription and health routes
func RegisterRoutes(router gin.IRouter, container *HandlerContainer) {
	router.GET("/health", container.Health.Get)

	transcribe := router.Group("/transcribe")
	{
		transcribe.GET("", container.Transcribe.Form)
		transcribe.POST("", middleware.BodyLimit(container.MaxUploadBytes), container.Transcribe.Transcribe)
	}
}
