package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "kotoba-transcriber/internal/api/errors"
)

// ErrorHandler recovers panics into a JSON 500 response.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		requestID := c.GetString(RequestIDKey)

		var apiErr *apierrors.APIError
		switch err := recovered.(type) {
		case *apierrors.APIError:
			apiErr = err
		case error:
			logger.Error("Internal server error",
				zap.Error(err),
				zap.String("request_id", requestID),
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
			)
			apiErr = apierrors.NewInternalError("internal server error")
		default:
			logger.Error("Unknown panic occurred",
				zap.Any("recovered", recovered),
				zap.String("request_id", requestID),
			)
			apiErr = apierrors.NewInternalError("internal server error")
		}

		apiErr.RequestID = requestID
		c.AbortWithStatusJSON(apiErr.HTTPStatus(), apiErr)
	})
}

// HandleError writes err as a JSON error response and aborts the chain.
// Errors that are not *APIError are recorded on the context and reported
// to the client as an opaque 500.
func HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		_ = c.Error(err)
		apiErr = apierrors.NewInternalError("internal server error")
	}
	apiErr.RequestID = c.GetString(RequestIDKey)
	c.AbortWithStatusJSON(apiErr.HTTPStatus(), apiErr)
}
