package worker

import (
	"context"

	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/model"
)

func init() {
	provider.RegisterBackend(providerName, func(settings model.ModelSettings, cfg provider.BackendConfig, logger *zap.Logger) (provider.Pipeline, error) {
		return Start(context.Background(), settings, cfg, logger)
	})
}
