package whisper

import (
	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/api/openai"
	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/model"
)

func init() {
	provider.RegisterBackend(providerName, createOpenAIPipeline)
}

// createOpenAIPipeline creates an OpenAI pipeline from configuration
func createOpenAIPipeline(settings model.ModelSettings, cfg provider.BackendConfig, logger *zap.Logger) (provider.Pipeline, error) {
	client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	return NewRemotePipeline(client, modelName(settings, cfg.OpenAIModel), logger), nil
}
