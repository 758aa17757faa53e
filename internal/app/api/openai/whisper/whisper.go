package whisper

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/model"
)

const providerName = "openai"

// RemotePipeline transcribes through an OpenAI-compatible audio API.
type RemotePipeline struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewRemotePipeline creates a new RemotePipeline instance.
func NewRemotePipeline(client *openai.Client, modelName string, logger *zap.Logger) *RemotePipeline {
	if modelName == "" {
		modelName = openai.Whisper1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemotePipeline{client: client, model: modelName, logger: logger}
}

// Run requests verbose_json so the response carries segment timestamps.
func (rp *RemotePipeline) Run(ctx context.Context, path string, opts provider.GenerateOptions) (*provider.Output, error) {
	req := openai.AudioRequest{
		Model:    rp.model,
		FilePath: path,
		Language: provider.LanguageCode(opts.Language),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if opts.ReturnTimestamps {
		req.TimestampGranularities = []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		}
	}

	var (
		resp openai.AudioResponse
		err  error
	)
	if opts.Task == provider.TaskTranslate {
		resp, err = rp.client.CreateTranslation(ctx, req)
	} else {
		resp, err = rp.client.CreateTranscription(ctx, req)
	}
	if err != nil {
		return nil, &provider.TranscriptionError{Code: "api_error", Message: "createTranscription failed", Provider: providerName, Err: err}
	}

	out := &provider.Output{Text: strings.TrimSpace(resp.Text)}
	for _, seg := range resp.Segments {
		out.Chunks = append(out.Chunks, provider.Chunk{
			Timestamp: [2]*float64{provider.Seconds(seg.Start), provider.Seconds(seg.End)},
			Text:      seg.Text,
		})
	}
	rp.logger.Debug("remote transcription finished", zap.String("model", rp.model), zap.Int("segments", len(out.Chunks)), zap.Float64("audio_duration", resp.Duration))
	return out, nil
}

// Close is a no-op.
func (rp *RemotePipeline) Close() error {
	return nil
}

var _ provider.Pipeline = (*RemotePipeline)(nil)

// modelName picks the configured remote model, falling back to the session model id
// only when it looks like an API model rather than a Hugging Face repo.
func modelName(settings model.ModelSettings, configured string) string {
	if configured != "" {
		return configured
	}
	if settings.ModelID != "" && !strings.Contains(settings.ModelID, "/") {
		return settings.ModelID
	}
	return openai.Whisper1
}
