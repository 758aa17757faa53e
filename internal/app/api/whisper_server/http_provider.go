package whisper_server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/model"
)

const providerName = "whisper_server"

// ServerPipeline sends each file to a running whisper-server instance. The
// model lives in that process; loading here only verifies it is reachable.
type ServerPipeline struct {
	baseURL       string
	inferencePath string
	client        *http.Client
	logger        *zap.Logger
}

// WhisperServerResponse is the verbose_json document returned by /inference
type WhisperServerResponse struct {
	Text     string                 `json:"text"`
	Task     string                 `json:"task,omitempty"`
	Language string                 `json:"language,omitempty"`
	Duration float64                `json:"duration,omitempty"`
	Segments []WhisperServerSegment `json:"segments,omitempty"`
}

// WhisperServerSegment represents a segment in verbose response
type WhisperServerSegment struct {
	ID    int     `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewServerPipeline creates the pipeline and checks the server answers.
func NewServerPipeline(ctx context.Context, settings model.ModelSettings, cfg provider.BackendConfig, logger *zap.Logger) (*ServerPipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WhisperServerURL == "" {
		return nil, fmt.Errorf("whisper_server backend requires WHISPER_SERVER_URL")
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	sp := &ServerPipeline{
		baseURL:       strings.TrimSuffix(cfg.WhisperServerURL, "/"),
		inferencePath: "/inference",
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
	if err := sp.HealthCheck(ctx); err != nil {
		return nil, err
	}
	logger.Info("whisper-server reachable", zap.String("base_url", sp.baseURL), zap.String("model", settings.ModelID))
	return sp, nil
}

// HealthCheck verifies the server is up.
func (sp *ServerPipeline) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sp.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := sp.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper-server unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("whisper-server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Run posts the file to /inference and converts the verbose_json segments.
func (sp *ServerPipeline) Run(ctx context.Context, path string, opts provider.GenerateOptions) (*provider.Output, error) {
	body, contentType, err := sp.createMultipartForm(path, opts)
	if err != nil {
		return nil, &provider.TranscriptionError{Code: "form_creation_failed", Message: "failed to create multipart form", Provider: providerName, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, sp.baseURL+sp.inferencePath, body)
	if err != nil {
		return nil, &provider.TranscriptionError{Code: "request_creation_failed", Message: "failed to create HTTP request", Provider: providerName, Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := sp.client.Do(httpReq)
	if err != nil {
		return nil, &provider.TranscriptionError{Code: "request_failed", Message: "HTTP request failed", Provider: providerName, Err: err}
	}
	defer resp.Body.Close()

	responseData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.TranscriptionError{Code: "response_read_failed", Message: "failed to read response", Provider: providerName, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &provider.TranscriptionError{
			Code:     "api_error",
			Message:  fmt.Sprintf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseData))),
			Provider: providerName,
		}
	}

	var parsed WhisperServerResponse
	if err := json.Unmarshal(responseData, &parsed); err != nil {
		return nil, &provider.TranscriptionError{Code: "response_parse_failed", Message: "failed to parse verbose JSON response", Provider: providerName, Err: err}
	}

	return &provider.Output{
		Text: strings.TrimSpace(parsed.Text),
		Chunks: lo.Map(parsed.Segments, func(s WhisperServerSegment, _ int) provider.Chunk {
			return provider.Chunk{
				Timestamp: [2]*float64{provider.Seconds(s.Start), provider.Seconds(s.End)},
				Text:      s.Text,
			}
		}),
	}, nil
}

// createMultipartForm creates the multipart form for the API request
func (sp *ServerPipeline) createMultipartForm(path string, opts provider.GenerateOptions) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy file content: %w", err)
	}

	params := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0.00",
	}
	if opts.Language != "" {
		params["language"] = provider.LanguageCode(opts.Language)
	}
	if opts.Task == provider.TaskTranslate {
		params["translate"] = "true"
	}
	if !opts.ReturnTimestamps {
		params["no_timestamps"] = "true"
	}
	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// Close releases idle connections.
func (sp *ServerPipeline) Close() error {
	sp.client.CloseIdleConnections()
	return nil
}

var (
	_ provider.Pipeline      = (*ServerPipeline)(nil)
	_ provider.HealthChecker = (*ServerPipeline)(nil)
)
