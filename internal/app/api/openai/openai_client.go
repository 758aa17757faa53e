package openai

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// NewClient builds an OpenAI-compatible client. baseURL may point at any
// server implementing /audio/transcriptions.
func NewClient(apiKey, baseURL string, timeout time.Duration) (*openai.Client, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("openai backend requires OPENAI_API_KEY or OPENAI_BASE_URL")
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	}
	return openai.NewClientWithConfig(clientConfig), nil
}
