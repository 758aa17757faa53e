package provider

import (
	"errors"
	"fmt"
	"time"
)

// Tasks understood by the pipelines.
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// GenerateOptions are passed through to the decoder.
type GenerateOptions struct {
	Language         string `json:"language,omitempty"`
	Task             string `json:"task,omitempty"`
	ReturnTimestamps bool   `json:"return_timestamps"`
}

// Output is the raw result of one pipeline run.
type Output struct {
	Text   string  `json:"text"`
	Chunks []Chunk `json:"chunks"`
}

// Chunk is one model-detected chunk. Either bound of Timestamp may be nil;
// the pipeline leaves the end open when the audio stops mid-chunk.
type Chunk struct {
	Timestamp [2]*float64 `json:"timestamp"`
	Text      string      `json:"text"`
}

// Seconds is a helper for building chunk timestamps.
func Seconds(v float64) *float64 {
	return &v
}

// BackendConfig carries the settings every backend creator may need.
type BackendConfig struct {
	// worker
	PythonBin    string        `yaml:"python_bin"`
	WorkerScript string        `yaml:"worker_script"`
	StartTimeout time.Duration `yaml:"start_timeout"`

	// whisper_cpp
	WhisperCppBinary string `yaml:"whisper_cpp_binary"`
	WhisperCppModel  string `yaml:"whisper_cpp_model"`
	TempDir          string `yaml:"temp_dir"`

	// whisper_server
	WhisperServerURL string `yaml:"whisper_server_url"`

	// openai
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ErrPipelineUnavailable reports a pipeline that can no longer serve requests
// and must be reloaded.
var ErrPipelineUnavailable = errors.New("pipeline unavailable")

// TranscriptionError is returned by backends for failures on a given input.
type TranscriptionError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Provider string `json:"provider"`
	Err      error  `json:"-"`
}

func (e *TranscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}
