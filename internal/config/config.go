package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"kotoba-transcriber/internal/app/api/provider"
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Model         ModelConfig         `yaml:"model"`
	Worker        WorkerConfig        `yaml:"worker"`
	WhisperCpp    WhisperCppConfig    `yaml:"whisper_cpp"`
	WhisperServer WhisperServerConfig `yaml:"whisper_server"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Log           LogConfig           `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	UploadDir       string        `yaml:"upload_dir" validate:"required"`
	MaxUploadMB     int           `yaml:"max_upload_mb" validate:"min=1"`
	StaleUploadAge  time.Duration `yaml:"stale_upload_age" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

type ModelConfig struct {
	ID               string        `yaml:"id" validate:"required"`
	Backend          string        `yaml:"backend" validate:"required,oneof=worker whisper_cpp whisper_server openai"`
	Device           string        `yaml:"device"`
	Preload          bool          `yaml:"preload"`
	InferenceTimeout time.Duration `yaml:"inference_timeout" validate:"min=0"`
}

type WorkerConfig struct {
	PythonBin    string        `yaml:"python_bin"`
	Script       string        `yaml:"script"`
	StartTimeout time.Duration `yaml:"start_timeout" validate:"min=0"`
}

type WhisperCppConfig struct {
	Binary string `yaml:"binary"`
	Model  string `yaml:"model"`
}

type WhisperServerConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Environment string `yaml:"environment" validate:"omitempty,oneof=development production"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9000,
			UploadDir:       "./tmp/trans",
			MaxUploadMB:     512,
			StaleUploadAge:  time.Hour,
			ShutdownTimeout: 30 * time.Second,
		},
		Model: ModelConfig{
			ID:               "kotoba-tech/kotoba-whisper-v1.1",
			Backend:          "worker",
			Device:           "auto",
			InferenceTimeout: 10 * time.Minute,
		},
		Worker: WorkerConfig{
			PythonBin:    "python3",
			StartTimeout: 15 * time.Minute,
		},
		OpenAI: OpenAIConfig{
			Model:   "whisper-1",
			Timeout: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:       "info",
			Environment: "development",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then environment variables, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr is the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// MaxUploadBytes is the request body limit for uploads
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// Development reports whether development logging is enabled
func (c *Config) Development() bool {
	return c.Log.Environment != "production"
}

// BackendConfig converts the backend sections for the pipeline factory.
func (c *Config) BackendConfig() provider.BackendConfig {
	return provider.BackendConfig{
		PythonBin:        c.Worker.PythonBin,
		WorkerScript:     c.Worker.Script,
		StartTimeout:     c.Worker.StartTimeout,
		WhisperCppBinary: c.WhisperCpp.Binary,
		WhisperCppModel:  c.WhisperCpp.Model,
		TempDir:          filepath.Join(c.Server.UploadDir, "converted"),
		WhisperServerURL: c.WhisperServer.URL,
		OpenAIAPIKey:     c.OpenAI.APIKey,
		OpenAIBaseURL:    c.OpenAI.BaseURL,
		OpenAIModel:      c.OpenAI.Model,
		RequestTimeout:   c.OpenAI.Timeout,
	}
}
