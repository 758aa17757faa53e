package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from the first .env file found.
// Variables already set in the environment take precedence.
func LoadEnv() (string, error) {
	envPaths := []string{
		".env",
		".env.local",
		"../.env",
		"../../.env",
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return "", fmt.Errorf("error loading %s file: %w", envPath, err)
			}
			return envPath, nil
		}
	}
	return "", nil
}

// GetProjectRoot finds the project root directory by looking for go.mod
func GetProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find project root (go.mod not found)")
}

// envOverrides applies environment variables on top of cfg. Malformed
// numeric, boolean or duration values are reported rather than ignored.
func envOverrides(cfg *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not an integer: %q", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not a boolean: %q", key, v))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not a duration: %q", key, v))
				return
			}
			*dst = d
		}
	}

	str("HOST", &cfg.Server.Host)
	num("PORT", &cfg.Server.Port)
	str("UPLOAD_DIR", &cfg.Server.UploadDir)
	num("MAX_UPLOAD_MB", &cfg.Server.MaxUploadMB)
	dur("STALE_UPLOAD_AGE", &cfg.Server.StaleUploadAge)
	dur("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	str("MODEL_ID", &cfg.Model.ID)
	str("BACKEND", &cfg.Model.Backend)
	str("DEVICE", &cfg.Model.Device)
	flag("PRELOAD_MODEL", &cfg.Model.Preload)
	dur("INFERENCE_TIMEOUT", &cfg.Model.InferenceTimeout)

	str("PYTHON_BIN", &cfg.Worker.PythonBin)
	str("WORKER_SCRIPT", &cfg.Worker.Script)
	dur("WORKER_START_TIMEOUT", &cfg.Worker.StartTimeout)

	str("WHISPER_CPP_BINARY", &cfg.WhisperCpp.Binary)
	str("WHISPER_CPP_MODEL", &cfg.WhisperCpp.Model)

	str("WHISPER_SERVER_URL", &cfg.WhisperServer.URL)

	str("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	str("OPENAI_MODEL", &cfg.OpenAI.Model)
	dur("OPENAI_TIMEOUT", &cfg.OpenAI.Timeout)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("ENVIRONMENT", &cfg.Log.Environment)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
