package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct rules and the settings each backend needs.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			msgs := make([]string, 0, len(validationErrs))
			for _, fieldError := range validationErrs {
				msgs = append(msgs, describe(fieldError))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.Model.Backend {
	case "whisper_cpp":
		if cfg.WhisperCpp.Binary == "" || cfg.WhisperCpp.Model == "" {
			return fmt.Errorf("invalid configuration: whisper_cpp backend requires WHISPER_CPP_BINARY and WHISPER_CPP_MODEL")
		}
	case "whisper_server":
		if err := ValidateURL(cfg.WhisperServer.URL, "whisper_server"); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	case "openai":
		if err := ValidateAPIKey(cfg.OpenAI.APIKey, "OpenAI"); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	default:
		return field + " is invalid"
	}
}

// ValidateAPIKey validates API key presence. Keys for OpenAI-compatible
// servers other than api.openai.com need not start with "sk-".
func ValidateAPIKey(apiKey string, keyType string) error {
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("%s API key is required", keyType)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(url string, name string) error {
	if url == "" {
		return fmt.Errorf("%s URL is required", name)
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("%s URL must start with http:// or https://", name)
	}

	return nil
}
