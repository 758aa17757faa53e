package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "./tmp/trans", cfg.Server.UploadDir)
	assert.Equal(t, "kotoba-tech/kotoba-whisper-v1.1", cfg.Model.ID)
	assert.Equal(t, "worker", cfg.Model.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Model.InferenceTimeout)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, int64(512<<20), cfg.MaxUploadBytes())
	assert.True(t, cfg.Development())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("UPLOAD_DIR", "/var/tmp/uploads")
	t.Setenv("DEVICE", "cpu")
	t.Setenv("PRELOAD_MODEL", "true")
	t.Setenv("INFERENCE_TIMEOUT", "90s")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/var/tmp/uploads", cfg.Server.UploadDir)
	assert.Equal(t, "cpu", cfg.Model.Device)
	assert.True(t, cfg.Model.Preload)
	assert.Equal(t, 90*time.Second, cfg.Model.InferenceTimeout)
	assert.False(t, cfg.Development())
	assert.Equal(t, filepath.Join("/var/tmp/uploads", "converted"), cfg.BackendConfig().TempDir)
}

func TestLoad_MalformedEnv(t *testing.T) {
	t.Setenv("PORT", "nine thousand")
	t.Setenv("INFERENCE_TIMEOUT", "10")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT: not an integer")
	assert.Contains(t, err.Error(), "INFERENCE_TIMEOUT: not a duration")
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8000
  upload_dir: /data/uploads
model:
  backend: whisper_server
whisper_server:
  url: http://localhost:8178
`), 0644))
	t.Setenv("PORT", "8001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Server.Port)
	assert.Equal(t, "/data/uploads", cfg.Server.UploadDir)
	assert.Equal(t, "whisper_server", cfg.Model.Backend)
	assert.Equal(t, "http://localhost:8178", cfg.BackendConfig().WhisperServerURL)
	assert.Equal(t, 512, cfg.Server.MaxUploadMB, "unset keys keep their defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port must be at most 65535"},
		{"unknown backend", func(c *Config) { c.Model.Backend = "tpu" }, "model.backend must be one of"},
		{"empty upload dir", func(c *Config) { c.Server.UploadDir = "" }, "server.uploaddir is required"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level must be one of"},
		{"whisper_cpp without model", func(c *Config) {
			c.Model.Backend = "whisper_cpp"
			c.WhisperCpp.Binary = "/usr/local/bin/whisper-cli"
		}, "requires WHISPER_CPP_BINARY and WHISPER_CPP_MODEL"},
		{"whisper_server without url", func(c *Config) { c.Model.Backend = "whisper_server" }, "whisper_server URL is required"},
		{"openai without key", func(c *Config) { c.Model.Backend = "openai" }, "OpenAI API key is required"},
		{"openai with key", func(c *Config) {
			c.Model.Backend = "openai"
			c.OpenAI.APIKey = "local-key"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	path, err := LoadEnv()
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KOTOBA_TEST_VALUE=from-dotenv\n"), 0644))
	t.Setenv("KOTOBA_TEST_VALUE", "")
	os.Unsetenv("KOTOBA_TEST_VALUE")

	path, err = LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, ".env", path)
	assert.Equal(t, "from-dotenv", os.Getenv("KOTOBA_TEST_VALUE"))
	os.Unsetenv("KOTOBA_TEST_VALUE")
}
