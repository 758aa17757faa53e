package provider

import (
	"fmt"

	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/model"
)

// Factory binds a backend name and its configuration so the model session
// can load the pipeline lazily.
type Factory struct {
	backend string
	config  BackendConfig
	logger  *zap.Logger
}

// NewFactory creates a factory for the named backend
func NewFactory(backend string, config BackendConfig, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{backend: backend, config: config, logger: logger}
}

// Backend returns the configured backend name
func (f *Factory) Backend() string {
	return f.backend
}

// Load creates the pipeline. Every call performs a fresh load.
func (f *Factory) Load(settings model.ModelSettings) (Pipeline, error) {
	creator, err := GetBackendCreator(f.backend)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %v)", err, ListRegisteredBackends())
	}
	return creator(settings, f.config, f.logger.With(zap.String("backend", f.backend)))
}
