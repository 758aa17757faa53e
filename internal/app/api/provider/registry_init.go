package provider

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/model"
)

// PipelineCreator loads a pipeline for the given settings. It performs the
// heavyweight model load and may take a long time.
type PipelineCreator func(settings model.ModelSettings, cfg BackendConfig, logger *zap.Logger) (Pipeline, error)

// pipelineRegistry stores backend creation functions
var (
	pipelineRegistry = make(map[string]PipelineCreator)
	registryMutex    sync.RWMutex
)

// RegisterBackend registers a backend creator function
func RegisterBackend(name string, creator PipelineCreator) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	pipelineRegistry[name] = creator
}

// GetBackendCreator returns the creator function for a backend
func GetBackendCreator(name string) (PipelineCreator, error) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	creator, ok := pipelineRegistry[name]
	if !ok {
		return nil, fmt.Errorf("backend %s not registered", name)
	}
	return creator, nil
}

// ListRegisteredBackends returns all registered backend names, sorted
func ListRegisteredBackends() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	var backends []string
	for name := range pipelineRegistry {
		backends = append(backends, name)
	}
	sort.Strings(backends)
	return backends
}
