package provider

import (
	"context"
)

// Pipeline is a loaded speech-recognition pipeline.
//
// Given a path to an audio file and a language/task hint it produces the
// aggregate text plus timestamped chunks. Implementations are not required
// to be reentrant; callers serialize Run.
type Pipeline interface {
	// Run performs one inference pass over the media at path.
	Run(ctx context.Context, path string, opts GenerateOptions) (*Output, error)

	// Close releases the loaded model.
	Close() error
}

// HealthChecker is implemented by pipelines that can report liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
