package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/model"
)

// ErrModelInit wraps any failure to load the pipeline.
var ErrModelInit = errors.New("model initialization failed")

// Loader performs the heavyweight pipeline load. *provider.Factory implements it.
type Loader interface {
	Load(settings model.ModelSettings) (provider.Pipeline, error)
}

// Session is the process-wide handle to the loaded pipeline. The pipeline
// is created on first use and reused until Close. A failed load is not
// remembered, so the next caller tries again.
type Session struct {
	loader  Loader
	modelID string
	device  string
	logger  *zap.Logger

	// initMu serializes loads. mu guards the published pipeline and is
	// never held across a load, so Ready does not wait for one.
	initMu   sync.Mutex
	mu       sync.RWMutex
	pipeline provider.Pipeline
	settings model.ModelSettings

	// infer admits one inference at a time.
	infer chan struct{}
}

// Option configures a Session
type Option func(*Session)

// WithModelID sets the checkpoint to load
func WithModelID(id string) Option {
	return func(s *Session) { s.modelID = id }
}

// WithDevice sets the device override ("auto", "cpu", "cuda", "cuda:N")
func WithDevice(device string) Option {
	return func(s *Session) { s.device = device }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// New creates an uninitialized session.
func New(loader Loader, opts ...Option) *Session {
	s := &Session{
		loader:  loader,
		modelID: DefaultModelID,
		device:  "auto",
		logger:  zap.NewNop(),
		infer:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrInit returns the pipeline, loading it if this is the first call or
// the previous load failed. Concurrent first callers wait for one load.
func (s *Session) GetOrInit(ctx context.Context) (provider.Pipeline, error) {
	if p := s.current(); p != nil {
		return p, nil
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()
	if p := s.current(); p != nil {
		return p, nil
	}

	settings := SelectSettings(s.modelID, DetectDevice(ctx, s.device))
	s.logger.Info("loading model",
		zap.String("model", settings.ModelID),
		zap.String("device", settings.Device),
		zap.String("precision", settings.Precision),
		zap.String("attn", settings.AttnImplementation))

	start := time.Now()
	p, err := s.loader.Load(settings)
	if err != nil {
		s.logger.Error("model load failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("%w: %w", ErrModelInit, err)
	}
	s.logger.Info("model loaded", zap.Duration("elapsed", time.Since(start)))

	s.mu.Lock()
	s.pipeline = p
	s.settings = settings
	s.mu.Unlock()
	return p, nil
}

func (s *Session) current() provider.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline
}

// Infer runs one inference on the shared pipeline and reports how long the
// pipeline ran. Calls are serialized; a caller waiting for its turn gives up
// when ctx ends. Once started, the run ignores ctx cancellation and is
// bounded by timeout instead (zero means unbounded).
func (s *Session) Infer(ctx context.Context, path string, opts provider.GenerateOptions, timeout time.Duration) (*provider.Output, time.Duration, error) {
	p, err := s.GetOrInit(ctx)
	if err != nil {
		return nil, 0, err
	}

	select {
	case s.infer <- struct{}{}:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	defer func() { <-s.infer }()

	// The previous holder may have discarded p.
	if p, err = s.GetOrInit(ctx); err != nil {
		return nil, 0, err
	}

	runCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := p.Run(runCtx, path, opts)
	elapsed := time.Since(start)
	if errors.Is(err, provider.ErrPipelineUnavailable) {
		s.discard(p)
	}
	return out, elapsed, err
}

// discard drops a broken pipeline so the next call reloads it.
func (s *Session) discard(p provider.Pipeline) {
	s.mu.Lock()
	if s.pipeline != p {
		s.mu.Unlock()
		return
	}
	s.pipeline = nil
	s.mu.Unlock()

	s.logger.Warn("discarding unavailable pipeline")
	if err := p.Close(); err != nil {
		s.logger.Warn("failed to close pipeline", zap.Error(err))
	}
}

// Ready reports whether the pipeline is loaded.
func (s *Session) Ready() bool {
	return s.current() != nil
}

// Settings returns the settings of the loaded pipeline.
func (s *Session) Settings() (model.ModelSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, s.pipeline != nil
}

// HealthCheck asks the loaded pipeline whether it can still serve requests.
// It is nil when nothing is loaded or the backend cannot report liveness.
func (s *Session) HealthCheck(ctx context.Context) error {
	hc, ok := s.current().(provider.HealthChecker)
	if !ok {
		return nil
	}
	return hc.HealthCheck(ctx)
}

// Close releases the pipeline. The session may be initialized again afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	p := s.pipeline
	s.pipeline = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}
