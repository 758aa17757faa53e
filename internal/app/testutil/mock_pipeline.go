package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/model"
)

// MockPipeline is a testify mock of provider.Pipeline.
// Run waits Latency (or until ctx ends) before consulting the expectations.
type MockPipeline struct {
	mock.Mock
	Latency time.Duration

	mu            sync.Mutex
	running       int
	maxConcurrent int
	closed        int
}

// NewMockPipeline creates a MockPipeline with no latency
func NewMockPipeline() *MockPipeline {
	return &MockPipeline{}
}

// Run implements provider.Pipeline
func (m *MockPipeline) Run(ctx context.Context, path string, opts provider.GenerateOptions) (*provider.Output, error) {
	m.mu.Lock()
	m.running++
	if m.running > m.maxConcurrent {
		m.maxConcurrent = m.running
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
	}()

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	args := m.Called(ctx, path, opts)
	out, _ := args.Get(0).(*provider.Output)
	return out, args.Error(1)
}

// Close implements provider.Pipeline
func (m *MockPipeline) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// MaxConcurrent returns the largest number of overlapping Run calls seen
func (m *MockPipeline) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent
}

// Closed returns how many times Close was called
func (m *MockPipeline) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockLoader hands out Pipeline after returning each of Failures in turn.
type MockLoader struct {
	Pipeline provider.Pipeline
	Failures []error
	Delay    time.Duration

	mu       sync.Mutex
	loads    int
	settings []model.ModelSettings
}

// NewMockLoader creates a loader that always succeeds with p
func NewMockLoader(p provider.Pipeline) *MockLoader {
	return &MockLoader{Pipeline: p}
}

// WithFailures makes the next loads fail with errs, in order
func (l *MockLoader) WithFailures(errs ...error) *MockLoader {
	l.Failures = append(l.Failures, errs...)
	return l
}

// Load implements session.Loader
func (l *MockLoader) Load(settings model.ModelSettings) (provider.Pipeline, error) {
	if l.Delay > 0 {
		time.Sleep(l.Delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	l.settings = append(l.settings, settings)
	if len(l.Failures) > 0 {
		err := l.Failures[0]
		l.Failures = l.Failures[1:]
		return nil, err
	}
	return l.Pipeline, nil
}

// Loads returns how many times Load was called
func (l *MockLoader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// LastSettings returns the settings passed to the most recent Load
func (l *MockLoader) LastSettings() model.ModelSettings {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.settings) == 0 {
		return model.ModelSettings{}
	}
	return l.settings[len(l.settings)-1]
}
