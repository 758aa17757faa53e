package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/testutil"
)

func TestSession_GetOrInitLoadsOnce(t *testing.T) {
	pipe := testutil.NewMockPipeline()
	loader := testutil.NewMockLoader(pipe)
	loader.Delay = 50 * time.Millisecond
	s := New(loader, WithDevice("cpu"))

	assert.False(t, s.Ready())

	var wg sync.WaitGroup
	results := make([]provider.Pipeline, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.GetOrInit(context.Background())
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, loader.Loads())
	for _, p := range results {
		assert.Same(t, pipe, p)
	}
	assert.True(t, s.Ready())

	p, err := s.GetOrInit(context.Background())
	require.NoError(t, err)
	assert.Same(t, pipe, p)
	assert.Equal(t, 1, loader.Loads())
}

func TestSession_FailedInitIsRetried(t *testing.T) {
	pipe := testutil.NewMockPipeline()
	loader := testutil.NewMockLoader(pipe).WithFailures(errors.New("out of memory"))
	s := New(loader, WithDevice("cpu"))

	_, err := s.GetOrInit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelInit)
	assert.Contains(t, err.Error(), "out of memory")
	assert.False(t, s.Ready())

	p, err := s.GetOrInit(context.Background())
	require.NoError(t, err)
	assert.Same(t, pipe, p)
	assert.Equal(t, 2, loader.Loads())
}

func TestSession_ReadyDoesNotWaitForLoad(t *testing.T) {
	loader := testutil.NewMockLoader(testutil.NewMockPipeline())
	loader.Delay = time.Second
	s := New(loader, WithDevice("cpu"))

	loaded := make(chan struct{})
	go func() {
		defer close(loaded)
		_, _ = s.GetOrInit(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	assert.False(t, s.Ready())
	_, ok := s.Settings()
	assert.False(t, ok)
	assert.NoError(t, s.HealthCheck(context.Background()))
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	<-loaded
	assert.True(t, s.Ready())
}

func TestSession_SettingsFollowDevice(t *testing.T) {
	tests := []struct {
		name      string
		device    string
		want      string
		precision string
		attn      string
	}{
		{"cpu", "cpu", "cpu", "float32", ""},
		{"cuda", "cuda", "cuda:0", "float16", "sdpa"},
		{"explicit index", "cuda:1", "cuda:1", "float16", "sdpa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := testutil.NewMockLoader(testutil.NewMockPipeline())
			s := New(loader, WithDevice(tt.device), WithModelID("custom/model"))
			_, err := s.GetOrInit(context.Background())
			require.NoError(t, err)

			got := loader.LastSettings()
			assert.Equal(t, "custom/model", got.ModelID)
			assert.Equal(t, tt.want, got.Device)
			assert.Equal(t, tt.precision, got.Precision)
			assert.Equal(t, tt.attn, got.AttnImplementation)
			assert.Equal(t, 15, got.ChunkLengthSec)
			assert.Equal(t, 16, got.BatchSize)
			assert.True(t, got.StableTS)
			assert.True(t, got.Punctuator)

			settings, ok := s.Settings()
			assert.True(t, ok)
			assert.Equal(t, got, settings)
		})
	}
}

func TestSession_InferIsSerialized(t *testing.T) {
	pipe := testutil.NewMockPipeline()
	pipe.Latency = 20 * time.Millisecond
	pipe.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(testutil.SampleOutput(), nil)
	s := New(testutil.NewMockLoader(pipe), WithDevice("cpu"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := s.Infer(context.Background(), "/tmp/a.wav", provider.GenerateOptions{}, 0)
			assert.NoError(t, err)
			assert.Equal(t, testutil.SampleText, out.Text)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, pipe.MaxConcurrent())
	pipe.AssertNumberOfCalls(t, "Run", 5)
}

func TestSession_InferWaitHonorsContext(t *testing.T) {
	pipe := testutil.NewMockPipeline()
	pipe.Latency = 200 * time.Millisecond
	pipe.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(testutil.SampleOutput(), nil)
	s := New(testutil.NewMockLoader(pipe), WithDevice("cpu"))

	go s.Infer(context.Background(), "/tmp/a.wav", provider.GenerateOptions{}, 0)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, err := s.Infer(ctx, "/tmp/b.wav", provider.GenerateOptions{}, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_InferSurvivesCallerCancel(t *testing.T) {
	pipe := testutil.NewMockPipeline()
	pipe.Latency = 100 * time.Millisecond
	pipe.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(testutil.SampleOutput(), nil)
	s := New(testutil.NewMockLoader(pipe), WithDevice("cpu"))
	_, err := s.GetOrInit(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	out, _, err := s.Infer(ctx, "/tmp/a.wav", provider.GenerateOptions{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleText, out.Text)
	assert.True(t, s.Ready())
}

func TestSession_InferTimeout(t *testing.T) {
	pipe := testutil.NewMockPipeline()
	pipe.Latency = time.Second
	pipe.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(testutil.SampleOutput(), nil)
	s := New(testutil.NewMockLoader(pipe), WithDevice("cpu"))

	_, elapsed, err := s.Infer(context.Background(), "/tmp/a.wav", provider.GenerateOptions{}, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestSession_InferElapsedExcludesQueue(t *testing.T) {
	pipe := testutil.NewMockPipeline()
	pipe.Latency = 150 * time.Millisecond
	pipe.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(testutil.SampleOutput(), nil)
	s := New(testutil.NewMockLoader(pipe), WithDevice("cpu"))
	_, err := s.GetOrInit(context.Background())
	require.NoError(t, err)

	go s.Infer(context.Background(), "/tmp/a.wav", provider.GenerateOptions{}, 0)
	time.Sleep(20 * time.Millisecond)

	// Queued behind the first run, with a timeout shorter than the wait plus the run.
	start := time.Now()
	_, elapsed, err := s.Infer(context.Background(), "/tmp/b.wav", provider.GenerateOptions{}, 250*time.Millisecond)
	require.NoError(t, err)
	assert.Greater(t, time.Since(start), 250*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestSession_UnavailablePipelineIsReloaded(t *testing.T) {
	broken := testutil.NewMockPipeline()
	broken.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(nil, provider.ErrPipelineUnavailable)
	loader := testutil.NewMockLoader(broken)
	s := New(loader, WithDevice("cpu"))

	_, _, err := s.Infer(context.Background(), "/tmp/a.wav", provider.GenerateOptions{}, 0)
	assert.ErrorIs(t, err, provider.ErrPipelineUnavailable)
	assert.False(t, s.Ready())
	assert.Equal(t, 1, broken.Closed())

	healthy := testutil.NewMockPipeline()
	healthy.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(testutil.SampleOutput(), nil)
	loader.Pipeline = healthy

	out, _, err := s.Infer(context.Background(), "/tmp/a.wav", provider.GenerateOptions{}, 0)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleText, out.Text)
	assert.Equal(t, 2, loader.Loads())
}

func TestSession_QueuedInferUsesReloadedPipeline(t *testing.T) {
	broken := testutil.NewMockPipeline()
	broken.Latency = 100 * time.Millisecond
	broken.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(nil, provider.ErrPipelineUnavailable)
	healthy := testutil.NewMockPipeline()
	healthy.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(testutil.SampleOutput(), nil)
	loader := testutil.NewMockLoader(broken)
	s := New(loader, WithDevice("cpu"))
	_, err := s.GetOrInit(context.Background())
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, _, err := s.Infer(context.Background(), "/tmp/a.wav", provider.GenerateOptions{}, 0)
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)
	loader.Pipeline = healthy

	out, _, err := s.Infer(context.Background(), "/tmp/b.wav", provider.GenerateOptions{}, 0)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleText, out.Text)
	assert.ErrorIs(t, <-first, provider.ErrPipelineUnavailable)
	assert.Equal(t, 2, loader.Loads())
}

func TestSession_InferErrorKeepsPipeline(t *testing.T) {
	pipe := testutil.NewMockPipeline()
	pipe.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("decode failed"))
	s := New(testutil.NewMockLoader(pipe), WithDevice("cpu"))

	_, _, err := s.Infer(context.Background(), "/tmp/a.wav", provider.GenerateOptions{}, 0)
	require.Error(t, err)
	assert.True(t, s.Ready())
	assert.Zero(t, pipe.Closed())
}

func TestSession_Close(t *testing.T) {
	pipe := testutil.NewMockPipeline()
	s := New(testutil.NewMockLoader(pipe), WithDevice("cpu"))

	require.NoError(t, s.Close())
	_, err := s.GetOrInit(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.False(t, s.Ready())
	assert.Equal(t, 1, pipe.Closed())
}

type checkedPipeline struct {
	*testutil.MockPipeline
	err error
}

func (p checkedPipeline) HealthCheck(context.Context) error { return p.err }

func TestSession_HealthCheck(t *testing.T) {
	plain := New(testutil.NewMockLoader(testutil.NewMockPipeline()), WithDevice("cpu"))
	_, err := plain.GetOrInit(context.Background())
	require.NoError(t, err)
	assert.NoError(t, plain.HealthCheck(context.Background()), "backends without a check count as healthy")

	down := errors.New("server gone")
	checked := New(testutil.NewMockLoader(checkedPipeline{MockPipeline: testutil.NewMockPipeline(), err: down}), WithDevice("cpu"))
	assert.NoError(t, checked.HealthCheck(context.Background()), "nothing loaded yet")
	_, err = checked.GetOrInit(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, checked.HealthCheck(context.Background()), down)
}
