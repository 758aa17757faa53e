package worker

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/model"
)

const providerName = "worker"

//go:embed assets/kotoba_worker.py
var workerScript []byte

// maxLineBytes bounds one JSON response line. Transcripts of long media can be large.
const maxLineBytes = 64 << 20

type workerRequest struct {
	ID               string         `json:"id"`
	Path             string         `json:"path"`
	ReturnTimestamps bool           `json:"return_timestamps"`
	GenerateKwargs   generateKwargs `json:"generate_kwargs"`
}

// generateKwargs is passed verbatim to the decoder. Timestamps are a pipeline
// argument, not a generate argument, so they are not repeated here.
type generateKwargs struct {
	Language string `json:"language,omitempty"`
	Task     string `json:"task,omitempty"`
}

type workerMessage struct {
	Event  string           `json:"event,omitempty"`
	ID     string           `json:"id,omitempty"`
	OK     bool             `json:"ok"`
	Error  string           `json:"error,omitempty"`
	Result *provider.Output `json:"result,omitempty"`
}

// ProcessPipeline owns one Python process that holds the loaded model.
// One request is in flight at a time.
type ProcessPipeline struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	messages   chan workerMessage
	done       chan struct{}
	readErr    error
	waitErr    error
	scriptPath string
	ownsScript bool
	dead       bool
	logger     *zap.Logger
}

// Start spawns the worker and blocks until the model reports ready.
func Start(ctx context.Context, settings model.ModelSettings, cfg provider.BackendConfig, logger *zap.Logger) (*ProcessPipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pythonBin := cfg.PythonBin
	if pythonBin == "" {
		pythonBin = "python3"
	}

	p := &ProcessPipeline{
		messages: make(chan workerMessage, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}

	p.scriptPath = cfg.WorkerScript
	if p.scriptPath == "" {
		path, err := extractScript()
		if err != nil {
			return nil, err
		}
		p.scriptPath = path
		p.ownsScript = true
	}

	cmd := exec.Command(pythonBin, append([]string{p.scriptPath}, buildArgs(settings)...)...)
	cmd.Env = os.Environ()
	cmd.Stderr = &stderrLogger{logger: logger}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.removeScript()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.removeScript()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		p.removeScript()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	p.cmd = cmd
	p.stdin = stdin

	go p.readMessages(stdout)

	startTimeout := cfg.StartTimeout
	if startTimeout == 0 {
		startTimeout = 15 * time.Minute
	}
	timer := time.NewTimer(startTimeout)
	defer timer.Stop()

	logger.Info("waiting for model to load", zap.String("model", settings.ModelID), zap.String("device", settings.Device))
	select {
	case msg, ok := <-p.messages:
		switch {
		case !ok:
			p.abort()
			return nil, fmt.Errorf("worker exited during load: %v", p.exitErr())
		case msg.Event == "ready":
			return p, nil
		case msg.Event == "error":
			p.abort()
			return nil, fmt.Errorf("model load failed: %s", msg.Error)
		default:
			p.abort()
			return nil, fmt.Errorf("unexpected worker message during load: %+v", msg)
		}
	case <-timer.C:
		p.abort()
		return nil, fmt.Errorf("model load timed out after %s", startTimeout)
	case <-ctx.Done():
		p.abort()
		return nil, ctx.Err()
	}
}

func extractScript() (string, error) {
	f, err := os.CreateTemp("", "kotoba_worker_*.py")
	if err != nil {
		return "", fmt.Errorf("write helper script: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(workerScript); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write helper script: %w", err)
	}
	return f.Name(), nil
}

func buildArgs(settings model.ModelSettings) []string {
	args := []string{
		"--model", settings.ModelID,
		"--device", settings.Device,
		"--dtype", settings.Precision,
		"--chunk-length", strconv.Itoa(settings.ChunkLengthSec),
		"--batch-size", strconv.Itoa(settings.BatchSize),
	}
	if settings.AttnImplementation != "" {
		args = append(args, "--attn", settings.AttnImplementation)
	}
	if settings.StableTS {
		args = append(args, "--stable-ts")
	}
	if settings.Punctuator {
		args = append(args, "--punctuator")
	}
	return args
}

// readMessages decodes stdout until EOF, then reaps the process.
func (p *ProcessPipeline) readMessages(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var msg workerMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			p.logger.Warn("ignoring malformed worker line", zap.ByteString("line", scanner.Bytes()), zap.Error(err))
			continue
		}
		p.messages <- msg
	}
	p.readErr = scanner.Err()
	if p.readErr != nil {
		_ = p.cmd.Process.Kill()
	}
	p.waitErr = p.cmd.Wait()
	close(p.messages)
	close(p.done)
}

// Run sends one request and waits for its response. If ctx ends first the
// process is killed, since its late reply would desynchronize the stream,
// and the pipeline reports itself unavailable.
func (p *ProcessPipeline) Run(ctx context.Context, path string, opts provider.GenerateOptions) (*provider.Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dead {
		return nil, provider.ErrPipelineUnavailable
	}

	req := workerRequest{
		ID:               uuid.NewString(),
		Path:             path,
		ReturnTimestamps: opts.ReturnTimestamps,
		GenerateKwargs:   generateKwargs{Language: opts.Language, Task: opts.Task},
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		p.killLocked()
		return nil, fmt.Errorf("%w: write request: %v", provider.ErrPipelineUnavailable, err)
	}

	select {
	case msg, ok := <-p.messages:
		if !ok {
			p.dead = true
			return nil, fmt.Errorf("%w: worker exited: %v", provider.ErrPipelineUnavailable, p.exitErr())
		}
		if msg.ID != req.ID {
			p.killLocked()
			return nil, fmt.Errorf("%w: response id %q does not match request %q", provider.ErrPipelineUnavailable, msg.ID, req.ID)
		}
		if !msg.OK {
			return nil, &provider.TranscriptionError{Code: "inference_failed", Message: msg.Error, Provider: providerName}
		}
		if msg.Result == nil {
			return nil, &provider.TranscriptionError{Code: "empty_result", Message: "worker returned no result", Provider: providerName}
		}
		return msg.Result, nil
	case <-ctx.Done():
		p.killLocked()
		return nil, fmt.Errorf("%w: %w", provider.ErrPipelineUnavailable, ctx.Err())
	}
}

// HealthCheck reports whether the worker process is still serving.
func (p *ProcessPipeline) HealthCheck(ctx context.Context) error {
	if !p.mu.TryLock() {
		return nil
	}
	defer p.mu.Unlock()
	if p.dead {
		return provider.ErrPipelineUnavailable
	}
	select {
	case <-p.done:
		return fmt.Errorf("%w: worker exited", provider.ErrPipelineUnavailable)
	default:
		return nil
	}
}

// Close stops the worker and removes the extracted script.
func (p *ProcessPipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dead {
		p.dead = true
		p.stdin.Close()
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			p.killLocked()
		}
	}
	p.removeScript()
	return nil
}

func (p *ProcessPipeline) abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked()
	p.removeScript()
}

func (p *ProcessPipeline) killLocked() {
	p.dead = true
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// exitErr reports why the process stopped. Only valid once messages is closed.
func (p *ProcessPipeline) exitErr() error {
	<-p.done
	return errors.Join(p.waitErr, p.readErr)
}

func (p *ProcessPipeline) removeScript() {
	if p.ownsScript && p.scriptPath != "" {
		os.Remove(p.scriptPath)
		p.ownsScript = false
	}
}

// stderrLogger forwards worker stderr (model download progress, warnings) to zap.
type stderrLogger struct {
	logger *zap.Logger
}

func (w *stderrLogger) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		if line != "" {
			w.logger.Debug("worker", zap.String("stderr", line))
		}
	}
	return len(b), nil
}

var (
	_ provider.Pipeline      = (*ProcessPipeline)(nil)
	_ provider.HealthChecker = (*ProcessPipeline)(nil)
)
