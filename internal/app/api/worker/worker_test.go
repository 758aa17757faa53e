package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/model"
	"kotoba-transcriber/internal/app/session"
)

// fakePython writes a shell script standing in for the python interpreter.
// It receives the worker script path as $1 followed by the model flags.
func fakePython(t *testing.T, body string) provider.BackendConfig {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "python")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+body), 0755))
	return provider.BackendConfig{
		PythonBin:    bin,
		WorkerScript: filepath.Join(dir, "worker.py"),
		StartTimeout: 5 * time.Second,
	}
}

const echoWorker = `
echo "$@" > "$(dirname "$0")/args.txt"
echo '{"event":"ready"}'
while read line; do
  echo "$line" >> "$(dirname "$0")/requests.txt"
  id=$(echo "$line" | sed 's/.*"id":"\([^"]*\)".*/\1/')
  echo "{\"id\":\"$id\",\"ok\":true,\"result\":{\"text\":\"こんにちは。\",\"chunks\":[{\"timestamp\":[0,1.5],\"text\":\"こんにちは\"},{\"timestamp\":[1.5,null],\"text\":\"。\"}]}}"
done
`

var testSettings = model.ModelSettings{
	ModelID:        "kotoba-tech/kotoba-whisper-v1.1",
	Device:         "cpu",
	Precision:      "float32",
	ChunkLengthSec: 15,
	BatchSize:      16,
	StableTS:       true,
	Punctuator:     true,
}

func TestProcessPipeline_Run(t *testing.T) {
	cfg := fakePython(t, echoWorker)
	p, err := Start(context.Background(), testSettings, cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	opts := provider.GenerateOptions{Language: "japanese", Task: provider.TaskTranscribe, ReturnTimestamps: true}
	for i := 0; i < 2; i++ {
		out, err := p.Run(context.Background(), "/tmp/a.wav", opts)
		require.NoError(t, err)
		assert.Equal(t, "こんにちは。", out.Text)
		require.Len(t, out.Chunks, 2)
		assert.Equal(t, 1.5, *out.Chunks[0].Timestamp[1])
		assert.Nil(t, out.Chunks[1].Timestamp[1])
	}

	requests, err := os.ReadFile(filepath.Join(filepath.Dir(cfg.PythonBin), "requests.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(requests)), "\n")
	require.Len(t, lines, 2)
	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &sent))
	assert.Equal(t, "/tmp/a.wav", sent["path"])
	assert.Equal(t, true, sent["return_timestamps"])
	assert.Equal(t, map[string]any{"language": "japanese", "task": "transcribe"}, sent["generate_kwargs"])

	args, err := os.ReadFile(filepath.Join(filepath.Dir(cfg.PythonBin), "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--model kotoba-tech/kotoba-whisper-v1.1")
	assert.Contains(t, string(args), "--stable-ts --punctuator")
	assert.NotContains(t, string(args), "--attn")
}

func TestStart_LoadError(t *testing.T) {
	cfg := fakePython(t, `echo '{"event":"error","error":"CUDA out of memory"}'; exit 1`)
	_, err := Start(context.Background(), testSettings, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestStart_ExitDuringLoad(t *testing.T) {
	cfg := fakePython(t, `echo "No module named torch" >&2; exit 3`)
	_, err := Start(context.Background(), testSettings, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker exited during load")
}

func TestStart_Timeout(t *testing.T) {
	cfg := fakePython(t, `exec sleep 30`)
	cfg.StartTimeout = 100 * time.Millisecond
	_, err := Start(context.Background(), testSettings, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestStart_ExtractsEmbeddedScript(t *testing.T) {
	cfg := fakePython(t, `cat "$1" > "$(dirname "$0")/script.py"; echo '{"event":"ready"}'; while read line; do :; done`)
	cfg.WorkerScript = ""
	p, err := Start(context.Background(), testSettings, cfg, nil)
	require.NoError(t, err)

	extracted := p.scriptPath
	script, err := os.ReadFile(filepath.Join(filepath.Dir(cfg.PythonBin), "script.py"))
	require.NoError(t, err)
	assert.Equal(t, workerScript, script)

	require.NoError(t, p.Close())
	_, err = os.Stat(extracted)
	assert.True(t, os.IsNotExist(err), "extracted script should be removed on close")
}

func TestProcessPipeline_InferenceError(t *testing.T) {
	cfg := fakePython(t, `
echo '{"event":"ready"}'
while read line; do
  id=$(echo "$line" | sed 's/.*"id":"\([^"]*\)".*/\1/')
  echo "{\"id\":\"$id\",\"ok\":false,\"error\":\"unsupported audio\"}"
done
`)
	p, err := Start(context.Background(), testSettings, cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Run(context.Background(), "/tmp/a.wav", provider.GenerateOptions{})
	var terr *provider.TranscriptionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "unsupported audio", terr.Message)

	// A failed request leaves the worker usable.
	_, err = p.Run(context.Background(), "/tmp/a.wav", provider.GenerateOptions{})
	assert.NotErrorIs(t, err, provider.ErrPipelineUnavailable)
}

func TestProcessPipeline_MismatchedID(t *testing.T) {
	cfg := fakePython(t, `
echo '{"event":"ready"}'
while read line; do
  echo '{"id":"stale","ok":true,"result":{"text":"","chunks":[]}}'
done
`)
	p, err := Start(context.Background(), testSettings, cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Run(context.Background(), "/tmp/a.wav", provider.GenerateOptions{})
	assert.ErrorIs(t, err, provider.ErrPipelineUnavailable)
}

func TestProcessPipeline_ContextCancelKillsWorker(t *testing.T) {
	cfg := fakePython(t, `echo '{"event":"ready"}'; read line; exec sleep 30`)
	p, err := Start(context.Background(), testSettings, cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = p.Run(ctx, "/tmp/a.wav", provider.GenerateOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, provider.ErrPipelineUnavailable)
	assert.ErrorIs(t, p.HealthCheck(context.Background()), provider.ErrPipelineUnavailable)

	_, err = p.Run(context.Background(), "/tmp/a.wav", provider.GenerateOptions{})
	assert.ErrorIs(t, err, provider.ErrPipelineUnavailable)
}

type startLoader struct {
	cfg   provider.BackendConfig
	loads int
}

func (l *startLoader) Load(settings model.ModelSettings) (provider.Pipeline, error) {
	l.loads++
	return Start(context.Background(), settings, l.cfg, nil)
}

func TestSession_TimedOutWorkerIsReplaced(t *testing.T) {
	cfg := fakePython(t, `
echo '{"event":"ready"}'
while read line; do
  case "$line" in *slow*) exec sleep 30 ;; esac
  id=$(echo "$line" | sed 's/.*"id":"\([^"]*\)".*/\1/')
  echo "{\"id\":\"$id\",\"ok\":true,\"result\":{\"text\":\"はい\",\"chunks\":[]}}"
done
`)
	loader := &startLoader{cfg: cfg}
	sess := session.New(loader, session.WithDevice("cpu"))
	defer sess.Close()
	opts := provider.GenerateOptions{Language: "japanese", Task: provider.TaskTranscribe, ReturnTimestamps: true}

	_, _, err := sess.Infer(context.Background(), "/tmp/slow.wav", opts, 200*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sess.Ready())

	out, _, err := sess.Infer(context.Background(), "/tmp/fast.wav", opts, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "はい", out.Text)
	assert.Equal(t, 2, loader.loads)
	assert.NoError(t, sess.HealthCheck(context.Background()))
}

func TestProcessPipeline_WorkerCrash(t *testing.T) {
	cfg := fakePython(t, `echo '{"event":"ready"}'; read line; exit 2`)
	p, err := Start(context.Background(), testSettings, cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Run(context.Background(), "/tmp/a.wav", provider.GenerateOptions{})
	assert.ErrorIs(t, err, provider.ErrPipelineUnavailable)
	assert.Contains(t, err.Error(), "worker exited")
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs(model.ModelSettings{
		ModelID:            "m",
		Device:             "cuda:0",
		Precision:          "float16",
		AttnImplementation: "sdpa",
		ChunkLengthSec:     15,
		BatchSize:          16,
	})
	assert.Equal(t, []string{
		"--model", "m",
		"--device", "cuda:0",
		"--dtype", "float16",
		"--chunk-length", "15",
		"--batch-size", "16",
		"--attn", "sdpa",
	}, args)
}
