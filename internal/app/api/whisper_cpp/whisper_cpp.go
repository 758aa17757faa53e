package whisper_cpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/audio"
	"kotoba-transcriber/internal/app/model"
)

const providerName = "whisper_cpp"

// LocalPipeline runs the whisper.cpp CLI once per request. The model file is
// mapped by the binary on every run, so Close has nothing to release.
type LocalPipeline struct {
	binaryPath string
	modelPath  string
	tempDir    string
	threads    int
	useGPU     bool
	logger     *zap.Logger
}

// cppOutput is the document written by `whisper-cli -oj`.
type cppOutput struct {
	Transcription []cppSegment `json:"transcription"`
}

type cppSegment struct {
	// Offsets are in milliseconds.
	Offsets struct {
		From int64 `json:"from"`
		To   int64 `json:"to"`
	} `json:"offsets"`
	Text string `json:"text"`
}

// NewLocalPipeline validates the binary and model paths and returns a pipeline.
func NewLocalPipeline(settings model.ModelSettings, cfg provider.BackendConfig, logger *zap.Logger) (*LocalPipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WhisperCppBinary == "" {
		return nil, fmt.Errorf("whisper_cpp backend requires WHISPER_CPP_BINARY")
	}
	if cfg.WhisperCppModel == "" {
		return nil, fmt.Errorf("whisper_cpp backend requires WHISPER_CPP_MODEL")
	}
	if _, err := os.Stat(cfg.WhisperCppBinary); err != nil {
		return nil, fmt.Errorf("whisper.cpp binary not found at %s: %w", cfg.WhisperCppBinary, err)
	}
	if _, err := os.Stat(cfg.WhisperCppModel); err != nil {
		return nil, fmt.Errorf("whisper model not found at %s: %w", cfg.WhisperCppModel, err)
	}

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "whisper_cpp")
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create temp directory %s: %w", tempDir, err)
	}

	return &LocalPipeline{
		binaryPath: cfg.WhisperCppBinary,
		modelPath:  cfg.WhisperCppModel,
		tempDir:    tempDir,
		threads:    settings.BatchSize,
		useGPU:     settings.HasAccelerator(),
		logger:     logger,
	}, nil
}

// Run transcribes path, converting it to 16kHz WAV first when needed.
func (lp *LocalPipeline) Run(ctx context.Context, path string, opts provider.GenerateOptions) (*provider.Output, error) {
	probe, err := audio.Probe(ctx, path)
	if err != nil {
		return nil, &provider.TranscriptionError{Code: "audio_check_error", Message: "error checking input file", Provider: providerName, Err: err}
	}

	input := path
	if !audio.Is16kHzWav(probe) {
		converted, err := audio.ConvertTo16kHzWav(ctx, path, lp.tempDir)
		if err != nil {
			return nil, &provider.TranscriptionError{Code: "audio_conversion_error", Message: "error converting input file", Provider: providerName, Err: err}
		}
		defer os.Remove(converted)
		input = converted
	}

	outputBase := filepath.Join(lp.tempDir, "transcription_"+uuid.NewString())
	defer os.Remove(outputBase + ".json")

	args := lp.buildArgs(input, outputBase, opts)
	command := exec.CommandContext(ctx, lp.binaryPath, args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	lp.logger.Debug("running whisper.cpp", zap.String("binary", lp.binaryPath), zap.Strings("args", args))
	if err := command.Run(); err != nil {
		return nil, &provider.TranscriptionError{
			Code:     "command_failed",
			Message:  fmt.Sprintf("command execution error, stderr: %s", strings.TrimSpace(stderr.String())),
			Provider: providerName,
			Err:      err,
		}
	}

	data, err := os.ReadFile(outputBase + ".json")
	if err != nil {
		return nil, &provider.TranscriptionError{Code: "output_missing", Message: "failed to read output file", Provider: providerName, Err: err}
	}
	return parseOutput(data)
}

func (lp *LocalPipeline) buildArgs(input, outputBase string, opts provider.GenerateOptions) []string {
	args := []string{
		"-m", lp.modelPath,
		"-l", lo.Ternary(opts.Language == "", "auto", provider.LanguageCode(opts.Language)),
		"-oj",
		"-f", input,
		"-of", outputBase,
	}
	if lp.threads > 0 {
		args = append(args, "-t", strconv.Itoa(lp.threads))
	}
	if opts.Task == provider.TaskTranslate {
		args = append(args, "-tr")
	}
	if !lp.useGPU {
		args = append(args, "-ng")
	}
	return args
}

func parseOutput(data []byte) (*provider.Output, error) {
	var parsed cppOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &provider.TranscriptionError{Code: "output_parse_failed", Message: "failed to parse output file", Provider: providerName, Err: err}
	}

	chunks := lo.Map(parsed.Transcription, func(seg cppSegment, _ int) provider.Chunk {
		return provider.Chunk{
			Timestamp: [2]*float64{
				provider.Seconds(float64(seg.Offsets.From) / 1000),
				provider.Seconds(float64(seg.Offsets.To) / 1000),
			},
			Text: seg.Text,
		}
	})

	text := strings.TrimSpace(strings.Join(lo.Map(chunks, func(c provider.Chunk, _ int) string {
		return strings.TrimSpace(c.Text)
	}), ""))
	return &provider.Output{Text: text, Chunks: chunks}, nil
}

// Close is a no-op.
func (lp *LocalPipeline) Close() error {
	return nil
}
