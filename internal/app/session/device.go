package session

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"kotoba-transcriber/internal/app/model"
)

const (
	// DefaultModelID is the checkpoint loaded when none is configured.
	DefaultModelID = "kotoba-tech/kotoba-whisper-v1.1"

	defaultChunkLengthSec = 15
	defaultBatchSize      = 16
)

// NvidiaSMIBin is the binary used to detect an accelerator.
var NvidiaSMIBin = "nvidia-smi"

// DetectDevice resolves a device override to a concrete device string.
// "cpu" and "cuda[:N]" are taken as given; anything else probes nvidia-smi.
func DetectDevice(ctx context.Context, override string) string {
	switch d := strings.ToLower(strings.TrimSpace(override)); {
	case d == "cpu":
		return "cpu"
	case d == "cuda" || d == "gpu":
		return "cuda:0"
	case strings.HasPrefix(d, "cuda:"):
		return d
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, NvidiaSMIBin, "-L").Output()
	if err != nil || !strings.Contains(string(out), "GPU") {
		return "cpu"
	}
	return "cuda:0"
}

// SelectSettings returns the load settings for modelID on device.
// Half precision and SDPA attention are only used with an accelerator.
func SelectSettings(modelID, device string) model.ModelSettings {
	if modelID == "" {
		modelID = DefaultModelID
	}
	s := model.ModelSettings{
		ModelID:        modelID,
		Device:         device,
		Precision:      "float32",
		ChunkLengthSec: defaultChunkLengthSec,
		BatchSize:      defaultBatchSize,
		StableTS:       true,
		Punctuator:     true,
	}
	if s.HasAccelerator() {
		s.Precision = "float16"
		s.AttnImplementation = "sdpa"
	}
	return s
}
