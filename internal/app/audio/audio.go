package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kotoba-transcriber/internal/app/model"
)

// Binaries used for probing and conversion. Tests point these at fakes.
var (
	FFprobeBin = "ffprobe"
	FFmpegBin  = "ffmpeg"
)

// Probe runs ffprobe on filePath and decodes its stream and format sections.
func Probe(ctx context.Context, filePath string) (*model.FFProbeOutput, error) {
	cmd := exec.CommandContext(ctx, FFprobeBin, "-v", "quiet", "-print_format", "json", "-show_streams", "-show_format", filePath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe error: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	var probeOutput model.FFProbeOutput
	if err := json.Unmarshal(output, &probeOutput); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	return &probeOutput, nil
}

// Duration returns the media duration in seconds.
func Duration(ctx context.Context, filePath string) (float64, error) {
	probe, err := Probe(ctx, filePath)
	if err != nil {
		return 0, err
	}
	if probe.Format.Duration <= 0 {
		return 0, fmt.Errorf("no duration reported for %s", filePath)
	}
	return probe.Format.Duration, nil
}

// Is16kHzWav reports whether the probed media already has a 16kHz PCM audio stream.
func Is16kHzWav(probe *model.FFProbeOutput) bool {
	for _, stream := range probe.Streams {
		if stream.CodecType == "audio" && stream.CodecName == "pcm_s16le" && stream.SampleRate == 16000 {
			return true
		}
	}
	return false
}

// ConvertTo16kHzWav decodes any media ffmpeg understands into a mono 16kHz WAV
// file inside outDir. The caller owns the returned file.
func ConvertTo16kHzWav(ctx context.Context, inputFilePath, outDir string) (string, error) {
	outputWavPath := filepath.Join(outDir, uuid.NewString()+"_16khz.wav")

	cmd := exec.CommandContext(ctx, FFmpegBin, "-nostdin", "-y", "-i", inputFilePath, "-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", outputWavPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(outputWavPath)
		return "", fmt.Errorf("FFmpeg error: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return outputWavPath, nil
}
