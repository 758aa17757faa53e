package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kotoba-transcriber/internal/app"
	"kotoba-transcriber/internal/app/model"
	"kotoba-transcriber/internal/app/progress"
)

var (
	lang         string
	outputPath   string
	showProgress bool
)

func init() {
	Cmd.Flags().StringVarP(&lang, "lang", "l", model.DefaultLanguage, "language recorded in the output (inference is always Japanese)")
	Cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write JSON to this file instead of stdout")
	Cmd.Flags().BoolVar(&showProgress, "progress", false, "force the progress bar even when stderr is not a terminal")
}

// Cmd represents the transcribe command
var Cmd = &cobra.Command{
	Use:   "transcribe FILE...",
	Short: "Transcribe local media files and print the results as JSON",
	Long: `Transcribe local media files and print the results as JSON.

Files are processed one at a time with the same model session the HTTP
service uses. Each result has the same shape as a POST /transcribe response.`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, logger, err := app.Bootstrap(configPath, verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	pm := progress.NewManager(progress.Config{Enabled: progress.ShouldShow(showProgress)})
	bar := pm.FileBar(len(args), "Transcribing")

	results, failed := transcribeAll(cmd.Context(), a.Engine, args, lang, bar, logger)
	pm.Wait()

	if err := writeResults(out, results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

type engine interface {
	Transcribe(ctx context.Context, path, lang string) (*model.TranscriptionResult, error)
}

// transcribeAll runs files in order and keeps going past failures.
func transcribeAll(ctx context.Context, e engine, paths []string, lang string, bar *progress.Bar, logger *zap.Logger) ([]*model.TranscriptionResult, int) {
	results := make([]*model.TranscriptionResult, 0, len(paths))
	failed := 0
	for _, p := range paths {
		if ctx.Err() != nil {
			bar.Abort()
			failed = len(paths) - len(results)
			break
		}

		abs, err := filepath.Abs(p)
		if err == nil {
			_, err = os.Stat(abs)
		}
		var res *model.TranscriptionResult
		if err == nil {
			res, err = e.Transcribe(ctx, abs, lang)
		}
		bar.Increment()
		if err != nil {
			logger.Error("transcription failed", zap.String("file", p), zap.Error(err))
			failed++
			continue
		}
		res.Original = filepath.Base(p)
		results = append(results, res)
	}
	return results, failed
}

func writeResults(w io.Writer, results []*model.TranscriptionResult) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if len(results) == 1 {
		return enc.Encode(results[0])
	}
	return enc.Encode(results)
}
