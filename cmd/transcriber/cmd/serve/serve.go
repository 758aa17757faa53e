package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kotoba-transcriber/internal/api/server"
	"kotoba-transcriber/internal/api/v1/handlers"
	v1routes "kotoba-transcriber/internal/api/v1/routes"
	"kotoba-transcriber/internal/app"
)

var preload bool

func init() {
	Cmd.Flags().BoolVar(&preload, "preload", false, "load the model before accepting requests (overrides PRELOAD_MODEL)")
}

// Cmd represents the serve command
var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transcription HTTP service",
	Long: `Run the transcription HTTP service.

- GET  /transcribe  upload form; starts loading the model
- POST /transcribe  multipart "media" (required) and "lang" (optional, echoed)
- GET  /health, GET /metrics`,
	RunE: run,
}

func run(cmd *cobra.Command, _ []string) error {
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
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close model", zap.Error(err))
		}
	}()

	if err := a.Store.EnsureDir(); err != nil {
		return err
	}
	if _, err := a.Store.Sweep(cfg.Server.StaleUploadAge); err != nil {
		logger.Warn("stale upload sweep failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if preload || cfg.Model.Preload {
		go func() {
			if _, err := a.Session.GetOrInit(ctx); err != nil {
				logger.Error("model preload failed; will retry on first request", zap.Error(err))
			}
		}()
	}

	srv := server.NewServer(server.Config{
		Addr:        cfg.Addr(),
		IdleTimeout: 120 * time.Second,
		Environment: cfg.Log.Environment,
	}, &v1routes.HandlerContainer{
		Transcribe:     handlers.NewTranscribeHandler(a.Engine, a.Store, a.Session, logger.Named("http")),
		Health:         handlers.NewHealthHandler(a.Session, a.Backend),
		MaxUploadBytes: cfg.MaxUploadBytes(),
	}, a.Metrics, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
