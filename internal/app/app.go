package app

import (
	"fmt"

	"go.uber.org/zap"

	"kotoba-transcriber/internal/app/api/provider"
	"kotoba-transcriber/internal/app/audio"
	"kotoba-transcriber/internal/app/metrics"
	"kotoba-transcriber/internal/app/session"
	"kotoba-transcriber/internal/app/staging"
	"kotoba-transcriber/internal/app/transcription"
	"kotoba-transcriber/internal/config"
)

// App holds the long-lived components shared by the serve and transcribe
// commands. Backends must be registered (blank-imported) before New.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Backend string
	Metrics *metrics.Metrics
	Session *session.Session
	Store   *staging.Store
	Engine  *transcription.Engine
}

// New wires the application from cfg. The model is not loaded here.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if _, err := provider.GetBackendCreator(cfg.Model.Backend); err != nil {
		return nil, fmt.Errorf("%w (available: %v)", err, provider.ListRegisteredBackends())
	}

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	factory := provider.NewFactory(cfg.Model.Backend, cfg.BackendConfig(), logger)
	sess := session.New(factory,
		session.WithModelID(cfg.Model.ID),
		session.WithDevice(cfg.Model.Device),
		session.WithLogger(logger.Named("session")),
	)

	engine := transcription.NewEngine(sess,
		transcription.WithTimeout(cfg.Model.InferenceTimeout),
		transcription.WithDurationProbe(audio.Duration),
		transcription.WithMetrics(m),
		transcription.WithLogger(logger.Named("engine")),
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Backend: factory.Backend(),
		Metrics: m,
		Session: sess,
		Store:   staging.New(cfg.Server.UploadDir, logger.Named("staging")),
		Engine:  engine,
	}, nil
}

// Close releases the loaded model
func (a *App) Close() error {
	return a.Session.Close()
}
