package app

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"kotoba-transcriber/internal/config"
	"kotoba-transcriber/internal/logging"
)

// Bootstrap loads .env, the configuration and the logger. configPath falls
// back to $CONFIG_FILE; verbose forces debug logging.
func Bootstrap(configPath string, verbose bool) (*config.Config, *zap.Logger, error) {
	envFile, err := config.LoadEnv()
	if err != nil {
		return nil, nil, err
	}

	if configPath == "" {
		configPath = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Development())
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	if envFile != "" {
		logger.Debug("loaded environment file", zap.String("path", envFile))
	}
	if configPath != "" {
		logger.Debug("loaded config file", zap.String("path", configPath))
	}
	return cfg, logger, nil
}
