package cmd

import (
	"pgroute/internal/config"
	"pgroute/internal/engine"
	"pgroute/internal/logger"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// loadConfig returns the validated config and a logger built from it.
func loadConfig() (*config.Config, *zap.Logger, error) {
	if readErr != nil {
		return nil, nil, readErr
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.JSON || logger.IsLambda())
	if err != nil {
		return nil, nil, errors.Mark(err, engine.ErrConfiguration)
	}
	return cfg, log, nil
}
