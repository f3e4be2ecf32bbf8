// Package providers contains dependency injection providers for the reader server.
package providers

import (
	"log/slog"
	"time"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/logger"
	"github.com/listenupapp/listenup-reader/internal/validation"
)

// shutdownTimeout bounds the graceful shutdown of each service.
const shutdownTimeout = 15 * time.Second

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Format:    cfg.Logger.Format,
		Level:     logger.ParseLevel(cfg.Logger.Level),
		AddSource: cfg.Logger.AddSource,
	})

	log.Debug("logger initialized",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_dir", cfg.Data.Dir,
	)
	return log, nil
}

// ProvideValidator provides the shared struct validator.
func ProvideValidator(do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}
