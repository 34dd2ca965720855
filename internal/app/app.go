// Package app holds process-wide state for the service.
package app

import (
	"time"

	"github.com/rs/zerolog"

	"live-transcription-bridge/internal/config"
	"live-transcription-bridge/internal/observability/logging"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg: cfg,
		Logger: logging.Logger().With().
			Str("service", cfg.Service.Principal).
			Logger(),
	}

	a.Logger.Info().
		Str("provider", cfg.Provider.Provider).
		Str("logLevel", cfg.Observability.LogLevel).
		Msg("Transcription bridge application created")
	return a
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Transcription bridge starting")
	return nil
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("Transcription bridge shutting down")
}
