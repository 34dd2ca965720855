package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"live-transcription-bridge/internal/app"
	"live-transcription-bridge/internal/bridge"
	"live-transcription-bridge/internal/config"
	"live-transcription-bridge/internal/events"
	"live-transcription-bridge/internal/httpapi"
	"live-transcription-bridge/internal/observability"
	"live-transcription-bridge/internal/transport"
	"live-transcription-bridge/internal/transport/batch"
	"live-transcription-bridge/internal/transport/googlestt"
	"live-transcription-bridge/internal/transport/mock"
	"live-transcription-bridge/internal/transport/realtime"
)

func main() {
	cfg := config.Load()

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("application start failed")
	}

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicEntries: cfg.Kafka.TopicEntries,
		TopicSession: cfg.Kafka.TopicSession,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	obs := observability.NewServer(cfg.Service.MetricsAddr)
	obs.Start()

	factory, err := transportFactory(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid provider configuration")
	}

	b := bridge.New(bridge.Config{ConnectTimeout: cfg.Session.ConnectTimeout}, factory, publisher)

	server := &http.Server{
		Addr:        ":" + cfg.Service.HTTPPort,
		Handler:     httpapi.NewRouter(b),
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Str("provider", cfg.Provider.Provider).
			Msg("Transcription bridge started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := obs.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("observability shutdown failed")
	}
	application.Shutdown()
}

// transportFactory selects the single active provider transport for this
// deployment. One transport instance is created per client connection.
func transportFactory(cfg *config.Config) (transport.Factory, error) {
	switch cfg.Provider.Provider {
	case "realtime":
		if cfg.Provider.URL == "" {
			return nil, fmt.Errorf("realtime provider requires PROVIDER_URL")
		}
		rc := realtime.DefaultConfig()
		rc.URL = cfg.Provider.URL
		rc.APIKey = cfg.Provider.APIKey
		rc.SampleRateHz = cfg.Provider.SampleRateHz
		rc.Encoding = cfg.Provider.Encoding
		rc.SpeechModel = cfg.Provider.SpeechModel
		rc.LanguageDetection = cfg.Provider.LanguageDetection
		rc.FormatTurns = cfg.Provider.FormatTurns
		rc.FillerWordRemoval = cfg.Provider.FillerWordRemoval
		rc.EndOfTurnSilenceMs = cfg.Provider.EndOfTurnSilenceMs
		return func(ctx context.Context) (transport.Transport, error) {
			return realtime.New(rc, log.Logger), nil
		}, nil

	case "batch":
		if cfg.Provider.URL == "" {
			return nil, fmt.Errorf("batch provider requires PROVIDER_URL")
		}
		bc := batch.DefaultConfig()
		bc.UploadURL = cfg.Provider.URL
		bc.APIKey = cfg.Provider.APIKey
		bc.SampleRateHz = cfg.Provider.SampleRateHz
		return func(ctx context.Context) (transport.Transport, error) {
			return batch.New(bc, log.Logger), nil
		}, nil

	case "google":
		gc := googlestt.DefaultConfig()
		gc.SampleRateHz = cfg.Provider.SampleRateHz
		return func(ctx context.Context) (transport.Transport, error) {
			return googlestt.New(ctx, gc)
		}, nil

	case "mock":
		return func(ctx context.Context) (transport.Transport, error) {
			return mock.New(), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Provider)
	}
}
