// Package config loads process-wide configuration from the environment,
// once at startup. The resulting struct is injected into constructors;
// nothing reads the environment after Load returns.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig holds service identity and listen addresses.
type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	MetricsAddr string
}

// ProviderConfig holds the speech-recognition provider connection
// parameters. Provider selects the transport: realtime, batch, google, mock.
type ProviderConfig struct {
	Provider string
	URL      string
	APIKey   string

	SampleRateHz       int
	Encoding           string
	SpeechModel        string
	LanguageDetection  bool
	FormatTurns        bool
	FillerWordRemoval  bool
	EndOfTurnSilenceMs int
}

// SessionConfig bounds the session lifecycle.
type SessionConfig struct {
	// ConnectTimeout bounds the time to reach streaming; a session that
	// has not seen the begin confirmation within it fails and must be
	// re-initiated by the caller.
	ConnectTimeout time.Duration
}

// KafkaConfig holds transcript event fan-out settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicEntries string
	TopicSession string
	Principal    string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Config is the root configuration.
type Config struct {
	Service       ServiceConfig
	Provider      ProviderConfig
	Session       SessionConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// Load reads configuration from the environment with defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-transcription-bridge")

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		Provider: ProviderConfig{
			Provider:           envOrDefault("PROVIDER", "mock"),
			URL:                envOrDefault("PROVIDER_URL", ""),
			APIKey:             envOrDefault("PROVIDER_API_KEY", ""),
			SampleRateHz:       envOrDefaultInt("PROVIDER_SAMPLE_RATE_HZ", 16000),
			Encoding:           envOrDefault("PROVIDER_AUDIO_ENCODING", "pcm_s16le"),
			SpeechModel:        envOrDefault("PROVIDER_SPEECH_MODEL", "universal-streaming-multilingual"),
			LanguageDetection:  envOrDefaultBool("PROVIDER_LANGUAGE_DETECTION", true),
			FormatTurns:        envOrDefaultBool("PROVIDER_FORMAT_TURNS", true),
			FillerWordRemoval:  envOrDefaultBool("PROVIDER_FILLER_WORD_REMOVAL", true),
			EndOfTurnSilenceMs: envOrDefaultInt("PROVIDER_END_OF_TURN_SILENCE_MS", 700),
		},
		Session: SessionConfig{
			ConnectTimeout: envOrDefaultDuration("SESSION_CONNECT_TIMEOUT", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicEntries: envOrDefault("KAFKA_TOPIC_ENTRIES", "meeting.transcript.entries"),
			TopicSession: envOrDefault("KAFKA_TOPIC_SESSIONS", "meeting.transcript.sessions"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
