// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"live-transcription-bridge/internal/observability/metrics"
)

// Publisher publishes transcript entries and session lifecycle events to
// separate Kafka topics.
type Publisher struct {
	writerEntries *kafka.Writer
	writerSession *kafka.Writer
	principal     string
	topicEntries  string
	topicSession  string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicEntries string
	TopicSession string
	Principal    string
	Enabled      bool
}

// New creates a new Kafka event publisher. With Kafka disabled or no
// brokers configured it runs in log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicEntries: cfg.TopicEntries,
			topicSession: cfg.TopicSession,
			enabled:      false,
			metrics:      m,
		}
	}

	// Custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerEntries := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicEntries,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	writerSession := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicSession,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicEntries", cfg.TopicEntries).
		Str("topicSession", cfg.TopicSession).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerEntries: writerEntries,
		writerSession: writerSession,
		principal:     cfg.Principal,
		topicEntries:  cfg.TopicEntries,
		topicSession:  cfg.TopicSession,
		enabled:       true,
		metrics:       m,
	}
}

// PublishEntry publishes a finalized transcript entry.
func (p *Publisher) PublishEntry(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerEntries, p.topicEntries, "entry", key, event)
}

// PublishSession publishes a session lifecycle event.
func (p *Publisher) PublishSession(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerSession, p.topicSession, "session", key, event)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerEntries != nil {
		if e := p.writerEntries.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing entries writer")
			err = e
		}
	}
	if p.writerSession != nil {
		if e := p.writerSession.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing session writer")
			err = e
		}
	}
	return err
}
