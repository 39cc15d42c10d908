// Package events mirrors relay activity to external brokers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"call-transcript-relay/internal/models"
	"call-transcript-relay/internal/observability/metrics"
)

// Sink receives transcript and lifecycle events.
type Sink interface {
	Name() string
	PublishEntry(ctx context.Context, ev models.TranscriptEntryEvent) error
	PublishLifecycle(ctx context.Context, ev models.CallLifecycleEvent) error
	Close() error
}

// Publisher publishes relay events to separate Kafka topics.
type Publisher struct {
	writerEntries   *kafka.Writer
	writerLifecycle *kafka.Writer
	principal       string
	topicEntries    string
	topicLifecycle  string
	enabled         bool
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicEntries   string
	TopicLifecycle string
	Principal      string
	Enabled        bool
}

// New creates a Kafka event publisher with separate topics for entries and
// call lifecycle transitions.
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
			principal:      cfg.Principal,
			topicEntries:   cfg.TopicEntries,
			topicLifecycle: cfg.TopicLifecycle,
			enabled:        false,
			metrics:        m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicEntries", cfg.TopicEntries).
		Str("topicLifecycle", cfg.TopicLifecycle).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerEntries:   newWriter(cfg.TopicEntries),
		writerLifecycle: newWriter(cfg.TopicLifecycle),
		principal:       cfg.Principal,
		topicEntries:    cfg.TopicEntries,
		topicLifecycle:  cfg.TopicLifecycle,
		enabled:         true,
		metrics:         m,
	}
}

// Name identifies the sink in metrics and logs.
func (p *Publisher) Name() string { return "kafka" }

// PublishEntry publishes an appended entry keyed by call id, so a call's
// entries stay ordered within one partition.
func (p *Publisher) PublishEntry(ctx context.Context, ev models.TranscriptEntryEvent) error {
	return p.publish(ctx, p.writerEntries, p.topicEntries, ev.EventType, ev.CallID, ev)
}

// PublishLifecycle publishes a call lifecycle transition.
func (p *Publisher) PublishLifecycle(ctx context.Context, ev models.CallLifecycleEvent) error {
	return p.publish(ctx, p.writerLifecycle, p.topicLifecycle, ev.EventType, ev.CallID, ev)
}

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
		p.metrics.RecordPublish(p.Name(), topic, nil, time.Since(start).Seconds())
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
		p.metrics.RecordPublish(p.Name(), topic, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordPublish(p.Name(), topic, nil, time.Since(start).Seconds())
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
	if p.writerLifecycle != nil {
		if e := p.writerLifecycle.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing lifecycle writer")
			err = e
		}
	}
	return err
}
