package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"call-transcript-relay/internal/models"
	"call-transcript-relay/internal/observability/metrics"
)

// ErrNotConnected is returned when publishing on an enabled AMQP sink whose
// connection is down.
var ErrNotConnected = errors.New("not connected to AMQP server")

// AMQPConfig holds AMQP sink configuration.
type AMQPConfig struct {
	URL      string
	Exchange string
	Enabled  bool
}

// amqpChannel is the subset of *amqp.Channel the sink uses.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes relay events to a topic exchange. Entries are
// routed as "entry.<callId>", lifecycle events as "lifecycle.<eventType>".
type AMQPPublisher struct {
	cfg     AMQPConfig
	enabled bool

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel amqpChannel

	metrics *metrics.Metrics
}

// NewAMQP creates an AMQP sink. It does not connect; call Connect.
func NewAMQP(cfg *AMQPConfig) *AMQPPublisher {
	if cfg == nil || !cfg.Enabled || cfg.URL == "" {
		log.Info().Msg("AMQP disabled, using log-only mode")
		p := &AMQPPublisher{metrics: metrics.DefaultMetrics}
		if cfg != nil {
			p.cfg = *cfg
		}
		return p
	}
	return &AMQPPublisher{
		cfg:     *cfg,
		enabled: true,
		metrics: metrics.DefaultMetrics,
	}
}

// Connect dials the broker and declares the exchange. It is a no-op when
// the sink is disabled.
func (p *AMQPPublisher) Connect(ctx context.Context) error {
	if !p.enabled {
		return nil
	}

	type result struct {
		conn *amqp.Connection
		err  error
	}
	dialed := make(chan result, 1)
	go func() {
		conn, err := amqp.Dial(p.cfg.URL)
		dialed <- result{conn, err}
	}()

	var conn *amqp.Connection
	select {
	case r := <-dialed:
		if r.err != nil {
			return errors.Wrap(r.err, "dial AMQP server")
		}
		conn = r.conn
	case <-ctx.Done():
		go func() {
			if r := <-dialed; r.conn != nil {
				r.conn.Close()
			}
		}()
		return errors.Wrap(ctx.Err(), "dial AMQP server")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "open AMQP channel")
	}

	if err := ch.ExchangeDeclare(
		p.cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return errors.Wrapf(err, "declare exchange %s", p.cfg.Exchange)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()

	log.Info().
		Str("exchange", p.cfg.Exchange).
		Msg("AMQP publisher connected")
	return nil
}

// Name identifies the sink in metrics and logs.
func (p *AMQPPublisher) Name() string { return "amqp" }

// PublishEntry publishes an appended entry.
func (p *AMQPPublisher) PublishEntry(_ context.Context, ev models.TranscriptEntryEvent) error {
	return p.publish("entry."+ev.CallID, ev.EventType, ev)
}

// PublishLifecycle publishes a call lifecycle transition.
func (p *AMQPPublisher) PublishLifecycle(_ context.Context, ev models.CallLifecycleEvent) error {
	return p.publish("lifecycle."+ev.EventType, ev.EventType, ev)
}

func (p *AMQPPublisher) publish(routingKey, eventType string, event any) error {
	start := time.Now()

	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal AMQP event")
	}

	log.Debug().
		Str("exchange", p.cfg.Exchange).
		Str("routingKey", routingKey).
		RawJSON("payload", body).
		Msg("Publishing event")

	if !p.enabled {
		p.metrics.RecordPublish(p.Name(), p.cfg.Exchange, nil, time.Since(start).Seconds())
		return nil
	}

	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()
	if ch == nil {
		p.metrics.RecordPublish(p.Name(), p.cfg.Exchange, ErrNotConnected, time.Since(start).Seconds())
		return ErrNotConnected
	}

	err = ch.Publish(p.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Type:         eventType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    start,
	})
	p.metrics.RecordPublish(p.Name(), p.cfg.Exchange, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().
			Err(err).
			Str("exchange", p.cfg.Exchange).
			Str("routingKey", routingKey).
			Msg("Failed to publish to AMQP")
		return errors.Wrap(err, "publish to AMQP")
	}
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		if e := p.channel.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing AMQP channel")
			err = e
		}
		p.channel = nil
	}
	if p.conn != nil {
		if e := p.conn.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing AMQP connection")
			err = e
		}
		p.conn = nil
	}
	return err
}
