package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"call-transcript-relay/internal/config"
	"call-transcript-relay/internal/events"
	"call-transcript-relay/internal/observability/logging"
	"call-transcript-relay/internal/observability/metrics"
	"call-transcript-relay/internal/service/broadcast"
	"call-transcript-relay/internal/service/relay"
	"call-transcript-relay/internal/service/session"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Relay  *relay.Relay
	Events *events.Fanout

	amqp  *events.AMQPPublisher
	ready atomic.Bool
}

// New constructs the relay and its event sinks from the configuration.
func New(cfg *config.Configuration) *Application {
	logger := logging.WithComponent("application")

	kafka := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicEntries:   cfg.Kafka.TopicEntries,
		TopicLifecycle: cfg.Kafka.TopicLifecycle,
		Principal:      cfg.Kafka.Principal,
	})
	amqp := events.NewAMQP(&events.AMQPConfig{
		Enabled:  cfg.AMQP.Enabled,
		URL:      cfg.AMQP.URL,
		Exchange: cfg.AMQP.Exchange,
	})

	var sinks []events.Sink
	if cfg.Kafka.Enabled {
		sinks = append(sinks, kafka)
	}
	if cfg.AMQP.Enabled {
		sinks = append(sinks, amqp)
	}
	fanout := events.NewFanout(0, sinks...)

	a := &Application{
		Logger: logger,
		Cfg:    cfg,
		Relay:  relay.New(RelayConfig(cfg.Relay), fanout, metrics.DefaultMetrics),
		Events: fanout,
		amqp:   amqp,
	}

	logger.Info().
		Str("method", "New").
		Int("sinks", len(sinks)).
		Msg("Call transcript relay application created")
	return a
}

// RelayConfig maps the relay section of the configuration onto the relay's
// component settings.
func RelayConfig(c config.RelayConfig) relay.Config {
	rc := relay.DefaultConfig()
	rc.Dispatch = broadcast.Config{
		RetryDelay:   c.RetryDelay,
		FinalStagger: c.FinalStagger,
		Stripes:      rc.Dispatch.Stripes,
	}
	rc.Session = session.Config{
		Buffer:            c.SessionBuffer,
		BacklogStagger:    c.BacklogStagger,
		HeartbeatInterval: c.HeartbeatInterval,
	}
	rc.SweepGrace = c.SweepGrace
	return rc
}

// Start connects the broker sinks and marks the service ready. A sink that
// cannot connect degrades to dropping its events; it does not fail startup.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	if err := a.amqp.Connect(ctx); err != nil {
		startLogger.Warn().Err(err).Msg("AMQP sink unavailable, lifecycle events will not reach it")
	}

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Call transcript relay starting")

	return nil
}

// Ready reports whether the service accepts traffic.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown stops accepting traffic and cancels all scheduled relay work.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	a.Relay.Close()
	shutdownLogger.Info().
		Interface("stats", a.Relay.Stats()).
		Msg("Call transcript relay shutting down")
}
