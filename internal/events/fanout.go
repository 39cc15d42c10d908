package events

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"call-transcript-relay/internal/models"
	"call-transcript-relay/internal/observability/logging"
	"call-transcript-relay/internal/observability/metrics"
)

// Lifecycle event types.
const (
	EventEntry         = "call.transcript.entry"
	EventCallStarted   = "call.started"
	EventCallCompleted = "call.completed"
	EventCallSwept     = "call.swept"
)

var errQueueFull = errors.New("event queue full")

type envelope struct {
	entry     *models.TranscriptEntryEvent
	lifecycle *models.CallLifecycleEvent
}

// Fanout forwards events to every sink from a single background worker, so
// broker latency never blocks webhook handling. Events are dropped when the
// queue is full.
type Fanout struct {
	sinks   []Sink
	queue   chan envelope
	timeout time.Duration

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewFanout creates a fanout with a queue of the given size.
func NewFanout(queueSize int, sinks ...Sink) *Fanout {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Fanout{
		sinks:   sinks,
		queue:   make(chan envelope, queueSize),
		timeout: 10 * time.Second,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("events"),
	}
}

// EmitEntry queues an appended entry for publishing.
func (f *Fanout) EmitEntry(callID string, e models.TranscriptEntry) bool {
	ev := models.TranscriptEntryEvent{
		EventType: EventEntry,
		CallID:    callID,
		Seq:       e.Seq,
		Speaker:   e.Speaker,
		Text:      e.Text,
		Timestamp: e.Timestamp.UnixMilli(),
	}
	return f.enqueue(envelope{entry: &ev})
}

// EmitLifecycle queues a lifecycle transition for publishing.
func (f *Fanout) EmitLifecycle(eventType, callID string, entryCount int) bool {
	ev := models.CallLifecycleEvent{
		EventType:  eventType,
		CallID:     callID,
		EntryCount: entryCount,
		Timestamp:  time.Now().UnixMilli(),
	}
	return f.enqueue(envelope{lifecycle: &ev})
}

func (f *Fanout) enqueue(env envelope) bool {
	if len(f.sinks) == 0 {
		return true
	}
	select {
	case f.queue <- env:
		return true
	default:
		f.logger.Warn().Msg("Event queue full, dropping event")
		for _, s := range f.sinks {
			f.metrics.RecordPublish(s.Name(), "dropped", errQueueFull, 0)
		}
		return false
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is
// left and closes every sink.
func (f *Fanout) Run(ctx context.Context) error {
	defer f.close()
	for {
		select {
		case <-ctx.Done():
			f.drain()
			return nil
		case env := <-f.queue:
			f.dispatch(env)
		}
	}
}

func (f *Fanout) drain() {
	for {
		select {
		case env := <-f.queue:
			f.dispatch(env)
		default:
			return
		}
	}
}

func (f *Fanout) dispatch(env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	for _, s := range f.sinks {
		var err error
		if env.entry != nil {
			err = s.PublishEntry(ctx, *env.entry)
		} else {
			err = s.PublishLifecycle(ctx, *env.lifecycle)
		}
		if err != nil {
			f.logger.Warn().Err(err).Str("sink", s.Name()).Msg("Failed to publish event")
		}
	}
}

func (f *Fanout) close() {
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			f.logger.Error().Err(err).Str("sink", s.Name()).Msg("Error closing sink")
		}
	}
}
