// Package relay wires the transcript relay together: webhook payloads are
// normalized, appended to the call's log and fanned out to subscribers, and
// completed calls are swept after a grace period.
package relay

import (
	"time"

	"github.com/rs/zerolog"

	"call-transcript-relay/internal/events"
	"call-transcript-relay/internal/models"
	"call-transcript-relay/internal/observability/logging"
	"call-transcript-relay/internal/observability/metrics"
	"call-transcript-relay/internal/scheduler"
	"call-transcript-relay/internal/schema"
	"call-transcript-relay/internal/service/broadcast"
	"call-transcript-relay/internal/service/normalize"
	"call-transcript-relay/internal/service/session"
	"call-transcript-relay/internal/service/sweeper"
	"call-transcript-relay/internal/service/transcript"
)

// Emitter mirrors relay activity to external systems.
type Emitter interface {
	EmitEntry(callID string, e models.TranscriptEntry) bool
	EmitLifecycle(eventType, callID string, entryCount int) bool
}

type noopEmitter struct{}

func (noopEmitter) EmitEntry(string, models.TranscriptEntry) bool { return true }
func (noopEmitter) EmitLifecycle(string, string, int) bool       { return true }

// Config bundles relay timing.
type Config struct {
	Dispatch   broadcast.Config
	Session    session.Config
	SweepGrace time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Dispatch:   broadcast.DefaultConfig(),
		Session:    session.DefaultConfig(),
		SweepGrace: 5 * time.Minute,
	}
}

// Stats is a point-in-time view of relay state.
type Stats struct {
	Calls          int `json:"calls"`
	Sessions       int `json:"sessions"`
	PendingEntries int `json:"pendingEntries"`
	ScheduledTasks int `json:"scheduledTasks"`
}

// Relay is the process-scoped owner of all call state. Handlers receive it
// by reference.
type Relay struct {
	cfg        Config
	validator  *schema.Validator
	normalizer *normalize.Normalizer
	log        *transcript.Log
	pending    *transcript.PendingQueue
	sched      *scheduler.Scheduler
	dispatcher *broadcast.Dispatcher
	sweeper    *sweeper.Sweeper
	ids        *session.Generator
	emitter    Emitter

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a relay. A nil emitter disables mirroring.
func New(cfg Config, emitter Emitter, m *metrics.Metrics) *Relay {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if emitter == nil {
		emitter = noopEmitter{}
	}

	validator := schema.New()
	log := transcript.NewLog()
	pending := transcript.NewPendingQueue()
	sched := scheduler.New(m)

	r := &Relay{
		cfg:        cfg,
		validator:  validator,
		normalizer: normalize.New(validator, nil),
		log:        log,
		pending:    pending,
		sched:      sched,
		dispatcher: broadcast.NewDispatcher(cfg.Dispatch, log, pending, sched, m),
		ids:        session.NewGenerator(),
		emitter:    emitter,
		metrics:    m,
		logger:     logging.WithComponent("relay"),
	}
	r.sweeper = sweeper.New(sched, cfg.SweepGrace, r, m)
	return r
}

// HandleWebhook normalizes one provider payload and applies it. It fails
// only for payloads without a call id or that are not JSON; unrecognized
// shapes are ignored.
func (r *Relay) HandleWebhook(body []byte) (normalize.Result, error) {
	res, err := r.normalizer.Normalize(body)
	if err != nil {
		r.metrics.RecordWebhook("rejected")
		return res, err
	}
	logger := r.logger.With().Str("callId", res.CallID).Str("matcher", res.Matcher).Logger()

	switch res.Kind {
	case normalize.KindEntry:
		e := r.dispatcher.Publish(res.CallID, res.Entry)
		res.Entry = e
		r.emitter.EmitEntry(res.CallID, e)
		logger.Debug().
			Uint64("seq", e.Seq).
			Str("speaker", string(e.Speaker)).
			Msg("Transcript entry appended")

	case normalize.KindStarted:
		r.sweeper.Cancel(res.CallID)
		r.dispatcher.Reset(res.CallID)
		r.emitter.EmitLifecycle(events.EventCallStarted, res.CallID, 0)
		logger.Info().Msg("Call started")

	case normalize.KindCompleted:
		if res.Replace {
			res.Final = r.dispatcher.Replace(res.CallID, res.Final)
			for _, e := range res.Final {
				r.emitter.EmitEntry(res.CallID, e)
			}
		}
		due := r.sweeper.Schedule(res.CallID)
		r.emitter.EmitLifecycle(events.EventCallCompleted, res.CallID, r.log.Len(res.CallID))
		logger.Info().
			Bool("replace", res.Replace).
			Int("final", len(res.Final)).
			Time("sweepAt", due).
			Msg("Call completed")

	default:
		logger.Debug().Str("reason", res.Reason).Msg("Webhook carried no transcript content")
	}

	r.metrics.RecordWebhook(res.Kind.String())
	return res, nil
}

// Inject broadcasts an entry directly, bypassing the log. Used to verify the
// delivery path without a real call.
func (r *Relay) Inject(callID, speaker, text string) (models.TranscriptEntry, error) {
	if err := r.validator.ValidateCallID(callID); err != nil {
		return models.TranscriptEntry{}, err
	}
	e := models.TranscriptEntry{
		Speaker:   models.ParseSpeaker(speaker),
		Text:      text,
		Timestamp: time.Now(),
	}
	if err := r.validator.ValidateEntry(e); err != nil {
		return models.TranscriptEntry{}, err
	}

	e = r.dispatcher.Broadcast(callID, e)
	r.logger.Info().
		Str("callId", callID).
		Uint64("seq", e.Seq).
		Int("sessions", r.dispatcher.Registry().Count(callID)).
		Msg("Injected test transcript")
	return e, nil
}

// Open creates a session for callID, primes it with the call's backlog and
// pending entries and registers it. The caller runs the session.
func (r *Relay) Open(callID string) (*session.Session, error) {
	if err := r.validator.ValidateCallID(callID); err != nil {
		return nil, err
	}
	s := session.New(r.ids.Next(callID), callID, r.cfg.Session, r.metrics)
	r.dispatcher.Attach(s)
	return s, nil
}

// Transcript returns the call's current log and whether the call is known.
func (r *Relay) Transcript(callID string) ([]models.TranscriptEntry, bool) {
	return r.log.Read(callID), r.log.Exists(callID)
}

// Tasks lists pending retries, staggered deliveries and sweeps.
func (r *Relay) Tasks() []scheduler.TaskInfo {
	return r.sched.Pending()
}

// Stats returns a snapshot of relay state.
func (r *Relay) Stats() Stats {
	return Stats{
		Calls:          len(r.log.Calls()),
		Sessions:       r.dispatcher.Registry().Total(),
		PendingEntries: r.pending.Total(),
		ScheduledTasks: r.sched.Len(),
	}
}

// Forget drops a call's retained state. The sweeper calls it once the grace
// period after completion has elapsed.
func (r *Relay) Forget(callID string) int {
	n := r.dispatcher.Forget(callID)
	r.emitter.EmitLifecycle(events.EventCallSwept, callID, n)
	return n
}

// Close cancels all scheduled work.
func (r *Relay) Close() {
	r.sched.Stop()
}
