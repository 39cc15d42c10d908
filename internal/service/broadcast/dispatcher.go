package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"call-transcript-relay/internal/models"
	"call-transcript-relay/internal/observability/logging"
	"call-transcript-relay/internal/observability/metrics"
	"call-transcript-relay/internal/scheduler"
	"call-transcript-relay/internal/service/session"
	"call-transcript-relay/internal/service/transcript"
)

// Scheduled task names.
const (
	TaskRetry         = "retry"
	TaskFinalDelivery = "final_delivery"
)

const defaultStripes = 64

// Config controls retry and stagger timing.
type Config struct {
	RetryDelay   time.Duration
	FinalStagger time.Duration
	Stripes      int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RetryDelay:   2 * time.Second,
		FinalStagger: time.Second,
		Stripes:      defaultStripes,
	}
}

// Dispatcher delivers entries to every live session of a call. When a call
// has no sessions the entry is parked in the pending queue and retried once.
//
// Every mutation of a call's log, pending queue or registry set happens under
// that call's stripe lock, so an append and its broadcast are atomic with
// respect to a session attaching.
type Dispatcher struct {
	cfg      Config
	log      *transcript.Log
	pending  *transcript.PendingQueue
	registry *Registry
	sched    *scheduler.Scheduler
	stripes  []sync.Mutex

	// generations holds each call's current final delivery generation.
	// Replace, Reset and Forget move it on; values are never reused.
	genMu       sync.Mutex
	genSeq      uint64
	generations map[string]uint64

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given state.
func NewDispatcher(cfg Config, log *transcript.Log, pending *transcript.PendingQueue, sched *scheduler.Scheduler, m *metrics.Metrics) *Dispatcher {
	if cfg.Stripes <= 0 {
		cfg.Stripes = defaultStripes
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Dispatcher{
		cfg:      cfg,
		log:      log,
		pending:  pending,
		registry: NewRegistry(),
		sched:    sched,
		stripes:  make([]sync.Mutex, cfg.Stripes),
		metrics:  m,
		logger:   logging.WithComponent("dispatcher"),

		generations: make(map[string]uint64),
	}
}

// Registry returns the subscription registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

func (d *Dispatcher) lock(callID string) func() {
	mu := &d.stripes[xxhash.Sum64String(callID)%uint64(len(d.stripes))]
	mu.Lock()
	return mu.Unlock
}

// Publish appends e to the call's log and broadcasts it. It returns the
// stamped entry.
func (d *Dispatcher) Publish(callID string, e models.TranscriptEntry) models.TranscriptEntry {
	unlock := d.lock(callID)
	defer unlock()

	e = d.log.Append(callID, e)
	d.metrics.RecordAppend(1)
	d.broadcastLocked(callID, e)
	return e
}

// Broadcast delivers e without touching the log. Unstamped entries are
// stamped first.
func (d *Dispatcher) Broadcast(callID string, e models.TranscriptEntry) models.TranscriptEntry {
	e = transcript.Stamp(e)

	unlock := d.lock(callID)
	defer unlock()

	d.broadcastLocked(callID, e)
	return e
}

func (d *Dispatcher) broadcastLocked(callID string, e models.TranscriptEntry) {
	sessions := d.registry.Sessions(callID)
	if len(sessions) == 0 {
		total := d.pending.Enqueue(callID, e)
		d.metrics.SetPending(total)
		d.metrics.RecordBroadcast("deferred")
		d.sched.After(d.cfg.RetryDelay, TaskRetry, callID, func() { d.retry(callID) })

		d.logger.Debug().
			Str("callId", callID).
			Uint64("seq", e.Seq).
			Int("pending", d.pending.Len(callID)).
			Msg("No subscribers, entry parked for retry")
		return
	}

	d.deliverLocked(callID, e, sessions)
	d.metrics.RecordBroadcast("delivered")
}

// deliverLocked offers e to each session independently. A failed offer
// evicts only that session.
func (d *Dispatcher) deliverLocked(callID string, e models.TranscriptEntry, sessions []*session.Session) {
	for _, s := range sessions {
		err := s.Offer(e)
		switch {
		case err == nil, errors.Is(err, session.ErrDuplicate):
			continue
		case errors.Is(err, session.ErrBufferFull):
			d.evictLocked(s, "buffer_full", e)
		default:
			d.evictLocked(s, "closed", e)
		}
	}
}

func (d *Dispatcher) evictLocked(s *session.Session, reason string, e models.TranscriptEntry) {
	d.registry.Unregister(s)
	s.Close()
	d.metrics.RecordDeliveryFailure(reason)
	d.logger.Warn().
		Str("callId", s.CallID()).
		Str("sessionId", s.ID()).
		Str("reason", reason).
		Uint64("seq", e.Seq).
		Msg("Evicted session after failed delivery")
}

// retry runs once per deferred broadcast. If sessions have attached since,
// whatever is still pending for the call is delivered to them directly.
func (d *Dispatcher) retry(callID string) {
	unlock := d.lock(callID)
	defer unlock()

	sessions := d.registry.Sessions(callID)
	if len(sessions) == 0 {
		d.metrics.RecordRetry("no_subscribers")
		d.logger.Debug().
			Str("callId", callID).
			Int("pending", d.pending.Len(callID)).
			Msg("Still no subscribers after retry")
		return
	}

	entries := d.pending.Drain(callID)
	d.metrics.SetPending(d.pending.Total())
	for _, e := range entries {
		d.deliverLocked(callID, e, sessions)
	}
	d.metrics.RecordRetry("delivered")
	d.logger.Debug().
		Str("callId", callID).
		Int("sessions", len(sessions)).
		Int("entries", len(entries)).
		Msg("Retry delivered pending entries")
}

// Attach primes s with the call's backlog and pending entries and registers
// it, all under the call lock. The session unregisters itself on teardown.
func (d *Dispatcher) Attach(s *session.Session) (backlog, pending int) {
	callID := s.CallID()
	unlock := d.lock(callID)
	defer unlock()

	backlog = s.Prime(d.log.Read(callID))
	pending = s.Prime(d.pending.Drain(callID))
	d.metrics.SetPending(d.pending.Total())

	d.registry.Register(s)
	s.OnClose(d.Detach)

	d.logger.Info().
		Str("callId", callID).
		Str("sessionId", s.ID()).
		Int("backlog", backlog).
		Int("pending", pending).
		Int("sessions", d.registry.Count(callID)).
		Msg("Session attached")
	return backlog, pending
}

// Detach unregisters s.
func (d *Dispatcher) Detach(s *session.Session) {
	unlock := d.lock(s.CallID())
	defer unlock()

	if d.registry.Unregister(s) {
		d.logger.Info().
			Str("callId", s.CallID()).
			Str("sessionId", s.ID()).
			Int("remaining", d.registry.Count(s.CallID())).
			Msg("Session detached")
	}
}

// Replace swaps the call's log for the final entries and delivers each one
// in order, FinalStagger apart. Entries still pending for the call are
// superseded and dropped, as is any earlier final delivery chain.
func (d *Dispatcher) Replace(callID string, final []models.TranscriptEntry) []models.TranscriptEntry {
	unlock := d.lock(callID)
	gen, stamped := d.replaceLocked(callID, final)
	unlock()

	d.metrics.RecordBulkReplace()
	d.metrics.RecordAppend(len(stamped))
	if len(stamped) > 0 {
		d.scheduleFinal(callID, gen, stamped, 0, 0)
	}
	return stamped
}

func (d *Dispatcher) replaceLocked(callID string, final []models.TranscriptEntry) (uint64, []models.TranscriptEntry) {
	d.sched.CancelMatching(TaskFinalDelivery, callID)
	gen := d.bumpLocked(callID)
	d.pending.Drain(callID)
	d.metrics.SetPending(d.pending.Total())
	d.log.Clear(callID)
	stamped := make([]models.TranscriptEntry, len(final))
	for i, e := range final {
		stamped[i] = d.log.Append(callID, e)
	}
	return gen, stamped
}

// bumpLocked moves the call to a fresh generation. Caller holds the call lock.
func (d *Dispatcher) bumpLocked(callID string) uint64 {
	d.genMu.Lock()
	defer d.genMu.Unlock()
	d.genSeq++
	d.generations[callID] = d.genSeq
	return d.genSeq
}

func (d *Dispatcher) generation(callID string) uint64 {
	d.genMu.Lock()
	defer d.genMu.Unlock()
	return d.generations[callID]
}

// scheduleFinal chains deliveries so entry i+1 is only scheduled once entry i
// has been broadcast. A chain whose generation is no longer current stops
// without delivering.
func (d *Dispatcher) scheduleFinal(callID string, gen uint64, entries []models.TranscriptEntry, i int, delay time.Duration) {
	d.sched.After(delay, TaskFinalDelivery, callID, func() {
		unlock := d.lock(callID)
		defer unlock()

		if d.generation(callID) != gen {
			d.logger.Debug().
				Str("callId", callID).
				Uint64("seq", entries[i].Seq).
				Msg("Final delivery superseded")
			return
		}
		d.broadcastLocked(callID, entries[i])
		if i+1 < len(entries) {
			d.scheduleFinal(callID, gen, entries, i+1, d.cfg.FinalStagger)
		}
	})
}

// Reset empties the call's log and cancels any final deliveries in flight.
func (d *Dispatcher) Reset(callID string) {
	unlock := d.lock(callID)
	defer unlock()

	d.resetLocked(callID)
}

func (d *Dispatcher) resetLocked(callID string) {
	d.sched.CancelMatching(TaskFinalDelivery, callID)
	d.bumpLocked(callID)
	d.log.Reset(callID)
}

// Forget removes the call's log and pending entries and cancels its
// scheduled retries and deliveries. Live sessions stay registered.
func (d *Dispatcher) Forget(callID string) int {
	unlock := d.lock(callID)
	defer unlock()

	return d.forgetLocked(callID)
}

func (d *Dispatcher) forgetLocked(callID string) int {
	n := d.log.Len(callID)
	d.sched.CancelMatching(TaskFinalDelivery, callID)
	d.sched.CancelMatching(TaskRetry, callID)
	d.log.Delete(callID)
	d.genMu.Lock()
	delete(d.generations, callID)
	d.genMu.Unlock()
	d.pending.Drain(callID)
	d.metrics.SetPending(d.pending.Total())
	return n
}
