// Package sweeper removes a completed call's retained state after a grace
// period, so subscribers reconnecting shortly after the call ends still get
// the final transcript as backlog.
package sweeper

import (
	"time"

	"github.com/rs/zerolog"

	"call-transcript-relay/internal/observability/logging"
	"call-transcript-relay/internal/observability/metrics"
	"call-transcript-relay/internal/scheduler"
)

// TaskSweep is the scheduler task name for pending sweeps.
const TaskSweep = "sweep"

// Forgetter drops a call's retained state and returns how many log entries
// it held.
type Forgetter interface {
	Forget(callID string) int
}

// Sweeper schedules one deletion per completed call.
type Sweeper struct {
	sched  *scheduler.Scheduler
	grace  time.Duration
	target Forgetter

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a sweeper that calls target.Forget grace after completion.
func New(sched *scheduler.Scheduler, grace time.Duration, target Forgetter, m *metrics.Metrics) *Sweeper {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Sweeper{
		sched:   sched,
		grace:   grace,
		target:  target,
		metrics: m,
		logger:  logging.WithComponent("sweeper"),
	}
}

// Schedule arms the sweep for callID. A sweep already pending for the call
// is replaced, so the grace period restarts from the latest completion.
func (s *Sweeper) Schedule(callID string) time.Time {
	s.sched.CancelMatching(TaskSweep, callID)
	s.sched.After(s.grace, TaskSweep, callID, func() { s.sweep(callID) })

	due := time.Now().Add(s.grace)
	s.logger.Info().
		Str("callId", callID).
		Time("due", due).
		Msg("Sweep scheduled")
	return due
}

// Cancel drops a pending sweep. It reports whether one was pending.
func (s *Sweeper) Cancel(callID string) bool {
	if s.sched.CancelMatching(TaskSweep, callID) == 0 {
		return false
	}
	s.logger.Info().Str("callId", callID).Msg("Sweep cancelled")
	return true
}

func (s *Sweeper) sweep(callID string) {
	n := s.target.Forget(callID)
	s.metrics.RecordSweep()
	s.logger.Info().
		Str("callId", callID).
		Int("entries", n).
		Msg("Swept completed call")
}
