// Package scheduler provides a delayed-task queue whose pending tasks can be
// listed and cancelled. Retries, staggered deliveries and call sweeps are all
// scheduled through it.
package scheduler

import (
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"call-transcript-relay/internal/observability/logging"
	"call-transcript-relay/internal/observability/metrics"
)

// TaskInfo describes a pending task.
type TaskInfo struct {
	ID   uint64    `json:"id"`
	Name string    `json:"name"`
	Key  string    `json:"key"`
	Due  time.Time `json:"due"`
}

type task struct {
	info  TaskInfo
	timer *time.Timer
}

// Scheduler runs functions once after a delay. Each task runs on its own
// goroutine so a slow task never delays another.
type Scheduler struct {
	mu      sync.Mutex
	nextID  uint64
	tasks   map[uint64]*task
	stopped bool

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a scheduler. A nil metrics falls back to the default instance.
func New(m *metrics.Metrics) *Scheduler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Scheduler{
		tasks:   make(map[uint64]*task),
		metrics: m,
		logger:  logging.WithComponent("scheduler"),
	}
}

// After schedules fn to run once after d. name and key identify the task for
// introspection and bulk cancellation. It returns 0 if the scheduler is stopped.
func (s *Scheduler) After(d time.Duration, name, key string, fn func()) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}
	if d < 0 {
		d = 0
	}

	s.nextID++
	id := s.nextID
	t := &task{info: TaskInfo{ID: id, Name: name, Key: key, Due: time.Now().Add(d)}}
	s.tasks[id] = t
	// The callback blocks on s.mu until this function returns, so t.timer is
	// always assigned before run can observe the task.
	t.timer = time.AfterFunc(d, func() { s.run(id, fn) })
	s.metrics.SetScheduledTasks(len(s.tasks))
	return id
}

func (s *Scheduler) run(id uint64, fn func()) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
		s.metrics.SetScheduledTasks(len(s.tasks))
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("task", t.info.Name).
				Str("key", t.info.Key).
				Bytes("stack", debug.Stack()).
				Msg("Scheduled task panicked")
		}
	}()
	fn()
}

// Cancel removes a pending task. It reports whether the task was still pending.
func (s *Scheduler) Cancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, id)
	s.metrics.SetScheduledTasks(len(s.tasks))
	return true
}

// CancelMatching cancels every pending task with the given name and key and
// returns how many were cancelled.
func (s *Scheduler) CancelMatching(name, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.tasks {
		if t.info.Name == name && t.info.Key == key {
			t.timer.Stop()
			delete(s.tasks, id)
			n++
		}
	}
	s.metrics.SetScheduledTasks(len(s.tasks))
	return n
}

// Pending lists pending tasks ordered by due time.
func (s *Scheduler) Pending() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Due.Equal(out[j].Due) {
			return out[i].ID < out[j].ID
		}
		return out[i].Due.Before(out[j].Due)
	})
	return out
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels all pending tasks and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, id)
	}
	s.metrics.SetScheduledTasks(0)
}
