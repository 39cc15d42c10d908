package sweeper

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-transcript-relay/internal/scheduler"
)

type fakeForgetter struct {
	mu     sync.Mutex
	swept  []string
	counts map[string]int
}

func (f *fakeForgetter) Forget(callID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept = append(f.swept, callID)
	return f.counts[callID]
}

func (f *fakeForgetter) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.swept...)
}

func newSweeper(t *testing.T, grace time.Duration) (*Sweeper, *fakeForgetter, *scheduler.Scheduler) {
	t.Helper()
	sched := scheduler.New(nil)
	t.Cleanup(sched.Stop)
	target := &fakeForgetter{counts: map[string]int{"abc": 3}}
	return New(sched, grace, target, nil), target, sched
}

func TestSweeper_SweepsAfterGrace(t *testing.T) {
	s, target, _ := newSweeper(t, 20*time.Millisecond)

	s.Schedule("abc")
	assert.Empty(t, target.calls(), "sweep must wait for the grace period")

	require.Eventually(t, func() bool { return len(target.calls()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"abc"}, target.calls())
}

func TestSweeper_RescheduleReplacesPending(t *testing.T) {
	s, target, sched := newSweeper(t, 30*time.Millisecond)

	s.Schedule("abc")
	time.Sleep(15 * time.Millisecond)
	s.Schedule("abc")
	assert.Equal(t, 1, sched.Len())

	require.Eventually(t, func() bool { return len(target.calls()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Len(t, target.calls(), 1)
}

func TestSweeper_Cancel(t *testing.T) {
	s, target, _ := newSweeper(t, 20*time.Millisecond)

	s.Schedule("abc")
	assert.True(t, s.Cancel("abc"))
	assert.False(t, s.Cancel("abc"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, target.calls())
}

func TestSweeper_CallsAreIndependent(t *testing.T) {
	s, target, _ := newSweeper(t, 20*time.Millisecond)

	s.Schedule("abc")
	s.Schedule("xyz")
	s.Cancel("abc")

	require.Eventually(t, func() bool { return len(target.calls()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"xyz"}, target.calls())
}
