package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-transcript-relay/internal/models"
)

type memorySink struct {
	mu        sync.Mutex
	entries   []models.TranscriptEntryEvent
	lifecycle []models.CallLifecycleEvent
	fail      bool
	closed    bool
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) PublishEntry(_ context.Context, ev models.TranscriptEntryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink unavailable")
	}
	m.entries = append(m.entries, ev)
	return nil
}

func (m *memorySink) PublishLifecycle(_ context.Context, ev models.CallLifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink unavailable")
	}
	m.lifecycle = append(m.lifecycle, ev)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), len(m.lifecycle)
}

func TestFanout_DeliversToEverySink(t *testing.T) {
	a, b := &memorySink{}, &memorySink{fail: true}
	f := NewFanout(16, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, f.EmitEntry("abc", models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "Binance", Timestamp: ts, Seq: 3}))
	assert.True(t, f.EmitLifecycle(EventCallCompleted, "abc", 1))

	require.Eventually(t, func() bool {
		e, l := a.counts()
		return e == 1 && l == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, EventEntry, a.entries[0].EventType)
	assert.Equal(t, uint64(3), a.entries[0].Seq)
	assert.Equal(t, ts.UnixMilli(), a.entries[0].Timestamp)
	assert.Equal(t, 1, a.lifecycle[0].EntryCount)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestFanout_DropsWhenFull(t *testing.T) {
	f := NewFanout(1, &memorySink{})

	assert.True(t, f.EmitLifecycle(EventCallStarted, "abc", 0))
	assert.False(t, f.EmitLifecycle(EventCallStarted, "abc", 0))
}

func TestFanout_DrainsOnShutdown(t *testing.T) {
	sink := &memorySink{}
	f := NewFanout(8, sink)

	for i := 0; i < 5; i++ {
		f.EmitLifecycle(EventCallStarted, "abc", 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.Run(ctx))

	_, l := sink.counts()
	assert.Equal(t, 5, l)
}

func TestFanout_NoSinks(t *testing.T) {
	f := NewFanout(1)
	assert.True(t, f.EmitLifecycle(EventCallStarted, "abc", 0))
	assert.True(t, f.EmitLifecycle(EventCallStarted, "abc", 0))
}
