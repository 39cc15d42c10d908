// Package transcript holds per-call transcript state: the authoritative
// transcript log and the pending queue of entries awaiting a first subscriber.
package transcript

import (
	"sort"
	"sync"
	"sync/atomic"

	"call-transcript-relay/internal/models"
)

var seq atomic.Uint64

// Stamp assigns the next process-wide sequence number to an unstamped entry.
// Stamped entries are returned unchanged.
func Stamp(e models.TranscriptEntry) models.TranscriptEntry {
	if e.Seq == 0 {
		e.Seq = seq.Add(1)
	}
	return e
}

// Log maps a call id to its ordered transcript entries. Entries are kept in
// arrival order. Safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	calls map[string][]models.TranscriptEntry
}

// NewLog creates an empty transcript log.
func NewLog() *Log {
	return &Log{calls: make(map[string][]models.TranscriptEntry)}
}

// Append adds an entry at the end of the call's sequence, creating the
// sequence if absent, and returns the stamped entry.
func (l *Log) Append(callID string, e models.TranscriptEntry) models.TranscriptEntry {
	e = Stamp(e)
	l.mu.Lock()
	l.calls[callID] = append(l.calls[callID], e)
	l.mu.Unlock()
	return e
}

// Read returns a copy of the call's entries. The copy is safe to iterate
// while appends continue.
func (l *Log) Read(callID string) []models.TranscriptEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.calls[callID]
	if len(entries) == 0 {
		return nil
	}
	out := make([]models.TranscriptEntry, len(entries))
	copy(out, entries)
	return out
}

// Reset creates or empties the call's sequence. Used when a call starts.
func (l *Log) Reset(callID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[callID] = nil
}

// Clear empties the call's sequence but keeps the call known. Used before a
// bulk replace.
func (l *Log) Clear(callID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.calls[callID]; ok {
		l.calls[callID] = nil
	}
}

// Delete removes the call entirely.
func (l *Log) Delete(callID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.calls, callID)
}

// Exists reports whether the call is known, even with no entries.
func (l *Log) Exists(callID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.calls[callID]
	return ok
}

// Len returns the number of entries recorded for the call.
func (l *Log) Len(callID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.calls[callID])
}

// Calls lists the known call ids in lexical order.
func (l *Log) Calls() []string {
	l.mu.RLock()
	ids := make([]string, 0, len(l.calls))
	for id := range l.calls {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
