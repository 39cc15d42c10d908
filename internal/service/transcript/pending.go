package transcript

import (
	"sync"

	"call-transcript-relay/internal/models"
)

// PendingQueue holds entries broadcast while a call had no subscribers.
// Contents are not authoritative; the Log keeps the full record.
type PendingQueue struct {
	mu    sync.Mutex
	calls map[string][]models.TranscriptEntry
	total int
}

// NewPendingQueue creates an empty pending queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{calls: make(map[string][]models.TranscriptEntry)}
}

// Enqueue appends an entry to the call's queue and returns the total number
// of queued entries across all calls.
func (q *PendingQueue) Enqueue(callID string, e models.TranscriptEntry) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls[callID] = append(q.calls[callID], e)
	q.total++
	return q.total
}

// Drain removes and returns the call's queued entries in order.
func (q *PendingQueue) Drain(callID string) []models.TranscriptEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, ok := q.calls[callID]
	if !ok {
		return nil
	}
	delete(q.calls, callID)
	q.total -= len(entries)
	return entries
}

// Len returns the number of entries queued for the call.
func (q *PendingQueue) Len(callID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls[callID])
}

// Total returns the number of queued entries across all calls.
func (q *PendingQueue) Total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}
