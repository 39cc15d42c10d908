// Package broadcast tracks live subscriber sessions per call and fans
// transcript entries out to them.
package broadcast

import (
	"sort"
	"sync"

	"call-transcript-relay/internal/service/session"
)

// Registry maps a call id to its set of live sessions. The key for a call is
// removed as soon as its set becomes empty.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]map[*session.Session]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]map[*session.Session]struct{})}
}

// Register adds s to its call's set, creating the set if absent.
func (r *Registry) Register(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.calls[s.CallID()]
	if !ok {
		set = make(map[*session.Session]struct{})
		r.calls[s.CallID()] = set
	}
	set[s] = struct{}{}
}

// Unregister removes s. It reports whether s was registered.
func (r *Registry) Unregister(s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.calls[s.CallID()]
	if !ok {
		return false
	}
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.calls, s.CallID())
	}
	return true
}

// Sessions returns the call's live sessions ordered by session id.
func (r *Registry) Sessions(callID string) []*session.Session {
	r.mu.RLock()
	set := r.calls[callID]
	out := make([]*session.Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of live sessions for the call.
func (r *Registry) Count(callID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls[callID])
}

// Total returns the number of live sessions across all calls.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.calls {
		n += len(set)
	}
	return n
}
