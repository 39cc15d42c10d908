package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a stream session.
type State int

const (
	// StateConnecting - Session created, handshake not yet written.
	StateConnecting State = iota
	// StateOpen - Handshake written, backlog and live entries flow.
	StateOpen
	// StateClosed - Transport gone or session evicted. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Errors for invalid state transitions.
var (
	ErrSessionClosed = errors.New("session is closed")
	ErrAlreadyOpen   = errors.New("session already open")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING → OPEN → CLOSED
//	     │                ▲
//	     └────────────────┘
//
// Rules:
//   - CONNECTING: Open() once, or Close()
//   - OPEN: writes allowed, Close() ends the session
//   - CLOSED: all operations are no-ops or return errors
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a new session lifecycle in CONNECTING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnecting}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// CanWrite returns true if messages may be written to the transport.
func (l *Lifecycle) CanWrite() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateOpen
}

// Open transitions CONNECTING to OPEN.
func (l *Lifecycle) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConnecting:
		l.state = StateOpen
		return nil
	case StateOpen:
		return ErrAlreadyOpen
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Close transitions the session to CLOSED.
// Returns true if the session was closed, false if it already was.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	return true
}
