// Package session implements a subscriber's long-lived stream connection.
//
// A Session owns a buffered message channel. Producers call Offer, which
// never blocks; a writer loop started by Run drains the channel onto a
// Transport. The writer loop also writes the connection handshake, replays
// backlog and sends heartbeats.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"call-transcript-relay/internal/models"
	"call-transcript-relay/internal/observability/logging"
	"call-transcript-relay/internal/observability/metrics"
)

var (
	// ErrBufferFull is returned by Offer when the session cannot keep up.
	ErrBufferFull = errors.New("session buffer full")
	// ErrDuplicate is returned by Offer when the entry was already delivered
	// to this session.
	ErrDuplicate = errors.New("entry already delivered to session")
)

// Transport writes one message to the subscriber's wire.
type Transport interface {
	Write(ctx context.Context, msg models.StreamMessage) error
	Name() string
}

// Config controls session timing and buffering.
type Config struct {
	Buffer            int
	BacklogStagger    time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Buffer:            256,
		BacklogStagger:    500 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Session is one subscriber connection for one call.
type Session struct {
	id     string
	callID string
	cfg    Config

	lifecycle *Lifecycle
	send      chan models.StreamMessage
	done      chan struct{}

	mu        sync.Mutex
	closed    bool
	delivered map[uint64]struct{}
	replay    []models.TranscriptEntry
	onClose   func(*Session)
	closeOnce sync.Once

	metrics *metrics.Metrics
}

// New creates a session in the CONNECTING state.
func New(id, callID string, cfg Config, m *metrics.Metrics) *Session {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Session{
		id:        id,
		callID:    callID,
		cfg:       cfg,
		lifecycle: NewLifecycle(),
		send:      make(chan models.StreamMessage, cfg.Buffer),
		done:      make(chan struct{}),
		delivered: make(map[uint64]struct{}),
		metrics:   m,
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// CallID returns the call this session subscribes to.
func (s *Session) CallID() string { return s.callID }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.lifecycle.State() }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// OnClose registers fn to run as the first step of teardown. It runs at most once.
func (s *Session) OnClose(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// Prime queues entries to be replayed as backlog before any live message.
// Entries already primed or offered are skipped. It returns how many entries
// were queued.
func (s *Session) Prime(entries []models.TranscriptEntry) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range entries {
		if e.Seq != 0 {
			if _, dup := s.delivered[e.Seq]; dup {
				continue
			}
			s.delivered[e.Seq] = struct{}{}
		}
		s.replay = append(s.replay, e)
		n++
	}
	return n
}

// Offer hands a live entry to the writer loop without blocking. A full
// buffer returns ErrBufferFull; the caller is expected to evict the session.
func (s *Session) Offer(e models.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if e.Seq != 0 {
		if _, dup := s.delivered[e.Seq]; dup {
			return ErrDuplicate
		}
	}

	entry := e
	msg := models.StreamMessage{
		Type:      models.MessageLive,
		CallID:    s.callID,
		Seq:       e.Seq,
		Entry:     &entry,
		Timestamp: time.Now(),
	}
	select {
	case s.send <- msg:
		if e.Seq != 0 {
			s.delivered[e.Seq] = struct{}{}
		}
		return nil
	default:
		return ErrBufferFull
	}
}

// Close marks the session closed and stops the writer loop. It does not run
// the OnClose hook; callers evicting a session have already unregistered it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Run writes the handshake, replays primed backlog, then relays live entries
// and heartbeats until ctx is cancelled, the session is closed, or a write
// fails. Teardown always unregisters the session before anything else.
func (s *Session) Run(ctx context.Context, t Transport) (err error) {
	start := time.Now()
	logger := logging.WithSession(s.callID, s.id, t.Name())

	var ticker *time.Ticker
	started := false
	defer func() {
		s.teardown()
		if ticker != nil {
			ticker.Stop()
		}
		s.Close()
		s.lifecycle.Close()
		if started {
			s.metrics.RecordSessionEnd(time.Since(start).Seconds())
		}

		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Session writer panicked")
			err = pkgerrors.Errorf("session panic: %v", r)
		}
		logger.Info().Err(err).Dur("duration", time.Since(start)).Msg("Session closed")
	}()

	if err := s.lifecycle.Open(); err != nil {
		return err
	}
	s.metrics.RecordSessionStart(t.Name())
	started = true
	logger.Info().Msg("Session opened")

	if err := s.write(ctx, t, models.StreamMessage{Type: models.MessageConnected, CallID: s.callID}); err != nil {
		return err
	}

	s.mu.Lock()
	replay := s.replay
	s.replay = nil
	s.mu.Unlock()

	if len(replay) > 0 {
		logger.Debug().Int("entries", len(replay)).Msg("Replaying backlog")
	}
	for i, e := range replay {
		if i > 0 && s.cfg.BacklogStagger > 0 {
			if !s.wait(ctx, s.cfg.BacklogStagger) {
				return nil
			}
		}
		entry := e
		msg := models.StreamMessage{Type: models.MessageBacklog, CallID: s.callID, Seq: e.Seq, Entry: &entry}
		if err := s.write(ctx, t, msg); err != nil {
			return err
		}
	}

	ticker = time.NewTicker(s.cfg.HeartbeatInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case msg := <-s.send:
			if err := s.write(ctx, t, msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.write(ctx, t, models.StreamMessage{Type: models.MessageHeartbeat, CallID: s.callID}); err != nil {
				return err
			}
			s.metrics.RecordHeartbeat()
		}
	}
}

func (s *Session) write(ctx context.Context, t Transport, msg models.StreamMessage) error {
	if !s.lifecycle.CanWrite() {
		return ErrSessionClosed
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := t.Write(ctx, msg); err != nil {
		s.metrics.RecordDeliveryFailure("write")
		return pkgerrors.Wrapf(err, "write %s message", msg.Type)
	}
	s.metrics.RecordDelivery(msg.Type)
	return nil
}

// wait sleeps for d and reports false if the session ended first.
func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		fn := s.onClose
		s.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})
}
