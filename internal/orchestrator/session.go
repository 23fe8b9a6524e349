package orchestrator

import (
	"sync"
	"time"

	"github.com/leadlens/leadlens/internal/wa"
)

// State is a session's position in its lifecycle. It only moves forward;
// the sole re-entry point is tearing the session down and starting over.
type State int32

const (
	StateUninitialized State = iota
	StatePairing
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePairing:
		return "pairing"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// EventSink receives session lifecycle events for delivery to the operator
// connection currently attached to the session.
type EventSink interface {
	Emit(event string, payload any)
}

// Session is the live binding between one tenant and its messaging client.
// Exactly one Session exists per tenant id; operator connections attach and
// detach, the Session persists.
type Session struct {
	TenantID  string
	CreatedAt time.Time

	mu      sync.Mutex
	state   State
	client  wa.Client
	sink    EventSink
	lastQR  string // re-emitted when a connection attaches mid-pairing
	history map[string][]wa.Message
	cancel  func()

	readyCh   chan struct{}
	readyOnce sync.Once
}

func newSession(tenantID string) *Session {
	return &Session{
		TenantID:  tenantID,
		CreatedAt: time.Now(),
		state:     StateUninitialized,
		history:   make(map[string][]wa.Message),
		readyCh:   make(chan struct{}),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState advances the state machine. Backward transitions are ignored;
// StateTerminated is reachable from anywhere.
func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next != StateTerminated && next <= s.state {
		return
	}
	s.state = next
}

// attach binds the session's events to an operator connection, replacing any
// previous binding.
func (s *Session) attach(sink EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// emit delivers an event to the currently attached connection, if any.
func (s *Session) emit(event string, payload any) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Emit(event, payload)
	}
}

func (s *Session) setLastQR(image string) {
	s.mu.Lock()
	s.lastQR = image
	s.mu.Unlock()
}

func (s *Session) lastQRImage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQR
}

func (s *Session) signalReady() {
	s.readyOnce.Do(func() { close(s.readyCh) })
}

// appendHistory records an inbound message in the per-chat ring buffer.
// The buffer is capped so long-lived sessions cannot grow without bound.
func (s *Session) appendHistory(msg wa.Message, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(s.history[msg.ChatID], msg)
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	s.history[msg.ChatID] = buf
}

// chatHistory returns a copy of the buffered messages for a chat.
func (s *Session) chatHistory(chatID string) []wa.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.history[chatID]
	out := make([]wa.Message, len(buf))
	copy(out, buf)
	return out
}
