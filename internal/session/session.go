// Package session provides the lifecycle state machine for a single
// transcription session and its idempotent teardown funnel.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State represents the lifecycle state of a transcription session.
type State int

const (
	// StateIdle - session created, nothing opened yet.
	StateIdle State = iota
	// StateConnecting - transports are being opened; audio must not be forwarded.
	StateConnecting
	// StateStreaming - provider confirmed readiness; audio flows.
	StateStreaming
	// StateTerminating - teardown in progress.
	StateTerminating
	// StateClosed - both transports closed and resources released.
	StateClosed
	// StateFailed - terminal error state; same teardown as StateClosed.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateTerminating:
		return "TERMINATING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// Errors for invalid state transitions.
var (
	ErrNotIdle       = errors.New("session already started")
	ErrNotConnecting = errors.New("session is not connecting")
)

// Session manages the state machine for one transcription session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → CONNECTING → STREAMING → TERMINATING → CLOSED
//	          │             │
//	          └─────────────┴── Fail() ──→ TERMINATING → FAILED
//
// Rules:
//   - Audio frames may be forwarded only in STREAMING.
//   - Teardown is entered at most once; repeated stop/close calls are no-ops.
//   - The first fatal error wins; later errors are absorbed.
type Session struct {
	mu      sync.RWMutex
	id      string
	state   State
	closing bool
	err     error

	frames atomic.Uint64
}

// New creates a session in IDLE state.
func New(id string) *Session {
	return &Session{id: id, state: StateIdle}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connect transitions IDLE → CONNECTING.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrNotIdle
	}
	s.state = StateConnecting
	return nil
}

// MarkStreaming transitions CONNECTING → STREAMING. Called when the provider
// signals readiness (begin-of-session confirmation).
func (s *Session) MarkStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return ErrNotConnecting
	}
	s.state = StateStreaming
	return nil
}

// CanForward reports whether audio frames may be forwarded to the provider.
// False before readiness and from the moment teardown begins.
func (s *Session) CanForward() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateStreaming && !s.closing
}

// RecordFrame increments the diagnostic frame counter and returns the new total.
func (s *Session) RecordFrame() uint64 {
	return s.frames.Add(1)
}

// Frames returns the number of audio frames forwarded so far.
func (s *Session) Frames() uint64 {
	return s.frames.Load()
}

// Fail records the first fatal error. Returns true if this call recorded it,
// false if an error was already recorded or the session is already terminal.
// Exactly one caller wins, which is what guarantees a single user-visible
// error signal per session.
func (s *Session) Fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.state.IsTerminal() {
		return false
	}
	s.err = err
	return true
}

// Err returns the recorded fatal error, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// BeginTeardown transitions into TERMINATING and returns true exactly once.
// Any later invocation, including after the session reached a terminal state,
// returns false and must be treated as a safe no-op by the caller.
func (s *Session) BeginTeardown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.state.IsTerminal() {
		return false
	}
	s.closing = true
	s.state = StateTerminating
	return true
}

// FinishTeardown transitions TERMINATING into the terminal state: FAILED when
// a fatal error was recorded, CLOSED otherwise. Idempotent.
func (s *Session) FinishTeardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	if s.err != nil {
		s.state = StateFailed
	} else {
		s.state = StateClosed
	}
}
