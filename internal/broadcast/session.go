package broadcast

import "sync"

// State is the per-operator broadcast session state.
type State int

const (
	StateIdle State = iota
	StateAwaitingContent
	StateRunning
	StateCancelRequested
)

func (s State) String() string {
	switch s {
	case StateAwaitingContent:
		return "awaiting_content"
	case StateRunning:
		return "running"
	case StateCancelRequested:
		return "cancel_requested"
	default:
		return "idle"
	}
}

// Session tracks one operator's broadcast lifecycle. The running engine
// polls Cancelled() between recipients; cancellation never interrupts an
// in-flight delivery call.
type Session struct {
	mu    sync.Mutex
	state State
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancelled reports whether a cancel was requested for the running session.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateCancelRequested
}

// CancelAction is the result of a cancel request against a session table.
type CancelAction int

const (
	// CancelNone: no session to cancel.
	CancelNone CancelAction = iota
	// CancelledCapture: content capture aborted before any recipient was
	// contacted; the session is gone.
	CancelledCapture
	// CancelRequested: a running broadcast was asked to stop; the engine
	// halts before the next delivery.
	CancelRequested
)

// Sessions is the session table keyed by operator identity. Sessions are
// created on broadcast initiation and destroyed when the run finishes or
// capture is cancelled.
type Sessions struct {
	mu         sync.Mutex
	byOperator map[int64]*Session
}

func NewSessions() *Sessions {
	return &Sessions{byOperator: map[int64]*Session{}}
}

// BeginCapture moves the operator from Idle to AwaitingContent. It reports
// false if the operator already has an active session.
func (t *Sessions) BeginCapture(operatorID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byOperator[operatorID]; ok {
		return false
	}
	t.byOperator[operatorID] = &Session{state: StateAwaitingContent}
	return true
}

// Capture transitions AwaitingContent to Running and returns the session,
// which the engine uses as its cancellation signal. It reports false when
// the operator is not awaiting content; non-content updates leave the
// state untouched.
func (t *Sessions) Capture(operatorID int64) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byOperator[operatorID]
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingContent {
		return nil, false
	}
	s.state = StateRunning
	return s, true
}

// Cancel aborts capture (destroying the session) or requests that a
// running broadcast stop.
func (t *Sessions) Cancel(operatorID int64) CancelAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byOperator[operatorID]
	if !ok {
		return CancelNone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAwaitingContent:
		delete(t.byOperator, operatorID)
		return CancelledCapture
	case StateRunning:
		s.state = StateCancelRequested
		return CancelRequested
	case StateCancelRequested:
		// Cancel already pending; treat repeats as the same request.
		return CancelRequested
	default:
		return CancelNone
	}
}

// Finish destroys the operator's session after a run completes or halts.
func (t *Sessions) Finish(operatorID int64) {
	t.mu.Lock()
	delete(t.byOperator, operatorID)
	t.mu.Unlock()
}

// State returns the operator's current session state, StateIdle if none.
func (t *Sessions) State(operatorID int64) State {
	t.mu.Lock()
	s, ok := t.byOperator[operatorID]
	t.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return s.State()
}
