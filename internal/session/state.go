// Package session sequences the recording lifecycle and orchestrates the
// audio fusion pipeline around it.
package session

import (
	"fmt"
	"log/slog"
	"sync"
)

// State is one phase of the recording lifecycle.
type State string

const (
	StateIdle                 State = "idle"
	StateMonitoring           State = "monitoring"
	StateConversationDetected State = "conversation_detected"
	StateRecording            State = "recording"
	StateProcessing           State = "processing"
	StateError                State = "error"
)

// Transition describes one state change delivered to observers.
type Transition struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Observer receives state transitions. Called outside the machine's
// lock; implementations may call back into the machine.
type Observer func(Transition)

// Machine is the session lifecycle state machine. Illegal transitions
// are no-ops so racing triggers (auto-detection vs. manual control)
// cannot corrupt the lifecycle. A fatal failure moves any state to
// StateError, recoverable only by Restart.
type Machine struct {
	mu        sync.RWMutex
	state     State
	errReason string

	observers []Observer
	logger    *slog.Logger
}

// NewMachine creates a machine in StateIdle.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		state:  StateIdle,
		logger: logger,
	}
}

// Subscribe registers an observer for future transitions.
func (m *Machine) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ErrorReason returns the failure reason when the machine is in
// StateError, otherwise the empty string.
func (m *Machine) ErrorReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errReason
}

// StartMonitoring moves Idle to Monitoring.
func (m *Machine) StartMonitoring() bool {
	return m.transition(StateMonitoring, "", StateIdle)
}

// ConversationDetected moves Monitoring to ConversationDetected. Fed by
// the external conversation-detection signal.
func (m *Machine) ConversationDetected() bool {
	return m.transition(StateConversationDetected, "", StateMonitoring)
}

// StartRecording begins a recording session, automatically after
// detection or manually from monitoring. Starting while already
// recording is a no-op; only one session may be active.
func (m *Machine) StartRecording() bool {
	return m.transition(StateRecording, "", StateConversationDetected, StateMonitoring)
}

// StopRecording ends the active session and enters Processing while
// the final merge and identity passes run. Stopping when no session is
// active is a no-op.
func (m *Machine) StopRecording(reason string) bool {
	return m.transition(StateProcessing, reason, StateRecording)
}

// FinishProcessing completes the post-session work and returns to
// Monitoring, or to Idle when monitoring has been turned off.
func (m *Machine) FinishProcessing(keepMonitoring bool) bool {
	next := StateIdle
	if keepMonitoring {
		next = StateMonitoring
	}
	return m.transition(next, "", StateProcessing)
}

// Fail records a fatal capture or permission failure. Legal from every
// state except StateError itself.
func (m *Machine) Fail(reason string) bool {
	return m.transition(StateError, reason,
		StateIdle, StateMonitoring, StateConversationDetected, StateRecording, StateProcessing)
}

// Restart recovers from StateError back to Idle.
func (m *Machine) Restart() bool {
	return m.transition(StateIdle, "", StateError)
}

// transition performs the state change when the current state is one of
// from, returning false otherwise. Observers run after the lock is
// released, in registration order.
func (m *Machine) transition(to State, reason string, from ...State) bool {
	m.mu.Lock()

	legal := false
	for _, f := range from {
		if m.state == f {
			legal = true
			break
		}
	}
	if !legal {
		current := m.state
		m.mu.Unlock()
		m.logger.Debug("Ignored illegal state transition",
			slog.String("from", string(current)),
			slog.String("to", string(to)))
		return false
	}

	t := Transition{From: m.state, To: to, Reason: reason}
	m.state = to
	if to == StateError {
		m.errReason = reason
	} else {
		m.errReason = ""
	}
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	m.logger.Info("Session state changed",
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
		slog.String("reason", t.Reason))

	for _, obs := range observers {
		obs(t)
	}
	return true
}

// String implements fmt.Stringer for log output.
func (t Transition) String() string {
	if t.Reason == "" {
		return fmt.Sprintf("%s -> %s", t.From, t.To)
	}
	return fmt.Sprintf("%s -> %s (%s)", t.From, t.To, t.Reason)
}
