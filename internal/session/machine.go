package session

import (
	"sync"

	"go.uber.org/zap"
)

// State represents the current session state
type State string

const (
	// StateIdle means nothing is active
	StateIdle State = "idle"
	// StateActive means recording with link and network both healthy
	StateActive State = "active"
	// StateLinkDisconnectedPaused means the link dropped mid-session,
	// output is frozen pending reconnect or cancel
	StateLinkDisconnectedPaused State = "link_disconnected_paused"
	// StateActiveOffline means the link is healthy but the network is
	// absent, recording continues locally
	StateActiveOffline State = "active_offline"
	// StateCancelConfirm means a discard-or-keep decision is pending
	StateCancelConfirm State = "cancel_confirm"
	// StateResumingCountdown means the link just reconnected and a
	// short grace countdown runs before resuming
	StateResumingCountdown State = "resuming_countdown"
	// StateWaitingForInternet means the session is content-complete
	// but not yet uploadable
	StateWaitingForInternet State = "waiting_for_internet"
)

// transitions is the static table of legal moves. The table is closed:
// every state has an outgoing entry. A move not listed here cannot
// happen through Transition.
var transitions = map[State][]State{
	StateIdle: {
		StateActive,
		StateActiveOffline,
	},
	StateActive: {
		StateLinkDisconnectedPaused,
		StateActiveOffline,
		StateCancelConfirm,
		StateWaitingForInternet,
		StateIdle,
	},
	StateActiveOffline: {
		StateActive,
		StateLinkDisconnectedPaused,
		StateCancelConfirm,
		StateWaitingForInternet,
		StateIdle,
	},
	StateLinkDisconnectedPaused: {
		StateResumingCountdown,
		StateCancelConfirm,
		StateIdle,
	},
	StateResumingCountdown: {
		StateActive,
		StateActiveOffline,
		StateLinkDisconnectedPaused,
		StateCancelConfirm,
		StateIdle,
	},
	StateCancelConfirm: {
		StateIdle,
		StateActive,
		StateActiveOffline,
		StateLinkDisconnectedPaused,
		StateWaitingForInternet,
	},
	StateWaitingForInternet: {
		StateActive,
		StateCancelConfirm,
		StateIdle,
	},
}

// Machine is the single source of truth for the current session state.
// All moves go through Transition; there is no direct assignment.
type Machine struct {
	mu       sync.RWMutex
	current  State
	previous State
	logger   *zap.Logger
}

// NewMachine creates a state machine starting at Idle
func NewMachine(logger *zap.Logger) *Machine {
	return &Machine{
		current:  StateIdle,
		previous: StateIdle,
		logger:   logger,
	}
}

// Transition attempts to move to the given state. An illegal move is a
// logged no-op returning false; the caller should treat that as
// "nothing changed", not as an error.
func (m *Machine) Transition(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := false
	for _, s := range transitions[m.current] {
		if s == to {
			allowed = true
			break
		}
	}

	if !allowed {
		m.logger.Warn("Rejected session state transition",
			zap.String("from", string(m.current)),
			zap.String("to", string(to)),
		)
		return false
	}

	m.logger.Info("Session state transition",
		zap.String("from", string(m.current)),
		zap.String("to", string(to)),
	)

	m.previous = m.current
	m.current = to
	return true
}

// Current returns the current state
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the current state equals s
func (m *Machine) Is(s State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == s
}

// Previous returns the state before the last applied transition.
// Diagnostics only; transition decisions never consult it.
func (m *Machine) Previous() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previous
}

// States lists every state in the table, for diagnostics and tests
func States() []State {
	return []State{
		StateIdle,
		StateActive,
		StateLinkDisconnectedPaused,
		StateActiveOffline,
		StateCancelConfirm,
		StateResumingCountdown,
		StateWaitingForInternet,
	}
}

// AllowedFrom returns the legal destinations from s
func AllowedFrom(s State) []State {
	out := make([]State, len(transitions[s]))
	copy(out, transitions[s])
	return out
}
