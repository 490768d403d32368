// Package statemachine implements the explicit connection lifecycle state
// machine governing one BLE sensor session. Transitions are validated
// against a fixed successor table, every transient state carries a timeout
// that fires an error transition, and repeated error entries force a hard
// reset to Idle so a broken link can never loop forever.
package statemachine

import (
	"fmt"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// State is one lifecycle state of a device session
type State string

const (
	StateIdle             State = "idle"
	StateScanning         State = "scanning"
	StateConnecting       State = "connecting"
	StateInitializing     State = "initializing"
	StateConnected        State = "connected"
	StatePartialConnected State = "partial_connected"
	StateDisconnecting    State = "disconnecting"
	StateError            State = "error"
	StateReconnecting     State = "reconnecting"
)

// successors is the fixed, directional transition table
var successors = map[State][]State{
	StateIdle:             {StateScanning, StateError},
	StateScanning:         {StateConnecting, StateError, StateIdle},
	StateConnecting:       {StateInitializing, StateError, StateIdle, StateReconnecting},
	StateInitializing:     {StateConnected, StatePartialConnected, StateError, StateDisconnecting},
	StateConnected:        {StateDisconnecting, StateError, StateReconnecting},
	StatePartialConnected: {StateDisconnecting, StateError, StateReconnecting},
	StateDisconnecting:    {StateIdle, StateError, StateReconnecting},
	StateError:            {StateIdle, StateReconnecting, StateScanning},
	StateReconnecting:     {StateConnecting, StateError, StateIdle},
}

// CanTransition reports whether from->to is in the successor table.
// The Error self-loop is special-cased: it is not table-invalid.
func CanTransition(from, to State) bool {
	if from == StateError && to == StateError {
		return true
	}
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// States returns every known state (for exhaustive table tests)
func States() []State {
	return []State{
		StateIdle, StateScanning, StateConnecting, StateInitializing,
		StateConnected, StatePartialConnected, StateDisconnecting,
		StateError, StateReconnecting,
	}
}

// InvalidTransitionError reports a transition request outside the table
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// StateTimeoutError reports that a transient state outlived its budget
type StateTimeoutError struct {
	State   State
	Timeout time.Duration
}

func (e *StateTimeoutError) Error() string {
	return fmt.Sprintf("state %s timed out after %s", e.State, e.Timeout)
}

// Timeouts holds the per-state budgets. States absent here (Idle, Connected,
// PartialConnected, Error) have no timeout.
type Timeouts struct {
	Scanning      time.Duration `default:"30s"`
	Connecting    time.Duration `default:"10s"`
	Initializing  time.Duration `default:"15s"`
	Disconnecting time.Duration `default:"5s"`
	Reconnecting  time.Duration `default:"10s"`
}

func (t Timeouts) forState(s State) time.Duration {
	switch s {
	case StateScanning:
		return t.Scanning
	case StateConnecting:
		return t.Connecting
	case StateInitializing:
		return t.Initializing
	case StateDisconnecting:
		return t.Disconnecting
	case StateReconnecting:
		return t.Reconnecting
	default:
		return 0
	}
}

// Record is one entry of the bounded transition history
type Record struct {
	From    State
	To      State
	At      time.Time
	Context string
}

// Options configures a Machine
type Options struct {
	Timeouts  Timeouts
	MaxErrors int `default:"3"`
	// HistorySize bounds the diagnostic transition history
	HistorySize int `default:"50"`

	// OnTransition fires after every accepted transition (including hard
	// resets). Invoked outside the machine lock.
	OnTransition func(from, to State, context string)
	// OnError fires for rejected transitions, timeouts and error entries.
	// Invoked outside the machine lock.
	OnError func(err error)
}

// Machine is one session's connection state machine. Safe for concurrent
// use; state timeouts fire from timer goroutines.
type Machine struct {
	mu sync.Mutex

	state      State
	errorCount int
	history    []Record
	generation uint64 // invalidates a pending timeout when the state moves on
	timer      *time.Timer

	opts   Options
	logger *logrus.Logger
}

// New creates a machine in StateIdle
func New(logger *logrus.Logger, opts Options) *Machine {
	defaults.SetDefaults(&opts.Timeouts)
	if opts.MaxErrors == 0 {
		opts.MaxErrors = 3
	}
	if opts.HistorySize == 0 {
		opts.HistorySize = 50
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Machine{
		state:  StateIdle,
		opts:   opts,
		logger: logger,
	}
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the session is in a usable connected state
func (m *Machine) IsConnected() bool {
	s := m.State()
	return s == StateConnected || s == StatePartialConnected
}

// IsConnecting reports whether a connection attempt is already in flight.
// Used to short-circuit duplicate concurrent connects to the same device.
func (m *Machine) IsConnecting() bool {
	switch m.State() {
	case StateScanning, StateConnecting, StateInitializing, StateReconnecting:
		return true
	default:
		return false
	}
}

// ErrorCount returns the consecutive error-entry counter
func (m *Machine) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorCount
}

// History returns a copy of the bounded transition history, oldest first
func (m *Machine) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.history))
	copy(out, m.history)
	return out
}

// Transition requests a move to next. Returns false (and fires OnError)
// when next is not an allowed successor of the current state; the current
// state is left untouched in that case.
func (m *Machine) Transition(next State, context string) bool {
	m.mu.Lock()

	if !CanTransition(m.state, next) {
		err := &InvalidTransitionError{From: m.state, To: next}
		onError := m.opts.OnError
		m.mu.Unlock()

		m.logger.WithFields(logrus.Fields{
			"from":    err.From,
			"to":      err.To,
			"context": context,
		}).Warn("Rejected invalid state transition")
		if onError != nil {
			onError(err)
		}
		return false
	}

	var notify func()
	if next == StateError {
		notify = m.enterErrorLocked(fmt.Errorf("transition to error state: %s", context), context)
	} else {
		notify = m.moveLocked(next, context)
	}
	m.mu.Unlock()
	notify()
	return true
}

// TransitionToError records an error entry. Once the consecutive error
// counter has reached MaxErrors, the next call hard-resets the machine to
// Idle instead of entering Error again, so retry loops terminate.
func (m *Machine) TransitionToError(err error, context string) {
	m.mu.Lock()
	notify := m.enterErrorLocked(err, context)
	m.mu.Unlock()
	notify()
}

// moveLocked performs an accepted, validated transition. Returns the
// callback dispatch to run outside the lock.
func (m *Machine) moveLocked(next State, context string) func() {
	from := m.state
	m.state = next
	m.generation++
	m.recordLocked(from, next, context)
	m.stopTimerLocked()

	if next == StateConnected {
		m.errorCount = 0
	}
	m.armTimeoutLocked(next)

	m.logger.WithFields(logrus.Fields{
		"from":    from,
		"to":      next,
		"context": context,
	}).Debug("Connection state transition")

	onTransition := m.opts.OnTransition
	return func() {
		if onTransition != nil {
			onTransition(from, next, context)
		}
	}
}

// enterErrorLocked increments the error counter or, at the threshold,
// hard-resets to Idle. Returns the callback dispatch to run outside the lock.
func (m *Machine) enterErrorLocked(err error, context string) func() {
	onError := m.opts.OnError

	if m.errorCount >= m.opts.MaxErrors {
		m.logger.WithFields(logrus.Fields{
			"errors": m.errorCount,
			"error":  err,
		}).Error("Error threshold reached, hard reset to idle")

		from := m.state
		m.state = StateIdle
		m.errorCount = 0
		m.generation++
		m.recordLocked(from, StateIdle, "hard reset: "+context)
		m.stopTimerLocked()

		onTransition := m.opts.OnTransition
		return func() {
			if onError != nil {
				onError(err)
			}
			if onTransition != nil {
				onTransition(from, StateIdle, "hard reset: "+context)
			}
		}
	}

	m.errorCount++
	notify := m.moveLocked(StateError, context)
	return func() {
		if onError != nil {
			onError(err)
		}
		notify()
	}
}

func (m *Machine) recordLocked(from, to State, context string) {
	m.history = append(m.history, Record{From: from, To: to, At: time.Now(), Context: context})
	if len(m.history) > m.opts.HistorySize {
		m.history = m.history[len(m.history)-m.opts.HistorySize:]
	}
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) armTimeoutLocked(s State) {
	d := m.opts.Timeouts.forState(s)
	if d <= 0 {
		return
	}
	gen := m.generation
	m.timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		if m.generation != gen || m.state != s {
			m.mu.Unlock()
			return
		}
		notify := m.enterErrorLocked(&StateTimeoutError{State: s, Timeout: d}, "state timeout")
		m.mu.Unlock()
		notify()
	})
}
