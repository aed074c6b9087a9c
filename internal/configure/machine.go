package configure

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
)

// DefaultMaxAttempts bounds configure attempts per device and session.
const DefaultMaxAttempts = 3

// State is a device's configuration state.
type State int

// Configuration states.
const (
	NotConfigured State = iota
	Configuring
	Configured
)

func (s State) String() string {
	switch s {
	case Configuring:
		return "configuring"
	case Configured:
		return "configured"
	default:
		return "not_configured"
	}
}

// Outcome is the result of one Ensure call.
type Outcome string

// Ensure outcomes.
const (
	OutcomeConfigured        Outcome = "configured"
	OutcomeAlreadyConfigured Outcome = "already_configured"
	OutcomeInterviewing      Outcome = "skipped_interviewing"
	OutcomeNoProcedure       Outcome = "skipped_no_procedure"
	OutcomeInProgress        Outcome = "skipped_in_progress"
	OutcomeFailed            Outcome = "failed"
	OutcomeExhausted         Outcome = "exhausted"
)

// Logger defines the logging interface used by the state machine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Configurator runs a configure procedure on a device.
type Configurator interface {
	Configure(ctx context.Context, id string, proc *descriptor.ConfigureProcedure) error
}

// MarkerStore persists the key of the last successful procedure.
type MarkerStore interface {
	SetConfiguredKey(ctx context.Context, id, key string) error
}

// Listener is told about state changes. Exhausted is called once, when the
// last allowed attempt fails.
type Listener interface {
	ConfigureStateChanged(id string, state State, attempts int)
	ConfigureExhausted(id string, attempts int, err error)
}

// Request describes the device to configure.
type Request struct {
	ID           string
	Interviewing bool
	Procedure    *descriptor.ConfigureProcedure
	// StoredKey is the persisted key of the last successful procedure.
	StoredKey string
}

type deviceState struct {
	state      State
	attempts   int
	inProgress bool
	key        string
}

// Machine is the configuration state machine for all devices.
type Machine struct {
	configurator Configurator
	markers      MarkerStore
	listener     Listener
	maxAttempts  int
	logger       Logger

	mu      sync.Mutex
	devices map[string]*deviceState
}

// New creates a state machine. maxAttempts <= 0 uses DefaultMaxAttempts.
func New(configurator Configurator, markers MarkerStore, maxAttempts int) *Machine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Machine{
		configurator: configurator,
		markers:      markers,
		maxAttempts:  maxAttempts,
		logger:       noopLogger{},
		devices:      make(map[string]*deviceState),
	}
}

// SetLogger sets the logger for the state machine.
func (m *Machine) SetLogger(logger Logger) {
	m.logger = logger
}

// SetListener sets the receiver of state changes.
func (m *Machine) SetListener(l Listener) {
	m.listener = l
}

// Ensure configures the device unless a guard applies. It blocks for the
// duration of the attempt.
func (m *Machine) Ensure(ctx context.Context, req Request) (Outcome, error) {
	m.mu.Lock()
	ds := m.deviceLocked(req.ID)

	switch {
	case ds.inProgress:
		m.mu.Unlock()
		return OutcomeInProgress, nil
	case req.Interviewing:
		m.mu.Unlock()
		return OutcomeInterviewing, nil
	case req.Procedure == nil || req.Procedure.Key == "":
		m.mu.Unlock()
		return OutcomeNoProcedure, nil
	case req.StoredKey == req.Procedure.Key || (ds.state == Configured && ds.key == req.Procedure.Key):
		ds.state = Configured
		ds.key = req.Procedure.Key
		m.mu.Unlock()
		return OutcomeAlreadyConfigured, nil
	case ds.attempts >= m.maxAttempts:
		attempts := ds.attempts
		m.mu.Unlock()
		m.logger.Debug("configure skipped, attempts exhausted", "device", req.ID, "attempts", attempts)
		return OutcomeExhausted, fmt.Errorf("%w: %s after %d attempts", ErrAttemptsExhausted, req.ID, attempts)
	}

	ds.inProgress = true
	ds.state = Configuring
	ds.attempts++
	attempt := ds.attempts
	m.mu.Unlock()

	m.notify(req.ID, Configuring, attempt)
	m.logger.Info("configuring device", "device", req.ID, "key", req.Procedure.Key, "attempt", attempt, "max", m.maxAttempts)

	err := m.configurator.Configure(ctx, req.ID, req.Procedure)
	if err == nil && m.markers != nil {
		if merr := m.markers.SetConfiguredKey(ctx, req.ID, req.Procedure.Key); merr != nil {
			err = fmt.Errorf("persisting configure key: %w", merr)
		}
	}

	m.mu.Lock()
	current, tracked := m.devices[req.ID]
	if !tracked || current != ds {
		// Removed while configuring.
		m.mu.Unlock()
		if err != nil {
			return OutcomeFailed, fmt.Errorf("%w: %s: %w", ErrConfigureFailure, req.ID, err)
		}
		return OutcomeConfigured, nil
	}
	ds.inProgress = false
	if err == nil {
		ds.state = Configured
		ds.key = req.Procedure.Key
		ds.attempts = 0
	} else {
		ds.state = NotConfigured
	}
	exhausted := err != nil && ds.attempts >= m.maxAttempts
	m.mu.Unlock()

	if err == nil {
		m.logger.Info("device configured", "device", req.ID, "key", req.Procedure.Key, "attempt", attempt)
		m.notify(req.ID, Configured, attempt)
		return OutcomeConfigured, nil
	}

	m.notify(req.ID, NotConfigured, attempt)
	if exhausted {
		m.logger.Warn("device configuration failed permanently for this session",
			"device", req.ID,
			"attempts", attempt,
			"error", err,
		)
		if m.listener != nil {
			m.listener.ConfigureExhausted(req.ID, attempt, err)
		}
	} else {
		m.logger.Warn("configure attempt failed", "device", req.ID, "attempt", attempt, "max", m.maxAttempts, "error", err)
	}
	return OutcomeFailed, fmt.Errorf("%w: %s attempt %d: %w", ErrConfigureFailure, req.ID, attempt, err)
}

// Reconfigure resets the device's attempts and configures it regardless of
// its stored key.
func (m *Machine) Reconfigure(ctx context.Context, req Request) (Outcome, error) {
	m.mu.Lock()
	ds := m.deviceLocked(req.ID)
	if !ds.inProgress {
		ds.attempts = 0
		ds.state = NotConfigured
		ds.key = ""
	}
	m.mu.Unlock()

	req.StoredKey = ""
	return m.Ensure(ctx, req)
}

// Remove forgets the device, clearing its in-progress flag and attempts.
func (m *Machine) Remove(id string) {
	m.mu.Lock()
	delete(m.devices, id)
	m.mu.Unlock()
}

// State returns the device's configuration state and attempts used.
func (m *Machine) State(id string) (State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.devices[id]; ok {
		return ds.state, ds.attempts
	}
	return NotConfigured, 0
}

// InProgress reports whether an attempt is running for the device.
func (m *Machine) InProgress(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.devices[id]
	return ok && ds.inProgress
}

func (m *Machine) deviceLocked(id string) *deviceState {
	ds, ok := m.devices[id]
	if !ok {
		ds = &deviceState{}
		m.devices[id] = ds
	}
	return ds
}

func (m *Machine) notify(id string, s State, attempts int) {
	if m.listener != nil {
		m.listener.ConfigureStateChanged(id, s, attempts)
	}
}
