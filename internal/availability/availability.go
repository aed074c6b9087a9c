package availability

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
)

// State is a device's availability.
type State int

// Availability states. A tracked device starts Online.
const (
	Unknown State = iota
	Online
	Offline
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// ResyncProperties are re-read from a device when it comes back online.
var ResyncProperties = []string{
	descriptor.PropState,
	descriptor.PropBrightness,
	descriptor.PropColor,
	descriptor.PropColorTemp,
}

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

// Pinger probes a device.
type Pinger interface {
	Ping(ctx context.Context, id string) error
}

// Notifier receives availability transitions.
type Notifier interface {
	AvailabilityChanged(id string, from, to State)
}

// Resyncer re-reads properties of a device that has come back online.
// Individual failures are the resyncer's to log.
type Resyncer interface {
	Resync(ctx context.Context, id string, properties []string)
}

// Config holds the state machine's timing.
type Config struct {
	// PingInterval is the time between probes of a pingable device.
	PingInterval time.Duration
	// SweepInterval is the time between staleness checks of sleepy devices.
	SweepInterval time.Duration
	// SleepyTimeout is how long a sleepy device may stay silent.
	SleepyTimeout time.Duration
}

// Defaults.
const (
	DefaultPingInterval  = 60 * time.Second
	DefaultSweepInterval = 300 * time.Second
	DefaultSleepyTimeout = 25 * time.Hour
)

type entry struct {
	pingable bool
	state    State
	lastSeen time.Time
	timer    *time.Timer
	gen      uint64 // bumped whenever the timer is replaced
	pinging  bool

	// seq is bumped on every state change under Machine.mu. notifyMu orders
	// notifications; one whose seq is no longer current is dropped.
	seq      uint64
	notifyMu sync.Mutex
}

// Machine is the availability state machine for all devices.
type Machine struct {
	cfg      Config
	pinger   Pinger
	notifier Notifier
	resyncer Resyncer
	logger   Logger
	now      func() time.Time

	mu      sync.Mutex
	devices map[string]*entry

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a state machine. Zero Config fields take the defaults.
func New(cfg Config, pinger Pinger, notifier Notifier, resyncer Resyncer) *Machine {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SleepyTimeout <= 0 {
		cfg.SleepyTimeout = DefaultSleepyTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		cfg:      cfg,
		pinger:   pinger,
		notifier: notifier,
		resyncer: resyncer,
		logger:   noopLogger{},
		now:      time.Now,
		devices:  make(map[string]*entry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetLogger sets the logger for the state machine.
func (m *Machine) SetLogger(logger Logger) {
	m.logger = logger
}

// Start runs the sleepy-device sweep until ctx is cancelled or Stop is called.
func (m *Machine) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.sweepLoop(ctx)
}

// Stop cancels every timer and the sweep. In-flight pings are abandoned.
// Safe to call multiple times.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.cancel()
		for _, e := range m.devices {
			stopTimer(e)
		}
		m.mu.Unlock()

		m.wg.Wait()
	})
}

func (m *Machine) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Track starts tracking a device, or updates its power class if it is
// already tracked. A newly tracked device is Online.
func (m *Machine) Track(id string, pingable bool) {
	m.mu.Lock()

	e, exists := m.devices[id]
	if !exists {
		e = &entry{pingable: pingable, state: Unknown, lastSeen: m.now()}
		m.devices[id] = e
	}
	changed := e.pingable != pingable
	e.pingable = pingable

	var seq uint64
	notify := e.state == Unknown
	if notify {
		seq = setStateLocked(e, Online)
	}

	switch {
	case pingable && (!exists || changed || e.timer == nil):
		m.scheduleLocked(id, e)
	case !pingable:
		stopTimer(e)
	}
	m.mu.Unlock()

	if notify {
		m.emit(id, e, seq, Unknown, Online)
	}
}

// Seen records traffic from a device. An Offline device goes Online and is
// resynced. A pingable device's next probe is pushed back.
func (m *Machine) Seen(id string) {
	m.mu.Lock()
	e, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.lastSeen = m.now()
	if e.pingable && !e.pinging {
		m.scheduleLocked(id, e)
	}
	from := e.state
	back := from != Online
	var seq uint64
	if back {
		seq = setStateLocked(e, Online)
	}
	m.mu.Unlock()

	if back {
		m.emit(id, e, seq, from, Online)
		if from == Offline {
			m.resync(id)
		}
	}
}

// Remove stops tracking a device. Its timer is stopped before Remove returns.
func (m *Machine) Remove(id string) {
	m.mu.Lock()
	if e, ok := m.devices[id]; ok {
		stopTimer(e)
		delete(m.devices, id)
	}
	m.mu.Unlock()
}

// State returns a device's availability.
func (m *Machine) State(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.devices[id]; ok {
		return e.state
	}
	return Unknown
}

// LastSeen returns when traffic was last recorded for a device.
func (m *Machine) LastSeen(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.devices[id]; ok {
		return e.lastSeen, true
	}
	return time.Time{}, false
}

// Counts returns the number of tracked and online devices.
func (m *Machine) Counts() (tracked, online int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.devices {
		if e.state == Online {
			online++
		}
	}
	return len(m.devices), online
}

// scheduleLocked replaces the device's probe timer. Must hold m.mu.
func (m *Machine) scheduleLocked(id string, e *entry) {
	stopTimer(e)
	if m.ctx.Err() != nil {
		return
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(m.cfg.PingInterval, func() { m.probe(id, gen) })
}

func stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// probe pings a device for the timer generation gen. Probes of a replaced
// timer or a removed device are dropped.
func (m *Machine) probe(id string, gen uint64) {
	m.mu.Lock()
	e, ok := m.devices[id]
	if !ok || e.gen != gen || !e.pingable {
		m.mu.Unlock()
		return
	}
	e.timer = nil
	e.pinging = true
	m.mu.Unlock()

	err := m.pinger.Ping(m.ctx, id)

	m.mu.Lock()
	if m.devices[id] != e {
		m.mu.Unlock()
		return
	}
	e.pinging = false
	from := e.state
	to := Online
	if err != nil {
		to = Offline
	} else {
		e.lastSeen = m.now()
	}
	var seq uint64
	if from != to {
		seq = setStateLocked(e, to)
	}
	if e.pingable {
		m.scheduleLocked(id, e)
	}
	m.mu.Unlock()

	switch {
	case err != nil && from == Offline:
		m.logger.Debug("ping failed, device still offline", "device", id, "error", err)
	case err != nil:
		m.logger.Warn("ping failed, device offline", "device", id, "error", err)
	}

	if from != to {
		m.emit(id, e, seq, from, to)
		if from == Offline {
			m.resync(id)
		}
	}
}

// sweep marks sleepy devices Offline once they have been silent for longer
// than the sleepy timeout.
func (m *Machine) sweep() {
	now := m.now()

	type change struct {
		id   string
		e    *entry
		seq  uint64
		from State
	}
	var changes []change

	m.mu.Lock()
	for id, e := range m.devices {
		if e.pingable || e.state == Offline {
			continue
		}
		if now.Sub(e.lastSeen) > m.cfg.SleepyTimeout {
			from := e.state
			changes = append(changes, change{id, e, setStateLocked(e, Offline), from})
		}
	}
	m.mu.Unlock()

	for _, c := range changes {
		m.logger.Info("sleepy device silent too long, offline", "device", c.id, "timeout", m.cfg.SleepyTimeout)
		m.emit(c.id, c.e, c.seq, c.from, Offline)
	}
}

// setStateLocked moves e to state and returns the change's sequence number.
// Must hold m.mu.
func setStateLocked(e *entry, state State) uint64 {
	e.state = state
	e.seq++
	return e.seq
}

// emit delivers the transition numbered seq unless a later transition of the
// same device has already happened; that one is delivered instead.
// Notifications of one device never run concurrently.
func (m *Machine) emit(id string, e *entry, seq uint64, from, to State) {
	if m.notifier == nil {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	m.mu.Lock()
	stale := e.seq != seq
	m.mu.Unlock()
	if stale {
		m.logger.Debug("dropping superseded availability transition", "device", id, "from", from.String(), "to", to.String())
		return
	}
	m.notifier.AvailabilityChanged(id, from, to)
}

func (m *Machine) resync(id string) {
	if m.resyncer == nil {
		return
	}
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.resyncer.Resync(m.ctx, id, ResyncProperties)
	}()
}
