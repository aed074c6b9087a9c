package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/availability"
	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
	"github.com/nerrad567/gray-logic-zigbee/internal/configure"
	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/device"
	"github.com/nerrad567/gray-logic-zigbee/internal/dispatch"
	"github.com/nerrad567/gray-logic-zigbee/internal/pairing"
	"github.com/nerrad567/gray-logic-zigbee/internal/store"
)

// Logger defines the logging interface used by the supervisor.
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

// Adapter is the protocol adapter. *zigbee.Adapter implements it.
type Adapter interface {
	Devices(ctx context.Context) ([]zigbee.Device, error)
	Ping(ctx context.Context, id string) error
	Publish(ctx context.Context, target string, payload map[string]any) error
	Read(ctx context.Context, target string, keys []string) (map[string]any, error)
	Get(ctx context.Context, target string, keys []string) error
	Configure(ctx context.Context, id string, proc *descriptor.ConfigureProcedure) error
	PermitJoin(ctx context.Context, seconds int, target string) error
	SetOnEvent(handler func(zigbee.Event))
}

// Store is the property store. *store.Store implements it.
type Store interface {
	GetValue(deviceID, property string) (any, bool)
	SetValue(ctx context.Context, deviceID, property string, value any, confirmed bool) error
	Values(deviceID string) []store.Value
	Forget(deviceID string)
	PublishAvailability(deviceID, availability string)
	OnUserWrite(handler func(ctx context.Context, w store.UserWrite))
}

// Recorder receives metrics. *metrics.Metrics implements it.
type Recorder interface {
	dispatch.Observer
	AvailabilityChanged(state string)
	ConfigureOutcome(outcome string)
	SetDevices(online, offline, unknown int)
	SetPairing(active bool)
	CoordinatorEvent(kind string)
}

// History records availability transitions. *influxdb.Client implements it.
type History interface {
	WriteAvailability(deviceID string, online bool)
}

// EventSink receives gateway events for the platform.
type EventSink interface {
	Emit(kind string, data any)
}

// Sinks fans an event out to several sinks.
type Sinks []EventSink

// Emit sends the event to every sink.
func (s Sinks) Emit(kind string, data any) {
	for _, sink := range s {
		sink.Emit(kind, data)
	}
}

// Event kinds emitted by the supervisor.
const (
	EventAvailability    = "availability"
	EventDeviceAdded     = "device_added"
	EventDeviceRemoved   = "device_removed"
	EventDeviceRenamed   = "device_renamed"
	EventConfigure       = "configure"
	EventConfigureFailed = "configure_failed"
	EventPairing         = "pairing"
	EventWrite           = "write"
)

// Deps are the supervisor's collaborators. Metrics, History and Events are
// optional.
type Deps struct {
	Adapter  Adapter
	Registry *descriptor.Registry
	Store    Store
	Devices  device.Repository
	Metrics  Recorder
	History  History
	Events   EventSink
}

// Config holds supervisor settings.
type Config struct {
	Availability         availability.Config
	Dispatch             dispatch.Config
	MaxConfigureAttempts int
	// PairingGrace is how long to wait for the coordinator to confirm a
	// join window has closed. Zero uses pairing.DefaultGrace.
	PairingGrace time.Duration
}

// deviceRecord is the runtime record of one device. Fields are guarded by
// Supervisor.mu; the model pointer is immutable and shared.
type deviceRecord struct {
	id            string
	name          string
	model         *descriptor.Model
	powerSource   string
	pingable      bool
	interviewing  bool
	configuredKey string

	ctx    context.Context
	cancel context.CancelFunc
}

// Supervisor is the device supervisor.
type Supervisor struct {
	adapter  Adapter
	registry *descriptor.Registry
	store    Store
	repo     device.Repository
	metrics  Recorder
	history  History
	events   EventSink
	logger   Logger

	availability *availability.Machine
	configurer   *configure.Machine
	pairing      *pairing.Controller
	dispatcher   *dispatch.Dispatcher

	mu      sync.RWMutex
	devices map[string]*deviceRecord // by IEEE address
	names   map[string]string        // friendly name → IEEE address
	stored  map[string]device.Record // persisted records from the last run

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a supervisor and the state machines it drives.
func New(deps Deps, cfg Config) *Supervisor {
	s := &Supervisor{
		adapter:  deps.Adapter,
		registry: deps.Registry,
		store:    deps.Store,
		repo:     deps.Devices,
		metrics:  deps.Metrics,
		history:  deps.History,
		events:   deps.Events,
		logger:   noopLogger{},
		devices:  make(map[string]*deviceRecord),
		names:    make(map[string]string),
		stored:   make(map[string]device.Record),
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.events == nil {
		s.events = Sinks(nil)
	}

	s.availability = availability.New(cfg.Availability, deps.Adapter, s, s)
	s.configurer = configure.New(deps.Adapter, s, cfg.MaxConfigureAttempts)
	s.configurer.SetListener(s)
	s.pairing = pairing.New(deps.Adapter, s)
	if cfg.PairingGrace > 0 {
		s.pairing.SetGrace(cfg.PairingGrace)
	}
	s.dispatcher = dispatch.New(deps.Registry, deps.Adapter, deps.Store, cfg.Dispatch)
	s.dispatcher.SetObserver(s.metrics)
	return s
}

// SetLogger sets the logger for the supervisor and the machines it owns.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
	s.availability.SetLogger(logger)
	s.configurer.SetLogger(logger)
	s.pairing.SetLogger(logger)
	s.dispatcher.SetLogger(logger)
}

// Start loads persisted records, subscribes to adapter events and user
// writes, and registers the devices the adapter already knows. Persisted
// records are pruned on the first full device list, not here.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	records, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading device records: %w", err)
	}
	s.mu.Lock()
	for _, rec := range records {
		s.stored[rec.ID] = rec
	}
	s.mu.Unlock()

	s.adapter.SetOnEvent(s.handleEvent)
	s.store.OnUserWrite(s.handleUserWrite)
	s.availability.Start(s.ctx)

	// A non-empty cached list is a full device list; an empty one means the
	// coordinator has not published yet and nothing is pruned.
	devices, err := s.adapter.Devices(ctx)
	if err != nil {
		return fmt.Errorf("listing coordinator devices: %w", err)
	}
	if len(devices) > 0 {
		s.syncDevices(devices)
	}

	s.logger.Info("device supervisor started", "persisted", len(records), "devices", len(devices))
	return nil
}

// Stop cancels every device scope, stops the timers and waits for
// in-flight configure runs and writes. Safe to call multiple times.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		for _, rec := range s.devices {
			rec.cancel()
		}
		s.mu.Unlock()

		s.adapter.SetOnEvent(nil)
		s.store.OnUserWrite(nil)
		s.pairing.Close()
		s.availability.Stop()
		s.wg.Wait()
		s.logger.Info("device supervisor stopped")
	})
}

// Counts returns the number of tracked and online devices.
func (s *Supervisor) Counts() (tracked, online int) {
	return s.availability.Counts()
}

// lookup resolves an IEEE address or friendly name.
func (s *Supervisor) lookup(idOrName string) (*deviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(idOrName)
}

func (s *Supervisor) lookupLocked(idOrName string) (*deviceRecord, bool) {
	if rec, ok := s.devices[idOrName]; ok {
		return rec, true
	}
	if id, ok := s.names[idOrName]; ok {
		rec, ok := s.devices[id]
		return rec, ok
	}
	return nil, false
}

// goDevice runs fn on its own goroutine within the device's scope, unless
// the supervisor is stopping.
func (s *Supervisor) goDevice(rec *deviceRecord, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil || rec.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(rec.ctx)
	}()
}

// rootContext returns the supervisor's context, or a cancelled one before
// Start.
func (s *Supervisor) rootContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.ctx
}

type noopRecorder struct{}

func (noopRecorder) ObserveWrite(string, time.Duration) {}
func (noopRecorder) AvailabilityChanged(string)         {}
func (noopRecorder) ConfigureOutcome(string)            {}
func (noopRecorder) SetDevices(int, int, int)           {}
func (noopRecorder) SetPairing(bool)                    {}
func (noopRecorder) CoordinatorEvent(string)            {}
