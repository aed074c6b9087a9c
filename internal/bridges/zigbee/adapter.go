package zigbee

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/mqtt"
)

// Adapter defaults.
const (
	DefaultBaseTopic      = "zigbee2mqtt"
	DefaultRequestTimeout = 10 * time.Second
)

// Coordinator request names.
const (
	requestPermitJoin         = "permit_join"
	requestDevicePing         = "device/ping"
	requestDeviceConfigure    = "device/configure"
	requestConfigureReporting = "device/configure_reporting"
	requestDevices            = "devices"
)

// Logger defines the logging interface used by the adapter.
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

// MQTTClient is the subset of the MQTT client the adapter uses.
// *mqtt.Client implements it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Options configures an Adapter.
type Options struct {
	MQTT           MQTTClient
	BaseTopic      string
	RequestTimeout time.Duration
	QoS            byte
}

// Stats are the adapter's traffic counters.
type Stats struct {
	MessagesReceived uint64 `json:"messages_received"`
	CommandsSent     uint64 `json:"commands_sent"`
	RequestsFailed   uint64 `json:"requests_failed"`
}

// Adapter talks to the coordinator over MQTT.
type Adapter struct {
	mqtt    MQTTClient
	topics  mqtt.CoordinatorTopics
	timeout time.Duration
	qos     byte
	now     func() time.Time

	mu         sync.RWMutex
	devices    map[string]Device // by IEEE address
	names      map[string]string // friendly name → IEEE address
	permitJoin bool
	version    string

	pendingMu sync.Mutex
	pending   map[string]chan bridgeResponse   // by transaction id
	readers   map[string][]chan map[string]any // by friendly name

	handlerMu sync.RWMutex
	onEvent   func(Event)

	received atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64

	logger Logger
}

// NewAdapter creates an adapter. Call Start to subscribe.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("zigbee: MQTT client is required")
	}
	base := strings.TrimSuffix(opts.BaseTopic, "/")
	if base == "" {
		base = DefaultBaseTopic
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Adapter{
		mqtt:    opts.MQTT,
		topics:  mqtt.CoordinatorTopics{Base: base},
		timeout: timeout,
		qos:     opts.QoS,
		now:     time.Now,
		devices: make(map[string]Device),
		names:   make(map[string]string),
		pending: make(map[string]chan bridgeResponse),
		readers: make(map[string][]chan map[string]any),
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for the adapter.
func (a *Adapter) SetLogger(logger Logger) {
	a.logger = logger
}

// SetOnEvent sets the handler for coordinator events.
func (a *Adapter) SetOnEvent(handler func(Event)) {
	a.handlerMu.Lock()
	a.onEvent = handler
	a.handlerMu.Unlock()
}

// Start subscribes to the coordinator's topics. The retained device list
// and bridge info arrive immediately after.
func (a *Adapter) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.mqtt.Subscribe(a.topics.AllDevices(), a.qos, a.handleMessage); err != nil {
		return fmt.Errorf("subscribing to coordinator topics: %w", err)
	}
	a.logger.Info("zigbee adapter started", "base_topic", a.topics.Base)
	return nil
}

// Stop unsubscribes and fails every pending request.
func (a *Adapter) Stop() {
	if a.mqtt.IsConnected() {
		if err := a.mqtt.Unsubscribe(a.topics.AllDevices()); err != nil {
			a.logger.Warn("unsubscribe failed", "error", err)
		}
	}

	a.pendingMu.Lock()
	for tx, ch := range a.pending {
		close(ch)
		delete(a.pending, tx)
	}
	for name, chans := range a.readers {
		for _, ch := range chans {
			close(ch)
		}
		delete(a.readers, name)
	}
	a.pendingMu.Unlock()
}

// IsConnected reports whether the MQTT connection is up.
func (a *Adapter) IsConnected() bool {
	return a.mqtt.IsConnected()
}

// Stats returns the adapter's traffic counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		MessagesReceived: a.received.Load(),
		CommandsSent:     a.sent.Load(),
		RequestsFailed:   a.failed.Load(),
	}
}

// PermitJoinOpen reports the join window state last reported by the coordinator.
func (a *Adapter) PermitJoinOpen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.permitJoin
}

// =============================================================================
// Device list
// =============================================================================

// Devices returns the devices the coordinator has listed, coordinator excluded.
func (a *Adapter) Devices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d)
	}
	return out, nil
}

// Device returns a device by IEEE address or friendly name.
func (a *Adapter) Device(id string) (Device, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if d, ok := a.devices[id]; ok {
		return d, true
	}
	if ieee, ok := a.names[id]; ok {
		d, ok := a.devices[ieee]
		return d, ok
	}
	return Device{}, false
}

// RefreshDevices asks the coordinator to republish its device list.
func (a *Adapter) RefreshDevices(ctx context.Context) error {
	_, err := a.request(ctx, requestDevices, map[string]any{})
	return err
}

// friendlyName resolves an IEEE address to the name the coordinator
// addresses the device by. Unknown ids are returned unchanged so groups and
// names can be used directly.
func (a *Adapter) friendlyName(id string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if d, ok := a.devices[id]; ok && d.FriendlyName != "" {
		return d.FriendlyName
	}
	return id
}

func (a *Adapter) setDevices(list []Device) []Device {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.devices = make(map[string]Device, len(list))
	a.names = make(map[string]string, len(list))
	kept := make([]Device, 0, len(list))
	for _, d := range list {
		if d.Type == TypeCoordinator || d.IEEE == "" {
			continue
		}
		a.devices[d.IEEE] = d
		if d.FriendlyName != "" {
			a.names[d.FriendlyName] = d.IEEE
		}
		kept = append(kept, d)
	}
	return kept
}

// upsertDevice merges event data into the device list.
func (a *Adapter) upsertDevice(data bridgeEventData, mutate func(*Device)) Device {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.devices[data.IEEE]
	if !ok {
		d = Device{IEEE: data.IEEE, Type: TypeEndDevice, Supported: true}
	}
	if data.FriendlyName != "" {
		if d.FriendlyName != "" && d.FriendlyName != data.FriendlyName {
			delete(a.names, d.FriendlyName)
		}
		d.FriendlyName = data.FriendlyName
		a.names[d.FriendlyName] = d.IEEE
	}
	if data.Definition != nil {
		d.Definition = data.Definition
	}
	if data.Supported != nil {
		d.Supported = *data.Supported
	}
	if mutate != nil {
		mutate(&d)
	}
	a.devices[d.IEEE] = d
	return d
}

// =============================================================================
// Commands
// =============================================================================

// Publish writes payload to a device (by IEEE address or name) or group.
func (a *Adapter) Publish(ctx context.Context, target string, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.mqtt.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := a.mqtt.Publish(a.topics.DeviceSet(a.friendlyName(target)), data, a.qos, false); err != nil {
		a.failed.Add(1)
		return fmt.Errorf("publishing to %s: %w", target, err)
	}
	a.sent.Add(1)
	return nil
}

// Get asks a device to report keys without waiting for the answer.
func (a *Adapter) Get(ctx context.Context, target string, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.mqtt.IsConnected() {
		return ErrNotConnected
	}
	return a.publishGet(a.friendlyName(target), keys)
}

func (a *Adapter) publishGet(name string, keys []string) error {
	req := make(map[string]any, len(keys))
	for _, k := range keys {
		req[k] = ""
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := a.mqtt.Publish(a.topics.DeviceGet(name), data, a.qos, false); err != nil {
		a.failed.Add(1)
		return fmt.Errorf("reading from %s: %w", name, err)
	}
	a.sent.Add(1)
	return nil
}

// Read asks a device to report keys and waits for the next state message
// that carries any of them.
//
// Parameters:
//   - ctx: Bounds the wait for the device's state message
//   - target: IEEE address or friendly name
//   - keys: Wire keys to request
//
// Returns:
//   - map[string]any: The device's next state payload
//   - error: ErrNotConnected, ErrTimeout or the context's error
func (a *Adapter) Read(ctx context.Context, target string, keys []string) (map[string]any, error) {
	if !a.mqtt.IsConnected() {
		return nil, ErrNotConnected
	}
	name := a.friendlyName(target)

	ch := make(chan map[string]any, 1)
	a.pendingMu.Lock()
	a.readers[name] = append(a.readers[name], ch)
	a.pendingMu.Unlock()
	defer a.dropReader(name, ch)

	if err := a.publishGet(name, keys); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: reading %v from %s", ErrTimeout, keys, name)
		case payload, ok := <-ch:
			if !ok {
				return nil, ErrNotConnected
			}
			for _, k := range keys {
				if _, has := payload[k]; has {
					return payload, nil
				}
			}
			// A report without the requested keys; wait for the next one.
			a.pendingMu.Lock()
			a.readers[name] = append(a.readers[name], ch)
			a.pendingMu.Unlock()
		}
	}
}

func (a *Adapter) dropReader(name string, ch chan map[string]any) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	chans := a.readers[name]
	for i, c := range chans {
		if c == ch {
			a.readers[name] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(a.readers[name]) == 0 {
		delete(a.readers, name)
	}
}

// Ping probes a device. The coordinator applies its own timeout; the
// adapter's request timeout bounds the wait.
func (a *Adapter) Ping(ctx context.Context, id string) error {
	_, err := a.request(ctx, requestDevicePing, map[string]any{"id": a.friendlyName(id)})
	return err
}

// Configure runs a configure procedure: the coordinator's own configure
// (bindings) when the procedure asks for it, then each reporting step.
func (a *Adapter) Configure(ctx context.Context, id string, proc *descriptor.ConfigureProcedure) error {
	name := a.friendlyName(id)
	if proc == nil {
		return nil
	}
	if proc.Bind || len(proc.Reporting) == 0 {
		if _, err := a.request(ctx, requestDeviceConfigure, map[string]any{"id": name}); err != nil {
			return fmt.Errorf("configuring %s: %w", name, err)
		}
	}
	for _, step := range proc.Reporting {
		req := ReportingRequest{
			ID:                    name,
			Endpoint:              step.Endpoint,
			Cluster:               step.Cluster,
			Attribute:             step.Attribute,
			MinimumReportInterval: step.MinInterval,
			MaximumReportInterval: step.MaxInterval,
			ReportableChange:      step.ReportableChange,
		}
		if _, err := a.request(ctx, requestConfigureReporting, req); err != nil {
			return fmt.Errorf("configuring reporting %s/%s on %s: %w", step.Cluster, step.Attribute, name, err)
		}
	}
	return nil
}

// PermitJoin opens the join window for seconds; 0 closes it. target limits
// joining to one router; empty means the whole network.
func (a *Adapter) PermitJoin(ctx context.Context, seconds int, target string) error {
	req := map[string]any{"time": seconds}
	if target != "" {
		req["device"] = a.friendlyName(target)
	}
	_, err := a.request(ctx, requestPermitJoin, req)
	return err
}

// request sends a bridge request and waits for the response carrying the
// same transaction id.
func (a *Adapter) request(ctx context.Context, name string, body any) (json.RawMessage, error) {
	if !a.mqtt.IsConnected() {
		return nil, ErrNotConnected
	}

	fields, err := toFields(body)
	if err != nil {
		return nil, err
	}
	tx := uuid.NewString()
	fields["transaction"] = tx
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	ch := make(chan bridgeResponse, 1)
	a.pendingMu.Lock()
	a.pending[tx] = ch
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, tx)
		a.pendingMu.Unlock()
	}()

	if err := a.mqtt.Publish(a.topics.BridgeRequest(name), data, a.qos, false); err != nil {
		a.failed.Add(1)
		return nil, fmt.Errorf("sending %s request: %w", name, err)
	}
	a.sent.Add(1)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		a.failed.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, name)
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if !strings.EqualFold(resp.Status, "ok") {
			a.failed.Add(1)
			return nil, fmt.Errorf("%w: %s: %s", ErrRequestFailed, name, resp.Error)
		}
		return resp.Data, nil
	}
}

func toFields(body any) (map[string]any, error) {
	if m, ok := body.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return m, nil
}

// =============================================================================
// Inbound messages
// =============================================================================

func (a *Adapter) handleMessage(topic string, payload []byte) error {
	a.received.Add(1)

	switch {
	case topic == a.topics.BridgeDevices():
		return a.handleDevices(payload)
	case topic == a.topics.BridgeInfo():
		return a.handleInfo(payload)
	case topic == a.topics.BridgeEvent():
		return a.handleEvent(payload)
	case strings.HasPrefix(topic, a.topics.BridgeResponse("")):
		return a.handleResponse(payload)
	}

	name, ok := a.topics.DeviceName(topic)
	if !ok {
		return nil
	}
	return a.handleState(name, payload)
}

func (a *Adapter) handleDevices(payload []byte) error {
	var list []Device
	if err := json.Unmarshal(payload, &list); err != nil {
		return fmt.Errorf("%w: bridge/devices: %w", ErrInvalidPayload, err)
	}
	kept := a.setDevices(list)
	a.logger.Info("coordinator device list received", "devices", len(kept))
	a.emit(Event{Kind: EventDevices, Devices: kept})
	return nil
}

func (a *Adapter) handleInfo(payload []byte) error {
	var info bridgeInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return fmt.Errorf("%w: bridge/info: %w", ErrInvalidPayload, err)
	}

	a.mu.Lock()
	changed := a.permitJoin != info.PermitJoin
	a.permitJoin = info.PermitJoin
	a.version = info.Version
	a.mu.Unlock()

	if changed || info.PermitJoin {
		a.emit(Event{Kind: EventPermitJoinChanged, PermitJoin: info.PermitJoin, Remaining: info.remaining(a.now())})
	}
	return nil
}

func (a *Adapter) handleEvent(payload []byte) error {
	var evt bridgeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: bridge/event: %w", ErrInvalidPayload, err)
	}
	data := evt.Data

	switch EventKind(evt.Type) {
	case EventDeviceJoined, EventDeviceAnnounce:
		if data.IEEE == "" {
			return nil
		}
		d := a.upsertDevice(data, nil)
		a.emit(Event{Kind: EventKind(evt.Type), IEEE: d.IEEE, FriendlyName: d.FriendlyName, Device: &d})

	case EventDeviceInterview:
		if data.IEEE == "" {
			return nil
		}
		d := a.upsertDevice(data, func(d *Device) {
			d.Interviewing = data.Status == InterviewStarted
			if data.Status == InterviewSuccessful {
				d.Interviewed = true
			}
		})
		a.emit(Event{Kind: EventDeviceInterview, IEEE: d.IEEE, FriendlyName: d.FriendlyName, Status: data.Status, Device: &d})

	case EventDeviceLeave:
		a.mu.Lock()
		ieee := data.IEEE
		if ieee == "" {
			ieee = a.names[data.FriendlyName]
		}
		if d, ok := a.devices[ieee]; ok {
			delete(a.names, d.FriendlyName)
			delete(a.devices, ieee)
		}
		a.mu.Unlock()
		if ieee == "" {
			return nil
		}
		a.emit(Event{Kind: EventDeviceLeave, IEEE: ieee, FriendlyName: data.FriendlyName})

	case EventDeviceRenamed:
		a.rename(data.From, data.To)

	default:
		a.logger.Debug("ignoring bridge event", "type", evt.Type)
	}
	return nil
}

func (a *Adapter) rename(from, to string) {
	if from == "" || to == "" || from == to {
		return
	}
	a.mu.Lock()
	ieee, ok := a.names[from]
	if ok {
		d := a.devices[ieee]
		d.FriendlyName = to
		a.devices[ieee] = d
		delete(a.names, from)
		a.names[to] = ieee
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	a.logger.Info("device renamed", "from", from, "to", to)
	a.emit(Event{Kind: EventDeviceRenamed, IEEE: ieee, FriendlyName: to, From: from})
}

func (a *Adapter) handleResponse(payload []byte) error {
	var resp bridgeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: bridge/response: %w", ErrInvalidPayload, err)
	}

	// Renames requested elsewhere still need the name map updated.
	var rename struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if strings.EqualFold(resp.Status, "ok") && json.Unmarshal(resp.Data, &rename) == nil && rename.From != "" {
		a.rename(rename.From, rename.To)
	}

	if resp.Transaction == "" {
		return nil
	}
	a.pendingMu.Lock()
	ch, ok := a.pending[resp.Transaction]
	if ok {
		delete(a.pending, resp.Transaction)
	}
	a.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
	return nil
}

func (a *Adapter) handleState(name string, payload []byte) error {
	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil {
		// Plain-text sub-topics are not state messages.
		a.logger.Debug("ignoring non-object device message", "device", name)
		return nil
	}

	a.pendingMu.Lock()
	readers := a.readers[name]
	delete(a.readers, name)
	a.pendingMu.Unlock()
	for _, ch := range readers {
		ch <- state
	}

	a.mu.RLock()
	ieee, known := a.names[name]
	var dev Device
	if known {
		dev = a.devices[ieee]
	}
	a.mu.RUnlock()
	if !known {
		a.logger.Debug("state for unlisted device or group", "name", name)
		return nil
	}

	a.emit(Event{Kind: EventMessage, IEEE: ieee, FriendlyName: name, Device: &dev, Payload: state})
	return nil
}

func (a *Adapter) emit(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = a.now()
	}
	a.handlerMu.RLock()
	handler := a.onEvent
	a.handlerMu.RUnlock()
	if handler != nil {
		handler(evt)
	}
}

// Version returns the coordinator software version from bridge/info.
func (a *Adapter) Version() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}
