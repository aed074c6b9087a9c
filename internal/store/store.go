package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the store.
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

// Publisher is the platform-side MQTT connection. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// History records confirmed values as time series. *influxdb.Client implements it.
type History interface {
	WritePropertyValue(deviceID, property string, value any)
}

// Value is one stored property value.
type Value struct {
	DeviceID  string    `json:"device_id"`
	Property  string    `json:"property"`
	Value     any       `json:"value"`
	Confirmed bool      `json:"confirmed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserWrite is a property change requested by the platform.
type UserWrite struct {
	// Device is the device id or friendly name from the command topic.
	Device   string
	Property string
	Value    any
	Options  map[string]any
}

// Options configures a Store. Every field is optional.
type Options struct {
	Publisher Publisher
	History   History
	QoS       byte
}

// Store holds property values.
type Store struct {
	db      *sql.DB
	pub     Publisher
	history History
	qos     byte
	topics  mqtt.Topics
	now     func() time.Time

	mu        sync.RWMutex
	confirmed map[string]map[string]Value
	requested map[string]map[string]Value

	handlerMu sync.RWMutex
	onWrite   func(ctx context.Context, w UserWrite)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger Logger
}

// New creates a store over an open, migrated database.
func New(db *sql.DB, opts Options) *Store {
	return &Store{
		db:        db,
		pub:       opts.Publisher,
		history:   opts.History,
		qos:       opts.QoS,
		now:       time.Now,
		confirmed: make(map[string]map[string]Value),
		requested: make(map[string]map[string]Value),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// OnUserWrite sets the handler for writes arriving on command topics.
// The handler runs on its own goroutine per command.
func (s *Store) OnUserWrite(handler func(ctx context.Context, w UserWrite)) {
	s.handlerMu.Lock()
	s.onWrite = handler
	s.handlerMu.Unlock()
}

// Load primes the cache from the database.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT device_id, property, value, confirmed, updated_at FROM property_values")
	if err != nil {
		return fmt.Errorf("querying property values: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for rows.Next() {
		var (
			v         Value
			raw       string
			confirmed int
			updatedAt string
		)
		if err := rows.Scan(&v.DeviceID, &v.Property, &raw, &confirmed, &updatedAt); err != nil {
			return fmt.Errorf("scanning property value: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &v.Value); err != nil {
			s.logger.Warn("skipping undecodable stored value", "device", v.DeviceID, "property", v.Property, "error", err)
			continue
		}
		v.Confirmed = confirmed == 1
		v.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // zero time on bad rows
		if v.Confirmed {
			setLocked(s.confirmed, v)
		} else {
			setLocked(s.requested, v)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating property values: %w", err)
	}
	s.logger.Info("property values loaded", "count", n)
	return nil
}

// Start subscribes to command topics.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.pub == nil {
		return nil
	}
	if err := s.pub.Subscribe(s.topics.AllCommands(), s.qos, s.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// Stop unsubscribes and waits for in-flight command handlers.
func (s *Store) Stop() {
	if s.pub != nil {
		if err := s.pub.Unsubscribe(s.topics.AllCommands()); err != nil {
			s.logger.Warn("unsubscribe from commands failed", "error", err)
		}
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// GetValue returns the last confirmed value of a property.
func (s *Store) GetValue(deviceID, property string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.confirmed[deviceID][property]
	return v.Value, ok
}

// Requested returns a property's in-flight requested value, if any.
func (s *Store) Requested(deviceID, property string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.requested[deviceID][property]
	return v.Value, ok
}

// Values returns a device's values, confirmed first, ordered by property.
// A property with a request in flight appears twice.
func (s *Store) Values(deviceID string) []Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Value
	for _, m := range []map[string]Value{s.confirmed[deviceID], s.requested[deviceID]} {
		start := len(out)
		for _, v := range m {
			out = append(out, v)
		}
		sort.Slice(out[start:], func(i, j int) bool { return out[start+i].Property < out[start+j].Property })
	}
	return out
}

// SetValue stores a value.
//
// A requested value is kept until the property is confirmed. A confirmed
// value clears any request, is persisted, published to the state topic and
// recorded in history. Re-confirming an unchanged value does nothing.
//
// Parameters:
//   - ctx: Bounds the database write
//   - deviceID: IEEE address of a persisted device
//   - property: Semantic property id
//   - value: Semantic value
//   - confirmed: False for a requested value not yet acknowledged
//
// Returns:
//   - error: If the value cannot be encoded or persisted
func (s *Store) SetValue(ctx context.Context, deviceID, property string, value any, confirmed bool) error {
	v := Value{DeviceID: deviceID, Property: property, Value: value, Confirmed: confirmed, UpdatedAt: s.now().UTC()}

	s.mu.Lock()
	if confirmed {
		prev, had := s.confirmed[deviceID][property]
		_, pending := s.requested[deviceID][property]
		if had && !pending && equal(prev.Value, value) {
			s.mu.Unlock()
			return nil
		}
		setLocked(s.confirmed, v)
		delete(s.requested[deviceID], property)
	} else {
		setLocked(s.requested, v)
	}
	s.mu.Unlock()

	if err := s.persist(ctx, v); err != nil {
		return err
	}
	if confirmed {
		s.publishState(v)
		if s.history != nil {
			s.history.WritePropertyValue(deviceID, property, value)
		}
	}
	return nil
}

// Forget drops a device's cached values. Its rows go with the device record.
func (s *Store) Forget(deviceID string) {
	s.mu.Lock()
	delete(s.confirmed, deviceID)
	delete(s.requested, deviceID)
	s.mu.Unlock()
}

// PublishAvailability publishes a device's availability to its retained topic.
func (s *Store) PublishAvailability(deviceID, availability string) {
	if s.pub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"availability": availability,
		"updated_at":   s.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.pub.Publish(s.topics.Availability(deviceID), payload, s.qos, true); err != nil {
		s.logger.Warn("publishing availability failed", "device", deviceID, "error", err)
	}
}

// Emit publishes a gateway event for the platform. Pairing progress has its
// own topic. Events are not retained.
func (s *Store) Emit(kind string, data any) {
	if s.pub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"kind":      kind,
		"data":      data,
		"timestamp": s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("encoding event failed", "kind", kind, "error", err)
		return
	}
	topic := s.topics.Event(kind)
	if kind == "pairing" {
		topic = s.topics.Pairing()
	}
	if err := s.pub.Publish(topic, payload, s.qos, false); err != nil {
		s.logger.Debug("publishing event failed", "kind", kind, "error", err)
	}
}

func (s *Store) persist(ctx context.Context, v Value) error {
	raw, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", v.DeviceID, v.Property, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO property_values (device_id, property, value, confirmed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (device_id, property, confirmed) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		v.DeviceID, v.Property, string(raw), boolToInt(v.Confirmed), v.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storing %s/%s: %w", v.DeviceID, v.Property, err)
	}

	// A confirmation settles any request for the property.
	if v.Confirmed {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM property_values WHERE device_id = ? AND property = ? AND confirmed = 0",
			v.DeviceID, v.Property); err != nil {
			return fmt.Errorf("clearing request %s/%s: %w", v.DeviceID, v.Property, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s/%s: %w", v.DeviceID, v.Property, err)
	}
	return nil
}

func (s *Store) publishState(v Value) {
	if s.pub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"value": v.Value, "updated_at": v.UpdatedAt})
	if err != nil {
		s.logger.Warn("encoding state failed", "device", v.DeviceID, "property", v.Property, "error", err)
		return
	}
	if err := s.pub.Publish(s.topics.State(v.DeviceID, v.Property), payload, s.qos, true); err != nil {
		s.logger.Warn("publishing state failed", "device", v.DeviceID, "property", v.Property, "error", err)
	}
}

// handleCommand parses a command message and runs the write handler.
func (s *Store) handleCommand(topic string, payload []byte) error {
	w, err := ParseCommand(topic, payload)
	if err != nil {
		return err
	}

	s.handlerMu.RLock()
	handler := s.onWrite
	s.handlerMu.RUnlock()
	if handler == nil {
		s.logger.Warn("command dropped, no write handler", "device", w.Device, "property", w.Property)
		return nil
	}

	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		handler(ctx, w)
	}()
	return nil
}

// ParseCommand decodes a command topic and payload. A payload that is not
// JSON is taken as a plain string.
func ParseCommand(topic string, payload []byte) (UserWrite, error) {
	device, property, err := mqtt.Topics{}.ParseCommand(topic)
	if err != nil {
		return UserWrite{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	w := UserWrite{Device: device, Property: property}

	if len(payload) == 0 {
		return UserWrite{}, fmt.Errorf("%w: empty payload on %s", ErrInvalidCommand, topic)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		w.Value = string(payload)
		return w, nil
	}

	if obj, ok := decoded.(map[string]any); ok {
		if v, has := obj["value"]; has {
			w.Value = v
			if opts, ok := obj["options"].(map[string]any); ok {
				w.Options = opts
			}
			return w, nil
		}
	}
	w.Value = decoded
	return w, nil
}

func setLocked(m map[string]map[string]Value, v Value) {
	props, ok := m[v.DeviceID]
	if !ok {
		props = make(map[string]Value)
		m[v.DeviceID] = props
	}
	props[v.Property] = v
}

// equal compares stored values. Numbers compare by value whatever their
// Go type, since JSON decoding yields float64.
func equal(a, b any) bool {
	if fa, ok := descriptor.Number(a); ok {
		if fb, ok := descriptor.Number(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
