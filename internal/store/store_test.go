package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/device"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-zigbee/migrations"
)

// mockPublisher records publishes and keeps the command handler.
type mockPublisher struct {
	mu        sync.Mutex
	published map[string][]byte
	retained  map[string]bool
	handler   mqtt.MessageHandler
	topic     string
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{published: make(map[string][]byte), retained: make(map[string]bool)}
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[topic] = payload
	m.retained[topic] = retained
	return nil
}

func (m *mockPublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topic = topic
	m.handler = handler
	return nil
}

func (m *mockPublisher) Unsubscribe(string) error { return nil }

func (m *mockPublisher) get(topic string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.published[topic]
	if !ok {
		return nil, false
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out, true
}

type mockHistory struct {
	mu     sync.Mutex
	points []string
}

func (h *mockHistory) WritePropertyValue(deviceID, property string, _ any) {
	h.mu.Lock()
	h.points = append(h.points, deviceID+"/"+property)
	h.mu.Unlock()
}

func setupTestStore(t *testing.T, opts Options) (*Store, *database.DB) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	repo := device.NewSQLiteRepository(db.DB)
	if err := repo.Upsert(ctx, &device.Record{ID: "0x01", FriendlyName: "kitchen"}); err != nil {
		t.Fatalf("failed to create device: %v", err)
	}
	return New(db.DB, opts), db
}

// ============================================================================
// Values
// ============================================================================

func TestStore_RequestedIsNotCurrent(t *testing.T) {
	s, _ := setupTestStore(t, Options{})
	ctx := context.Background()

	if err := s.SetValue(ctx, "0x01", "brightness", 20.0, true); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if err := s.SetValue(ctx, "0x01", "brightness", 80.0, false); err != nil {
		t.Fatalf("SetValue(requested) error = %v", err)
	}

	if v, _ := s.GetValue("0x01", "brightness"); v != 20.0 {
		t.Errorf("GetValue() = %v, want confirmed 20", v)
	}
	if v, ok := s.Requested("0x01", "brightness"); !ok || v != 80.0 {
		t.Errorf("Requested() = %v, %v, want 80", v, ok)
	}

	if err := s.SetValue(ctx, "0x01", "brightness", 80.0, true); err != nil {
		t.Fatalf("SetValue(confirm) error = %v", err)
	}
	if _, ok := s.Requested("0x01", "brightness"); ok {
		t.Error("confirmation should clear the request")
	}
	if v, _ := s.GetValue("0x01", "brightness"); v != 80.0 {
		t.Errorf("GetValue() = %v, want 80", v)
	}
}

func TestStore_ConfirmedPublishesAndRecords(t *testing.T) {
	pub := newMockPublisher()
	hist := &mockHistory{}
	s, _ := setupTestStore(t, Options{Publisher: pub, History: hist})
	ctx := context.Background()

	if err := s.SetValue(ctx, "0x01", "state", true, true); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	// Unchanged value: no second publish or history point.
	if err := s.SetValue(ctx, "0x01", "state", true, true); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	msg, ok := pub.get("graylogic/state/zigbee/0x01/state")
	if !ok {
		t.Fatal("state topic not published")
	}
	if msg["value"] != true {
		t.Errorf("published value = %v, want true", msg["value"])
	}
	if len(hist.points) != 1 {
		t.Errorf("history points = %v, want 1", hist.points)
	}
}

func TestStore_NumericEquality(t *testing.T) {
	hist := &mockHistory{}
	s, _ := setupTestStore(t, Options{History: hist})
	ctx := context.Background()

	_ = s.SetValue(ctx, "0x01", "brightness", 50, true)
	_ = s.SetValue(ctx, "0x01", "brightness", 50.0, true)
	if len(hist.points) != 1 {
		t.Errorf("history points = %d, want 1 (50 and 50.0 are equal)", len(hist.points))
	}
}

func TestStore_LoadRestoresValues(t *testing.T) {
	s, db := setupTestStore(t, Options{})
	ctx := context.Background()

	_ = s.SetValue(ctx, "0x01", "state", true, true)
	_ = s.SetValue(ctx, "0x01", "brightness", 42.0, true)
	_ = s.SetValue(ctx, "0x01", "color_temp", 300.0, false)

	fresh := New(db.DB, Options{})
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v, _ := fresh.GetValue("0x01", "brightness"); v != 42.0 {
		t.Errorf("brightness = %v, want 42", v)
	}
	if _, ok := fresh.GetValue("0x01", "color_temp"); ok {
		t.Error("requested value should not load as confirmed")
	}
	if v, _ := fresh.Requested("0x01", "color_temp"); v != 300.0 {
		t.Errorf("requested color_temp = %v, want 300", v)
	}

	values := fresh.Values("0x01")
	if len(values) != 3 || values[0].Property != "brightness" || values[2].Confirmed {
		t.Errorf("Values() = %+v", values)
	}
}

func TestStore_LoadKeepsConfirmedBehindPendingRequest(t *testing.T) {
	s, db := setupTestStore(t, Options{})
	ctx := context.Background()

	if err := s.SetValue(ctx, "0x01", "brightness", 20.0, true); err != nil {
		t.Fatalf("SetValue(confirmed) error = %v", err)
	}
	if err := s.SetValue(ctx, "0x01", "brightness", 80.0, false); err != nil {
		t.Fatalf("SetValue(requested) error = %v", err)
	}

	fresh := New(db.DB, Options{})
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v, ok := fresh.GetValue("0x01", "brightness"); !ok || v != 20.0 {
		t.Errorf("GetValue() after reload = %v, %v, want 20", v, ok)
	}
	if v, ok := fresh.Requested("0x01", "brightness"); !ok || v != 80.0 {
		t.Errorf("Requested() after reload = %v, %v, want 80", v, ok)
	}

	// Confirming settles the stored request too.
	if err := fresh.SetValue(ctx, "0x01", "brightness", 80.0, true); err != nil {
		t.Fatalf("SetValue(confirm) error = %v", err)
	}
	again := New(db.DB, Options{})
	if err := again.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := again.Requested("0x01", "brightness"); ok {
		t.Error("confirmed request was reloaded as pending")
	}
	if v, _ := again.GetValue("0x01", "brightness"); v != 80.0 {
		t.Errorf("GetValue() = %v, want 80", v)
	}
}

func TestStore_UnknownDeviceFails(t *testing.T) {
	s, _ := setupTestStore(t, Options{})
	if err := s.SetValue(context.Background(), "0xdead", "state", true, true); err == nil {
		t.Error("SetValue() for a device without a record should fail")
	}
}

func TestStore_Forget(t *testing.T) {
	s, _ := setupTestStore(t, Options{})
	_ = s.SetValue(context.Background(), "0x01", "state", true, true)
	s.Forget("0x01")
	if _, ok := s.GetValue("0x01", "state"); ok {
		t.Error("value should be gone after Forget")
	}
}

func TestStore_PublishAvailability(t *testing.T) {
	pub := newMockPublisher()
	s, _ := setupTestStore(t, Options{Publisher: pub})
	s.PublishAvailability("0x01", "offline")

	msg, ok := pub.get("graylogic/availability/zigbee/0x01")
	if !ok || msg["availability"] != "offline" {
		t.Errorf("availability message = %v, %v", msg, ok)
	}
}

func TestStore_StateAndAvailabilityRetained(t *testing.T) {
	pub := newMockPublisher()
	s, _ := setupTestStore(t, Options{Publisher: pub})
	_ = s.SetValue(context.Background(), "0x01", "state", true, true)
	s.PublishAvailability("0x01", "online")

	for _, topic := range []string{"graylogic/state/zigbee/0x01/state", "graylogic/availability/zigbee/0x01"} {
		pub.mu.Lock()
		retained := pub.retained[topic]
		pub.mu.Unlock()
		if !retained {
			t.Errorf("%s not retained", topic)
		}
	}
}

func TestStore_Emit(t *testing.T) {
	pub := newMockPublisher()
	s, _ := setupTestStore(t, Options{Publisher: pub})
	s.Emit("device_added", map[string]any{"device": "0x01"})

	topic := "graylogic/event/zigbee/device_added"
	msg, ok := pub.get(topic)
	if !ok {
		t.Fatalf("no message on %s", topic)
	}
	if msg["kind"] != "device_added" {
		t.Errorf("kind = %v, want device_added", msg["kind"])
	}
	data, _ := msg["data"].(map[string]any)
	if data["device"] != "0x01" {
		t.Errorf("data = %v, want device 0x01", msg["data"])
	}
	if pub.retained[topic] {
		t.Error("events must not be retained")
	}
}

// ============================================================================
// Commands
// ============================================================================

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		value   any
		options map[string]any
		wantErr bool
	}{
		{"number", "graylogic/command/zigbee/kitchen/brightness", "50", 50.0, nil, false},
		{"bool", "graylogic/command/zigbee/kitchen/state", "true", true, nil, false},
		{"plain string", "graylogic/command/zigbee/kitchen/effect", "blink", "blink", nil, false},
		{"envelope", "graylogic/command/zigbee/kitchen/brightness", `{"value":0,"options":{"transition_time":5}}`,
			0.0, map[string]any{"transition_time": 5.0}, false},
		{"object value", "graylogic/command/zigbee/kitchen/color", `{"x":0.3,"y":0.4}`,
			map[string]any{"x": 0.3, "y": 0.4}, nil, false},
		{"empty", "graylogic/command/zigbee/kitchen/state", "", nil, nil, true},
		{"bad topic", "graylogic/state/zigbee/kitchen/state", "true", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseCommand(tt.topic, []byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Errorf("ParseCommand() error = %v, want ErrInvalidCommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() error = %v", err)
			}
			if w.Device != "kitchen" {
				t.Errorf("Device = %q", w.Device)
			}
			if !equal(w.Value, tt.value) {
				t.Errorf("Value = %v, want %v", w.Value, tt.value)
			}
			if tt.options != nil && !equal(w.Options, tt.options) {
				t.Errorf("Options = %v, want %v", w.Options, tt.options)
			}
		})
	}
}

func TestStore_CommandReachesHandler(t *testing.T) {
	pub := newMockPublisher()
	s, _ := setupTestStore(t, Options{Publisher: pub})

	got := make(chan UserWrite, 1)
	s.OnUserWrite(func(_ context.Context, w UserWrite) { got <- w })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if pub.topic != "graylogic/command/zigbee/+/+" {
		t.Errorf("subscribed to %q", pub.topic)
	}
	if err := pub.handler("graylogic/command/zigbee/kitchen/state", []byte("false")); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	select {
	case w := <-got:
		if w.Property != "state" || w.Value != false {
			t.Errorf("write = %+v", w)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}
