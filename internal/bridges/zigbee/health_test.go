package zigbee

import (
	"context"
	"encoding/json"
	"testing"
)

type fixedCounter struct{ tracked, online int }

func (f fixedCounter) Counts() (int, int) { return f.tracked, f.online }

func lastHealth(t *testing.T, client *fakeMQTT) HealthMessage {
	t.Helper()
	msgs := client.messages("graylogic/health/zigbee")
	if len(msgs) == 0 {
		t.Fatal("no health message published")
	}
	last := msgs[len(msgs)-1]
	if !last.retained {
		t.Error("health message should be retained")
	}
	var msg HealthMessage
	if err := json.Unmarshal(last.payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestHealthReporter_PublishNow(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.deliver(t, "zigbee2mqtt/bridge/info", map[string]any{"version": "1.40.0", "permit_join": false})

	h := NewHealthReporter(HealthReporterConfig{
		Version: "test", Publisher: client, Adapter: a, Devices: fixedCounter{tracked: 4, online: 3},
	})
	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msg := lastHealth(t, client)
	if msg.Status != HealthHealthy {
		t.Errorf("Status = %s, want healthy (reason %q)", msg.Status, msg.Reason)
	}
	if msg.DevicesManaged != 4 || msg.DevicesOnline != 3 {
		t.Errorf("devices = %d/%d, want 4/3", msg.DevicesManaged, msg.DevicesOnline)
	}
	if msg.CoordinatorVersion != "1.40.0" {
		t.Errorf("CoordinatorVersion = %q", msg.CoordinatorVersion)
	}
}

func TestHealthReporter_DegradedWithoutCoordinator(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	h := NewHealthReporter(HealthReporterConfig{Publisher: client, Adapter: a})
	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	if msg := lastHealth(t, client); msg.Status != HealthDegraded {
		t.Errorf("Status = %s, want degraded", msg.Status)
	}
}

func TestHealthReporter_StopPublishesStopping(t *testing.T) {
	client := newFakeMQTT()
	h := NewHealthReporter(HealthReporterConfig{Publisher: client})
	h.Start(context.Background())
	h.Stop()
	h.Stop()

	if msg := lastHealth(t, client); msg.Status != HealthStopping {
		t.Errorf("Status = %s, want stopping", msg.Status)
	}
}

func TestHealthReporter_LWTPayload(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{Version: "v"})
	data, err := h.LWTPayload()
	if err != nil {
		t.Fatalf("LWTPayload() error = %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthOffline || msg.Gateway != "zigbeegate" {
		t.Errorf("LWT = %+v", msg)
	}
}

func TestHealthReporter_SnapshotDoesNotPublish(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	h := NewHealthReporter(HealthReporterConfig{Publisher: client, Adapter: a, Devices: fixedCounter{tracked: 2, online: 1}})

	msg := h.Snapshot()
	if msg.DevicesManaged != 2 || msg.DevicesOnline != 1 {
		t.Errorf("devices = %d/%d, want 2/1", msg.DevicesManaged, msg.DevicesOnline)
	}
	if got := len(client.messages("graylogic/health/zigbee")); got != 0 {
		t.Errorf("published %d health messages, want 0", got)
	}
}
