package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveWrite(t *testing.T) {
	m := New()
	m.ObserveWrite("confirmed", 20*time.Millisecond)
	m.ObserveWrite("confirmed", 30*time.Millisecond)
	m.ObserveWrite("failed", time.Second)

	if got := testutil.ToFloat64(m.writes.WithLabelValues("confirmed")); got != 2 {
		t.Errorf("confirmed writes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.writes.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed writes = %v, want 1", got)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SetDevices(3, 1, 2)
	m.SetPairing(true)

	if got := testutil.ToFloat64(m.devices.WithLabelValues("online")); got != 3 {
		t.Errorf("online = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.pairingActive); got != 1 {
		t.Errorf("pairing_active = %v, want 1", got)
	}
	m.SetPairing(false)
	if got := testutil.ToFloat64(m.pairingActive); got != 0 {
		t.Errorf("pairing_active = %v, want 0", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.AvailabilityChanged("offline")
	m.ConfigureOutcome("configured")
	m.CoordinatorEvent("device_joined")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`zigbeegate_availability_transitions_total{state="offline"} 1`,
		`zigbeegate_configure_attempts_total{outcome="configured"} 1`,
		`zigbeegate_coordinator_events_total{kind="device_joined"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_Middleware(t *testing.T) {
	m := New()
	h := m.Middleware(func(*http.Request) string { return "/api/v1/devices/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }),
	)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/devices/0x01", nil))

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/v1/devices/{id}", "GET", "404"))
	if got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}
