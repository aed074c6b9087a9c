package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-zigbee/internal/audit"
	"github.com/nerrad567/gray-logic-zigbee/internal/auth"
	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
	"github.com/nerrad567/gray-logic-zigbee/internal/configure"
	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/dispatch"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zigbee/internal/metrics"
	"github.com/nerrad567/gray-logic-zigbee/internal/pairing"
	"github.com/nerrad567/gray-logic-zigbee/internal/supervisor"
)

const (
	testSecret = "test-secret-key-at-least-32-characters-long"
	testIssuer = "zigbeegate"
)

// fakeGateway serves two devices and records writes.
type fakeGateway struct {
	mu       sync.Mutex
	writes   []string
	writeErr error
	outcome  configure.Outcome
	pairing  pairing.Status
	joinSecs int
	stopErr  error
}

func (g *fakeGateway) Devices() []supervisor.DeviceView {
	return []supervisor.DeviceView{
		{ID: "0x01", FriendlyName: "hall", Model: "ZBMINI", Availability: "offline"},
		{ID: "0x02", FriendlyName: "kitchen", Model: "LCT015", Availability: "online"},
	}
}

func (g *fakeGateway) Device(idOrName string) (supervisor.DeviceView, bool) {
	for _, d := range g.Devices() {
		if d.ID == idOrName || d.FriendlyName == idOrName {
			return d, true
		}
	}
	return supervisor.DeviceView{}, false
}

func (g *fakeGateway) Plan(idOrName, property string, value any, _ map[string]any) (dispatch.Plan, error) {
	if _, ok := g.Device(idOrName); !ok {
		return dispatch.Plan{}, supervisor.ErrUnknownDevice
	}
	return dispatch.Plan{Property: property, Value: value}, nil
}

func (g *fakeGateway) Write(_ context.Context, idOrName, property string, value any, _ map[string]any) (dispatch.Result, error) {
	if _, ok := g.Device(idOrName); !ok {
		return dispatch.Result{}, fmt.Errorf("%w: %q", supervisor.ErrUnknownDevice, idOrName)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writeErr != nil {
		return dispatch.Result{}, g.writeErr
	}
	g.writes = append(g.writes, fmt.Sprintf("%s/%s=%v", idOrName, property, value))
	return dispatch.Result{Confirmed: []string{property}}, nil
}

func (g *fakeGateway) Reconfigure(_ context.Context, idOrName string) (configure.Outcome, error) {
	if _, ok := g.Device(idOrName); !ok {
		return "", supervisor.ErrUnknownDevice
	}
	return g.outcome, nil
}

func (g *fakeGateway) StartPairing(_ context.Context, seconds int, target string) (pairing.Status, error) {
	if seconds < 1 || seconds > pairing.MaxDuration {
		return pairing.Status{}, pairing.ErrInvalidDuration
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.joinSecs = seconds
	g.pairing = pairing.Status{Active: true, Duration: seconds, Remaining: seconds, Target: target}
	return g.pairing, nil
}

func (g *fakeGateway) StopPairing(context.Context) error { return g.stopErr }

func (g *fakeGateway) PairingStatus() pairing.Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pairing
}

type fixedHealth struct{}

func (fixedHealth) Snapshot() zigbee.HealthMessage {
	return zigbee.HealthMessage{Gateway: "zigbeegate", Status: zigbee.HealthHealthy, DevicesManaged: 2}
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func testServer(t *testing.T, deps Deps) (*Server, *fakeGateway) {
	t.Helper()

	gw := &fakeGateway{outcome: configure.OutcomeConfigured}
	if deps.Gateway == nil {
		deps.Gateway = gw
	}
	deps.Logger = testLogger()
	deps.Version = "test"
	deps.Security = config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, Issuer: testIssuer}}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, gw
}

func signToken(t *testing.T, secret, issuer string, ttl time.Duration) string {
	t.Helper()
	return signRole(t, secret, issuer, auth.RoleAdmin, ttl)
}

func signRole(t *testing.T, secret, issuer string, role auth.Role, ttl time.Duration) string {
	t.Helper()
	signed, err := auth.GenerateToken("platform", role, secret, issuer, ttl)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// fakeAudit is an in-memory audit.Repository.
type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	filter  audit.Filter
}

func (a *fakeAudit) Create(_ context.Context, e *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

func (a *fakeAudit) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filter = f
	return &audit.ListResult{Entries: slices.Clone(a.entries), Total: len(a.entries), Limit: f.Limit}, nil
}

func (a *fakeAudit) recorded() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.entries)
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth_WithoutSource(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("resp = %v, want status ok version test", resp)
	}
}

func TestHealth_FromReporter(t *testing.T) {
	srv, _ := testServer(t, Deps{Health: fixedHealth{}})
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "", "")

	var msg zigbee.HealthMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != zigbee.HealthHealthy || msg.DevicesManaged != 2 {
		t.Errorf("health = %+v", msg)
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, Deps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want http://localhost:3000", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	if w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, Deps{Metrics: metrics.New()})
	router := srv.buildRouter()

	do(t, router, http.MethodGet, "/api/v1/devices/kitchen", "", "")
	w := do(t, router, http.MethodGet, "/metrics", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `route="/api/v1/devices/{id}/"`) && !strings.Contains(body, `route="/api/v1/devices/{id}"`) {
		t.Errorf("metrics missing templated route label:\n%s", body)
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	router := srv.buildRouter()

	tests := []struct {
		path  string
		count int
	}{
		{"/api/v1/devices", 2},
		{"/api/v1/devices?availability=online", 1},
		{"/api/v1/devices?availability=unknown", 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, router, http.MethodGet, tt.path, "", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp struct {
				Count int `json:"count"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Count != tt.count {
				t.Errorf("count = %d, want %d", resp.Count, tt.count)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/devices/kitchen", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var dev supervisor.DeviceView
	if err := json.Unmarshal(w.Body.Bytes(), &dev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dev.ID != "0x02" {
		t.Errorf("ID = %q, want 0x02", dev.ID)
	}

	if w := do(t, router, http.MethodGet, "/api/v1/devices/nope", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Writes ────────────────────────────────────────────────────────

func TestWriteProperty_Auth(t *testing.T) {
	srv, gw := testServer(t, Deps{})
	router := srv.buildRouter()
	path := "/api/v1/devices/kitchen/properties/state"
	body := `{"value": true}`

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong secret", signToken(t, "another-secret-that-is-long-enough-123", testIssuer, time.Minute), http.StatusUnauthorized},
		{"wrong issuer", signToken(t, testSecret, "someone-else", time.Minute), http.StatusUnauthorized},
		{"expired", signToken(t, testSecret, testIssuer, -time.Minute), http.StatusUnauthorized},
		{"valid", signToken(t, testSecret, testIssuer, time.Minute), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, router, http.MethodPut, path, body, tt.token); w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.writes) != 1 || gw.writes[0] != "kitchen/state=true" {
		t.Errorf("writes = %v, want one kitchen/state=true", gw.writes)
	}
}

func TestWriteProperty_Errors(t *testing.T) {
	token := signToken(t, testSecret, testIssuer, time.Minute)

	tests := []struct {
		name     string
		device   string
		body     string
		writeErr error
		want     int
	}{
		{"missing value", "kitchen", `{}`, nil, http.StatusBadRequest},
		{"invalid json", "kitchen", `{`, nil, http.StatusBadRequest},
		{"unknown device", "nope", `{"value": 1}`, nil, http.StatusNotFound},
		{"unknown property", "kitchen", `{"value": 1}`, fmt.Errorf("%w: nope", dispatch.ErrUnknownProperty), http.StatusNotFound},
		{"invalid value", "kitchen", `{"value": "x"}`, fmt.Errorf("%w: not a number", descriptor.ErrInvalidValue), http.StatusUnprocessableEntity},
		{"publish failure", "kitchen", `{"value": 1}`, fmt.Errorf("%w: broker down", dispatch.ErrPublishFailure), http.StatusBadGateway},
		{"stopping", "kitchen", `{"value": 1}`, supervisor.ErrNotRunning, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, gw := testServer(t, Deps{})
			gw.writeErr = tt.writeErr
			path := "/api/v1/devices/" + tt.device + "/properties/brightness"
			if w := do(t, srv.buildRouter(), http.MethodPut, path, tt.body, token); w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestPlanProperty(t *testing.T) {
	srv, gw := testServer(t, Deps{})
	token := signToken(t, testSecret, testIssuer, time.Minute)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/devices/kitchen/properties/brightness/plan", `{"value": 40}`, token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if len(gw.writes) != 0 {
		t.Errorf("plan executed writes: %v", gw.writes)
	}
}

func TestReconfigure(t *testing.T) {
	token := signToken(t, testSecret, testIssuer, time.Minute)

	tests := []struct {
		name    string
		device  string
		outcome configure.Outcome
		want    int
	}{
		{"configured", "kitchen", configure.OutcomeConfigured, http.StatusOK},
		{"in progress", "kitchen", configure.OutcomeInProgress, http.StatusConflict},
		{"interviewing", "kitchen", configure.OutcomeInterviewing, http.StatusConflict},
		{"unknown", "nope", configure.OutcomeConfigured, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, gw := testServer(t, Deps{})
			gw.outcome = tt.outcome
			w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/devices/"+tt.device+"/reconfigure", "", token)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Roles and audit ───────────────────────────────────────────────

func TestPermissions(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	router := srv.buildRouter()

	tests := []struct {
		name   string
		role   auth.Role
		method string
		path   string
		body   string
		want   int
	}{
		{"viewer write", auth.RoleViewer, http.MethodPut, "/api/v1/devices/kitchen/properties/state", `{"value": true}`, http.StatusForbidden},
		{"viewer ticket", auth.RoleViewer, http.MethodPost, "/api/v1/auth/ws-ticket", "", http.StatusOK},
		{"viewer pairing", auth.RoleViewer, http.MethodPost, "/api/v1/pairing", "", http.StatusForbidden},
		{"operator write", auth.RoleOperator, http.MethodPut, "/api/v1/devices/kitchen/properties/state", `{"value": true}`, http.StatusOK},
		{"operator pairing", auth.RoleOperator, http.MethodPost, "/api/v1/pairing", "", http.StatusOK},
		{"operator reconfigure", auth.RoleOperator, http.MethodPost, "/api/v1/devices/kitchen/reconfigure", "", http.StatusForbidden},
		{"operator audit", auth.RoleOperator, http.MethodGet, "/api/v1/audit", "", http.StatusForbidden},
		{"admin reconfigure", auth.RoleAdmin, http.MethodPost, "/api/v1/devices/kitchen/reconfigure", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signRole(t, testSecret, testIssuer, tt.role, time.Minute)
			if w := do(t, router, tt.method, tt.path, tt.body, token); w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAudit_RecordsMutations(t *testing.T) {
	log := &fakeAudit{}
	srv, gw := testServer(t, Deps{Audit: log})
	router := srv.buildRouter()
	token := signToken(t, testSecret, testIssuer, time.Minute)

	do(t, router, http.MethodPut, "/api/v1/devices/kitchen/properties/brightness", `{"value": 40}`, token)
	gw.writeErr = fmt.Errorf("%w: broker down", dispatch.ErrPublishFailure)
	do(t, router, http.MethodPut, "/api/v1/devices/kitchen/properties/brightness", `{"value": 50}`, token)
	do(t, router, http.MethodPost, "/api/v1/pairing", `{"duration": 60}`, token)
	// Rejected before reaching the gateway: not recorded.
	do(t, router, http.MethodPut, "/api/v1/devices/kitchen/properties/brightness", `{}`, token)

	got := log.recorded()
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3: %+v", len(got), got)
	}
	first := got[0]
	if first.Action != audit.ActionWrite || first.DeviceID != "0x02" || first.Subject != "platform" || first.Outcome != audit.OutcomeOK {
		t.Errorf("first entry = %+v", first)
	}
	if first.Details["property"] != "brightness" {
		t.Errorf("details = %v, want property brightness", first.Details)
	}
	if got[1].Outcome != audit.OutcomeFailed || got[1].Details["error"] == nil {
		t.Errorf("failed write entry = %+v", got[1])
	}
	if got[2].Action != audit.ActionPairStart || got[2].DeviceID != "" {
		t.Errorf("pairing entry = %+v", got[2])
	}
}

func TestListAudit(t *testing.T) {
	token := signToken(t, testSecret, testIssuer, time.Minute)

	t.Run("disabled", func(t *testing.T) {
		srv, _ := testServer(t, Deps{})
		if w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/audit", "", token); w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("filters", func(t *testing.T) {
		log := &fakeAudit{}
		srv, _ := testServer(t, Deps{Audit: log})
		w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/audit?action=write&device=0x02&limit=10&offset=5", "", token)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
		}
		want := audit.Filter{Action: "write", DeviceID: "0x02", Limit: 10, Offset: 5}
		if log.filter != want {
			t.Errorf("filter = %+v, want %+v", log.filter, want)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		srv, _ := testServer(t, Deps{Audit: &fakeAudit{}})
		if w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/audit?limit=ten", "", token); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// ─── Pairing ───────────────────────────────────────────────────────

func TestStartPairing(t *testing.T) {
	srv, gw := testServer(t, Deps{PairingDuration: 120})
	router := srv.buildRouter()
	token := signToken(t, testSecret, testIssuer, time.Minute)

	if w := do(t, router, http.MethodPost, "/api/v1/pairing", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w := do(t, router, http.MethodPost, "/api/v1/pairing", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if gw.joinSecs != 120 {
		t.Errorf("duration = %d, want default 120", gw.joinSecs)
	}

	if w := do(t, router, http.MethodPost, "/api/v1/pairing", `{"duration": 999}`, token); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid duration status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}

	w = do(t, router, http.MethodGet, "/api/v1/pairing", "", "")
	var st pairing.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !st.Active {
		t.Error("status should be active")
	}
}

func TestStopPairing_NoSession(t *testing.T) {
	srv, gw := testServer(t, Deps{})
	gw.stopErr = pairing.ErrNoSession
	token := signToken(t, testSecret, testIssuer, time.Minute)

	if w := do(t, srv.buildRouter(), http.MethodDelete, "/api/v1/pairing", "", token); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestTickets_SingleUseAndExpiry(t *testing.T) {
	store := newTicketStore()
	ticket := store.issue("platform")

	if subject, ok := store.redeem(ticket); !ok || subject != "platform" {
		t.Errorf("first redeem = %q, %v, want platform, true", subject, ok)
	}
	if _, ok := store.redeem(ticket); ok {
		t.Error("ticket should be single-use")
	}

	now := time.Now()
	store.now = func() time.Time { return now }
	expired := store.issue("platform")
	store.now = func() time.Time { return now.Add(ticketTTL) }
	if _, ok := store.redeem(expired); ok {
		t.Error("expired ticket should not be valid")
	}
}

func newTestClient(hub *Hub, channels ...string) *WSClient {
	c := newWSClient(hub, nil, "test")
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	hub.Register(c)
	return c
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(testLogger())

	subscribed := newTestClient(hub, supervisor.EventAvailability)
	wildcard := newTestClient(hub, WSChannelAll)
	other := newTestClient(hub, supervisor.EventPairing)

	hub.Emit(supervisor.EventAvailability, map[string]any{"device": "0x01", "to": "offline"})

	for name, c := range map[string]*WSClient{"subscribed": subscribed, "wildcard": wildcard} {
		select {
		case raw := <-c.send:
			var msg WSMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Type != WSTypeEvent || msg.EventType != supervisor.EventAvailability {
				t.Errorf("%s got %+v", name, msg)
			}
		case <-time.After(time.Second):
			t.Errorf("%s: timed out waiting for broadcast", name)
		}
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testLogger())
	c := newTestClient(hub)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(c)
	hub.Unregister(c)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	srv, _ := testServer(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("dial without ticket should fail")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	token := signToken(t, testSecret, testIssuer, time.Minute)
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/auth/ws-ticket", "", token)
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ticket); err != nil || ticket.Ticket == "" {
		t.Fatalf("ticket response %s: %v", w.Body.String(), err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?ticket="+ticket.Ticket, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{supervisor.EventWrite}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("reading subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	srv.Hub().Emit(supervisor.EventWrite, map[string]any{"device": "0x02"})

	var evt WSMessage
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if evt.EventType != supervisor.EventWrite {
		t.Errorf("event_type = %q, want %q", evt.EventType, supervisor.EventWrite)
	}
}
