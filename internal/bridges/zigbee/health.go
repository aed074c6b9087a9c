package zigbee

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/mqtt"
)

// HealthStatus is the operational status of the gateway.
type HealthStatus string

// Gateway health statuses.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained health document.
type HealthMessage struct {
	Gateway            string       `json:"gateway"`
	Timestamp          time.Time    `json:"timestamp"`
	Status             HealthStatus `json:"status"`
	Version            string       `json:"version"`
	CoordinatorVersion string       `json:"coordinator_version,omitempty"`
	UptimeSeconds      int64        `json:"uptime_seconds"`
	DevicesManaged     int          `json:"devices_managed"`
	DevicesOnline      int          `json:"devices_online"`
	PermitJoin         bool         `json:"permit_join"`
	Stats              Stats        `json:"stats"`
	Reason             string       `json:"reason,omitempty"`
}

// HealthPublisher publishes health messages. *mqtt.Client implements it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DeviceCounter reports how many devices are tracked and how many are online.
type DeviceCounter interface {
	Counts() (tracked, online int)
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	Gateway  string
	Version  string
	Interval time.Duration // default 30s

	Publisher HealthPublisher
	Adapter   *Adapter
	Devices   DeviceCounter
}

// HealthReporter publishes the gateway's health on a fixed interval.
type HealthReporter struct {
	gateway   string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	adapter   *Adapter
	devices   DeviceCounter
	topic     string

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	gateway := cfg.Gateway
	if gateway == "" {
		gateway = "zigbeegate"
	}
	return &HealthReporter{
		gateway:   gateway,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		adapter:   cfg.Adapter,
		devices:   cfg.Devices,
		topic:     mqtt.Topics{}.Health(),
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for the reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "gateway starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Snapshot returns the current health without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	return h.message(h.determineStatus())
}

// LWTPayload returns the payload to register as the MQTT last will.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(HealthMessage{
		Gateway:   h.gateway,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Version:   h.version,
		Reason:    "unexpected disconnect",
	})
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.adapter != nil && h.adapter.Version() == "" {
		return HealthDegraded, "coordinator has not reported"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Gateway:       h.gateway,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.devices != nil {
		msg.DevicesManaged, msg.DevicesOnline = h.devices.Counts()
	}
	if h.adapter != nil {
		msg.CoordinatorVersion = h.adapter.Version()
		msg.PermitJoin = h.adapter.PermitJoinOpen()
		msg.Stats = h.adapter.Stats()
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
