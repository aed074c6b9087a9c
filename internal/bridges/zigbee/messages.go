package zigbee

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
)

// Coordinator device types.
const (
	TypeCoordinator = "Coordinator"
	TypeRouter      = "Router"
	TypeEndDevice   = "EndDevice"
)

// Device is one entry of the coordinator's device list.
type Device struct {
	IEEE         string      `json:"ieee_address"`
	FriendlyName string      `json:"friendly_name"`
	Type         string      `json:"type"`
	PowerSource  string      `json:"power_source,omitempty"`
	ModelID      string      `json:"model_id,omitempty"`
	Supported    bool        `json:"supported"`
	Interviewing bool        `json:"interviewing"`
	Interviewed  bool        `json:"interview_completed"`
	Disabled     bool        `json:"disabled,omitempty"`
	Definition   *Definition `json:"definition,omitempty"`
}

// Definition is the coordinator's description of a device model.
type Definition struct {
	Model       string              `json:"model"`
	Vendor      string              `json:"vendor"`
	Description string              `json:"description,omitempty"`
	Exposes     []descriptor.Expose `json:"exposes,omitempty"`
}

// Model returns the model id the registry knows the device by.
func (d Device) Model() string {
	if d.Definition != nil && d.Definition.Model != "" {
		return d.Definition.Model
	}
	return d.ModelID
}

// Exposes returns the capabilities the coordinator reported for the device.
func (d Device) Exposes() []descriptor.Expose {
	if d.Definition == nil {
		return nil
	}
	return d.Definition.Exposes
}

// Pingable reports whether the device is always listening: routers and
// mains-powered devices. Battery end devices sleep and cannot be probed.
func (d Device) Pingable() bool {
	if d.Type == TypeRouter {
		return true
	}
	return strings.Contains(strings.ToLower(d.PowerSource), "mains")
}

// EventKind identifies an adapter event.
type EventKind string

// Adapter events.
const (
	EventDevices           EventKind = "devices"
	EventDeviceJoined      EventKind = "device_joined"
	EventDeviceAnnounce    EventKind = "device_announce"
	EventDeviceInterview   EventKind = "device_interview"
	EventDeviceLeave       EventKind = "device_leave"
	EventDeviceRenamed     EventKind = "device_renamed"
	EventMessage           EventKind = "message"
	EventPermitJoinChanged EventKind = "permit_join_changed"
)

// Interview statuses.
const (
	InterviewStarted    = "started"
	InterviewSuccessful = "successful"
	InterviewFailed     = "failed"
)

// Event is delivered to the adapter's event handler.
type Event struct {
	Kind EventKind
	Time time.Time

	// IEEE and FriendlyName identify the device for device events.
	IEEE         string
	FriendlyName string

	// Device is the coordinator's current entry for the device, when known.
	Device *Device

	// Status is the interview status for EventDeviceInterview.
	Status string

	// Payload is the decoded state message for EventMessage.
	Payload map[string]any

	// From is the previous friendly name for EventDeviceRenamed.
	From string

	// Devices is the full list for EventDevices.
	Devices []Device

	// PermitJoin and Remaining describe the join window for EventPermitJoinChanged.
	PermitJoin bool
	Remaining  int
}

// bridgeEvent is the payload of {base}/bridge/event.
type bridgeEvent struct {
	Type string          `json:"type"`
	Data bridgeEventData `json:"data"`
}

type bridgeEventData struct {
	FriendlyName string      `json:"friendly_name"`
	IEEE         string      `json:"ieee_address"`
	Status       string      `json:"status,omitempty"`
	Supported    *bool       `json:"supported,omitempty"`
	Definition   *Definition `json:"definition,omitempty"`
	From         string      `json:"from,omitempty"`
	To           string      `json:"to,omitempty"`
}

// bridgeInfo is the subset of {base}/bridge/info the adapter reads.
type bridgeInfo struct {
	Version    string `json:"version"`
	PermitJoin bool   `json:"permit_join"`
	// PermitJoinEnd is the window's end in Unix milliseconds (newer coordinators).
	PermitJoinEnd *int64 `json:"permit_join_end,omitempty"`
	// PermitJoinTimeout is the remaining time in seconds (older coordinators).
	PermitJoinTimeout *int `json:"permit_join_timeout,omitempty"`
}

// remaining returns the seconds left in the join window, or 0 when unknown.
func (b bridgeInfo) remaining(now time.Time) int {
	switch {
	case !b.PermitJoin:
		return 0
	case b.PermitJoinTimeout != nil:
		return *b.PermitJoinTimeout
	case b.PermitJoinEnd != nil:
		left := time.UnixMilli(*b.PermitJoinEnd).Sub(now)
		if left <= 0 {
			return 0
		}
		return int(left.Round(time.Second) / time.Second)
	}
	return 0
}

// bridgeResponse is the payload of {base}/bridge/response/{op}.
type bridgeResponse struct {
	Data        json.RawMessage `json:"data"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Transaction string          `json:"transaction,omitempty"`
}

// ReportingRequest is the data of a device/configure_reporting request.
type ReportingRequest struct {
	ID                    string  `json:"id"`
	Endpoint              string  `json:"endpoint,omitempty"`
	Cluster               string  `json:"cluster"`
	Attribute             string  `json:"attribute"`
	MinimumReportInterval int     `json:"minimum_report_interval"`
	MaximumReportInterval int     `json:"maximum_report_interval"`
	ReportableChange      float64 `json:"reportable_change"`
}
