package mqtt

import (
	"fmt"
	"strings"
)

// Protocol is the protocol segment used in all platform-side topics.
const Protocol = "zigbee"

// TopicPrefix is the root of all platform-side topics.
// Flat scheme: graylogic/{category}/zigbee/{device}[/{property}]
const TopicPrefix = "graylogic"

// Topics provides builders for the platform-side topics the gateway owns.
//
//	topics := mqtt.Topics{}
//	topics.State("kitchen-ceiling", "brightness")
//	// Returns: "graylogic/state/zigbee/kitchen-ceiling/brightness"
type Topics struct{}

// GatewayStatus returns the retained gateway online/offline topic.
func (Topics) GatewayStatus() string {
	return TopicPrefix + "/system/zigbeegate/status"
}

// State returns the retained topic carrying a confirmed property value.
func (Topics) State(device, property string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", TopicPrefix, Protocol, device, property)
}

// Command returns the topic on which the platform requests a property change.
func (Topics) Command(device, property string) string {
	return fmt.Sprintf("%s/command/%s/%s/%s", TopicPrefix, Protocol, device, property)
}

// AllCommands matches every property command for every device.
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+/+", TopicPrefix, Protocol)
}

// Availability returns the retained availability topic for a device.
func (Topics) Availability(device string) string {
	return fmt.Sprintf("%s/availability/%s/%s", TopicPrefix, Protocol, device)
}

// Health returns the retained gateway health topic.
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// Pairing returns the topic carrying pairing session progress.
func (Topics) Pairing() string {
	return fmt.Sprintf("%s/pairing/%s", TopicPrefix, Protocol)
}

// Event returns the topic for gateway events of the given kind.
func (Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefix, Protocol, kind)
}

// ParseCommand extracts device and property from a command topic.
func (Topics) ParseCommand(topic string) (device, property string, err error) {
	prefix := fmt.Sprintf("%s/command/%s/", TopicPrefix, Protocol)
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}
	device, property, ok = strings.Cut(rest, "/")
	if !ok || device == "" || property == "" || strings.Contains(property, "/") {
		return "", "", fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}
	return device, property, nil
}

// CoordinatorTopics builds topics in the coordinator's own layout
// (zigbee2mqtt style) under a configurable base topic.
type CoordinatorTopics struct {
	Base string
}

// BridgeDevices is the retained device list with model definitions.
func (t CoordinatorTopics) BridgeDevices() string { return t.Base + "/bridge/devices" }

// BridgeInfo is the retained coordinator info document (includes permit_join).
func (t CoordinatorTopics) BridgeInfo() string { return t.Base + "/bridge/info" }

// BridgeEvent carries join/announce/interview/leave events.
func (t CoordinatorTopics) BridgeEvent() string { return t.Base + "/bridge/event" }

// BridgeRequest returns the request topic for a coordinator operation such as
// "permit_join" or "device/configure".
func (t CoordinatorTopics) BridgeRequest(name string) string {
	return t.Base + "/bridge/request/" + name
}

// BridgeResponse returns the response topic for a coordinator operation.
func (t CoordinatorTopics) BridgeResponse(name string) string {
	return t.Base + "/bridge/response/" + name
}

// AllBridgeResponses matches every coordinator response.
func (t CoordinatorTopics) AllBridgeResponses() string { return t.Base + "/bridge/response/#" }

// Device is the topic on which a device's reported state arrives.
func (t CoordinatorTopics) Device(name string) string { return t.Base + "/" + name }

// DeviceSet is the topic for writing to a device or group.
func (t CoordinatorTopics) DeviceSet(name string) string { return t.Base + "/" + name + "/set" }

// DeviceGet is the topic for requesting a read from a device.
func (t CoordinatorTopics) DeviceGet(name string) string { return t.Base + "/" + name + "/get" }

// AllDevices matches every topic under the base, bridge topics included.
// Use DeviceName to filter.
func (t CoordinatorTopics) AllDevices() string { return t.Base + "/#" }

// DeviceName returns the friendly name a device state topic belongs to.
// ok is false for bridge topics and for set/get/availability sub-topics.
func (t CoordinatorTopics) DeviceName(topic string) (name string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Base+"/")
	if !found || rest == "" || rest == "bridge" || strings.HasPrefix(rest, "bridge/") {
		return "", false
	}
	for _, suffix := range []string{"/set", "/get", "/availability"} {
		if strings.HasSuffix(rest, suffix) {
			return "", false
		}
	}
	return rest, true
}
