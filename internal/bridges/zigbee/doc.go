// Package zigbee is the gateway's transport to the Zigbee coordinator.
//
// The coordinator is a zigbee2mqtt-style service reached over MQTT. This
// package owns that conversation and nothing else: it keeps the device
// list the coordinator publishes, turns bridge events and device state
// messages into Events, and offers request/response operations (ping,
// configure, permit join) matched to their responses by transaction id.
//
//	┌──────────────┐  Events   ┌──────────────┐   MQTT    ┌─────────────┐
//	│  Supervisor  │◄─────────►│   Adapter    │◄─────────►│ Coordinator │
//	└──────────────┘  Publish  │  (this pkg)  │           └─────────────┘
//	                  Read...  └──────────────┘
//
// # Topics
//
// All coordinator topics live under the configured base topic
// (default "zigbee2mqtt"):
//
//   - {base}/bridge/devices: retained device list with model definitions
//   - {base}/bridge/info: retained coordinator info, including permit_join
//   - {base}/bridge/event: join, announce, interview, leave, rename
//   - {base}/bridge/request/{op} and {base}/bridge/response/{op}
//   - {base}/{name}: device state, {base}/{name}/set and {base}/{name}/get
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
// Event handlers are called from the MQTT client's delivery goroutine and
// must not block.
package zigbee
