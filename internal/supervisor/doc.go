// Package supervisor owns the runtime record of every device and routes
// coordinator events to the state machines.
//
//	coordinator events ──▶ Supervisor ──▶ availability.Machine (Track/Seen/Remove)
//	                            │      ──▶ configure.Machine    (Ensure)
//	                            │      ──▶ descriptor.Registry  (DescribeModel/Decode)
//	                            │      ──▶ store.Store          (confirmed values)
//	user writes (MQTT, HTTP) ───┴────▶ dispatch.Dispatcher ──▶ coordinator
//
// The Supervisor has an explicit lifecycle: Start wires the handlers and
// starts the availability sweep, Stop cancels every device scope, stops the
// timers and waits for in-flight work. Removing a device cancels its scope,
// which abandons cascade ops that have not fired, stops its ping timer and
// clears its configure state before Remove returns.
package supervisor
