// Package availability tracks whether each Zigbee device is reachable.
//
// Devices are split by power class. Pingable devices (mains powered
// routers) are probed on a per-device timer; a failed probe marks them
// Offline, a successful one Online, and the timer is always rescheduled.
// Sleepy devices (battery end devices) cannot be probed: a periodic sweep
// marks them Offline when nothing has been heard from them for longer than
// the sleepy timeout.
//
// Any traffic from a device counts as a sign of life (Seen). A device that
// comes back from Offline triggers a best-effort resync of the properties
// most likely to have drifted while it was away.
//
// Every actual state change produces exactly one notification.
package availability
