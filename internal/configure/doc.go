// Package configure drives the one-time configuration procedure of each
// Zigbee device (bindings and attribute reporting) with a bounded number
// of attempts.
//
// A device moves NotConfigured → Configuring → Configured, or back to
// NotConfigured when an attempt fails. Join, announce and interview events
// each trigger Ensure; an in-progress flag keeps overlapping triggers from
// starting a second attempt. Once the attempt bound is reached the device
// stays NotConfigured for the rest of the session unless Reconfigure is
// called.
//
// Success persists the procedure's key. A device whose stored key matches
// its model's current key is never configured again; changing the key in
// the catalog forces reconfiguration.
package configure
