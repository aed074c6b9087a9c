// Package store is the gateway's property store.
//
// It keeps the last value of every device property in memory, persists it to
// the property_values table, and mirrors confirmed values to retained MQTT
// state topics:
//
//	graylogic/state/zigbee/{device}/{property}
//
// A value is either confirmed (the device reported it, or the dispatcher
// published it) or requested (a user asked for it and the write is still in
// flight). GetValue only ever returns confirmed values, so a write is planned
// against what the device last reported.
//
// User writes arrive on command topics and are handed to the OnUserWrite
// handler:
//
//	graylogic/command/zigbee/{device}/{property}
//
// The payload is a JSON value, or an object {"value": ..., "options": {...}}
// to pass per-write options such as transition_time.
package store
