// Package pairing manages the coordinator's permit-join window.
//
// One session is active at a time; starting a new one replaces the running
// countdown. While a session is open the controller broadcasts the
// remaining time every second. The coordinator's permit-join-changed event,
// not the local countdown, decides when the window has closed. If that
// event never arrives the session is closed locally after a grace period.
package pairing
