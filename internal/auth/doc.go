// Package auth verifies the bearer tokens presented to the gateway API.
//
// Tokens are HS256 JWTs issued by the platform. The subject names the caller
// and the role claim selects a fixed permission set:
//   - viewer reads devices and events
//   - operator also writes properties and opens join windows
//   - admin also reconfigures devices and reads the audit log
//
// The mapping is static; there is no user database on the gateway.
package auth
