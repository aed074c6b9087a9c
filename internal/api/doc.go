// Package api implements the gateway's HTTP REST API and WebSocket server.
//
// This package provides:
//   - Read endpoints for devices, their descriptors and current values
//   - Write, plan and reconfigure endpoints that drive the device supervisor
//   - Pairing control (open and close the join window)
//   - A WebSocket hub that relays supervisor events to subscribed clients
//   - A Prometheus scrape endpoint
//
// # Security
//
// Read endpoints are open on the local network. Endpoints that change device
// state or open the join window require an HS256 JWT signed with the
// configured secret. WebSocket connections authenticate with single-use
// tickets so tokens never appear in URLs.
package api
