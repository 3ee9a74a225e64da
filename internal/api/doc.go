// Package api implements the HTTP REST API and WebSocket endpoint for MeshLab Core.
//
// This package provides:
//   - REST endpoints for the device cache, device commands, groups and network info
//   - Pairing window control for teachers and administrators
//   - Booking create, edit, cancel and availability queries
//   - Lab update and lab result publishing
//   - A WebSocket endpoint whose connections are registered with the fan-out manager
//
// # Architecture
//
// The API is a thin layer. Reads come from the device cache and booking
// scheduler; commands go to the bridge feed; every push to clients goes
// through the fan-out manager. Handlers never touch the bus directly.
//
// # Security
//
// Every route except /health requires a JWT signed with the configured
// secret. The token carries the user ID and role. Browsers cannot set headers
// on a WebSocket handshake, so /ws also accepts the token as a query parameter.
//
// Students may only command a device while they hold its current booking.
//
// # Graceful Degradation
//
// With the bus down, reads, bookings and WebSocket connections keep working;
// commands and pairing fail with 503.
package api
