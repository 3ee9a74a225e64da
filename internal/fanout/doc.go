// Package fanout pushes typed events to live client connections.
//
// A Manager keeps a connection registry and four subscription indices:
// by user, by role, by device and by lab. A connection is added to its
// user and role indices when it registers and to device or lab indices
// when the client subscribes.
//
// Publish looks up one index, snapshots the recipients under a read lock
// and delivers to each without holding any lock. A failed delivery never
// affects the other recipients; the failing connection is disconnected
// after the loop.
//
// A booking event goes to the device's subscribers, the requester and
// every teacher and admin. A connection found on more than one of those
// axes receives the event once per axis; clients handle repeats.
package fanout
