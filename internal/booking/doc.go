// Package booking schedules exclusive device reservations.
//
// For any device, no two active bookings overlap on the half-open
// intervals [start, end). The check-then-insert that enforces this runs
// inside a per-device critical section, so requests for the same device
// are serialised while different devices proceed in parallel.
//
// Status changes are compare-and-swap from active. The sweeper flips
// bookings whose end has passed to completed; an actor cancels or edits
// a booking while it is still active. A booking that left active is never
// written again.
//
// Timestamps are stored as fixed-width UTC text so SQLite orders and
// compares them correctly as strings.
package booking
