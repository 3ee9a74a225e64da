package booking

import (
	"strings"
	"time"

	"github.com/nerrad567/meshlab-core/internal/auth"
)

// Status is the lifecycle state of a booking. Only active bookings block
// a device; completed and cancelled ones are never changed again.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// maxPurposeLength bounds the free-text purpose of a booking.
const maxPurposeLength = 500

// Booking is an exclusive reservation of one device over [Start, End).
type Booking struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	UserID    string    `json:"user_id"`
	Start     time.Time `json:"start_time"`
	End       time.Time `json:"end_time"`
	Purpose   string    `json:"purpose,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overlaps reports whether b intersects the half-open interval [start, end).
// Intervals that only touch do not overlap.
func (b Booking) Overlaps(start, end time.Time) bool {
	return !(!b.End.After(start) || !b.Start.Before(end))
}

// Contains reports whether t falls inside [Start, End).
func (b Booking) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// CreateRequest asks for a new booking.
type CreateRequest struct {
	DeviceID string    `json:"device_id"`
	UserID   string    `json:"-"`
	Start    time.Time `json:"start_time"`
	End      time.Time `json:"end_time"`
	Purpose  string    `json:"purpose"`
}

// Patch edits an active booking; nil fields are left unchanged.
type Patch struct {
	Start   *time.Time `json:"start_time,omitempty"`
	End     *time.Time `json:"end_time,omitempty"`
	Purpose *string    `json:"purpose,omitempty"`
}

func (p Patch) changesInterval() bool {
	return p.Start != nil || p.End != nil
}

func (p Patch) empty() bool {
	return p.Start == nil && p.End == nil && p.Purpose == nil
}

// Actor is the caller of an update or cancellation.
type Actor struct {
	UserID string
	Role   auth.Role
}

// canManage reports whether the actor may change b.
func (a Actor) canManage(b *Booking) bool {
	return a.UserID == b.UserID || a.Role.IsPrivileged()
}

// Availability summarises a device's timeline at one instant.
type Availability struct {
	DeviceID       string     `json:"device_id"`
	IsAvailable    bool       `json:"is_available"`
	CurrentBooking *Booking   `json:"current_booking"`
	NextAvailable  *time.Time `json:"next_available"`
	QueueLength    int        `json:"queue_length"`
}

// Action names a booking lifecycle change for notifications.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionCancelled Action = "cancelled"
	ActionCompleted Action = "completed"
)

func normalisePurpose(s string) string {
	return strings.TrimSpace(s)
}
