package booking

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors returned by the scheduler and repository.
var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrConflict        = errors.New("booking conflicts with an existing booking")
	ErrInvalidInterval = errors.New("booking start must be before end")
	ErrStartInPast     = errors.New("booking start is in the past")
	ErrUnknownDevice   = errors.New("unknown device")
	ErrInvalidBooking  = errors.New("invalid booking")
	ErrNotActive       = errors.New("booking is no longer active")
	ErrAlreadyEnded    = errors.New("booking has already ended")
	ErrForbidden       = errors.New("not allowed to change this booking")
)

// ConflictError is returned when a requested interval overlaps an active
// booking. errors.Is(err, ErrConflict) holds.
type ConflictError struct {
	Existing Booking
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s holds %s from %s to %s",
		ErrConflict, e.Existing.ID, e.Existing.DeviceID,
		e.Existing.Start.Format(time.RFC3339), e.Existing.End.Format(time.RFC3339))
}

// Is reports ErrConflict as a match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
