package pairing

import "errors"

// Domain errors returned by the coordinator.
var (
	// ErrPairingActive is returned by Start while a window is open, or while
	// a permit-join request for one is still in flight.
	ErrPairingActive = errors.New("pairing already active")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("pairing coordinator closed")

	// ErrInvalidDuration is returned when the window length is not positive
	// or exceeds the configured maximum.
	ErrInvalidDuration = errors.New("invalid pairing duration")

	// ErrNotDiscovered is returned when confirming a device that was not
	// collected during a pairing window.
	ErrNotDiscovered = errors.New("device not discovered")

	// ErrDeviceNotConfirmed is returned when a discovered device did not
	// appear in the refreshed device snapshot in time.
	ErrDeviceNotConfirmed = errors.New("device not confirmed by bridge")
)
