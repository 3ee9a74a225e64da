package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID or friendly name is not in the cache.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrGroupNotFound is returned when a group ID is not in the cache.
	ErrGroupNotFound = errors.New("device: group not found")

	// ErrGroupMetaNotFound is returned when no metadata row exists for a group.
	ErrGroupMetaNotFound = errors.New("device: group metadata not found")

	// ErrInvalidGroupMeta is returned when a metadata update fails validation.
	ErrInvalidGroupMeta = errors.New("device: invalid group metadata")
)
