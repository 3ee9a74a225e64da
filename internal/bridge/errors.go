package bridge

import "errors"

var (
	// ErrInvalidPayload is returned when a message cannot be decoded for its topic.
	ErrInvalidPayload = errors.New("bridge: invalid payload")

	// ErrInvalidTarget is returned when a command has no device or group.
	ErrInvalidTarget = errors.New("bridge: invalid command target")

	// ErrInvalidCommand is returned when a command payload is empty.
	ErrInvalidCommand = errors.New("bridge: invalid command payload")

	errMissingEventType = errors.New("missing event type")
)
