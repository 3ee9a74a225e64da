package fanout

import "errors"

// Delivery and registry errors.
var (
	// ErrSendBufferFull is returned by a Conn whose outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrConnClosed is returned by a Conn that has already been closed.
	ErrConnClosed = errors.New("connection closed")

	ErrUnknownConn   = errors.New("unknown connection")
	ErrDuplicateConn = errors.New("connection already registered")
	ErrInvalidKind   = errors.New("invalid subscription kind")
	ErrEmptyKey      = errors.New("subscription key is required")

	// ErrClosed is returned by Register after Close has started.
	ErrClosed = errors.New("fan-out manager closed")
)
