package duplex

import "errors"

var (
	// ErrDuplicateHandler is returned when a handler name is registered twice.
	// The first registration is retained.
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrNotConnected is returned when an operation requires a connected
	// channel. Reconnecting makes the channel usable again.
	ErrNotConnected = errors.New("channel is not connected")

	// ErrAlreadyConnected is returned by Connect while a connection is live.
	// The existing connection is left untouched.
	ErrAlreadyConnected = errors.New("channel is already connected")

	// ErrUnroutableMessage indicates an inbound envelope whose name has no
	// registered handler. It signals a registration mismatch between peers,
	// not a transient condition.
	ErrUnroutableMessage = errors.New("no handler registered for message")
)
