package lua

import "errors"

var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when a chunk or handler runs past
	// the execution timeout.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrUnknownKind is returned by events.on for kinds scripts cannot
	// subscribe to.
	ErrUnknownKind = errors.New("unknown event kind")
)
