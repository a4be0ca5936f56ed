// Package core defines sentinel errors shared by every layer of the stack.
package core

import "errors"

// Sentinel errors. Layers wrap them with fmt.Errorf("%w: ...") to add context,
// callers match with errors.Is.
var (
	// Routing label / frame errors
	ErrFrameTooShort = errors.New("isup: frame too short")

	// Message decoding errors
	ErrUnknownMessageType = errors.New("isup: unknown message type")
	ErrMalformedParameter = errors.New("isup: malformed parameter")

	// Message encoding errors
	ErrMissingMandatoryParameter = errors.New("isup: missing mandatory parameter")

	// Timer errors
	ErrDuplicateTimer = errors.New("isup: timer already running")

	// Configuration errors
	ErrMissingOption = errors.New("isup: missing required option")
	ErrConfigInvalid = errors.New("isup: invalid configuration")

	// Transport errors
	ErrUnsupportedOperation = errors.New("isup: unsupported operation")
	ErrQueueFull            = errors.New("isup: receive queue full")
	ErrClosed               = errors.New("isup: closed")
	ErrLinkNotFound         = errors.New("isup: link not found")
	ErrLinkExists           = errors.New("isup: link already exists")
	ErrNoRoute              = errors.New("isup: no route to destination")

	// Event bus errors
	ErrListenerExists   = errors.New("isup: listener already registered")
	ErrListenerNotFound = errors.New("isup: listener not registered")

	// Engine lifecycle errors
	ErrNotConfigured  = errors.New("isup: engine not configured")
	ErrNotStarted     = errors.New("isup: engine not started")
	ErrAlreadyStarted = errors.New("isup: engine already started")
)
