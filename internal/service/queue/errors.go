package queue

import (
	"errors"
	"fmt"
)

// Sentinel errors for the queue service layer.
var (
	ErrNotFound          = errors.New("event not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidEvent      = errors.New("invalid event")

	// ErrClaimLost is returned when an outcome carries a claim token the
	// event no longer holds, e.g. after stale recovery handed it to
	// another dispatcher.
	ErrClaimLost = fmt.Errorf("%w: claim no longer held", ErrInvalidTransition)
)
