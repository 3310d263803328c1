package feedback

import "errors"

var (
	// ErrInvalidFeedback is returned for a single notification that cannot
	// be applied: unknown type, bad email or bad bounce type.
	ErrInvalidFeedback = errors.New("invalid feedback event")

	// ErrInvalidPayload is returned when a webhook body is not a JSON array.
	ErrInvalidPayload = errors.New("feedback payload must be a JSON array")
)
