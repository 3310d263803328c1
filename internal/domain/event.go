package domain

import (
	"time"
)

// EventStatus enumerates the lifecycle of a queued communication event.
type EventStatus string

const (
	StatusQueued     EventStatus = "queued"
	StatusProcessing EventStatus = "processing"
	StatusSent       EventStatus = "sent"
	StatusFailed     EventStatus = "failed"
	StatusSuppressed EventStatus = "suppressed"
)

// IsTerminal returns true if no further status transition is allowed.
func (s EventStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusSuppressed
}

// Priority is a claim-ordering hint, not a strict guarantee.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// Rank orders priorities for claiming; higher ranks are claimed first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// CommunicationEvent is one logical message to one recipient.
type CommunicationEvent struct {
	ID             string      `json:"id" db:"id"`
	IdempotencyKey string      `json:"idempotency_key" db:"idempotency_key"`
	EventType      string      `json:"event_type" db:"event_type"`
	BusinessRef    string      `json:"business_ref,omitempty" db:"business_ref"`
	RecipientEmail string      `json:"recipient_email" db:"recipient_email"`
	TemplateKey    string      `json:"template_key" db:"template_key"`
	Variables      Variables   `json:"variables" db:"variables"`
	Priority       Priority    `json:"priority" db:"priority"`
	Status         EventStatus `json:"status" db:"status"`
	RetryCount     int         `json:"retry_count" db:"retry_count"`
	MaxRetries     int         `json:"max_retries" db:"max_retries"`
	ScheduledAt    time.Time   `json:"scheduled_at" db:"scheduled_at"`
	LastError      string      `json:"last_error,omitempty" db:"last_error"`
	ExternalID     string      `json:"external_id,omitempty" db:"external_id"`
	Provider       string      `json:"provider,omitempty" db:"provider"`
	DeliveryStatus string      `json:"delivery_status,omitempty" db:"delivery_status"`
	ClaimedAt      *time.Time  `json:"claimed_at,omitempty" db:"claimed_at"`
	// ClaimToken identifies the claim that moved the event to processing.
	// Only the holder of the current token may report an outcome.
	ClaimToken     string      `json:"-" db:"claim_token"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// RetriesExhausted reports whether one more failure would exceed MaxRetries.
func (e *CommunicationEvent) RetriesExhausted() bool {
	return e.RetryCount+1 > e.MaxRetries
}

// OutcomeStatus is the result the dispatcher writes back for a claimed event.
type OutcomeStatus string

const (
	OutcomeSent       OutcomeStatus = "sent"
	OutcomeSuppressed OutcomeStatus = "suppressed"
	OutcomeFailed     OutcomeStatus = "failed"
	OutcomeRetry      OutcomeStatus = "retry"
)

// Outcome describes the transition applied to a processing event.
type Outcome struct {
	EventID    string
	ClaimToken string // must match the event's current claim
	Status     OutcomeStatus
	ExternalID string
	Provider   string
	Error      string
	// NextAttemptAt is required for OutcomeRetry.
	NextAttemptAt time.Time
}
