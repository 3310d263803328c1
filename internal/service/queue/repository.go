package queue

import (
	"context"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// Repository defines the data access contract for the event queue.
// Implementations must be safe for concurrent use by multiple processes.
type Repository interface {
	// UpsertQueued inserts e as a new queued event, or, when a queued or
	// processing event with the same idempotency key exists, merges e's
	// variables into it, replaces its template key when e has one, and
	// returns the existing id with existing=true. Atomic on the key.
	UpsertQueued(ctx context.Context, e *domain.CommunicationEvent) (id string, existing bool, err error)

	// Claim moves up to limit queued events with scheduled_at <= now to
	// processing and returns them, high priority first, then oldest
	// scheduled. No event is ever returned to two callers. Every claimed
	// event carries a fresh ClaimToken.
	Claim(ctx context.Context, limit int, now time.Time) ([]domain.CommunicationEvent, error)

	// ApplyOutcome performs the transition described by o on an event that
	// is currently processing under o.ClaimToken. Returns ErrClaimLost if
	// another claim holds it, ErrInvalidTransition if it is not processing
	// and ErrNotFound if it does not exist.
	ApplyOutcome(ctx context.Context, o domain.Outcome, now time.Time) error

	// Get returns one event. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.CommunicationEvent, error)

	// SetDeliveryStatus records the informational delivery status for the
	// event whose provider message id is externalID and returns that event.
	// It never touches status. Returns ErrNotFound if nothing matches.
	SetDeliveryStatus(ctx context.Context, externalID, deliveryStatus string, now time.Time) (*domain.CommunicationEvent, error)

	// RecoverStale returns processing events claimed before claimedBefore to
	// queued, counting the lost attempt, or fails them when that attempt
	// exhausts their retries.
	RecoverStale(ctx context.Context, claimedBefore, now time.Time) (RecoveryResult, error)
}

// RecoveryResult counts what a stale sweep did.
type RecoveryResult struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

// StaleRecoveredError is the last_error written on events put back by
// RecoverStale.
const StaleRecoveredError = "stale claim recovered: worker did not report an outcome"
