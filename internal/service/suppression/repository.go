package suppression

import (
	"context"

	"github.com/ignite/mailflow/internal/domain"
)

// Repository defines the data access contract for the suppression list.
// Emails passed in are already normalized.
type Repository interface {
	// IsSuppressed returns true if the email has an active entry.
	IsSuppressed(ctx context.Context, email string) (bool, error)

	// Upsert creates the entry or re-activates and updates an existing one.
	// The original SuppressedAt is kept while the entry stays active.
	Upsert(ctx context.Context, e *domain.SuppressionEntry) error

	// Get returns the entry for email, active or not. Returns ErrNotFound
	// if the address was never suppressed.
	Get(ctx context.Context, email string) (*domain.SuppressionEntry, error)

	// Deactivate clears IsActive. Returns ErrNotFound if there is no entry.
	Deactivate(ctx context.Context, email string) error

	// List returns entries matching the filter plus the total match count.
	List(ctx context.Context, filter ListFilter) ([]domain.SuppressionEntry, int, error)
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Reason     string
	Source     string
	Search     string
	ActiveOnly bool
	Limit      int // <= 0 returns every match
	Offset     int
}
