package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// ConsentRepo flips opt-in records when a recipient unsubscribes.
type ConsentRepo struct{ db *sql.DB }

// NewConsentRepo creates a Postgres-backed consent store.
func NewConsentRepo(db *sql.DB) *ConsentRepo { return &ConsentRepo{db: db} }

// DeactivateConsent reports whether an active consent record was changed.
func (r *ConsentRepo) DeactivateConsent(ctx context.Context, email string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE consent_records SET is_active = false, updated_at = NOW() WHERE email = $1 AND is_active`,
		email,
	)
	if err != nil {
		return false, fmt.Errorf("deactivate consent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
