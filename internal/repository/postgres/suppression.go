package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppression_entries WHERE email = $1 AND is_active)`,
		email,
	).Scan(&exists)
	return exists, err
}

// reasonSeverity mirrors domain.SuppressionReason.Severity.
func reasonSeverity(col string) string {
	return `CASE ` + col + ` WHEN 'complaint' THEN 4 WHEN 'hard_bounce' THEN 3
		WHEN 'unsubscribe' THEN 2 WHEN 'soft_bounce' THEN 1 ELSE 0 END`
}

// An active entry keeps its reason, and the source, provider and detail
// that came with it, unless the new signal is more severe.
var keepActiveReason = `suppression_entries.is_active AND ` +
	reasonSeverity("suppression_entries.reason") + ` >= ` + reasonSeverity("EXCLUDED.reason")

func (r *SuppressionRepo) Upsert(ctx context.Context, e *domain.SuppressionEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_entries (email, reason, source, provider, detail, is_active, suppressed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $7)
		ON CONFLICT (email) DO UPDATE SET
			reason = CASE WHEN `+keepActiveReason+` THEN suppression_entries.reason ELSE EXCLUDED.reason END,
			source = CASE WHEN `+keepActiveReason+` THEN suppression_entries.source ELSE EXCLUDED.source END,
			provider = CASE WHEN `+keepActiveReason+` THEN suppression_entries.provider ELSE EXCLUDED.provider END,
			detail = CASE WHEN `+keepActiveReason+` THEN suppression_entries.detail ELSE EXCLUDED.detail END,
			suppressed_at = CASE WHEN suppression_entries.is_active
				THEN suppression_entries.suppressed_at ELSE EXCLUDED.suppressed_at END,
			is_active = true,
			updated_at = EXCLUDED.updated_at
	`, e.Email, e.Reason, e.Source, e.Provider, e.Detail, e.SuppressedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	return nil
}

const suppressionColumns = `email, reason, source, provider, detail, is_active, suppressed_at, updated_at`

func scanSuppression(s rowScanner) (*domain.SuppressionEntry, error) {
	var e domain.SuppressionEntry
	if err := s.Scan(&e.Email, &e.Reason, &e.Source, &e.Provider, &e.Detail,
		&e.IsActive, &e.SuppressedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *SuppressionRepo) Get(ctx context.Context, email string) (*domain.SuppressionEntry, error) {
	e, err := scanSuppression(r.db.QueryRowContext(ctx,
		`SELECT `+suppressionColumns+` FROM suppression_entries WHERE email = $1`, email))
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression: %w", err)
	}
	return e, nil
}

func (r *SuppressionRepo) Deactivate(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE suppression_entries SET is_active = false, updated_at = NOW() WHERE email = $1`,
		email,
	)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	where := []string{"1=1"}
	var args []interface{}
	idx := 1
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	if f.Reason != "" {
		where = append(where, fmt.Sprintf("reason = $%d", idx))
		args = append(args, f.Reason)
		idx++
	}
	if f.Source != "" {
		where = append(where, fmt.Sprintf("source = $%d", idx))
		args = append(args, f.Source)
		idx++
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf("email LIKE $%d", idx))
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		idx++
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppression_entries WHERE `+clause, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	query := `SELECT ` + suppressionColumns + ` FROM suppression_entries WHERE ` + clause +
		` ORDER BY suppressed_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
		idx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		e, err := scanSuppression(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}
