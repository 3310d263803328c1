package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/queue"
)

const eventColumns = `id, idempotency_key, event_type, business_ref, recipient_email, template_key,
	variables, priority, status, retry_count, max_retries, scheduled_at, last_error,
	external_id, provider, delivery_status, claimed_at, claim_token, created_at, updated_at`

// priority rank used for claim ordering; matches domain.Priority.Rank
const priorityRank = `CASE priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END`

// uniqueViolation is the SQLSTATE raised when two enqueues race on the
// in-flight idempotency index.
const uniqueViolation = "23505"

var inFlightStatuses = pq.Array([]string{string(domain.StatusQueued), string(domain.StatusProcessing)})

// EventRepo implements queue.Repository against PostgreSQL.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event queue.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s rowScanner) (*domain.CommunicationEvent, error) {
	var (
		e          domain.CommunicationEvent
		claimedAt  sql.NullTime
		claimToken sql.NullString
	)
	err := s.Scan(
		&e.ID, &e.IdempotencyKey, &e.EventType, &e.BusinessRef, &e.RecipientEmail, &e.TemplateKey,
		&e.Variables, &e.Priority, &e.Status, &e.RetryCount, &e.MaxRetries, &e.ScheduledAt, &e.LastError,
		&e.ExternalID, &e.Provider, &e.DeliveryStatus, &claimedAt, &claimToken, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		e.ClaimedAt = &t
	}
	e.ClaimToken = claimToken.String
	return &e, nil
}

func (r *EventRepo) UpsertQueued(ctx context.Context, e *domain.CommunicationEvent) (string, bool, error) {
	// A concurrent insert for the same key loses on the partial unique
	// index; the retry then finds and folds into the winner's row.
	for attempt := 0; attempt < 3; attempt++ {
		id, existing, err := r.upsertOnce(ctx, e)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			continue
		}
		return id, existing, err
	}
	return "", false, fmt.Errorf("upsert event %s: too much contention", e.IdempotencyKey)
}

func (r *EventRepo) upsertOnce(ctx context.Context, e *domain.CommunicationEvent) (string, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		id   string
		vars domain.Variables
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, variables FROM communication_events
		WHERE idempotency_key = $1 AND status = ANY($2)
		FOR UPDATE
	`, e.IdempotencyKey, inFlightStatuses).Scan(&id, &vars)

	switch {
	case err == nil:
		merged := vars.Merge(e.Variables)
		if _, err := tx.ExecContext(ctx, `
			UPDATE communication_events
			SET variables = $2,
			    template_key = COALESCE(NULLIF($3, ''), template_key),
			    updated_at = $4
			WHERE id = $1
		`, id, merged, e.TemplateKey, e.UpdatedAt); err != nil {
			return "", false, fmt.Errorf("fold event: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", false, fmt.Errorf("commit: %w", err)
		}
		return id, true, nil

	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO communication_events (
				id, idempotency_key, event_type, business_ref, recipient_email, template_key,
				variables, priority, status, retry_count, max_retries, scheduled_at,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'queued', 0, $9, $10, $11, $12)
		`, e.ID, e.IdempotencyKey, e.EventType, e.BusinessRef, e.RecipientEmail, e.TemplateKey,
			e.Variables, e.Priority, e.MaxRetries, e.ScheduledAt, e.CreatedAt, e.UpdatedAt)
		if err != nil {
			return "", false, err
		}
		if err := tx.Commit(); err != nil {
			return "", false, fmt.Errorf("commit: %w", err)
		}
		return e.ID, false, nil

	default:
		return "", false, fmt.Errorf("lookup in-flight event: %w", err)
	}
}

func (r *EventRepo) Claim(ctx context.Context, limit int, now time.Time) ([]domain.CommunicationEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE communication_events
			SET status = 'processing',
			    claimed_at = $2,
			    claim_token = $3,
			    updated_at = $2
			WHERE id IN (
				SELECT id FROM communication_events
				WHERE status = 'queued'
				  AND scheduled_at <= $2
				ORDER BY `+priorityRank+` DESC, scheduled_at ASC
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+eventColumns+`
		)
		SELECT `+eventColumns+` FROM claimed
		ORDER BY `+priorityRank+` DESC, scheduled_at ASC
	`, limit, now, uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	defer rows.Close()

	var out []domain.CommunicationEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *EventRepo) ApplyOutcome(ctx context.Context, o domain.Outcome, now time.Time) error {
	var (
		res sql.Result
		err error
	)
	switch o.Status {
	case domain.OutcomeSent:
		res, err = r.db.ExecContext(ctx, `
			UPDATE communication_events
			SET status = 'sent', external_id = $3, provider = $4,
			    claimed_at = NULL, claim_token = NULL, updated_at = $5
			WHERE id = $1 AND status = 'processing' AND claim_token = $2
		`, o.EventID, o.ClaimToken, o.ExternalID, o.Provider, now)
	case domain.OutcomeSuppressed:
		res, err = r.db.ExecContext(ctx, `
			UPDATE communication_events
			SET status = 'suppressed', last_error = $3,
			    claimed_at = NULL, claim_token = NULL, updated_at = $4
			WHERE id = $1 AND status = 'processing' AND claim_token = $2
		`, o.EventID, o.ClaimToken, o.Error, now)
	case domain.OutcomeFailed:
		res, err = r.db.ExecContext(ctx, `
			UPDATE communication_events
			SET status = 'failed', last_error = $3, provider = COALESCE(NULLIF($4, ''), provider),
			    claimed_at = NULL, claim_token = NULL, updated_at = $5
			WHERE id = $1 AND status = 'processing' AND claim_token = $2
		`, o.EventID, o.ClaimToken, o.Error, o.Provider, now)
	case domain.OutcomeRetry:
		res, err = r.db.ExecContext(ctx, `
			UPDATE communication_events
			SET status = 'queued', retry_count = retry_count + 1, scheduled_at = $3, last_error = $4,
			    provider = COALESCE(NULLIF($5, ''), provider),
			    claimed_at = NULL, claim_token = NULL, updated_at = $6
			WHERE id = $1 AND status = 'processing' AND claim_token = $2 AND retry_count < max_retries
		`, o.EventID, o.ClaimToken, o.NextAttemptAt, o.Error, o.Provider, now)
	default:
		return queue.ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("apply %s outcome: %w", o.Status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply %s outcome: rows affected: %w", o.Status, err)
	}
	if n > 0 {
		return nil
	}

	// nothing moved: work out why
	var (
		status domain.EventStatus
		token  sql.NullString
	)
	err = r.db.QueryRowContext(ctx,
		`SELECT status, claim_token FROM communication_events WHERE id = $1`, o.EventID,
	).Scan(&status, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check event: %w", err)
	}
	if status == domain.StatusProcessing && token.String != o.ClaimToken {
		return queue.ErrClaimLost
	}
	return queue.ErrInvalidTransition
}

func (r *EventRepo) Get(ctx context.Context, id string) (*domain.CommunicationEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM communication_events WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (r *EventRepo) SetDeliveryStatus(ctx context.Context, externalID, status string, now time.Time) (*domain.CommunicationEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `
		UPDATE communication_events
		SET delivery_status = $2, updated_at = $3
		WHERE id = (
			SELECT id FROM communication_events
			WHERE external_id = $1
			ORDER BY updated_at DESC
			LIMIT 1
		)
		RETURNING `+eventColumns, externalID, status, now))
	if err == sql.ErrNoRows {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set delivery status: %w", err)
	}
	return e, nil
}

func (r *EventRepo) RecoverStale(ctx context.Context, claimedBefore, now time.Time) (queue.RecoveryResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.RecoveryResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var res queue.RecoveryResult

	// fail the ones whose lost attempt was their last
	out, err := tx.ExecContext(ctx, `
		UPDATE communication_events
		SET status = 'failed', last_error = $3, claimed_at = NULL, claim_token = NULL, updated_at = $2
		WHERE status = 'processing' AND claimed_at < $1 AND retry_count + 1 > max_retries
	`, claimedBefore, now, queue.StaleRecoveredError)
	if err != nil {
		return res, fmt.Errorf("fail stale events: %w", err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return res, fmt.Errorf("fail stale events: %w", err)
	}
	res.Failed = int(n)

	out, err = tx.ExecContext(ctx, `
		UPDATE communication_events
		SET status = 'queued', retry_count = retry_count + 1, scheduled_at = $2,
		    last_error = $3, claimed_at = NULL, claim_token = NULL, updated_at = $2
		WHERE status = 'processing' AND claimed_at < $1
	`, claimedBefore, now, queue.StaleRecoveredError)
	if err != nil {
		return res, fmt.Errorf("requeue stale events: %w", err)
	}
	n, err = out.RowsAffected()
	if err != nil {
		return res, fmt.Errorf("requeue stale events: %w", err)
	}
	res.Requeued = int(n)

	if err := tx.Commit(); err != nil {
		return queue.RecoveryResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}
