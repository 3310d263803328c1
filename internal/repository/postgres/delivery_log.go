package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailflow/internal/domain"
)

// DeliveryLogRepo implements reputation.LogRepository against PostgreSQL.
type DeliveryLogRepo struct{ db *sql.DB }

// NewDeliveryLogRepo creates a Postgres-backed delivery log.
func NewDeliveryLogRepo(db *sql.DB) *DeliveryLogRepo { return &DeliveryLogRepo{db: db} }

func (r *DeliveryLogRepo) Append(ctx context.Context, l *domain.DeliveryLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_logs (
			id, event_id, event_external_id, provider, event_type, recipient,
			sending_domain, latency_ms, raw_response, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, l.ID, l.EventID, l.EventExternalID, l.Provider, l.EventType, l.Recipient,
		l.SendingDomain, l.LatencyMS, l.RawResponse, l.Timestamp)
	if err != nil {
		return fmt.Errorf("append delivery log: %w", err)
	}
	return nil
}

func (r *DeliveryLogRepo) Counts(ctx context.Context, scope domain.HealthScope, subject string, since time.Time) (domain.DeliveryCounts, error) {
	var column string
	switch scope {
	case domain.ScopeProvider:
		column = "provider"
	case domain.ScopeDomain:
		column = "sending_domain"
	default:
		return domain.DeliveryCounts{}, fmt.Errorf("unknown health scope %q", scope)
	}

	var c domain.DeliveryCounts
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE event_type = 'sent'),
			COUNT(*) FILTER (WHERE event_type = 'delivered'),
			COUNT(*) FILTER (WHERE event_type = 'bounced'),
			COUNT(*) FILTER (WHERE event_type = 'soft_bounced'),
			COUNT(*) FILTER (WHERE event_type = 'complained'),
			COUNT(*) FILTER (WHERE event_type IN ('sent', 'failed') AND latency_ms > 0),
			COALESCE(SUM(latency_ms) FILTER (WHERE event_type IN ('sent', 'failed') AND latency_ms > 0), 0)
		FROM delivery_logs
		WHERE `+column+` = $1 AND timestamp >= $2
	`, subject, since).Scan(
		&c.Sent, &c.Delivered, &c.HardBounced, &c.SoftBounced, &c.Complained,
		&c.LatencySamples, &c.LatencyTotalMS,
	)
	if err != nil {
		return domain.DeliveryCounts{}, fmt.Errorf("count %s %s: %w", scope, subject, err)
	}
	return c, nil
}

func (r *DeliveryLogRepo) CountForRecipient(ctx context.Context, recipient string, eventType domain.DeliveryEventType, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM delivery_logs
		WHERE recipient = $1 AND event_type = $2 AND timestamp >= $3
	`, recipient, eventType, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recipient logs: %w", err)
	}
	return n, nil
}
