package reputation

import (
	"context"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// LogRepository is the append-only delivery log.
type LogRepository interface {
	// Append stores one log row. Rows are never updated.
	Append(ctx context.Context, l *domain.DeliveryLog) error

	// Counts aggregates the log rows for one provider or sending domain
	// with timestamp >= since.
	Counts(ctx context.Context, scope domain.HealthScope, subject string, since time.Time) (domain.DeliveryCounts, error)

	// CountForRecipient counts rows of one event type for a recipient since
	// the given time.
	CountForRecipient(ctx context.Context, recipient string, eventType domain.DeliveryEventType, since time.Time) (int64, error)
}

// MetricRepository stores the latest value of each health metric.
type MetricRepository interface {
	// Upsert writes m keyed by scope, subject and metric. A stored metric
	// with a later window end is left untouched.
	Upsert(ctx context.Context, m *domain.ProviderHealthMetric) error

	// All returns every stored metric.
	All(ctx context.Context) ([]domain.ProviderHealthMetric, error)
}
