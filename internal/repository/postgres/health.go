package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/mailflow/internal/domain"
)

// HealthMetricRepo implements reputation.MetricRepository.
type HealthMetricRepo struct{ db *sql.DB }

// NewHealthMetricRepo creates a Postgres-backed metric store.
func NewHealthMetricRepo(db *sql.DB) *HealthMetricRepo { return &HealthMetricRepo{db: db} }

func (r *HealthMetricRepo) Upsert(ctx context.Context, m *domain.ProviderHealthMetric) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO provider_health_metrics (
			scope, subject, metric, value, threshold, samples, window_start, window_end, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (scope, subject, metric) DO UPDATE SET
			value = EXCLUDED.value,
			threshold = EXCLUDED.threshold,
			samples = EXCLUDED.samples,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			updated_at = EXCLUDED.updated_at
		WHERE provider_health_metrics.window_end <= EXCLUDED.window_end
	`, m.Scope, m.Subject, m.Metric, m.Value, m.Threshold, m.Samples, m.WindowStart, m.WindowEnd, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert health metric: %w", err)
	}
	return nil
}

func (r *HealthMetricRepo) All(ctx context.Context) ([]domain.ProviderHealthMetric, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scope, subject, metric, value, threshold, samples, window_start, window_end, updated_at
		FROM provider_health_metrics
		ORDER BY scope, subject, metric
	`)
	if err != nil {
		return nil, fmt.Errorf("list health metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.ProviderHealthMetric
	for rows.Next() {
		var m domain.ProviderHealthMetric
		if err := rows.Scan(&m.Scope, &m.Subject, &m.Metric, &m.Value, &m.Threshold,
			&m.Samples, &m.WindowStart, &m.WindowEnd, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan health metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
