package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// DeliveryLogRepo implements reputation.LogRepository.
type DeliveryLogRepo struct {
	mu   sync.RWMutex
	logs []domain.DeliveryLog
}

// NewDeliveryLogRepo creates an empty delivery log.
func NewDeliveryLogRepo() *DeliveryLogRepo { return &DeliveryLogRepo{} }

func (r *DeliveryLogRepo) Append(_ context.Context, l *domain.DeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *l)
	return nil
}

func (r *DeliveryLogRepo) Counts(_ context.Context, scope domain.HealthScope, subject string, since time.Time) (domain.DeliveryCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c domain.DeliveryCounts
	for _, l := range r.logs {
		if l.Timestamp.Before(since) {
			continue
		}
		if scope == domain.ScopeProvider && l.Provider != subject {
			continue
		}
		if scope == domain.ScopeDomain && l.SendingDomain != subject {
			continue
		}
		switch l.EventType {
		case domain.DeliverySent:
			c.Sent++
		case domain.DeliveryDelivered:
			c.Delivered++
		case domain.DeliveryBounced:
			c.HardBounced++
		case domain.DeliverySoftBounced:
			c.SoftBounced++
		case domain.DeliveryComplained:
			c.Complained++
		}
		if (l.EventType == domain.DeliverySent || l.EventType == domain.DeliveryFailed) && l.LatencyMS > 0 {
			c.LatencySamples++
			c.LatencyTotalMS += l.LatencyMS
		}
	}
	return c, nil
}

func (r *DeliveryLogRepo) CountForRecipient(_ context.Context, recipient string, eventType domain.DeliveryEventType, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, l := range r.logs {
		if l.Recipient == recipient && l.EventType == eventType && !l.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// All returns a copy of every log row. Used by tests.
func (r *DeliveryLogRepo) All() []domain.DeliveryLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.DeliveryLog(nil), r.logs...)
}

type metricKey struct {
	scope   domain.HealthScope
	subject string
	metric  domain.MetricType
}

// HealthMetricRepo implements reputation.MetricRepository.
type HealthMetricRepo struct {
	mu      sync.RWMutex
	metrics map[metricKey]domain.ProviderHealthMetric
}

// NewHealthMetricRepo creates an empty metric store.
func NewHealthMetricRepo() *HealthMetricRepo {
	return &HealthMetricRepo{metrics: make(map[metricKey]domain.ProviderHealthMetric)}
}

func (r *HealthMetricRepo) Upsert(_ context.Context, m *domain.ProviderHealthMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := metricKey{m.Scope, m.Subject, m.Metric}
	if cur, ok := r.metrics[k]; ok && cur.WindowEnd.After(m.WindowEnd) {
		return nil
	}
	r.metrics[k] = *m
	return nil
}

func (r *HealthMetricRepo) All(_ context.Context) ([]domain.ProviderHealthMetric, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProviderHealthMetric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	return out, nil
}
