package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const snapshotKey = "mailflow:health:snapshot"

// Thresholds are the per-metric limits written alongside each metric.
// A zero threshold disables that metric.
type Thresholds struct {
	BounceRate    float64
	ComplaintRate float64
	LatencyMS     float64
}

// Options configures a Tracker.
type Options struct {
	Thresholds Thresholds
	Window     time.Duration
	MinSamples int64
	CacheTTL   time.Duration
}

// Tracker records delivery activity and maintains health metrics.
type Tracker struct {
	logs    LogRepository
	metrics MetricRepository
	cache   *redis.Client
	opts    Options
	now     func() time.Time
	log     *logger.Logger
}

// NewTracker creates a tracker. cache may be nil, in which case every
// Snapshot reads the metric repository.
func NewTracker(logs LogRepository, metrics MetricRepository, cache *redis.Client, opts Options) *Tracker {
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &Tracker{
		logs:    logs,
		metrics: metrics,
		cache:   cache,
		opts:    opts,
		now:     time.Now,
		log:     logger.With("component", "reputation"),
	}
}

// MinSamples is the sample count below which a metric is not trusted.
func (t *Tracker) MinSamples() int64 { return t.opts.MinSamples }

// Record appends one delivery log row, filling in id and timestamp.
func (t *Tracker) Record(ctx context.Context, l domain.DeliveryLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = t.now().UTC()
	}
	if err := t.logs.Append(ctx, &l); err != nil {
		return fmt.Errorf("append delivery log: %w", err)
	}
	return nil
}

// RecipientCount counts log rows of one type for a recipient within the
// health window.
func (t *Tracker) RecipientCount(ctx context.Context, recipient string, eventType domain.DeliveryEventType) (int64, error) {
	since := t.now().UTC().Add(-t.opts.Window)
	return t.logs.CountForRecipient(ctx, recipient, eventType, since)
}

// Recompute refreshes the metrics for a provider and, when given, a
// sending domain. Either argument may be empty.
func (t *Tracker) Recompute(ctx context.Context, provider, sendingDomain string) ([]domain.ProviderHealthMetric, error) {
	var out []domain.ProviderHealthMetric
	if provider != "" {
		ms, err := t.recomputeScope(ctx, domain.ScopeProvider, provider)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	if sendingDomain != "" {
		ms, err := t.recomputeScope(ctx, domain.ScopeDomain, sendingDomain)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	if len(out) > 0 {
		t.invalidate(ctx)
	}
	return out, nil
}

func (t *Tracker) recomputeScope(ctx context.Context, scope domain.HealthScope, subject string) ([]domain.ProviderHealthMetric, error) {
	end := t.now().UTC()
	start := end.Add(-t.opts.Window)

	c, err := t.logs.Counts(ctx, scope, subject, start)
	if err != nil {
		return nil, fmt.Errorf("count %s %s: %w", scope, subject, err)
	}

	metrics := computeMetrics(c, t.opts.Thresholds)
	for i := range metrics {
		m := &metrics[i]
		m.Scope = scope
		m.Subject = subject
		m.WindowStart = start
		m.WindowEnd = end
		m.UpdatedAt = end
		if err := t.metrics.Upsert(ctx, m); err != nil {
			return nil, fmt.Errorf("upsert %s metric for %s: %w", m.Metric, subject, err)
		}
		if m.Exceeded(t.opts.MinSamples) {
			t.log.Warn("health threshold exceeded",
				"scope", scope, "subject", subject, "metric", m.Metric,
				"value", fmt.Sprintf("%.3f", m.Value), "threshold", m.Threshold, "samples", m.Samples)
		}
	}
	return metrics, nil
}

// computeMetrics derives the three metrics from raw counts. Rates are
// percentages of Denominator.
func computeMetrics(c domain.DeliveryCounts, th Thresholds) []domain.ProviderHealthMetric {
	denom := c.Denominator()
	rate := func(n int64) float64 {
		if denom == 0 {
			return 0
		}
		return float64(n) / float64(denom) * 100
	}
	latency := 0.0
	if c.LatencySamples > 0 {
		latency = float64(c.LatencyTotalMS) / float64(c.LatencySamples)
	}
	return []domain.ProviderHealthMetric{
		{Metric: domain.MetricBounceRate, Value: rate(c.Bounced()), Threshold: th.BounceRate, Samples: denom},
		{Metric: domain.MetricComplaintRate, Value: rate(c.Complained), Threshold: th.ComplaintRate, Samples: denom},
		{Metric: domain.MetricLatency, Value: latency, Threshold: th.LatencyMS, Samples: c.LatencySamples},
	}
}

// Snapshot returns every stored metric, served from the Redis cache when
// it is fresh.
func (t *Tracker) Snapshot(ctx context.Context) ([]domain.ProviderHealthMetric, error) {
	if t.cache != nil {
		raw, err := t.cache.Get(ctx, snapshotKey).Bytes()
		switch {
		case err == nil:
			var cached []domain.ProviderHealthMetric
			if jerr := json.Unmarshal(raw, &cached); jerr == nil {
				return cached, nil
			}
		case !errors.Is(err, redis.Nil):
			t.log.Warn("health cache read failed", "error", err)
		}
	}

	all, err := t.metrics.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load health metrics: %w", err)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Scope != all[j].Scope {
			return all[i].Scope < all[j].Scope
		}
		if all[i].Subject != all[j].Subject {
			return all[i].Subject < all[j].Subject
		}
		return all[i].Metric < all[j].Metric
	})

	if t.cache != nil {
		if raw, err := json.Marshal(all); err == nil {
			if err := t.cache.Set(ctx, snapshotKey, raw, t.opts.CacheTTL).Err(); err != nil {
				t.log.Warn("health cache write failed", "error", err)
			}
		}
	}
	return all, nil
}

// ProviderHealth groups the provider-scoped metrics of the snapshot by
// provider name.
func (t *Tracker) ProviderHealth(ctx context.Context) (map[string][]domain.ProviderHealthMetric, error) {
	all, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]domain.ProviderHealthMetric)
	for _, m := range all {
		if m.Scope == domain.ScopeProvider {
			out[m.Subject] = append(out[m.Subject], m)
		}
	}
	return out, nil
}

func (t *Tracker) invalidate(ctx context.Context) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Del(ctx, snapshotKey).Err(); err != nil {
		t.log.Warn("health cache invalidate failed", "error", err)
	}
}
