package reputation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/repository/memory"
	"github.com/ignite/mailflow/internal/service/reputation"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, cache *redis.Client) (*reputation.Tracker, *memory.HealthMetricRepo) {
	t.Helper()
	metrics := memory.NewHealthMetricRepo()
	tr := reputation.NewTracker(memory.NewDeliveryLogRepo(), metrics, cache, reputation.Options{
		Thresholds: reputation.Thresholds{BounceRate: 5, ComplaintRate: 0.1, LatencyMS: 2000},
		Window:     time.Hour,
		MinSamples: 10,
		CacheTTL:   time.Minute,
	})
	return tr, metrics
}

func record(t *testing.T, tr *reputation.Tracker, provider string, typ domain.DeliveryEventType, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Record(context.Background(), domain.DeliveryLog{
			Provider: provider, EventType: typ, SendingDomain: "mail.example.com", LatencyMS: 100, Recipient: "a@b.com",
		}))
	}
}

func metricValue(ms []domain.ProviderHealthMetric, scope domain.HealthScope, metric domain.MetricType) (domain.ProviderHealthMetric, bool) {
	for _, m := range ms {
		if m.Scope == scope && m.Metric == metric {
			return m, true
		}
	}
	return domain.ProviderHealthMetric{}, false
}

func TestRecompute_Rates(t *testing.T) {
	tr, _ := newTracker(t, nil)
	ctx := context.Background()

	record(t, tr, "ses", domain.DeliverySent, 40)
	record(t, tr, "ses", domain.DeliveryBounced, 2)
	record(t, tr, "ses", domain.DeliverySoftBounced, 2)
	record(t, tr, "ses", domain.DeliveryComplained, 1)

	ms, err := tr.Recompute(ctx, "ses", "mail.example.com")
	require.NoError(t, err)
	assert.Len(t, ms, 6)

	b, ok := metricValue(ms, domain.ScopeProvider, domain.MetricBounceRate)
	require.True(t, ok)
	assert.InDelta(t, 10.0, b.Value, 0.0001)
	assert.EqualValues(t, 40, b.Samples)
	assert.True(t, b.Exceeded(tr.MinSamples()))

	c, _ := metricValue(ms, domain.ScopeProvider, domain.MetricComplaintRate)
	assert.InDelta(t, 2.5, c.Value, 0.0001)

	l, _ := metricValue(ms, domain.ScopeProvider, domain.MetricLatency)
	assert.InDelta(t, 100.0, l.Value, 0.0001)
	assert.False(t, l.Exceeded(tr.MinSamples()))

	d, ok := metricValue(ms, domain.ScopeDomain, domain.MetricBounceRate)
	require.True(t, ok)
	assert.Equal(t, "mail.example.com", d.Subject)
}

func TestRecompute_FeedbackOnlyDenominator(t *testing.T) {
	tr, _ := newTracker(t, nil)
	record(t, tr, "mailgun", domain.DeliveryDelivered, 18)
	record(t, tr, "mailgun", domain.DeliveryBounced, 2)

	ms, err := tr.Recompute(context.Background(), "mailgun", "")
	require.NoError(t, err)
	b, _ := metricValue(ms, domain.ScopeProvider, domain.MetricBounceRate)
	assert.InDelta(t, 10.0, b.Value, 0.0001)
	assert.EqualValues(t, 20, b.Samples)
}

func TestProviderHealth_CachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tr, metrics := newTracker(t, client)
	ctx := context.Background()

	record(t, tr, "ses", domain.DeliverySent, 10)
	_, err := tr.Recompute(ctx, "ses", "")
	require.NoError(t, err)

	health, err := tr.ProviderHealth(ctx)
	require.NoError(t, err)
	assert.Len(t, health["ses"], 3)
	assert.True(t, mr.Exists("mailflow:health:snapshot"))

	// writes that bypass the tracker are invisible until the cache expires
	require.NoError(t, metrics.Upsert(ctx, &domain.ProviderHealthMetric{
		Scope: domain.ScopeProvider, Subject: "mailgun", Metric: domain.MetricBounceRate, WindowEnd: time.Now().Add(time.Hour),
	}))
	health, _ = tr.ProviderHealth(ctx)
	assert.NotContains(t, health, "mailgun")

	mr.FastForward(2 * time.Minute)
	health, _ = tr.ProviderHealth(ctx)
	assert.Contains(t, health, "mailgun")

	// recompute invalidates the snapshot
	_, _ = tr.Recompute(ctx, "ses", "")
	assert.False(t, mr.Exists("mailflow:health:snapshot"))
}

func TestSnapshot_RedisDownFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	tr, _ := newTracker(t, client)
	record(t, tr, "ses", domain.DeliverySent, 1)
	_, _ = tr.Recompute(context.Background(), "ses", "")
	mr.Close()

	all, err := tr.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

type failingMetrics struct{}

func (failingMetrics) Upsert(context.Context, *domain.ProviderHealthMetric) error { return nil }
func (failingMetrics) All(context.Context) ([]domain.ProviderHealthMetric, error) {
	return nil, errors.New("db down")
}

func TestSnapshot_StoreError(t *testing.T) {
	tr := reputation.NewTracker(memory.NewDeliveryLogRepo(), failingMetrics{}, nil, reputation.Options{})
	_, err := tr.ProviderHealth(context.Background())
	assert.Error(t, err)
}

func TestRecipientCount(t *testing.T) {
	tr, _ := newTracker(t, nil)
	record(t, tr, "ses", domain.DeliverySoftBounced, 3)
	n, err := tr.RecipientCount(context.Background(), "a@b.com", domain.DeliverySoftBounced)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
