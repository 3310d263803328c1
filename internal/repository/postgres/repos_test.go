package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/suppression"
)

func TestSuppressionRepo_IsSuppressed(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := NewSuppressionRepo(db).IsSuppressed(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSuppressionRepo_Upsert(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO suppression_entries").
		WithArgs("a@b.com", "hard_bounce", "esp_webhook", "ses", "550 mailbox unavailable", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewSuppressionRepo(db).Upsert(context.Background(), &domain.SuppressionEntry{
		Email:        "a@b.com",
		Reason:       domain.ReasonHardBounce,
		Source:       domain.SourceESPWebhook,
		Provider:     "ses",
		Detail:       "550 mailbox unavailable",
		SuppressedAt: now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuppressionRepo_UpsertGuardsActiveReason(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`reason = CASE WHEN suppression_entries.is_active AND CASE suppression_entries.reason WHEN 'complaint' THEN 4`).
		WithArgs("a@b.com", "unsubscribe", "manual", "", "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewSuppressionRepo(db).Upsert(context.Background(), &domain.SuppressionEntry{
		Email: "a@b.com", Reason: domain.ReasonUnsubscribe, Source: domain.SourceManual, SuppressedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuppressionRepo_GetAndDeactivateMissing(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSuppressionRepo(db)

	mock.ExpectQuery("FROM suppression_entries WHERE email").WithArgs("x@y.com").
		WillReturnRows(sqlmock.NewRows([]string{"email"}))
	_, err := repo.Get(context.Background(), "x@y.com")
	assert.ErrorIs(t, err, suppression.ErrNotFound)

	mock.ExpectExec("UPDATE suppression_entries SET is_active = false").WithArgs("x@y.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Deactivate(context.Background(), "x@y.com"), suppression.ErrNotFound)
}

func TestSuppressionRepo_ListFilters(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM suppression_entries WHERE 1=1 AND is_active AND reason = \$1 AND email LIKE \$2`).
		WithArgs("complaint", "%shop%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`ORDER BY suppressed_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("complaint", "%shop%", 2, 1).
		WillReturnRows(sqlmock.NewRows([]string{
			"email", "reason", "source", "provider", "detail", "is_active", "suppressed_at", "updated_at",
		}).
			AddRow("b@shop.com", "complaint", "esp_webhook", "sparkpost", "", true, now, now).
			AddRow("c@shop.com", "complaint", "manual", "", "", true, now, now))

	out, total, err := NewSuppressionRepo(db).List(context.Background(), suppression.ListFilter{
		Reason: "complaint", Search: "SHOP", ActiveOnly: true, Limit: 2, Offset: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, out, 2)
	assert.Equal(t, domain.ReasonComplaint, out[0].Reason)
	assert.Equal(t, domain.SourceManual, out[1].Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepo_AppendAssignsID(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectExec("INSERT INTO delivery_logs").WillReturnResult(sqlmock.NewResult(0, 1))

	l := &domain.DeliveryLog{Provider: "ses", EventType: domain.DeliverySent, Timestamp: time.Now()}
	require.NoError(t, NewDeliveryLogRepo(db).Append(context.Background(), l))
	assert.NotEmpty(t, l.ID)
}

func TestDeliveryLogRepo_Counts(t *testing.T) {
	db, mock := setupTestDB(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE sending_domain = \$1 AND timestamp >= \$2`).
		WithArgs("shop.com", since).
		WillReturnRows(sqlmock.NewRows([]string{"s", "d", "hb", "sb", "c", "ls", "lt"}).
			AddRow(100, 90, 4, 2, 1, 100, 25000))

	c, err := NewDeliveryLogRepo(db).Counts(context.Background(), domain.ScopeDomain, "shop.com", since)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCounts{
		Sent: 100, Delivered: 90, HardBounced: 4, SoftBounced: 2, Complained: 1,
		LatencySamples: 100, LatencyTotalMS: 25000,
	}, c)

	_, err = NewDeliveryLogRepo(db).Counts(context.Background(), domain.HealthScope("region"), "eu", since)
	assert.Error(t, err)
}

func TestDeliveryLogRepo_CountForRecipient(t *testing.T) {
	db, mock := setupTestDB(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM delivery_logs").
		WithArgs("a@b.com", "soft_bounced", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := NewDeliveryLogRepo(db).CountForRecipient(context.Background(), "a@b.com", domain.DeliverySoftBounced, since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestHealthMetricRepo_UpsertAndAll(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewHealthMetricRepo(db)
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := end.Add(-24 * time.Hour)

	mock.ExpectExec(`ON CONFLICT \(scope, subject, metric\) DO UPDATE`).
		WithArgs("provider", "ses", "bounce_rate", 6.0, 5.0, int64(100), start, end, end).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Upsert(context.Background(), &domain.ProviderHealthMetric{
		Scope: domain.ScopeProvider, Subject: "ses", Metric: domain.MetricBounceRate,
		Value: 6, Threshold: 5, Samples: 100, WindowStart: start, WindowEnd: end, UpdatedAt: end,
	}))

	mock.ExpectQuery("FROM provider_health_metrics").
		WillReturnRows(sqlmock.NewRows([]string{
			"scope", "subject", "metric", "value", "threshold", "samples", "window_start", "window_end", "updated_at",
		}).AddRow("provider", "ses", "bounce_rate", 6.0, 5.0, 100, start, end, end))

	all, err := repo.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Exceeded(50))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentRepo_DeactivateConsent(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewConsentRepo(db)

	mock.ExpectExec("UPDATE consent_records").WithArgs("a@b.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	changed, err := repo.DeactivateConsent(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectExec("UPDATE consent_records").WithArgs("a@b.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	changed, err = repo.DeactivateConsent(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.False(t, changed)
}
