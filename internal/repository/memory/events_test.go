package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEvent(id, key string, p domain.Priority, at time.Time) *domain.CommunicationEvent {
	return &domain.CommunicationEvent{
		ID:             id,
		IdempotencyKey: key,
		EventType:      "order_confirmation",
		RecipientEmail: "buyer@example.com",
		TemplateKey:    "order_confirmation",
		Variables:      domain.Variables{{Key: "order", Value: id}},
		Priority:       p,
		Status:         domain.StatusQueued,
		MaxRetries:     3,
		ScheduledAt:    at,
	}
}

func TestEventRepo_ConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo()
	for i := 0; i < 200; i++ {
		_, _, err := repo.UpsertQueued(ctx, newEvent(fmt.Sprintf("e%03d", i), fmt.Sprintf("k%03d", i), domain.PriorityNormal, t0))
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := repo.Claim(ctx, 7, t0)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, e := range batch {
					seen[e.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 200)
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %s claimed %d times", id, n)
	}
}

func TestEventRepo_ClaimOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo()
	_, _, _ = repo.UpsertQueued(ctx, newEvent("low", "k1", domain.PriorityLow, t0.Add(-time.Hour)))
	_, _, _ = repo.UpsertQueued(ctx, newEvent("normal-late", "k2", domain.PriorityNormal, t0.Add(-time.Minute)))
	_, _, _ = repo.UpsertQueued(ctx, newEvent("normal-early", "k3", domain.PriorityNormal, t0.Add(-time.Hour)))
	_, _, _ = repo.UpsertQueued(ctx, newEvent("high", "k4", domain.PriorityHigh, t0))
	_, _, _ = repo.UpsertQueued(ctx, newEvent("future", "k5", domain.PriorityHigh, t0.Add(time.Minute)))

	batch, err := repo.Claim(ctx, 10, t0)
	require.NoError(t, err)

	var ids []string
	for _, e := range batch {
		ids = append(ids, e.ID)
		assert.Equal(t, domain.StatusProcessing, e.Status)
		require.NotNil(t, e.ClaimedAt)
	}
	assert.Equal(t, []string{"high", "normal-early", "normal-late", "low"}, ids)
}

func TestEventRepo_UpsertFoldsWhileInFlight(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo()

	id, existing, err := repo.UpsertQueued(ctx, newEvent("a", "pay_123", domain.PriorityNormal, t0))
	require.NoError(t, err)
	assert.False(t, existing)

	dup := newEvent("b", "pay_123", domain.PriorityNormal, t0)
	dup.Variables = domain.Variables{{Key: "amount", Value: "₦5,000"}}
	dup.TemplateKey = "payment_confirmation"
	id2, existing, err := repo.UpsertQueued(ctx, dup)
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, id, id2)
	assert.Equal(t, 1, repo.Count())

	got, _ := repo.Get(ctx, id)
	assert.Equal(t, "payment_confirmation", got.TemplateKey)
	amount, _ := got.Variables.Get("amount")
	assert.Equal(t, "₦5,000", amount)
	order, _ := got.Variables.Get("order")
	assert.Equal(t, "a", order)

	// once terminal, the key is free again
	batch, _ := repo.Claim(ctx, 1, t0)
	require.Len(t, batch, 1)
	require.NoError(t, repo.ApplyOutcome(ctx, domain.Outcome{EventID: id, ClaimToken: batch[0].ClaimToken, Status: domain.OutcomeSent, ExternalID: "x1", Provider: "ses"}, t0))

	id3, existing, err := repo.UpsertQueued(ctx, newEvent("c", "pay_123", domain.PriorityNormal, t0))
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, id, id3)
	assert.Equal(t, 2, repo.Count())
}

func TestEventRepo_ApplyOutcomeRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo()
	_, _, _ = repo.UpsertQueued(ctx, newEvent("a", "k", domain.PriorityNormal, t0))

	err := repo.ApplyOutcome(ctx, domain.Outcome{EventID: "a", Status: domain.OutcomeSent}, t0)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)

	err = repo.ApplyOutcome(ctx, domain.Outcome{EventID: "missing", Status: domain.OutcomeSent}, t0)
	assert.ErrorIs(t, err, queue.ErrNotFound)

	batch, _ := repo.Claim(ctx, 1, t0)
	require.Len(t, batch, 1)
	token := batch[0].ClaimToken
	require.NoError(t, repo.ApplyOutcome(ctx, domain.Outcome{EventID: "a", ClaimToken: token, Status: domain.OutcomeSuppressed}, t0))

	// terminal events never move again
	err = repo.ApplyOutcome(ctx, domain.Outcome{EventID: "a", ClaimToken: token, Status: domain.OutcomeSent}, t0)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)
	got, _ := repo.Get(ctx, "a")
	assert.Equal(t, domain.StatusSuppressed, got.Status)
}

func TestEventRepo_RetryRespectsMaxRetries(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo()
	e := newEvent("a", "k", domain.PriorityNormal, t0)
	e.MaxRetries = 1
	_, _, _ = repo.UpsertQueued(ctx, e)

	batch, _ := repo.Claim(ctx, 1, t0)
	require.Len(t, batch, 1)
	require.NoError(t, repo.ApplyOutcome(ctx, domain.Outcome{EventID: "a", ClaimToken: batch[0].ClaimToken, Status: domain.OutcomeRetry, NextAttemptAt: t0, Error: "timeout"}, t0))

	got, _ := repo.Get(ctx, "a")
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, "timeout", got.LastError)

	batch, _ = repo.Claim(ctx, 1, t0)
	require.Len(t, batch, 1)
	err := repo.ApplyOutcome(ctx, domain.Outcome{EventID: "a", ClaimToken: batch[0].ClaimToken, Status: domain.OutcomeRetry, NextAttemptAt: t0}, t0)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)
}

func TestEventRepo_RecoverStale(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo()
	fresh := newEvent("fresh", "k1", domain.PriorityNormal, t0)
	stale := newEvent("stale", "k2", domain.PriorityNormal, t0)
	spent := newEvent("spent", "k3", domain.PriorityNormal, t0)
	spent.MaxRetries = 0
	for _, e := range []*domain.CommunicationEvent{stale, spent} {
		_, _, _ = repo.UpsertQueued(ctx, e)
	}
	_, _ = repo.Claim(ctx, 10, t0)
	_, _, _ = repo.UpsertQueued(ctx, fresh)
	_, _ = repo.Claim(ctx, 10, t0.Add(10*time.Minute))

	res, err := repo.RecoverStale(ctx, t0.Add(5*time.Minute), t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, queue.RecoveryResult{Requeued: 1, Failed: 1}, res)

	got, _ := repo.Get(ctx, "stale")
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	got, _ = repo.Get(ctx, "spent")
	assert.Equal(t, domain.StatusFailed, got.Status)
	got, _ = repo.Get(ctx, "fresh")
	assert.Equal(t, domain.StatusProcessing, got.Status)
}

func TestEventRepo_RecoveredClaimCannotReportOutcome(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo()
	_, _, _ = repo.UpsertQueued(ctx, newEvent("a", "k", domain.PriorityNormal, t0))

	first, _ := repo.Claim(ctx, 1, t0)
	require.Len(t, first, 1)

	res, err := repo.RecoverStale(ctx, t0.Add(5*time.Minute), t0.Add(6*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, res.Requeued)

	second, _ := repo.Claim(ctx, 1, t0.Add(6*time.Minute))
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ClaimToken, second[0].ClaimToken)

	// the original worker finally gives up on its attempt
	err = repo.ApplyOutcome(ctx, domain.Outcome{
		EventID: "a", ClaimToken: first[0].ClaimToken, Status: domain.OutcomeRetry,
		NextAttemptAt: t0.Add(7 * time.Minute), Error: "timeout",
	}, t0.Add(7*time.Minute))
	assert.ErrorIs(t, err, queue.ErrClaimLost)
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)

	got, _ := repo.Get(ctx, "a")
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	require.NoError(t, repo.ApplyOutcome(ctx, domain.Outcome{
		EventID: "a", ClaimToken: second[0].ClaimToken, Status: domain.OutcomeSent, ExternalID: "msg-2", Provider: "ses",
	}, t0.Add(8*time.Minute)))

	got, _ = repo.Get(ctx, "a")
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.Equal(t, "msg-2", got.ExternalID)
	assert.Empty(t, got.ClaimToken)
}
