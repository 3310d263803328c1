package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/queue"
)

// EventRepo implements queue.Repository. A single mutex makes every
// operation atomic, which is what gives Claim its at-most-one-claimer
// property here.
type EventRepo struct {
	mu     sync.Mutex
	events map[string]*domain.CommunicationEvent
	// active maps an idempotency key to its queued/processing event id.
	active map[string]string
}

// NewEventRepo creates an empty event store.
func NewEventRepo() *EventRepo {
	return &EventRepo{
		events: make(map[string]*domain.CommunicationEvent),
		active: make(map[string]string),
	}
}

func (r *EventRepo) UpsertQueued(_ context.Context, e *domain.CommunicationEvent) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[e.IdempotencyKey]; ok {
		cur := r.events[id]
		cur.Variables = cur.Variables.Merge(e.Variables)
		if e.TemplateKey != "" {
			cur.TemplateKey = e.TemplateKey
		}
		cur.UpdatedAt = e.UpdatedAt
		return id, true, nil
	}

	cp := cloneEvent(e)
	r.events[cp.ID] = cp
	r.active[cp.IdempotencyKey] = cp.ID
	return cp.ID, false, nil
}

func (r *EventRepo) Claim(_ context.Context, limit int, now time.Time) ([]domain.CommunicationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*domain.CommunicationEvent
	for _, e := range r.events {
		if e.Status == domain.StatusQueued && !e.ScheduledAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority.Rank() != due[j].Priority.Rank() {
			return due[i].Priority.Rank() > due[j].Priority.Rank()
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	token := uuid.New().String()
	out := make([]domain.CommunicationEvent, 0, len(due))
	for _, e := range due {
		claimed := now
		e.Status = domain.StatusProcessing
		e.ClaimedAt = &claimed
		e.ClaimToken = token
		e.UpdatedAt = now
		out = append(out, *cloneEvent(e))
	}
	return out, nil
}

func (r *EventRepo) ApplyOutcome(_ context.Context, o domain.Outcome, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[o.EventID]
	if !ok {
		return queue.ErrNotFound
	}
	if e.Status != domain.StatusProcessing {
		return queue.ErrInvalidTransition
	}
	if e.ClaimToken != o.ClaimToken {
		return queue.ErrClaimLost
	}

	switch o.Status {
	case domain.OutcomeSent:
		e.Status = domain.StatusSent
		e.ExternalID = o.ExternalID
		e.Provider = o.Provider
	case domain.OutcomeSuppressed:
		e.Status = domain.StatusSuppressed
		e.LastError = o.Error
	case domain.OutcomeFailed:
		e.Status = domain.StatusFailed
		e.LastError = o.Error
		if o.Provider != "" {
			e.Provider = o.Provider
		}
	case domain.OutcomeRetry:
		if e.RetriesExhausted() {
			return queue.ErrInvalidTransition
		}
		e.Status = domain.StatusQueued
		e.RetryCount++
		e.ScheduledAt = o.NextAttemptAt
		e.LastError = o.Error
		if o.Provider != "" {
			e.Provider = o.Provider
		}
	default:
		return queue.ErrInvalidTransition
	}
	e.ClaimedAt = nil
	e.ClaimToken = ""
	e.UpdatedAt = now
	if e.Status.IsTerminal() {
		delete(r.active, e.IdempotencyKey)
	}
	return nil
}

func (r *EventRepo) Get(_ context.Context, id string) (*domain.CommunicationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return cloneEvent(e), nil
}

func (r *EventRepo) SetDeliveryStatus(_ context.Context, externalID, status string, now time.Time) (*domain.CommunicationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ExternalID == externalID {
			e.DeliveryStatus = status
			e.UpdatedAt = now
			return cloneEvent(e), nil
		}
	}
	return nil, queue.ErrNotFound
}

func (r *EventRepo) RecoverStale(_ context.Context, claimedBefore, now time.Time) (queue.RecoveryResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res queue.RecoveryResult
	for _, e := range r.events {
		if e.Status != domain.StatusProcessing || e.ClaimedAt == nil || !e.ClaimedAt.Before(claimedBefore) {
			continue
		}
		if e.RetriesExhausted() {
			e.Status = domain.StatusFailed
			delete(r.active, e.IdempotencyKey)
			res.Failed++
		} else {
			e.Status = domain.StatusQueued
			e.RetryCount++
			e.ScheduledAt = now
			res.Requeued++
		}
		e.LastError = queue.StaleRecoveredError
		e.ClaimedAt = nil
		e.ClaimToken = ""
		e.UpdatedAt = now
	}
	return res, nil
}

// Count returns the number of stored events. Used by tests.
func (r *EventRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func cloneEvent(e *domain.CommunicationEvent) *domain.CommunicationEvent {
	cp := *e
	cp.Variables = append(domain.Variables(nil), e.Variables...)
	if e.ClaimedAt != nil {
		t := *e.ClaimedAt
		cp.ClaimedAt = &t
	}
	return &cp
}
