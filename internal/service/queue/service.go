package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailflow/internal/domain"
)

// Service implements queue business logic on top of a Repository.
type Service struct {
	repo       Repository
	maxRetries int
	batchSize  int
	now        func() time.Time
}

// NewService creates a queue service. maxRetries is applied to events that
// do not carry their own; batchSize is the ClaimBatch default.
func NewService(repo Repository, maxRetries, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Service{repo: repo, maxRetries: maxRetries, batchSize: batchSize, now: time.Now}
}

// EnqueueRequest is what a collaborator submits to request a notification.
type EnqueueRequest struct {
	EventType      string           `json:"event_type"`
	RecipientEmail string           `json:"recipient_email"`
	TemplateKey    string           `json:"template_key"`
	Variables      domain.Variables `json:"variables"`
	Priority       domain.Priority  `json:"priority,omitempty"`
	BusinessRef    string           `json:"business_ref,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	ScheduledAt    *time.Time       `json:"scheduled_at,omitempty"`
	MaxRetries     *int             `json:"max_retries,omitempty"`
}

// EnqueueResult is returned once the event is durably queued.
type EnqueueResult struct {
	ID       string `json:"id"`
	Existing bool   `json:"existing"`
}

// IdempotencyKey derives the default key from the event type, the
// normalized recipient and the business reference.
func IdempotencyKey(eventType, recipient, businessRef string) string {
	sum := sha256.Sum256([]byte(eventType + "|" + domain.NormalizeEmail(recipient) + "|" + businessRef))
	return eventType + ":" + hex.EncodeToString(sum[:])
}

// Enqueue validates req and stores it as a queued event, folding it into an
// in-flight event with the same idempotency key.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	recipient := domain.NormalizeEmail(req.RecipientEmail)
	if !domain.ValidEmail(recipient) {
		return EnqueueResult{}, fmt.Errorf("%w: recipient_email %q", ErrInvalidEvent, req.RecipientEmail)
	}
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		return EnqueueResult{}, fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(req.TemplateKey) == "" {
		return EnqueueResult{}, fmt.Errorf("%w: template_key is required", ErrInvalidEvent)
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.Valid() {
		return EnqueueResult{}, fmt.Errorf("%w: priority %q", ErrInvalidEvent, req.Priority)
	}
	maxRetries := s.maxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return EnqueueResult{}, fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidEvent)
		}
		maxRetries = *req.MaxRetries
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = IdempotencyKey(eventType, recipient, req.BusinessRef)
	}

	now := s.now().UTC()
	scheduled := now
	if req.ScheduledAt != nil && !req.ScheduledAt.IsZero() {
		scheduled = req.ScheduledAt.UTC()
	}
	vars := req.Variables
	if vars == nil {
		vars = domain.Variables{}
	}

	e := &domain.CommunicationEvent{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		EventType:      eventType,
		BusinessRef:    req.BusinessRef,
		RecipientEmail: recipient,
		TemplateKey:    strings.TrimSpace(req.TemplateKey),
		Variables:      vars,
		Priority:       priority,
		Status:         domain.StatusQueued,
		MaxRetries:     maxRetries,
		ScheduledAt:    scheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	id, existing, err := s.repo.UpsertQueued(ctx, e)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue %s: %w", key, err)
	}
	return EnqueueResult{ID: id, Existing: existing}, nil
}

// ClaimBatch claims up to limit due events. limit <= 0 uses the configured
// batch size.
func (s *Service) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.CommunicationEvent, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	return s.repo.Claim(ctx, limit, now)
}

// MarkOutcome writes the dispatcher's result for a processing event. The
// outcome must carry the token of the claim that returned the event.
func (s *Service) MarkOutcome(ctx context.Context, o domain.Outcome) error {
	if o.EventID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidEvent)
	}
	if o.ClaimToken == "" {
		return fmt.Errorf("%w: claim token is required", ErrInvalidEvent)
	}
	switch o.Status {
	case domain.OutcomeSent, domain.OutcomeSuppressed, domain.OutcomeFailed:
	case domain.OutcomeRetry:
		if o.NextAttemptAt.IsZero() {
			return fmt.Errorf("%w: retry outcome without next attempt time", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidTransition, o.Status)
	}
	return s.repo.ApplyOutcome(ctx, o, s.now().UTC())
}

// Get returns one event by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.CommunicationEvent, error) {
	return s.repo.Get(ctx, id)
}

// UpdateDeliveryStatus correlates a provider message id to its event and
// records the informational delivery status. Returns ErrNotFound when the
// id matches no event.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, externalID, deliveryStatus string) (*domain.CommunicationEvent, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	return s.repo.SetDeliveryStatus(ctx, externalID, deliveryStatus, s.now().UTC())
}

// RecoverStale puts back events stuck in processing for longer than
// staleAge, typically because a worker died mid-batch.
func (s *Service) RecoverStale(ctx context.Context, staleAge time.Duration) (RecoveryResult, error) {
	now := s.now().UTC()
	return s.repo.RecoverStale(ctx, now.Add(-staleAge), now)
}
