package suppression

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SuppressRequest describes one suppression signal.
type SuppressRequest struct {
	Email    string
	Reason   domain.SuppressionReason
	Source   domain.SuppressionSource
	Provider string
	Detail   string
}

// IsSuppressed checks whether an email address should be blocked from sending.
func (s *Service) IsSuppressed(ctx context.Context, email string) (bool, error) {
	return s.repo.IsSuppressed(ctx, domain.NormalizeEmail(email))
}

// Suppress upserts an active entry. Repeated signals for the same address
// update the entry in place; they never create a second one.
func (s *Service) Suppress(ctx context.Context, req SuppressRequest) (*domain.SuppressionEntry, error) {
	email := domain.NormalizeEmail(req.Email)
	if !domain.ValidEmail(email) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, req.Email)
	}
	if !req.Reason.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, req.Reason)
	}
	source := req.Source
	if source == "" {
		source = domain.SourceManual
	}

	now := s.now().UTC()
	entry := &domain.SuppressionEntry{
		Email:        email,
		Reason:       req.Reason,
		Source:       source,
		Provider:     req.Provider,
		Detail:       req.Detail,
		IsActive:     true,
		SuppressedAt: now,
		UpdatedAt:    now,
	}
	if err := s.repo.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("upsert suppression: %w", err)
	}
	return entry, nil
}

// Get returns the stored entry for email.
func (s *Service) Get(ctx context.Context, email string) (*domain.SuppressionEntry, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	return s.repo.Get(ctx, email)
}

// Deactivate is the administrative override that makes an address sendable
// again. The entry is kept for audit.
func (s *Service) Deactivate(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidEmail
	}
	return s.repo.Deactivate(ctx, email)
}

// List returns suppression entries matching the given filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.SuppressionEntry, int, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

// Stats returns aggregate counts grouped by reason and source.
type Stats struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	ByReason map[string]int `json:"by_reason"`
	BySource map[string]int `json:"by_source"`
}

// GetStats computes suppression statistics over the full list.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	entries, total, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:    total,
		ByReason: make(map[string]int),
		BySource: make(map[string]int),
	}
	for _, e := range entries {
		if e.IsActive {
			stats.Active++
		}
		stats.ByReason[string(e.Reason)]++
		stats.BySource[string(e.Source)]++
	}
	return stats, nil
}
