package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository.
type SuppressionRepo struct {
	mu      sync.RWMutex
	entries map[string]*domain.SuppressionEntry
}

// NewSuppressionRepo creates an empty suppression list.
func NewSuppressionRepo() *SuppressionRepo {
	return &SuppressionRepo{entries: make(map[string]*domain.SuppressionEntry)}
}

func (r *SuppressionRepo) IsSuppressed(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[email]
	return ok && e.IsActive, nil
}

func (r *SuppressionRepo) Upsert(_ context.Context, e *domain.SuppressionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	if cur, ok := r.entries[e.Email]; ok && cur.IsActive {
		cp.SuppressedAt = cur.SuppressedAt
		if cur.Reason.Severity() >= e.Reason.Severity() {
			cp.Reason, cp.Source, cp.Provider, cp.Detail = cur.Reason, cur.Source, cur.Provider, cur.Detail
		}
	}
	cp.IsActive = true
	r.entries[e.Email] = &cp
	return nil
}

func (r *SuppressionRepo) Get(_ context.Context, email string) (*domain.SuppressionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[email]
	if !ok {
		return nil, suppression.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *SuppressionRepo) Deactivate(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[email]
	if !ok {
		return suppression.ErrNotFound
	}
	e.IsActive = false
	return nil
}

func (r *SuppressionRepo) List(_ context.Context, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.SuppressionEntry
	for _, e := range r.entries {
		if f.ActiveOnly && !e.IsActive {
			continue
		}
		if f.Reason != "" && string(e.Reason) != f.Reason {
			continue
		}
		if f.Source != "" && string(e.Source) != f.Source {
			continue
		}
		if f.Search != "" && !strings.Contains(e.Email, strings.ToLower(f.Search)) {
			continue
		}
		matched = append(matched, *e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SuppressedAt.After(matched[j].SuppressedAt)
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}
