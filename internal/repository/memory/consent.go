package memory

import (
	"context"
	"sync"
)

// ConsentRepo implements feedback.ConsentStore over a set of opted-in
// addresses.
type ConsentRepo struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewConsentRepo creates a consent store with the given addresses opted in.
func NewConsentRepo(emails ...string) *ConsentRepo {
	r := &ConsentRepo{active: make(map[string]bool)}
	for _, e := range emails {
		r.active[e] = true
	}
	return r
}

func (r *ConsentRepo) DeactivateConsent(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active[email] {
		return false, nil
	}
	r.active[email] = false
	return true, nil
}

// HasConsent reports whether email is still opted in.
func (r *ConsentRepo) HasConsent(email string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[email]
}
