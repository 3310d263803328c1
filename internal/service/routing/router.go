// Package routing picks the provider for each send attempt.
//
// Providers are tried in a configured failover order. A provider is skipped
// when it was already tried for the event or when one of its health metrics
// is over threshold with enough samples behind it.
package routing

import (
	"context"
	"errors"
	"strings"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// ErrNoHealthyProvider means every configured provider is excluded or
// unhealthy. Callers treat it as transient: health may recover.
var ErrNoHealthyProvider = errors.New("no healthy provider available")

// HealthSource returns the latest provider-scoped metrics keyed by provider.
type HealthSource interface {
	ProviderHealth(ctx context.Context) (map[string][]domain.ProviderHealthMetric, error)
}

// Options configures a Router.
type Options struct {
	// Order is the default failover order.
	Order []string
	// PriorityOrder optionally overrides Order per priority.
	PriorityOrder map[domain.Priority][]string
	// MinSamples is the sample count a metric needs before it can mark a
	// provider unhealthy.
	MinSamples int64
}

// Router selects providers. It holds no mutable state.
type Router struct {
	health HealthSource
	opts   Options
	log    *logger.Logger
}

// NewRouter creates a router. health may be nil, in which case every
// provider is considered healthy.
func NewRouter(health HealthSource, opts Options) *Router {
	opts.Order = normalize(opts.Order)
	po := make(map[domain.Priority][]string, len(opts.PriorityOrder))
	for p, order := range opts.PriorityOrder {
		po[p] = normalize(order)
	}
	opts.PriorityOrder = po
	return &Router{health: health, opts: opts, log: logger.With("component", "routing")}
}

// Providers returns every provider named in any configured order.
func (r *Router) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(order []string) {
		for _, p := range order {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	add(r.opts.Order)
	for _, p := range []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
		add(r.opts.PriorityOrder[p])
	}
	return out
}

// SelectProvider returns the first healthy provider for priority that is
// not in excluded.
func (r *Router) SelectProvider(ctx context.Context, priority domain.Priority, excluded []string) (string, error) {
	candidates := r.Candidates(ctx, priority)
	skip := make(map[string]bool, len(excluded))
	for _, p := range excluded {
		skip[strings.ToLower(p)] = true
	}
	for _, p := range candidates {
		if !skip[p] {
			return p, nil
		}
	}
	return "", ErrNoHealthyProvider
}

// Candidates returns the healthy providers for priority in failover order.
func (r *Router) Candidates(ctx context.Context, priority domain.Priority) []string {
	order := r.orderFor(priority)
	unhealthy := r.unhealthy(ctx)

	out := make([]string, 0, len(order))
	for _, p := range order {
		if !unhealthy[p] {
			out = append(out, p)
		}
	}
	return out
}

func (r *Router) orderFor(priority domain.Priority) []string {
	if order, ok := r.opts.PriorityOrder[priority]; ok && len(order) > 0 {
		return order
	}
	return r.opts.Order
}

// unhealthy fails open: if health cannot be read, no provider is excluded.
func (r *Router) unhealthy(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	if r.health == nil {
		return out
	}
	byProvider, err := r.health.ProviderHealth(ctx)
	if err != nil {
		r.log.Warn("provider health unavailable, routing without it", "error", err)
		return out
	}
	for provider, metrics := range byProvider {
		for _, m := range metrics {
			if m.Exceeded(r.opts.MinSamples) {
				out[strings.ToLower(provider)] = true
				break
			}
		}
	}
	return out
}

func normalize(order []string) []string {
	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(order))
	for _, p := range order {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
