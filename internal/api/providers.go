package api

import (
	"net/http"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/httputil"
)

// GetProviderHealth returns the stored provider metrics and, per priority,
// the providers the router would currently try in order.
func (h *Handlers) GetProviderHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health == nil {
		httputil.ServiceUnavailable(w, "reputation tracker not configured")
		return
	}
	metrics, err := h.deps.Health.ProviderHealth(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	candidates := map[string][]string{}
	if h.deps.Router != nil {
		for _, p := range []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
			candidates[string(p)] = h.deps.Router.Candidates(r.Context(), p)
		}
	}
	httputil.OK(w, map[string]interface{}{
		"providers":  metrics,
		"candidates": candidates,
	})
}
