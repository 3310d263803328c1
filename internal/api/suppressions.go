package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/httputil"
	"github.com/ignite/mailflow/internal/service/suppression"
)

type suppressBody struct {
	Email  string                   `json:"email"`
	Reason domain.SuppressionReason `json:"reason"`
	Detail string                   `json:"detail,omitempty"`
}

func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// ListSuppressions returns a page of entries. Query: reason, source, q,
// active, limit, offset.
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Suppressions == nil {
		httputil.ServiceUnavailable(w, "suppression store not configured")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	f := suppression.ListFilter{
		Reason:     q.Get("reason"),
		Source:     q.Get("source"),
		Search:     q.Get("q"),
		ActiveOnly: q.Get("active") != "false",
		Limit:      limit,
		Offset:     offset,
	}

	entries, total, err := h.deps.Suppressions.List(r.Context(), f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.SuppressionEntry{}
	}
	httputil.OK(w, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}

// CreateSuppression adds a manual suppression.
func (h *Handlers) CreateSuppression(w http.ResponseWriter, r *http.Request) {
	if h.deps.Suppressions == nil {
		httputil.ServiceUnavailable(w, "suppression store not configured")
		return
	}
	var body suppressBody
	if !httputil.Decode(w, r, &body) {
		return
	}

	entry, err := h.deps.Suppressions.Suppress(r.Context(), suppression.SuppressRequest{
		Email:  body.Email,
		Reason: body.Reason,
		Source: domain.SourceManual,
		Detail: body.Detail,
	})
	switch {
	case errors.Is(err, suppression.ErrInvalidEmail), errors.Is(err, suppression.ErrInvalidReason):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.Created(w, entry)
	}
}

// GetSuppression returns the entry for one address, active or not.
func (h *Handlers) GetSuppression(w http.ResponseWriter, r *http.Request) {
	if h.deps.Suppressions == nil {
		httputil.ServiceUnavailable(w, "suppression store not configured")
		return
	}
	entry, err := h.deps.Suppressions.Get(r.Context(), emailParam(r))
	switch {
	case errors.Is(err, suppression.ErrNotFound):
		httputil.NotFound(w, "not suppressed")
	case errors.Is(err, suppression.ErrInvalidEmail):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, entry)
	}
}

// DeleteSuppression deactivates an entry. The row is kept.
func (h *Handlers) DeleteSuppression(w http.ResponseWriter, r *http.Request) {
	if h.deps.Suppressions == nil {
		httputil.ServiceUnavailable(w, "suppression store not configured")
		return
	}
	err := h.deps.Suppressions.Deactivate(r.Context(), emailParam(r))
	switch {
	case errors.Is(err, suppression.ErrNotFound):
		httputil.NotFound(w, "not suppressed")
	case errors.Is(err, suppression.ErrInvalidEmail):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.NoContent(w)
	}
}

// GetSuppressionStats returns counts by reason and source.
func (h *Handlers) GetSuppressionStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Suppressions == nil {
		httputil.ServiceUnavailable(w, "suppression store not configured")
		return
	}
	stats, err := h.deps.Suppressions.GetStats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}
