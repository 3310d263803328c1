package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailflow/internal/pkg/httputil"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/queue"
)

// CreateEvent queues a notification request. The event is only stored
// here; delivery happens on a later dispatcher run.
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		httputil.ServiceUnavailable(w, "event queue not configured")
		return
	}
	var req queue.EnqueueRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	res, err := h.deps.Events.Enqueue(r.Context(), req)
	switch {
	case errors.Is(err, queue.ErrInvalidEvent):
		httputil.BadRequest(w, err.Error())
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}
	if res.Existing {
		logger.Debug("event folded into in-flight event", "event_id", res.ID, "event_type", req.EventType)
	}
	httputil.Accepted(w, res)
}

// GetEvent returns one event with its status.
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		httputil.ServiceUnavailable(w, "event queue not configured")
		return
	}
	e, err := h.deps.Events.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, queue.ErrNotFound):
		httputil.NotFound(w, "event not found")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, e)
	}
}

// RunDispatch runs one dispatcher batch synchronously and returns its
// summary.
func (h *Handlers) RunDispatch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Dispatcher == nil {
		httputil.ServiceUnavailable(w, "dispatcher not configured")
		return
	}
	sum, err := h.deps.Dispatcher.RunOnce(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, sum)
}
