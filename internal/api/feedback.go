package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ignite/mailflow/internal/pkg/httputil"
	"github.com/ignite/mailflow/internal/service/feedback"
)

const maxFeedbackBody = 2 << 20

// HandleFeedback applies a JSON array of provider notifications. Item
// failures are reported in the body; an unreadable payload is a 400 and one
// over the size limit a 413.
func (h *Handlers) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if h.deps.Feedback == nil {
		httputil.ServiceUnavailable(w, "feedback ingestion not configured")
		return
	}
	limit := h.deps.MaxFeedbackBytes
	if limit <= 0 {
		limit = maxFeedbackBody
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		if httputil.IsTooLarge(err) {
			httputil.PayloadTooLarge(w, limit)
			return
		}
		httputil.BadRequest(w, "read error")
		return
	}

	res, err := h.deps.Feedback.IngestPayload(r.Context(), body)
	switch {
	case errors.Is(err, feedback.ErrInvalidPayload):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, res)
	}
}
