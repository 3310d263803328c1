package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/mailflow/internal/dispatch"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/httputil"
	"github.com/ignite/mailflow/internal/service/feedback"
	"github.com/ignite/mailflow/internal/service/queue"
	"github.com/ignite/mailflow/internal/service/suppression"
)

// EventQueue accepts and looks up communication events.
type EventQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (queue.EnqueueResult, error)
	Get(ctx context.Context, id string) (*domain.CommunicationEvent, error)
}

// FeedbackIngestor applies a provider webhook body.
type FeedbackIngestor interface {
	IngestPayload(ctx context.Context, body []byte) (feedback.BatchResult, error)
}

// DispatchRunner runs one dispatcher batch.
type DispatchRunner interface {
	RunOnce(ctx context.Context) (dispatch.Summary, error)
}

// SuppressionStore is the administrative view of the suppression list.
type SuppressionStore interface {
	Suppress(ctx context.Context, req suppression.SuppressRequest) (*domain.SuppressionEntry, error)
	Get(ctx context.Context, email string) (*domain.SuppressionEntry, error)
	Deactivate(ctx context.Context, email string) error
	List(ctx context.Context, filter suppression.ListFilter) ([]domain.SuppressionEntry, int, error)
	GetStats(ctx context.Context) (*suppression.Stats, error)
}

// HealthReader reports stored provider health metrics.
type HealthReader interface {
	ProviderHealth(ctx context.Context) (map[string][]domain.ProviderHealthMetric, error)
}

// CandidateLister reports the current failover order for a priority.
type CandidateLister interface {
	Candidates(ctx context.Context, priority domain.Priority) []string
}

// Pinger is anything /health should check: the database and Redis.
type Pinger func(ctx context.Context) error

// Deps wires the handlers to the pipeline. Nil components disable their
// routes' behaviour with a 503.
type Deps struct {
	Events       EventQueue
	Feedback     FeedbackIngestor
	Dispatcher   DispatchRunner
	Suppressions SuppressionStore
	Health       HealthReader
	Router       CandidateLister
	Checks       map[string]Pinger
	// MaxFeedbackBytes caps webhook bodies; zero uses 2 MiB.
	MaxFeedbackBytes int64
}

// Handlers contains the HTTP handlers.
type Handlers struct {
	deps Deps
	now  func() time.Time
}

// NewHandlers creates handlers over deps.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, now: time.Now}
}

// HealthCheck reports liveness plus the result of each dependency check.
// Any failing check turns the response into a 503.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string, len(h.deps.Checks))
	for name, ping := range h.deps.Checks {
		if err := ping(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": h.now().UTC(),
		"checks":    checks,
	})
}
