package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/queue"
	"github.com/ignite/mailflow/internal/service/suppression"
)

// Suppressor upserts suppression entries.
type Suppressor interface {
	Suppress(ctx context.Context, req suppression.SuppressRequest) (*domain.SuppressionEntry, error)
}

// Reputation records delivery logs and recomputes health metrics.
type Reputation interface {
	Record(ctx context.Context, l domain.DeliveryLog) error
	RecipientCount(ctx context.Context, recipient string, eventType domain.DeliveryEventType) (int64, error)
	Recompute(ctx context.Context, provider, sendingDomain string) ([]domain.ProviderHealthMetric, error)
}

// EventCorrelator maps a provider message id back to its event.
type EventCorrelator interface {
	UpdateDeliveryStatus(ctx context.Context, externalID, deliveryStatus string) (*domain.CommunicationEvent, error)
}

// ConsentStore deactivates marketing consent for an address. It reports
// whether a consent record existed.
type ConsentStore interface {
	DeactivateConsent(ctx context.Context, email string) (bool, error)
}

// Options configures an Ingestor.
type Options struct {
	// SendingDomain is recorded on log rows and used for domain health.
	SendingDomain string
	// SoftBounceSuppressAfter suppresses an address after this many soft
	// bounces inside the health window. Zero disables escalation.
	SoftBounceSuppressAfter int
}

// Outcome reports what was applied for one notification.
type Outcome struct {
	Email      string              `json:"email"`
	Type       domain.FeedbackType `json:"type"`
	Suppressed bool                `json:"suppressed"`
	Reason     string              `json:"reason,omitempty"`
	Provider   string              `json:"provider,omitempty"`
	EventID    string              `json:"event_id,omitempty"`
}

// ItemError describes a notification that could not be applied.
type ItemError struct {
	Index int    `json:"index"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

// BatchResult aggregates a webhook batch. Success is false when any item
// failed.
type BatchResult struct {
	Success   bool        `json:"success"`
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Results   []Outcome   `json:"results"`
	Errors    []ItemError `json:"errors"`
}

// Ingestor applies provider feedback to the suppression list, the delivery
// log and provider health.
type Ingestor struct {
	suppressions Suppressor
	reputation   Reputation
	events       EventCorrelator
	consent      ConsentStore
	archiver     Archiver
	opts         Options
	now          func() time.Time
	log          *logger.Logger
}

// NewIngestor creates an ingestor. events, consent and archiver are
// optional.
func NewIngestor(s Suppressor, r Reputation, events EventCorrelator, consent ConsentStore, archiver Archiver, opts Options) *Ingestor {
	return &Ingestor{
		suppressions: s,
		reputation:   r,
		events:       events,
		consent:      consent,
		archiver:     archiver,
		opts:         opts,
		now:          time.Now,
		log:          logger.With("component", "feedback"),
	}
}

// Ingest applies one notification.
func (in *Ingestor) Ingest(ctx context.Context, ev domain.FeedbackEvent) (Outcome, error) {
	ev, err := in.normalize(ev)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Email: ev.Email, Type: ev.Type, Provider: ev.Provider}

	// Correlation is informational and never blocks the rest.
	if ev.MessageID != "" && in.events != nil {
		e, cerr := in.events.UpdateDeliveryStatus(ctx, ev.MessageID, deliveryStatus(ev))
		switch {
		case cerr == nil:
			out.EventID = e.ID
			if out.Provider == "" {
				out.Provider = e.Provider
			}
		case errors.Is(cerr, queue.ErrNotFound):
		default:
			in.log.Warn("delivery status update failed", "message_id", ev.MessageID, "error", cerr)
		}
	}

	logType := deliveryLogType(ev)
	var reason domain.SuppressionReason
	switch {
	case ev.Type == domain.FeedbackBounce && ev.BounceType == domain.BounceHard:
		reason = domain.ReasonHardBounce
	case ev.Type == domain.FeedbackComplaint:
		reason = domain.ReasonComplaint
	case ev.Type == domain.FeedbackUnsubscribe:
		reason = domain.ReasonUnsubscribe
	}

	if reason != "" {
		if err := in.suppress(ctx, ev, out.Provider, reason); err != nil {
			return Outcome{}, err
		}
		out.Suppressed = true
		out.Reason = string(reason)
	}

	if ev.Type == domain.FeedbackUnsubscribe && in.consent != nil {
		if _, err := in.consent.DeactivateConsent(ctx, ev.Email); err != nil {
			return Outcome{}, fmt.Errorf("deactivate consent: %w", err)
		}
	}

	raw, _ := json.Marshal(ev)
	err = in.reputation.Record(ctx, domain.DeliveryLog{
		EventID:         out.EventID,
		EventExternalID: ev.MessageID,
		Provider:        out.Provider,
		EventType:       logType,
		Recipient:       ev.Email,
		SendingDomain:   in.opts.SendingDomain,
		RawResponse:     string(raw),
		Timestamp:       ev.Timestamp,
	})
	if err != nil {
		return Outcome{}, err
	}

	if logType == domain.DeliverySoftBounced && in.opts.SoftBounceSuppressAfter > 0 {
		n, err := in.reputation.RecipientCount(ctx, ev.Email, domain.DeliverySoftBounced)
		if err != nil {
			in.log.Warn("soft bounce count failed", "email", ev.Email, "error", err)
		} else if n >= int64(in.opts.SoftBounceSuppressAfter) {
			if err := in.suppress(ctx, ev, out.Provider, domain.ReasonSoftBounce); err != nil {
				return Outcome{}, err
			}
			out.Suppressed = true
			out.Reason = string(domain.ReasonSoftBounce)
		}
	}

	if out.Provider != "" {
		if _, err := in.reputation.Recompute(ctx, out.Provider, in.opts.SendingDomain); err != nil {
			in.log.Warn("health recompute failed", "provider", out.Provider, "error", err)
		}
	}

	in.log.Info("feedback applied", "type", ev.Type, "email", ev.Email, "provider", out.Provider, "suppressed", out.Suppressed)
	return out, nil
}

func (in *Ingestor) suppress(ctx context.Context, ev domain.FeedbackEvent, provider string, reason domain.SuppressionReason) error {
	_, err := in.suppressions.Suppress(ctx, suppression.SuppressRequest{
		Email:    ev.Email,
		Reason:   reason,
		Source:   domain.SourceESPWebhook,
		Provider: provider,
		Detail:   ev.Reason,
	})
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	return nil
}

// IngestBatch applies each item independently.
func (in *Ingestor) IngestBatch(ctx context.Context, items []json.RawMessage) BatchResult {
	res := BatchResult{Results: []Outcome{}, Errors: []ItemError{}}
	for i, raw := range items {
		var ev domain.FeedbackEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			res.Errors = append(res.Errors, ItemError{Index: i, Error: fmt.Sprintf("%v: %v", ErrInvalidFeedback, err)})
			continue
		}
		out, err := in.Ingest(ctx, ev)
		if err != nil {
			res.Errors = append(res.Errors, ItemError{Index: i, Email: ev.Email, Error: err.Error()})
			continue
		}
		res.Results = append(res.Results, out)
	}
	res.Processed = len(res.Results)
	res.Failed = len(res.Errors)
	res.Success = res.Failed == 0
	if res.Failed > 0 {
		in.log.Warn("feedback batch had failures", "processed", res.Processed, "failed", res.Failed)
	}
	return res
}

// IngestPayload parses a webhook body, archives it when an archiver is
// configured, and ingests every item. A body that is not a JSON array
// returns ErrInvalidPayload.
func (in *Ingestor) IngestPayload(ctx context.Context, body []byte) (BatchResult, error) {
	items, err := ParseBatch(body)
	if err != nil {
		return BatchResult{}, err
	}
	if in.archiver != nil {
		if key, aerr := in.archiver.Archive(ctx, body); aerr != nil {
			in.log.Warn("feedback archive failed", "error", aerr)
		} else {
			in.log.Debug("feedback archived", "key", key, "items", len(items))
		}
	}
	return in.IngestBatch(ctx, items), nil
}

// ParseBatch splits a JSON array into its raw items.
func ParseBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrInvalidPayload
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return items, nil
}

func (in *Ingestor) normalize(ev domain.FeedbackEvent) (domain.FeedbackEvent, error) {
	ev.Email = domain.NormalizeEmail(ev.Email)
	// providers are registered and routed under lowercase names
	ev.Provider = strings.ToLower(strings.TrimSpace(ev.Provider))
	if !domain.ValidEmail(ev.Email) {
		return ev, fmt.Errorf("%w: invalid email %q", ErrInvalidFeedback, ev.Email)
	}
	switch ev.Type {
	case domain.FeedbackBounce:
		switch ev.BounceType {
		case "":
			ev.BounceType = domain.BounceSoft
		case domain.BounceHard, domain.BounceSoft:
		default:
			return ev, fmt.Errorf("%w: unknown bounceType %q", ErrInvalidFeedback, ev.BounceType)
		}
	case domain.FeedbackComplaint, domain.FeedbackDelivery, domain.FeedbackOpen,
		domain.FeedbackClick, domain.FeedbackUnsubscribe:
	default:
		return ev, fmt.Errorf("%w: unknown type %q", ErrInvalidFeedback, ev.Type)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = in.now().UTC()
	}
	return ev, nil
}

func deliveryLogType(ev domain.FeedbackEvent) domain.DeliveryEventType {
	switch ev.Type {
	case domain.FeedbackBounce:
		if ev.BounceType == domain.BounceHard {
			return domain.DeliveryBounced
		}
		return domain.DeliverySoftBounced
	case domain.FeedbackComplaint:
		return domain.DeliveryComplained
	case domain.FeedbackOpen:
		return domain.DeliveryOpened
	case domain.FeedbackClick:
		return domain.DeliveryClicked
	case domain.FeedbackUnsubscribe:
		return domain.DeliveryUnsubscribed
	default:
		return domain.DeliveryDelivered
	}
}

func deliveryStatus(ev domain.FeedbackEvent) string {
	return string(deliveryLogType(ev))
}
