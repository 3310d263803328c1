package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/esp"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/queue"
	"github.com/ignite/mailflow/internal/service/retry"
	"github.com/ignite/mailflow/internal/service/routing"
	"github.com/ignite/mailflow/internal/service/template"
)

// Queue is the event store as seen by the dispatcher.
type Queue interface {
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.CommunicationEvent, error)
	MarkOutcome(ctx context.Context, o domain.Outcome) error
}

// SuppressionChecker reports whether a recipient is blocked.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// Renderer renders a template by key.
type Renderer interface {
	Render(key string, vars domain.Variables) (template.Rendered, error)
}

// Router picks the next provider for an event.
type Router interface {
	SelectProvider(ctx context.Context, priority domain.Priority, excluded []string) (string, error)
	Providers() []string
}

// Sender sends one message through a named provider.
type Sender interface {
	Send(ctx context.Context, provider string, msg esp.Message) esp.Result
}

// Recorder receives one delivery log row per send attempt.
type Recorder interface {
	Record(ctx context.Context, l domain.DeliveryLog) error
	Recompute(ctx context.Context, provider, sendingDomain string) ([]domain.ProviderHealthMetric, error)
}

// RetryScheduler decides when a transiently failed event runs again.
type RetryScheduler interface {
	ScheduleRetry(e *domain.CommunicationEvent, now time.Time) retry.Decision
}

// Options configures a Dispatcher.
type Options struct {
	BatchSize     int
	Concurrency   int
	FromName      string
	FromEmail     string
	ReplyTo       string
	SendingDomain string
}

// Summary counts the outcomes of one RunOnce.
type Summary struct {
	Claimed    int `json:"claimed"`
	Sent       int `json:"sent"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
	Retried    int `json:"retried"`
	// Errors counts events whose outcome could not be written.
	Errors int `json:"errors"`
}

type counters struct {
	sent, suppressed, failed, retried, errors int64
}

// Dispatcher processes claimed events with a bounded worker pool.
type Dispatcher struct {
	queue        Queue
	suppressions SuppressionChecker
	renderer     Renderer
	router       Router
	sender       Sender
	recorder     Recorder
	retry        RetryScheduler
	opts         Options
	tracer       trace.Tracer
	now          func() time.Time
	log          *logger.Logger
}

// New creates a dispatcher.
func New(q Queue, s SuppressionChecker, r Renderer, router Router, sender Sender, rec Recorder, rs RetryScheduler, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Dispatcher{
		queue:        q,
		suppressions: s,
		renderer:     r,
		router:       router,
		sender:       sender,
		recorder:     rec,
		retry:        rs,
		opts:         opts,
		tracer:       otel.Tracer("github.com/ignite/mailflow/internal/dispatch"),
		now:          time.Now,
		log:          logger.With("component", "dispatch"),
	}
}

// RunOnce claims one batch and processes it to completion. Only a failed
// claim returns an error; per-event failures are reflected in the Summary.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	events, err := d.queue.ClaimBatch(ctx, d.opts.BatchSize, d.now().UTC())
	if err != nil {
		return Summary{}, fmt.Errorf("claim batch: %w", err)
	}
	if len(events) == 0 {
		return Summary{}, nil
	}

	var (
		c       counters
		wg      sync.WaitGroup
		mu      sync.Mutex
		touched = make(map[string]bool)
		work    = make(chan domain.CommunicationEvent)
	)

	workers := d.opts.Concurrency
	if workers > len(events) {
		workers = len(events)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range work {
				for _, p := range d.handle(ctx, e, &c) {
					mu.Lock()
					touched[p] = true
					mu.Unlock()
				}
			}
		}()
	}
	for _, e := range events {
		work <- e
	}
	close(work)
	wg.Wait()

	for p := range touched {
		if _, err := d.recorder.Recompute(ctx, p, d.opts.SendingDomain); err != nil {
			d.log.Warn("health recompute failed", "provider", p, "error", err)
		}
	}

	s := Summary{
		Claimed:    len(events),
		Sent:       int(atomic.LoadInt64(&c.sent)),
		Suppressed: int(atomic.LoadInt64(&c.suppressed)),
		Failed:     int(atomic.LoadInt64(&c.failed)),
		Retried:    int(atomic.LoadInt64(&c.retried)),
		Errors:     int(atomic.LoadInt64(&c.errors)),
	}
	d.log.Info("batch dispatched", "claimed", s.Claimed, "sent", s.Sent, "suppressed", s.Suppressed,
		"failed", s.Failed, "retried", s.Retried, "errors", s.Errors)
	return s, nil
}

// Run calls RunOnce every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	d.log.Info("dispatcher started", "interval", interval, "batch_size", d.opts.BatchSize, "concurrency", d.opts.Concurrency)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("dispatch cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping")
			return
		case <-ticker.C:
		}
	}
}

// handle processes one claimed event and returns the providers it called.
func (d *Dispatcher) handle(ctx context.Context, e domain.CommunicationEvent, c *counters) (touched []string) {
	ctx, span := d.tracer.Start(ctx, "dispatch.event", trace.WithAttributes(
		attribute.String("event.id", e.ID),
		attribute.String("event.type", e.EventType),
		attribute.String("event.priority", string(e.Priority)),
		attribute.Int("event.retry_count", e.RetryCount),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic while dispatching event", "event_id", e.ID, "panic", r, "stack", string(debug.Stack()))
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			d.retryOrFail(ctx, e, err, "", c)
		}
	}()

	log := d.log.With("event_id", e.ID)

	suppressed, err := d.suppressions.IsSuppressed(ctx, e.RecipientEmail)
	if err != nil {
		log.Warn("suppression check failed", "error", err)
		d.retryOrFail(ctx, e, fmt.Errorf("suppression check: %w", err), "", c)
		span.SetAttributes(attribute.String("event.status", "retry"))
		return nil
	}
	if suppressed {
		d.finish(ctx, e, domain.Outcome{EventID: e.ID, Status: domain.OutcomeSuppressed, Error: "recipient suppressed"}, &c.suppressed, c)
		span.SetAttributes(attribute.String("event.status", string(domain.StatusSuppressed)))
		return nil
	}

	rendered, err := d.renderer.Render(e.TemplateKey, e.Variables)
	if err != nil {
		msg := "template: " + err.Error()
		if errors.Is(err, template.ErrTemplateNotFound) {
			msg = "config: " + msg
		}
		log.Error("render failed", "template_key", e.TemplateKey, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		d.finish(ctx, e, domain.Outcome{EventID: e.ID, Status: domain.OutcomeFailed, Error: msg}, &c.failed, c)
		return nil
	}

	msg := esp.Message{
		To:        e.RecipientEmail,
		FromName:  d.opts.FromName,
		FromEmail: d.opts.FromEmail,
		ReplyTo:   d.opts.ReplyTo,
		Subject:   rendered.Subject,
		HTML:      rendered.HTML,
		Text:      rendered.Text,
		EventID:   e.ID,
		Priority:  e.Priority,
	}

	attempts := len(d.router.Providers())
	if attempts == 0 {
		attempts = 1
	}
	var (
		tried   []string
		lastErr error
		lastP   string
	)
	for i := 0; i < attempts; i++ {
		provider, err := d.router.SelectProvider(ctx, e.Priority, tried)
		if err != nil {
			if lastErr == nil || !errors.Is(err, routing.ErrNoHealthyProvider) {
				lastErr = err
			}
			break
		}
		tried = append(tried, provider)
		lastP = provider

		res := d.sender.Send(ctx, provider, msg)
		d.record(ctx, e, res)

		switch res.Kind {
		case esp.KindSent:
			d.finish(ctx, e, domain.Outcome{
				EventID:    e.ID,
				Status:     domain.OutcomeSent,
				ExternalID: res.ProviderMessageID,
				Provider:   provider,
			}, &c.sent, c)
			span.SetAttributes(
				attribute.String("event.status", string(domain.StatusSent)),
				attribute.String("event.provider", provider),
			)
			return tried
		case esp.KindPermanent:
			log.Warn("permanent send failure", "provider", provider, "error", res.Err)
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "permanent failure")
			d.finish(ctx, e, domain.Outcome{
				EventID:  e.ID,
				Status:   domain.OutcomeFailed,
				Provider: provider,
				Error:    res.Err.Error(),
			}, &c.failed, c)
			span.SetAttributes(attribute.String("event.status", string(domain.StatusFailed)))
			return tried
		default:
			log.Info("transient send failure, trying next provider", "provider", provider, "error", res.Err)
			lastErr = res.Err
		}
	}

	if lastErr == nil {
		lastErr = routing.ErrNoHealthyProvider
	}
	span.RecordError(lastErr)
	d.retryOrFail(ctx, e, lastErr, lastP, c)
	return tried
}

// retryOrFail sends a transiently failed event back through backoff, or
// fails it once its retries are spent.
func (d *Dispatcher) retryOrFail(ctx context.Context, e domain.CommunicationEvent, cause error, provider string, c *counters) {
	now := d.now().UTC()
	dec := d.retry.ScheduleRetry(&e, now)
	if dec.Terminal {
		d.log.Warn("retries exhausted", "event_id", e.ID, "retry_count", e.RetryCount, "error", cause)
		d.finish(ctx, e, domain.Outcome{EventID: e.ID, Status: domain.OutcomeFailed, Provider: provider, Error: cause.Error()}, &c.failed, c)
		return
	}
	d.finish(ctx, e, domain.Outcome{
		EventID:       e.ID,
		Status:        domain.OutcomeRetry,
		Provider:      provider,
		Error:         cause.Error(),
		NextAttemptAt: dec.NextAt,
	}, &c.retried, c)
}

func (d *Dispatcher) finish(ctx context.Context, e domain.CommunicationEvent, o domain.Outcome, counter *int64, c *counters) {
	o.ClaimToken = e.ClaimToken
	// Outcomes are written even when the batch context is cancelled so
	// claimed events are not left in processing.
	wctx := context.WithoutCancel(ctx)
	if err := d.queue.MarkOutcome(wctx, o); err != nil {
		if errors.Is(err, queue.ErrClaimLost) {
			d.log.Warn("claim lost before outcome was written", "event_id", o.EventID, "status", o.Status)
			atomic.AddInt64(&c.errors, 1)
			return
		}
		d.log.Error("mark outcome failed", "event_id", o.EventID, "status", o.Status, "error", err)
		atomic.AddInt64(&c.errors, 1)
		return
	}
	atomic.AddInt64(counter, 1)
}

func (d *Dispatcher) record(ctx context.Context, e domain.CommunicationEvent, res esp.Result) {
	l := domain.DeliveryLog{
		EventID:         e.ID,
		EventExternalID: res.ProviderMessageID,
		Provider:        res.Provider,
		EventType:       domain.DeliverySent,
		Recipient:       e.RecipientEmail,
		SendingDomain:   d.opts.SendingDomain,
		LatencyMS:       res.Latency.Milliseconds(),
		RawResponse:     res.RawResponse,
	}
	if !res.OK() {
		l.EventType = domain.DeliveryFailed
		if l.RawResponse == "" && res.Err != nil {
			l.RawResponse = res.Err.Error()
		}
	}
	if err := d.recorder.Record(context.WithoutCancel(ctx), l); err != nil {
		d.log.Warn("delivery log write failed", "event_id", e.ID, "provider", res.Provider, "error", err)
	}
}
