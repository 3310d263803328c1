package esp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// Kind classifies the result of one send attempt.
type Kind string

const (
	KindSent      Kind = "sent"
	KindTransient Kind = "transient_error"
	KindPermanent Kind = "permanent_error"
)

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 10 * time.Second

// Message is a fully rendered email addressed to one recipient.
type Message struct {
	To        string
	FromName  string
	FromEmail string
	ReplyTo   string
	Subject   string
	HTML      string
	Text      string
	EventID   string
	Priority  domain.Priority
}

// Result is the outcome of one Sender.Send call.
type Result struct {
	Kind              Kind
	Provider          string
	ProviderMessageID string
	Latency           time.Duration
	RawResponse       string
	Err               error
}

// OK reports whether the provider accepted the message.
func (r Result) OK() bool { return r.Kind == KindSent }

// Provider is one email service provider adapter.
type Provider interface {
	Name() string
	// Send returns the provider's message id and raw response body.
	Send(ctx context.Context, msg Message) (id string, raw string, err error)
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     Kind
	Code     string
	Msg      string
	// Config marks credential and wiring problems. They are permanent.
	Config bool
}

func (e *Error) Error() string {
	if e.Config {
		return fmt.Sprintf("config: %s: %s", e.Provider, e.Msg)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
}

// Transient reports whether another attempt may succeed.
func (e *Error) Transient() bool { return e.Kind == KindTransient }

func configError(provider, msg string) *Error {
	return &Error{Provider: provider, Kind: KindPermanent, Code: "config", Msg: msg, Config: true}
}

// StatusError classifies an HTTP response status from a provider API. It
// returns nil for 2xx.
func StatusError(provider string, status int, body string) *Error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("status %d: %s", status, truncate(body, 512))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e := configError(provider, "credentials rejected, "+msg)
		e.Code = fmt.Sprintf("http_%d", status)
		return e
	case status == http.StatusTooManyRequests:
		return &Error{Provider: provider, Kind: KindTransient, Code: "rate_limited", Msg: msg}
	case status == http.StatusRequestTimeout || status >= 500:
		return &Error{Provider: provider, Kind: KindTransient, Code: fmt.Sprintf("http_%d", status), Msg: msg}
	default:
		return &Error{Provider: provider, Kind: KindPermanent, Code: fmt.Sprintf("http_%d", status), Msg: msg}
	}
}

// Classify maps any error returned by a provider call to a Kind.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Provider: provider, Kind: KindTransient, Code: "timeout", Msg: err.Error()}
	case errors.Is(err, context.Canceled):
		return &Error{Provider: provider, Kind: KindTransient, Code: "canceled", Msg: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Provider: provider, Kind: KindTransient, Code: "timeout", Msg: err.Error()}
	}
	return &Error{Provider: provider, Kind: KindTransient, Code: "network", Msg: err.Error()}
}

// Limiter gates calls per provider. Allow returning an error fails open.
type Limiter interface {
	Allow(ctx context.Context, provider string) (bool, error)
}

// Sender dispatches messages to registered providers by name.
type Sender struct {
	mu        sync.RWMutex
	providers map[string]Provider
	timeout   time.Duration
	limiter   Limiter
	now       func() time.Time
	log       *logger.Logger
}

// NewSender creates a Sender. A zero timeout uses DefaultTimeout and a nil
// limiter disables rate limiting.
func NewSender(timeout time.Duration, limiter Limiter) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		providers: make(map[string]Provider),
		timeout:   timeout,
		limiter:   limiter,
		now:       time.Now,
		log:       logger.With("component", "esp"),
	}
}

// Register adds or replaces a provider under its lowercase name.
func (s *Sender) Register(p Provider) {
	s.mu.Lock()
	s.providers[strings.ToLower(p.Name())] = p
	s.mu.Unlock()
}

// Has reports whether a provider with the given name is registered.
func (s *Sender) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.providers[strings.ToLower(name)]
	return ok
}

// Names returns the registered provider names, sorted.
func (s *Sender) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.providers))
	for n := range s.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Send delivers msg through the named provider. It never returns a Go
// error; failures are reported through Result.Kind and Result.Err.
func (s *Sender) Send(ctx context.Context, provider string, msg Message) Result {
	name := strings.ToLower(provider)
	s.mu.RLock()
	p, ok := s.providers[name]
	s.mu.RUnlock()
	if !ok {
		err := configError(name, "provider not configured")
		err.Code = "unknown_provider"
		return Result{Kind: KindPermanent, Provider: name, Err: err}
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, name)
		if err != nil {
			s.log.Warn("rate limiter unavailable, allowing send", "provider", name, "error", err)
		} else if !allowed {
			return Result{
				Kind:     KindTransient,
				Provider: name,
				Err:      &Error{Provider: name, Kind: KindTransient, Code: "rate_limited", Msg: "per-minute send limit reached"},
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	id, raw, err := p.Send(callCtx, msg)
	latency := s.now().Sub(start)

	if err != nil {
		classified := Classify(name, err)
		s.log.Debug("send failed", "provider", name, "event_id", msg.EventID, "kind", classified.Kind, "code", classified.Code)
		return Result{
			Kind:        classified.Kind,
			Provider:    name,
			Latency:     latency,
			RawResponse: raw,
			Err:         classified,
		}
	}

	s.log.Debug("send accepted", "provider", name, "event_id", msg.EventID, "message_id", id, "latency_ms", latency.Milliseconds())
	return Result{
		Kind:              KindSent,
		Provider:          name,
		ProviderMessageID: id,
		Latency:           latency,
		RawResponse:       raw,
	}
}

func formatFrom(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
