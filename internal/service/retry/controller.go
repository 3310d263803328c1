// Package retry decides when a failed send is attempted again.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// Decision is the result of ScheduleRetry. When Terminal is true the event
// must be written as failed and NextAt is zero.
type Decision struct {
	Terminal bool
	NextAt   time.Time
	Delay    time.Duration
}

// Controller computes exponential backoff with jitter.
//
// The delay for attempt n (n = retry_count) is base*2^n scaled by a random
// factor in [1-jitter, 1+jitter], capped at max. With jitter below 1/3 the
// smallest possible delay for n+1 is never shorter than the largest for n,
// so successive delays for one event never decrease.
type Controller struct {
	base   time.Duration
	max    time.Duration
	jitter float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewController creates a controller. jitter is clamped to [0, 0.33].
func NewController(base, maxDelay time.Duration, jitter float64) *Controller {
	if base <= 0 {
		base = 30 * time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 0.33 {
		jitter = 0.33
	}
	return &Controller{
		base:   base,
		max:    maxDelay,
		jitter: jitter,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ScheduleRetry returns when e should next be attempted after a transient
// failure at now, or Terminal once another retry would exceed MaxRetries.
func (c *Controller) ScheduleRetry(e *domain.CommunicationEvent, now time.Time) Decision {
	if e.RetriesExhausted() {
		return Decision{Terminal: true}
	}
	d := c.Delay(e.RetryCount)
	return Decision{NextAt: now.Add(d), Delay: d}
}

// Delay returns the jittered backoff for the given retry count. Always
// positive and never above the configured maximum.
func (c *Controller) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	exp := float64(c.base) * math.Pow(2, float64(retryCount))

	c.mu.Lock()
	factor := 1 + c.jitter*(2*c.rnd.Float64()-1)
	c.mu.Unlock()

	d := exp * factor
	if d > float64(c.max) || math.IsInf(d, 0) {
		d = float64(c.max)
	}
	if d < float64(time.Second) {
		d = float64(time.Second)
	}
	return time.Duration(d)
}
