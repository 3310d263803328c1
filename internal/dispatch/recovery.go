package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/mailflow/internal/pkg/distlock"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/queue"
)

const (
	// DefaultRecoveryInterval is how often stuck events are looked for.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long an event may stay in processing before
	// its worker is presumed dead.
	DefaultStaleAge = 5 * time.Minute
)

// StaleRecoverer returns stuck processing events to the queue.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, staleAge time.Duration) (queue.RecoveryResult, error)
}

// Recovery periodically recovers events left in processing. The sweep runs
// under a distributed lock so only one process performs it per interval.
type Recovery struct {
	queue    StaleRecoverer
	lock     distlock.DistLock
	interval time.Duration
	staleAge time.Duration
	log      *logger.Logger
}

// NewRecovery creates a recovery worker. lock may be nil when a single
// worker process runs.
func NewRecovery(q StaleRecoverer, lock distlock.DistLock, interval, staleAge time.Duration) *Recovery {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &Recovery{
		queue:    q,
		lock:     lock,
		interval: interval,
		staleAge: staleAge,
		log:      logger.With("component", "recovery"),
	}
}

// Start runs the sweep every interval until ctx is cancelled.
func (r *Recovery) Start(ctx context.Context) {
	r.log.Info("queue recovery started", "interval", r.interval, "stale_age", r.staleAge)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("queue recovery stopping")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, distlock.ErrNotAcquired) {
				r.log.Error("queue recovery failed", "error", err)
			}
		}
	}
}

// RunOnce performs one sweep. It returns distlock.ErrNotAcquired when
// another process holds the lock.
func (r *Recovery) RunOnce(ctx context.Context) (queue.RecoveryResult, error) {
	var res queue.RecoveryResult
	sweep := func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		var err error
		res, err = r.queue.RecoverStale(sctx, r.staleAge)
		return err
	}

	var err error
	if r.lock == nil {
		err = sweep(ctx)
	} else {
		err = distlock.Run(ctx, r.lock, sweep)
	}
	if err != nil {
		return queue.RecoveryResult{}, err
	}
	if res.Requeued > 0 || res.Failed > 0 {
		r.log.Warn("recovered stuck events", "requeued", res.Requeued, "failed", res.Failed)
	}
	return res, nil
}
