package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/metrics"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// Run subscribes to the rundown's notifications and applies them until ctx is
// cancelled, which returns nil.
//
// When the subscription fails or ends on its own, Run retries up to the
// configured number of times with a fixed backoff. A subscription that
// delivered at least one notification resets the count. Once retries are
// exhausted the reconciler is marked degraded and Run returns an error
// wrapping ErrDegraded; direct fetches keep working.
func (r *Reconciler) Run(ctx context.Context) error {
	failures := 0

	for {
		sub, err := r.sub.Subscribe(ctx, r.rundownID)
		if err == nil {
			if r.degraded.Swap(false) {
				r.metrics.SetDegraded(false)
				r.logger.Info("realtime updates restored", zap.String("rundown_id", r.rundownID))
			}
			if r.resync != nil {
				if err := r.resync(ctx); err != nil {
					r.logger.Warn("resync after subscribe failed", zap.Error(err))
				}
			}

			var delivered bool
			delivered, err = r.consume(ctx, sub)
			if delivered {
				failures = 0
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		failures++
		if failures > r.maxRetries {
			r.degrade(err)
			return fmt.Errorf("%w: %v", ErrDegraded, err)
		}

		r.metrics.IncReconnect()
		r.logger.Warn("subscription lost, retrying",
			zap.String("rundown_id", r.rundownID),
			zap.Int("attempt", failures),
			zap.Int("max_retries", r.maxRetries),
			zap.Duration("backoff", r.backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(r.backoff):
		}
	}
}

// consume drains one subscription. It returns when ctx is done or the
// subscription ends, with the reason it ended.
func (r *Reconciler) consume(ctx context.Context, sub Subscription) (delivered bool, err error) {
	defer sub.Close()

	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()

		case n, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return delivered, err
				}
				return delivered, rundown.ErrSubscriptionLost
			}
			delivered = true
			r.Handle(n)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.metrics.ObserveNotification("unknown", "unknown", metrics.OutcomeMalformed)
			r.logger.Warn("dropped notification", zap.Error(err))
		}
	}
}

func (r *Reconciler) degrade(cause error) {
	r.degraded.Store(true)
	r.metrics.SetDegraded(true)
	r.logger.Warn("realtime updates degraded, manual refresh only",
		zap.String("rundown_id", r.rundownID),
		zap.Int("retries", r.maxRetries),
		zap.Error(cause))
	if r.onDegraded != nil {
		r.onDegraded(cause)
	}
}
