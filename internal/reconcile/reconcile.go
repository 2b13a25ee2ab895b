// Package reconcile merges the backend's change notifications into the local
// rundown model without undoing or duplicating this client's own optimistic
// edits.
//
// Each notification goes through the suppression rules first, in order:
//
//  1. an update that lands an item exactly where this client just moved it,
//     while the model already shows it there, is our own echo;
//  2. an update of an item this client is editing (in flight, or within the
//     echo window) must not clobber the local edit;
//  3. nothing is applied while a drag gesture is in progress.
//
// Surviving notifications are applied with the collection functions. Updates
// older than the row already in the model are dropped, so that late delivery
// never rolls an item back past the backend's last accepted write.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/clock"
	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/internal/echo"
	"github.com/newsroomate/rundown/internal/logging"
	"github.com/newsroomate/rundown/internal/metrics"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// ErrDegraded is returned by Run once reconnecting gave up.
var ErrDegraded = errors.New("realtime updates degraded")

const (
	DefaultMaxRetries     = 3
	DefaultBackoff        = 2 * time.Second
	DefaultOrderTolerance = 1
)

// Subscription is a live stream of notifications for one rundown.
// *rundown.Subscription implements it.
type Subscription interface {
	Events() <-chan rundown.Notification
	Errors() <-chan error
	Err() error
	Close() error
}

// Subscriber opens subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, rundownID string) (Subscription, error)
}

// SubscribeFunc adapts a function to Subscriber.
type SubscribeFunc func(ctx context.Context, rundownID string) (Subscription, error)

func (f SubscribeFunc) Subscribe(ctx context.Context, rundownID string) (Subscription, error) {
	return f(ctx, rundownID)
}

// ClientSubscriber adapts the Redis client to Subscriber.
func ClientSubscriber(c *rundown.Client) Subscriber {
	return SubscribeFunc(func(ctx context.Context, rundownID string) (Subscription, error) {
		sub, err := c.Subscribe(ctx, rundownID)
		if err != nil {
			return nil, err
		}
		return sub, nil
	})
}

// Reconciler applies notifications of one rundown to its model.
type Reconciler struct {
	rundownID string
	origin    string
	state     *collection.State
	echo      *echo.Registry
	sub       Subscriber

	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Collector
	maxRetries int
	backoff    time.Duration
	tolerance  int
	resync     func(context.Context) error
	onDegraded func(error)
	onNotify   func(rundown.Notification, string)

	degraded atomic.Bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = logging.Component(l, "reconciler") }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithOrigin sets this client's origin id, as stamped by its backend on every
// write. Notifications from other origins never match local pending inserts
// or in-flight deletes.
func WithOrigin(origin string) Option {
	return func(r *Reconciler) { r.origin = origin }
}

// WithRetry sets how many times a lost subscription is retried and the fixed
// wait between attempts.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(r *Reconciler) {
		r.maxRetries = maxRetries
		r.backoff = backoff
	}
}

// WithOrderTolerance sets how far an insert echo's order may be from a pending
// insert's order and still be taken as its confirmation.
func WithOrderTolerance(n int) Option {
	return func(r *Reconciler) { r.tolerance = n }
}

// WithResync sets a function run after every successful subscribe, to pick up
// notifications published while no subscription was listening.
func WithResync(fn func(context.Context) error) Option {
	return func(r *Reconciler) { r.resync = fn }
}

// OnDegraded registers a callback run once when reconnecting gives up.
func OnDegraded(fn func(error)) Option {
	return func(r *Reconciler) { r.onDegraded = fn }
}

// OnNotification registers a callback run after each notification with its
// outcome. It runs on the Run goroutine and must not block.
func OnNotification(fn func(n rundown.Notification, outcome string)) Option {
	return func(r *Reconciler) { r.onNotify = fn }
}

// New creates a reconciler for rundownID. state and reg are shared with the
// optimistic engine of the same rundown.
func New(rundownID string, state *collection.State, reg *echo.Registry, sub Subscriber, opts ...Option) *Reconciler {
	r := &Reconciler{
		rundownID:  rundownID,
		state:      state,
		echo:       reg,
		sub:        sub,
		clock:      clock.Real{},
		logger:     zap.NewNop(),
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		tolerance:  DefaultOrderTolerance,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Degraded reports whether realtime updates gave up.
func (r *Reconciler) Degraded() bool {
	return r.degraded.Load()
}

// Handle applies one notification and returns what happened to it, as one of
// the metrics.Outcome* values. A malformed notification leaves the model
// untouched.
func (r *Reconciler) Handle(n rundown.Notification) string {
	var outcome string
	switch n.Table {
	case rundown.TableItems:
		outcome = r.handleItem(n)
	case rundown.TableBlocks:
		outcome = r.handleBlock(n)
	default:
		r.logger.Warn("notification for unknown table", zap.String("table", string(n.Table)))
		outcome = metrics.OutcomeMalformed
	}
	r.metrics.ObserveNotification(string(n.Table), string(n.Event), outcome)
	if r.onNotify != nil {
		r.onNotify(n, outcome)
	}
	return outcome
}

func (r *Reconciler) ownOrigin(n rundown.Notification) bool {
	return r.origin == "" || n.Origin == "" || n.Origin == r.origin
}

func (r *Reconciler) handleItem(n rundown.Notification) string {
	row, err := n.DecodeItem()
	if err != nil {
		r.logger.Warn("malformed item notification",
			zap.String("event", string(n.Event)),
			zap.Error(err))
		return metrics.OutcomeMalformed
	}

	if n.Event == rundown.EventUpdate {
		if r.echo.MovedTo(row.ID, row.BlockID, row.Order) && r.modelShows(row) {
			return metrics.OutcomeSuppressedMove
		}
		if r.echo.UpdateInFlight(row.ID) || r.echo.RecentlyEdited(row.ID) {
			return metrics.OutcomeSuppressedEdit
		}
	}
	if r.echo.Dragging() {
		return metrics.OutcomeSuppressedDrag
	}

	switch n.Event {
	case rundown.EventInsert:
		return r.insertItem(n, *row)
	case rundown.EventUpdate:
		return r.updateItem(*row)
	case rundown.EventDelete:
		if r.ownOrigin(n) && r.echo.DeleteInFlight(row.ID) {
			return metrics.OutcomeOwnDelete
		}
		return r.apply(func(b []collection.Block) []collection.Block {
			return collection.RemoveItem(b, collection.Committed(row.ID))
		})
	default:
		return metrics.OutcomeMalformed
	}
}

func (r *Reconciler) insertItem(n rundown.Notification, row rundown.Item) string {
	if _, exists := collection.FindByID(r.state.Snapshot(), row.ID); exists {
		return metrics.OutcomeDuplicate
	}

	if r.ownOrigin(n) {
		if p, ok := r.echo.MatchPending(row.BlockID, row.Order, r.tolerance); ok {
			r.echo.RemovePending(p.TempID)
			if _, changed := r.state.Apply(func(b []collection.Block) []collection.Block {
				return collection.ReplaceRef(b, collection.Pending(p.TempID), row)
			}); changed {
				r.logger.Debug("pending insert confirmed by echo",
					zap.String("temp_id", p.TempID),
					zap.String("item_id", row.ID))
				return metrics.OutcomeReplacedPending
			}
		}
	}

	return r.apply(func(b []collection.Block) []collection.Block {
		return collection.InsertItem(b, collection.FromRow(row))
	})
}

func (r *Reconciler) updateItem(row rundown.Item) string {
	cur, exists := collection.FindByID(r.state.Snapshot(), row.ID)
	if !exists {
		return r.apply(func(b []collection.Block) []collection.Block {
			return collection.InsertItem(b, collection.FromRow(row))
		})
	}
	if row.UpdatedAtMs != 0 && row.UpdatedAtMs < cur.Data.UpdatedAtMs {
		return metrics.OutcomeStale
	}
	return r.apply(func(b []collection.Block) []collection.Block {
		return collection.UpdateItem(b, collection.Committed(row.ID), row)
	})
}

func (r *Reconciler) handleBlock(n rundown.Notification) string {
	row, err := n.DecodeBlock()
	if err != nil {
		r.logger.Warn("malformed block notification",
			zap.String("event", string(n.Event)),
			zap.Error(err))
		return metrics.OutcomeMalformed
	}
	if r.echo.Dragging() {
		return metrics.OutcomeSuppressedDrag
	}

	switch n.Event {
	case rundown.EventInsert:
		if collection.BlockIndex(r.state.Snapshot(), row.ID) >= 0 {
			return metrics.OutcomeDuplicate
		}
		return r.apply(func(b []collection.Block) []collection.Block {
			return collection.InsertBlock(b, collection.Block{Block: *row})
		})
	case rundown.EventUpdate:
		return r.apply(func(b []collection.Block) []collection.Block {
			if collection.BlockIndex(b, row.ID) < 0 {
				return collection.InsertBlock(b, collection.Block{Block: *row})
			}
			return collection.UpdateBlock(b, *row)
		})
	case rundown.EventDelete:
		return r.apply(func(b []collection.Block) []collection.Block {
			return collection.RemoveBlock(b, row.ID)
		})
	default:
		return metrics.OutcomeMalformed
	}
}

func (r *Reconciler) apply(fn func([]collection.Block) []collection.Block) string {
	if _, changed := r.state.Apply(fn); changed {
		return metrics.OutcomeApplied
	}
	return metrics.OutcomeNoop
}

func (r *Reconciler) modelShows(row *rundown.Item) bool {
	cur, ok := collection.FindByID(r.state.Snapshot(), row.ID)
	return ok && cur.Data.BlockID == row.BlockID && cur.Data.Order == row.Order
}
