// Package optimistic applies local mutations to the rundown model before the
// backend confirms them, and reverts exactly the failed mutation when it does
// not.
//
// Every mutating method follows the same protocol: compute the new model with
// the collection functions, publish it to observers, then call the backend on
// the caller's goroutine. The method returns once the backend answered, but
// observers have already seen the optimistic state by then. There is no retry
// queue: a failed call is rolled back and reported, and the user repeats it.
package optimistic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/internal/echo"
	"github.com/newsroomate/rundown/internal/logging"
	"github.com/newsroomate/rundown/internal/metrics"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// Backend is the store contract the engine writes through.
// *rundown.Client implements it.
type Backend interface {
	GetRundown(ctx context.Context, rundownID string) (rundown.Rundown, error)
	ListBlocks(ctx context.Context, rundownID string) ([]rundown.Block, error)
	ListItems(ctx context.Context, rundownID string) ([]rundown.Item, error)

	CreateBlock(ctx context.Context, b rundown.Block) (rundown.Block, error)
	DeleteBlock(ctx context.Context, blockID string) error

	CreateItem(ctx context.Context, it rundown.Item) (rundown.Item, error)
	UpdateItem(ctx context.Context, itemID string, patch rundown.ItemPatch) (rundown.Item, error)
	UpdateItems(ctx context.Context, updates []rundown.ItemUpdate) ([]rundown.Item, error)
	DeleteItem(ctx context.Context, itemID string) error
}

const (
	// DefaultFirstBlockName names the block created when a rundown has none.
	DefaultFirstBlockName = "Bloco 1"

	// CopySuffix is appended to the title of pasted items and the name of pasted blocks.
	CopySuffix = " (Cópia)"
)

// Engine applies optimistic mutations to one rundown.
type Engine struct {
	rundownID string
	backend   Backend
	state     *collection.State
	echo      *echo.Registry
	logger    *zap.Logger
	metrics   *metrics.Collector

	newTempID      func() string
	renumberBase   int
	firstBlockName string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.Component(l, "optimistic") }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTempIDs overrides the generator of temporary ids.
func WithTempIDs(fn func() string) Option {
	return func(e *Engine) { e.newTempID = fn }
}

// WithRenumberBase sets the first order and page assigned by Renumber.
func WithRenumberBase(base int) Option {
	return func(e *Engine) { e.renumberBase = base }
}

// WithFirstBlockName overrides DefaultFirstBlockName.
func WithFirstBlockName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.firstBlockName = name
		}
	}
}

// New creates an engine for rundownID writing through backend. state and reg
// are shared with the reconciler of the same rundown.
func New(rundownID string, backend Backend, state *collection.State, reg *echo.Registry, opts ...Option) *Engine {
	e := &Engine{
		rundownID:      rundownID,
		backend:        backend,
		state:          state,
		echo:           reg,
		logger:         zap.NewNop(),
		newTempID:      uuid.NewString,
		renumberBase:   1,
		firstBlockName: DefaultFirstBlockName,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RundownID returns the rundown this engine writes to.
func (e *Engine) RundownID() string {
	return e.rundownID
}

// State returns the model the engine mutates.
func (e *Engine) State() *collection.State {
	return e.state
}

// Snapshot returns the current model.
func (e *Engine) Snapshot() []collection.Block {
	return e.state.Snapshot()
}

// Rundown fetches the rundown metadata.
func (e *Engine) Rundown(ctx context.Context) (rundown.Rundown, error) {
	r, err := e.backend.GetRundown(ctx, e.rundownID)
	if err != nil {
		return rundown.Rundown{}, backendErr("get rundown", err)
	}
	return r, nil
}

// IsOpen reports whether the rundown accepts pastes.
func (e *Engine) IsOpen(ctx context.Context) (bool, error) {
	r, err := e.Rundown(ctx)
	if err != nil {
		return false, err
	}
	return r.Open, nil
}

// Load replaces the model with a fresh fetch from the backend. Writes still
// outstanding survive the reload: pending inserts so their confirmations
// still find them, and in-flight updates, moves and deletes so the model does
// not flick back to the pre-write row before the echo arrives.
// This is the manual refresh path and keeps working when realtime is degraded.
func (e *Engine) Load(ctx context.Context) error {
	blocks, err := e.backend.ListBlocks(ctx, e.rundownID)
	if err != nil {
		return backendErr("load blocks", err)
	}
	items, err := e.backend.ListItems(ctx, e.rundownID)
	if err != nil {
		return backendErr("load items", err)
	}
	fresh := collection.Build(blocks, items)

	e.state.Apply(func(current []collection.Block) []collection.Block {
		out := fresh
		for _, it := range collection.Flatten(current) {
			switch {
			case it.Ref.IsPending():
				out = collection.InsertItem(out, it)
			case e.echo.UpdateInFlight(it.Ref.ID()) || e.echo.MoveInFlight(it.Ref.ID()):
				if _, ok := collection.Find(out, it.Ref); ok {
					out = collection.UpdateItem(out, it.Ref, it.Data)
				} else {
					out = collection.InsertItem(out, it)
				}
			}
		}
		for _, it := range collection.Flatten(fresh) {
			if e.echo.DeleteInFlight(it.Ref.ID()) {
				out = collection.RemoveItem(out, it.Ref)
			}
		}
		return out
	})

	e.logger.Debug("rundown loaded",
		zap.String("rundown_id", e.rundownID),
		zap.Int("blocks", len(blocks)),
		zap.Int("items", len(items)))
	return nil
}

// backendErr keeps typed errors from the backend and classifies anything else
// as a backend failure.
func backendErr(op string, err error) error {
	if rundown.KindOf(err) != "" {
		return err
	}
	return rundown.Wrap(rundown.KindBackend, op, err)
}

func (e *Engine) reject(op string, err error) error {
	e.metrics.ObserveMutation(op, metrics.ResultRejected, 0)
	return err
}

func (e *Engine) observe(op string, start time.Time, err error) {
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultRolledBack
	}
	e.metrics.ObserveMutation(op, result, time.Since(start))
}

// refFor resolves a caller-facing id to a committed ref. Items still waiting
// for their create cannot be addressed by the backend yet.
func (e *Engine) refFor(op, id string) (collection.Ref, collection.Item, error) {
	blocks := e.state.Snapshot()
	if _, ok := collection.Find(blocks, collection.Pending(id)); ok {
		return collection.Ref{}, collection.Item{}, rundown.Validationf(op, "item %s is not saved yet", id)
	}
	ref := collection.Committed(id)
	it, ok := collection.Find(blocks, ref)
	if !ok {
		return collection.Ref{}, collection.Item{}, rundown.NotFound(op, "item", id)
	}
	return ref, it, nil
}
