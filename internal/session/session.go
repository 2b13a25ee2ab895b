// Package session connects to the backend and assembles, per rundown, the
// optimistic engine and the reconciler that share one model, plus the
// clipboard shared by every rundown of the process.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/clipboard"
	"github.com/newsroomate/rundown/internal/clock"
	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/internal/config"
	"github.com/newsroomate/rundown/internal/echo"
	"github.com/newsroomate/rundown/internal/logging"
	"github.com/newsroomate/rundown/internal/metrics"
	"github.com/newsroomate/rundown/internal/optimistic"
	"github.com/newsroomate/rundown/internal/reconcile"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// Session owns the backend connection.
type Session struct {
	cfg     *config.Config
	client  *rundown.Client
	logger  *zap.Logger
	metrics *metrics.Collector
	clock   clock.Clock

	mu        sync.Mutex
	clipboard *clipboard.Machine
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Session) { s.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// Connect dials the configured Redis and verifies it answers.
func Connect(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	client, err := rundown.NewClient(redisOpts, cfg.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", redisOpts.Addr, err)
	}
	return New(cfg, client, opts...), nil
}

// New wraps an existing client.
func New(cfg *config.Config, client *rundown.Client, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		client: client,
		logger: zap.NewNop(),
		clock:  clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.WatchPublishFailures(client.PublishFailures)
	return s
}

func (s *Session) Client() *rundown.Client {
	return s.client
}

func (s *Session) Config() *config.Config {
	return s.cfg
}

func (s *Session) Metrics() *metrics.Collector {
	return s.metrics
}

// Logger returns a child logger for a named component.
func (s *Session) Logger(name string) *zap.Logger {
	return logging.Component(s.logger, name)
}

// Close stops the clipboard timers and closes the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.clipboard != nil {
		s.clipboard.Close()
	}
	s.mu.Unlock()
	return s.client.Close()
}

// Open loads a rundown into a fresh model. Writable rundowns get their first
// block created when they have none. Realtime updates start with Start.
func (s *Session) Open(ctx context.Context, rundownID string, opts ...reconcile.Option) (*Rundown, error) {
	meta, err := s.client.GetRundown(ctx, rundownID)
	if err != nil {
		return nil, err
	}

	state := collection.NewState(nil)
	reg := echo.New(s.clock, s.cfg.Realtime.SuppressionTTL)

	engine := optimistic.New(rundownID, s.client, state, reg,
		optimistic.WithLogger(s.logger),
		optimistic.WithMetrics(s.metrics),
		optimistic.WithRenumberBase(*s.cfg.Engine.RenumberBase),
		optimistic.WithFirstBlockName(s.cfg.Engine.FirstBlockName),
	)
	if err := engine.Load(ctx); err != nil {
		return nil, err
	}
	if meta.Open {
		if _, err := engine.EnsureFirstBlock(ctx); err != nil {
			return nil, err
		}
	}

	base := []reconcile.Option{
		reconcile.WithLogger(s.logger),
		reconcile.WithMetrics(s.metrics),
		reconcile.WithClock(s.clock),
		reconcile.WithOrigin(s.client.Origin()),
		reconcile.WithRetry(*s.cfg.Realtime.MaxRetries, s.cfg.Realtime.Backoff),
		reconcile.WithOrderTolerance(*s.cfg.Realtime.OrderTolerance),
		reconcile.WithResync(engine.Load),
	}
	rec := reconcile.New(rundownID, state, reg, reconcile.ClientSubscriber(s.client), append(base, opts...)...)

	s.logger.Debug("rundown opened",
		zap.String("rundown_id", rundownID),
		zap.String("name", meta.Name),
		zap.Bool("open", meta.Open),
		zap.Int("blocks", len(engine.Snapshot())))

	return &Rundown{Meta: meta, Engine: engine, Reconciler: rec}, nil
}

// Clipboard returns the process clipboard, creating and starting it on first use.
func (s *Session) Clipboard(ctx context.Context) (*clipboard.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clipboard != nil {
		return s.clipboard, nil
	}

	store, err := clipboard.NewRedisStore(s.client.Redis(), s.cfg.Namespace, s.cfg.Clipboard.Scope)
	if err != nil {
		return nil, err
	}
	store.SetTTL(s.cfg.Clipboard.Expiry)

	m, err := clipboard.New(ctx, store,
		clipboard.WithClock(s.clock),
		clipboard.WithLogger(s.logger),
		clipboard.WithMetrics(s.metrics),
		clipboard.WithDebounce(s.cfg.Clipboard.Debounce),
		clipboard.WithIdleClear(s.cfg.Clipboard.IdleClear),
		clipboard.WithPasteClearDelay(s.cfg.Clipboard.PasteClearDelay),
		clipboard.WithExpiry(s.cfg.Clipboard.Expiry),
	)
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	s.clipboard = m
	return m, nil
}

// Rundown is one opened rundown.
type Rundown struct {
	Meta       rundown.Rundown
	Engine     *optimistic.Engine
	Reconciler *reconcile.Reconciler

	done chan struct{}
	err  error
}

// Start runs the reconciler in the background until ctx is cancelled or
// realtime degrades. Wait returns its result.
func (r *Rundown) Start(ctx context.Context) {
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.err = r.Reconciler.Run(ctx)
	}()
}

// Wait blocks until the reconciler started by Start returns.
func (r *Rundown) Wait() error {
	if r.done == nil {
		return errors.New("rundown not started")
	}
	<-r.done
	return r.err
}

// Snapshot returns the current model.
func (r *Rundown) Snapshot() []collection.Block {
	return r.Engine.Snapshot()
}

// Degraded reports whether realtime updates gave up.
func (r *Rundown) Degraded() bool {
	return r.Reconciler.Degraded()
}
