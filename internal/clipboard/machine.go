package clipboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/clock"
	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/internal/logging"
	"github.com/newsroomate/rundown/internal/metrics"
	"github.com/newsroomate/rundown/pkg/rundown"
)

const (
	DefaultDebounce        = 300 * time.Millisecond
	DefaultIdleClear       = 30 * time.Second
	DefaultPasteClearDelay = time.Second
	DefaultExpiry          = 24 * time.Hour
)

// Destination is the rundown a paste lands in. *optimistic.Engine implements it.
type Destination interface {
	RundownID() string
	IsOpen(ctx context.Context) (bool, error)
	PasteItem(ctx context.Context, src rundown.Item, afterItemID string) (rundown.Item, error)
	PasteBlock(ctx context.Context, src rundown.Block, items []rundown.Item) (collection.Block, error)
}

// Pasted describes what a paste created.
type Pasted struct {
	Kind  State
	Block *rundown.Block
	Items []rundown.Item
}

// Machine is the clipboard of one process. Copy and paste calls closer than
// the debounce window to the previous one wait out the window before running;
// they are never dropped.
type Machine struct {
	store   Store
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Collector

	debounce   time.Duration
	idleClear  time.Duration
	pasteClear time.Duration
	expiry     time.Duration

	// opMu serializes operations, debounce waits included.
	opMu   sync.Mutex
	lastOp time.Time

	// mu guards the in-memory state and every store write, so a clear timer
	// never removes a payload written after it was armed.
	mu      sync.Mutex
	snap    Snapshot
	timer   clock.Timer
	gen     uint64
	pending chan struct{} // closed when the armed clear fires or is cancelled
}

type Option func(*Machine)

func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = logging.Component(l, "clipboard") }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Machine) { m.metrics = c }
}

// WithDebounce sets the minimum spacing between copy and paste operations.
func WithDebounce(d time.Duration) Option {
	return func(m *Machine) { m.debounce = d }
}

// WithIdleClear sets how long an untouched copy is held.
func WithIdleClear(d time.Duration) Option {
	return func(m *Machine) { m.idleClear = d }
}

// WithPasteClearDelay sets how long the payload stays after a successful paste.
func WithPasteClearDelay(d time.Duration) Option {
	return func(m *Machine) { m.pasteClear = d }
}

// WithExpiry sets the age past which a payload counts as absent.
func WithExpiry(d time.Duration) Option {
	return func(m *Machine) { m.expiry = d }
}

// New creates a machine over store and hydrates it from the persisted record.
func New(ctx context.Context, store Store, opts ...Option) (*Machine, error) {
	m := &Machine{
		store:      store,
		clock:      clock.Real{},
		logger:     zap.NewNop(),
		debounce:   DefaultDebounce,
		idleClear:  DefaultIdleClear,
		pasteClear: DefaultPasteClearDelay,
		expiry:     DefaultExpiry,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// An unreadable record has been purged by now, start empty.
	if err := m.reloadLocked(ctx); err != nil && !errors.Is(err, ErrInvalidPayload) {
		return nil, err
	}
	return m, nil
}

// Current returns what the clipboard holds. An expired payload reads as Empty.
func (m *Machine) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.expired(m.clock.Now(), m.expiry) {
		return Snapshot{}
	}
	return m.snap
}

// Start watches the store for changes made by other processes and
// re-validates on each one. It returns once the watch is set up.
func (m *Machine) Start(ctx context.Context) error {
	changes, err := m.store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch clipboard store: %w", err)
	}

	go func() {
		for range changes {
			if err := m.Revalidate(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("clipboard revalidation failed", zap.Error(err))
			}
		}
	}()
	return nil
}

// Revalidate reloads the record from the store and drops it if expired.
// A payload written by someone else cancels this process's pending clear.
func (m *Machine) Revalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.snap.Timestamp()
	if err := m.reloadLocked(ctx); err != nil {
		return err
	}
	if m.snap.Timestamp() != before {
		m.disarmLocked()
		m.logger.Debug("clipboard changed elsewhere",
			zap.Stringer("state", m.snap.State),
			zap.String("title", m.snap.Title()))
	}
	return nil
}

// CopyItem replaces the clipboard with item. An untitled item is rejected and
// the clipboard is left as it was.
func (m *Machine) CopyItem(ctx context.Context, item rundown.Item) error {
	if strings.TrimSpace(item.Title) == "" {
		m.metrics.ObserveClipboard("copy_item", metrics.ResultRejected)
		return rundown.Validationf("copy item", "item %s has no title", item.ID)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.settle(ctx); err != nil {
		return err
	}

	p := ItemPayload{Item: item.Clone(), Timestamp: m.clock.Now().UnixMilli()}
	rec, err := itemRecord(p)
	if err != nil {
		return err
	}
	err = m.replace(ctx, rec, []string{KeyBlock, KeyBlockTimestamp}, Snapshot{State: HoldingItem, Item: &p})
	m.observe("copy_item", err)
	if err != nil {
		return err
	}

	m.logger.Info("item copied",
		zap.String("item_id", item.ID),
		zap.String("title", item.Title))
	return nil
}

// CopyBlock replaces the clipboard with block and its items.
func (m *Machine) CopyBlock(ctx context.Context, block rundown.Block, items []rundown.Item) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.settle(ctx); err != nil {
		return err
	}

	snap := BlockSnapshot{ID: block.ID, Name: block.Name, Order: block.Order, Items: make([]rundown.Item, len(items))}
	for i, it := range items {
		snap.Items[i] = it.Clone()
	}
	p := BlockPayload{Block: snap, Timestamp: m.clock.Now().UnixMilli()}
	rec, err := blockRecord(p)
	if err != nil {
		return err
	}
	err = m.replace(ctx, rec, []string{KeyItem, KeyItemTimestamp}, Snapshot{State: HoldingBlock, Block: &p})
	m.observe("copy_block", err)
	if err != nil {
		return err
	}

	m.logger.Info("block copied",
		zap.String("block_id", block.ID),
		zap.String("name", block.Name),
		zap.Int("items", len(items)))
	return nil
}

// replace persists rec and drops the other payload in one store change, then
// adopts snap and arms the idle clear.
func (m *Machine) replace(ctx context.Context, rec map[string]string, remove []string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apply(ctx, rec, remove); err != nil {
		return fmt.Errorf("failed to persist clipboard: %w", err)
	}
	m.snap = snap
	m.armLocked(m.idleClear, "idle")
	return nil
}

// Paste creates the held payload in dest. An item lands after selectedItemID
// when that item is in dest, otherwise at the end of its first block; a block
// is appended to dest. The clipboard is kept after the paste and cleared a
// moment later, and kept as-is when the paste fails.
func (m *Machine) Paste(ctx context.Context, dest Destination, selectedItemID string) (Pasted, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.settle(ctx); err != nil {
		return Pasted{}, err
	}

	snap, err := m.load(ctx)
	if err != nil {
		m.observe("paste", err)
		return Pasted{}, err
	}
	if snap.State == Empty {
		m.metrics.ObserveClipboard("paste", metrics.ResultRejected)
		return Pasted{}, ErrNothingCopied
	}

	open, err := dest.IsOpen(ctx)
	if err != nil {
		m.observe("paste", err)
		return Pasted{}, fmt.Errorf("failed to check destination rundown: %w", err)
	}
	if !open {
		m.metrics.ObserveClipboard("paste", metrics.ResultRejected)
		m.logger.Warn("paste rejected, rundown closed", zap.String("rundown_id", dest.RundownID()))
		return Pasted{}, fmt.Errorf("paste into %s: %w", dest.RundownID(), ErrRundownClosed)
	}

	var out Pasted
	switch snap.State {
	case HoldingItem:
		row, err := dest.PasteItem(ctx, snap.Item.Item, selectedItemID)
		m.observe("paste", err)
		if err != nil {
			return Pasted{}, err
		}
		out = Pasted{Kind: HoldingItem, Items: []rundown.Item{row}}

	case HoldingBlock:
		src := rundown.Block{
			ID:        snap.Block.Block.ID,
			RundownID: dest.RundownID(),
			Name:      snap.Block.Block.Name,
			Order:     snap.Block.Block.Order,
		}
		b, err := dest.PasteBlock(ctx, src, snap.Block.Block.Items)
		m.observe("paste", err)
		if err != nil {
			return Pasted{}, err
		}
		out = Pasted{Kind: HoldingBlock, Block: &b.Block}
		for _, it := range b.Items {
			out.Items = append(out.Items, it.Data)
		}
	}

	m.mu.Lock()
	if m.snap.Timestamp() == snap.Timestamp() {
		m.armLocked(m.pasteClear, "paste")
	}
	m.mu.Unlock()
	return out, nil
}

// Clear empties the clipboard. Clearing an empty clipboard is fine.
func (m *Machine) Clear(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.clearLocked(ctx)
	m.observe("clear", err)
	return err
}

// load returns the held payload, re-read from the store. When the store
// cannot be read the in-memory copy is used.
func (m *Machine) load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.snap.Timestamp()
	if err := m.reloadLocked(ctx); err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			return Snapshot{}, err
		}
		m.logger.Warn("clipboard store unreadable, using memory", zap.Error(err))
		if m.snap.expired(m.clock.Now(), m.expiry) {
			return Snapshot{}, nil
		}
	}
	if m.snap.Timestamp() != before {
		m.disarmLocked()
	}
	return m.snap, nil
}

// reloadLocked replaces the in-memory state with the persisted record,
// purging it when expired or unreadable.
func (m *Machine) reloadLocked(ctx context.Context) error {
	rec, err := m.store.Get(ctx, allKeys...)
	if err != nil {
		return fmt.Errorf("failed to read clipboard: %w", err)
	}

	snap, err := decode(rec)
	if err != nil {
		m.logger.Warn("purging unreadable clipboard record", zap.Error(err))
		if perr := m.clearLocked(ctx); perr != nil {
			return perr
		}
		return err
	}

	if snap.expired(m.clock.Now(), m.expiry) {
		m.logger.Info("clipboard payload expired",
			zap.Stringer("state", snap.State),
			zap.Time("copied_at", time.UnixMilli(snap.Timestamp())))
		m.metrics.ObserveClipboard("expire", metrics.ResultOK)
		return m.clearLocked(ctx)
	}

	m.snap = snap
	return nil
}

// apply writes through the store. A committed write that other processes were
// not told about still counts; they catch up on their next reload.
func (m *Machine) apply(ctx context.Context, set map[string]string, remove []string) error {
	err := m.store.Apply(ctx, set, remove)
	if errors.Is(err, ErrNotAnnounced) {
		m.logger.Warn("clipboard written without notifying other processes", zap.Error(err))
		return nil
	}
	return err
}

func (m *Machine) clearLocked(ctx context.Context) error {
	if err := m.apply(ctx, nil, allKeys); err != nil {
		return fmt.Errorf("failed to clear clipboard: %w", err)
	}
	m.snap = Snapshot{}
	m.disarmLocked()
	return nil
}

// armLocked schedules a clear after d, replacing any pending one.
func (m *Machine) armLocked(d time.Duration, reason string) {
	m.disarmLocked()
	gen := m.gen
	m.pending = make(chan struct{})
	m.timer = m.clock.AfterFunc(d, func() { m.autoClear(gen, reason) })
}

func (m *Machine) disarmLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.pending != nil {
		close(m.pending)
		m.pending = nil
	}
}

func (m *Machine) autoClear(gen uint64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.clearLocked(ctx); err != nil {
		m.disarmLocked()
		m.logger.Warn("automatic clipboard clear failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	m.metrics.ObserveClipboard("auto_clear", metrics.ResultOK)
	m.logger.Debug("clipboard cleared", zap.String("reason", reason))
}

// settle waits until the debounce window since the previous operation has
// passed, then starts a new window.
func (m *Machine) settle(ctx context.Context) error {
	if !m.lastOp.IsZero() {
		if wait := m.debounce - m.clock.Now().Sub(m.lastOp); wait > 0 {
			m.logger.Debug("operation deferred", zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.clock.After(wait):
			}
		}
	}
	m.lastOp = m.clock.Now()
	return nil
}

func (m *Machine) observe(op string, err error) {
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultFailed
	}
	m.metrics.ObserveClipboard(op, result)
}

// WaitClear blocks until no automatic clear is pending, either because it ran
// or because it was cancelled. A process about to exit after a paste uses it
// to let the post-paste clear happen.
func (m *Machine) WaitClear(ctx context.Context) error {
	m.mu.Lock()
	ch := m.pending
	m.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Close cancels any pending automatic clear. The persisted payload stays and
// still expires with the store's TTL.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked()
}
