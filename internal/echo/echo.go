// Package echo tracks this client's own outstanding and recent writes, so the
// reconciler can tell an echo of a local mutation from a genuine remote change.
//
// Two kinds of evidence are kept side by side: explicit in-flight sets, which
// are exact while a backend call is outstanding, and short TTL windows that
// cover the gap between the call returning and its notification arriving.
package echo

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newsroomate/rundown/internal/clock"
	"github.com/newsroomate/rundown/internal/recent"
)

// DefaultTTL is how long a write stays recent after it was issued.
const DefaultTTL = 1500 * time.Millisecond

// PendingInsert is an optimistic insert awaiting its canonical row.
type PendingInsert struct {
	TempID  string
	BlockID string
	Order   int
}

// Registry is shared by the optimistic engine (writer) and the reconciler
// (reader) of one rundown. Safe for concurrent use.
type Registry struct {
	moved  *recent.Cache
	edited *recent.Cache

	mu       sync.Mutex
	pending  map[string]PendingInsert
	updates  map[string]int
	moves    map[string]int
	deletes  map[string]int
	dragging atomic.Bool
}

// New creates a registry whose recent windows last ttl on clk.
func New(clk clock.Clock, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		moved:   recent.New(clk, ttl),
		edited:  recent.New(clk, ttl),
		pending: make(map[string]PendingInsert),
		updates: make(map[string]int),
		moves:   make(map[string]int),
		deletes: make(map[string]int),
	}
}

func moveTag(blockID string, order int) string {
	return fmt.Sprintf("%s:%d", blockID, order)
}

// MarkMoved records that this client just moved id to blockID at order.
func (r *Registry) MarkMoved(id, blockID string, order int) {
	r.moved.MarkWith(id, moveTag(blockID, order))
}

// MovedTo reports whether id was recently moved by this client to exactly
// blockID and order.
func (r *Registry) MovedTo(id, blockID string, order int) bool {
	tag, ok := r.moved.Tag(id)
	return ok && tag == moveTag(blockID, order)
}

// ForgetMove drops the recent-move record of id, e.g. after a failed move.
func (r *Registry) ForgetMove(id string) {
	r.moved.Forget(id)
}

// MarkEdited records that this client just issued an update of id.
func (r *Registry) MarkEdited(id string) {
	r.edited.Mark(id)
}

// RecentlyEdited reports whether id was edited by this client within the TTL.
func (r *Registry) RecentlyEdited(id string) bool {
	return r.edited.Seen(id)
}

// AddPending registers an optimistic insert.
func (r *Registry) AddPending(p PendingInsert) {
	r.mu.Lock()
	r.pending[p.TempID] = p
	r.mu.Unlock()
}

// RemovePending unregisters an optimistic insert, confirmed or failed.
func (r *Registry) RemovePending(tempID string) {
	r.mu.Lock()
	delete(r.pending, tempID)
	r.mu.Unlock()
}

// MatchPending finds the pending insert in blockID whose order is closest to
// order, within tolerance. Ties go to the oldest temp id in lexical order so
// the result is deterministic.
func (r *Registry) MatchPending(blockID string, order, tolerance int) (PendingInsert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best PendingInsert
	bestDist := -1
	for _, p := range r.pending {
		if p.BlockID != blockID {
			continue
		}
		dist := p.Order - order
		if dist < 0 {
			dist = -dist
		}
		if dist > tolerance {
			continue
		}
		if bestDist < 0 || dist < bestDist || (dist == bestDist && p.TempID < best.TempID) {
			best, bestDist = p, dist
		}
	}
	return best, bestDist >= 0
}

// PendingCount returns the number of unconfirmed inserts.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// BeginUpdate marks an update of id as in flight. The returned func ends it.
func (r *Registry) BeginUpdate(id string) (done func()) {
	return r.begin(r.updates, id)
}

// UpdateInFlight reports whether an update of id is outstanding.
func (r *Registry) UpdateInFlight(id string) bool {
	return r.inFlight(r.updates, id)
}

// BeginMove marks a move of id as in flight. The returned func ends it.
// Unlike updates, an outstanding move does not suppress notifications; it
// only tells a reload to keep the local position.
func (r *Registry) BeginMove(id string) (done func()) {
	return r.begin(r.moves, id)
}

// MoveInFlight reports whether a move of id is outstanding.
func (r *Registry) MoveInFlight(id string) bool {
	return r.inFlight(r.moves, id)
}

// BeginDelete marks a delete of id as in flight. The returned func ends it.
func (r *Registry) BeginDelete(id string) (done func()) {
	return r.begin(r.deletes, id)
}

// DeleteInFlight reports whether a delete of id is outstanding.
func (r *Registry) DeleteInFlight(id string) bool {
	return r.inFlight(r.deletes, id)
}

func (r *Registry) begin(set map[string]int, id string) func() {
	r.mu.Lock()
	set[id]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if set[id] <= 1 {
				delete(set, id)
				return
			}
			set[id]--
		})
	}
}

func (r *Registry) inFlight(set map[string]int, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return set[id] > 0
}

// SetDragging flags whether a drag gesture is in progress.
func (r *Registry) SetDragging(on bool) {
	r.dragging.Store(on)
}

// Dragging reports whether a drag gesture is in progress.
func (r *Registry) Dragging() bool {
	return r.dragging.Load()
}
