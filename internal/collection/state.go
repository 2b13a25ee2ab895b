package collection

import "sync"

// State holds the current model of one rundown. Apply is the only way to
// change it; observers registered with OnChange see every new snapshot.
//
// Snapshots are shared, not copied. Treat them as read-only.
type State struct {
	mu        sync.RWMutex
	blocks    []Block
	version   uint64
	observers map[int]func([]Block)
	nextObs   int

	notifyMu sync.Mutex
}

// NewState creates a state holding blocks.
func NewState(blocks []Block) *State {
	return &State{blocks: blocks, observers: make(map[int]func([]Block))}
}

// Snapshot returns the current model.
func (s *State) Snapshot() []Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks
}

// Version increases by one on every change.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Apply replaces the model with fn(current) and notifies observers when the
// result differs from the input. fn runs under the state lock and must not
// call back into the State. Returns the resulting model and whether it changed.
func (s *State) Apply(fn func([]Block) []Block) ([]Block, bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	before := s.blocks
	after := fn(before)
	changed := !same(before, after)
	if changed {
		s.blocks = after
		s.version++
	}
	observers := make([]func([]Block), 0, len(s.observers))
	if changed {
		for _, fn := range s.observers {
			observers = append(observers, fn)
		}
	}
	s.mu.Unlock()

	for _, obs := range observers {
		obs(after)
	}
	return after, changed
}

// OnChange registers fn to be called with each new snapshot, in the order the
// changes were applied. Observers must not call Apply. Returns a function that
// unregisters it.
func (s *State) OnChange(fn func([]Block)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// same reports whether two models are the same slice, which is how the pure
// functions signal a no-op.
func same(a, b []Block) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return (a == nil) == (b == nil)
	}
	return &a[0] == &b[0]
}
