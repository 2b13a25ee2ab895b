package clipboard

import (
	"context"
	"sync"
)

// Store persists the clipboard record. Apply writes set and deletes remove as
// one atomic change. Watch reports changes made through other handles of the
// same store; the channel closes when ctx is done.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	Apply(ctx context.Context, set map[string]string, remove []string) error
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Bus is an in-memory record shared by any number of MemoryStore handles,
// one per simulated tab.
type Bus struct {
	mu       sync.Mutex
	data     map[string]string
	watchers map[*MemoryStore][]chan struct{}
}

func NewBus() *Bus {
	return &Bus{
		data:     make(map[string]string),
		watchers: make(map[*MemoryStore][]chan struct{}),
	}
}

// Handle returns a new store handle on the bus.
func (b *Bus) Handle() *MemoryStore {
	return &MemoryStore{bus: b}
}

// MemoryStore is one handle on a Bus.
type MemoryStore struct {
	bus *Bus
}

func (s *MemoryStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.bus.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) Apply(ctx context.Context, set map[string]string, remove []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	for _, k := range remove {
		delete(s.bus.data, k)
	}
	for k, v := range set {
		s.bus.data[k] = v
	}

	for owner, chans := range s.bus.watchers {
		if owner == s {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- struct{}{}:
			default:
				// A change is already queued, the watcher re-reads everything anyway
			}
		}
	}
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	s.bus.mu.Lock()
	s.bus.watchers[s] = append(s.bus.watchers[s], ch)
	s.bus.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		chans := s.bus.watchers[s]
		for i, c := range chans {
			if c == ch {
				s.bus.watchers[s] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(s.bus.watchers[s]) == 0 {
			delete(s.bus.watchers, s)
		}
		close(ch)
	}()

	return ch, nil
}
