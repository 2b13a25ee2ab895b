package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/newsroomate/rundown/pkg/rundown"
)

var errNetwork = errors.New("connection refused")

// fakeBackend is an in-memory Backend with per-operation failure injection.
type fakeBackend struct {
	mu      sync.Mutex
	rundown rundown.Rundown
	blocks  map[string]rundown.Block
	items   map[string]rundown.Item
	fail    map[string]error
	calls   []string
	seq     int

	// before runs at the start of every call, outside the lock.
	before func(op string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rundown: rundown.Rundown{ID: "r1", Name: "Evening News", Open: true},
		blocks:  make(map[string]rundown.Block),
		items:   make(map[string]rundown.Item),
		fail:    make(map[string]error),
	}
}

func (f *fakeBackend) enter(op string) error {
	if f.before != nil {
		f.before(op)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeBackend) failOn(op string, err error) {
	f.mu.Lock()
	f.fail[op] = err
	f.mu.Unlock()
}

func (f *fakeBackend) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeBackend) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeBackend) seedBlock(id string, order int) {
	f.blocks[id] = rundown.Block{ID: id, RundownID: f.rundown.ID, Name: "Block " + id, Order: order}
}

func (f *fakeBackend) seedItem(id, blockID string, order, duration int) {
	f.items[id] = rundown.Item{
		ID: id, RundownID: f.rundown.ID, BlockID: blockID, Order: order,
		Title: "Item " + id, DurationSeconds: duration, Status: rundown.StatusDraft,
	}
}

func (f *fakeBackend) GetRundown(ctx context.Context, rundownID string) (rundown.Rundown, error) {
	if err := f.enter("get_rundown"); err != nil {
		return rundown.Rundown{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if rundownID != f.rundown.ID {
		return rundown.Rundown{}, rundown.NotFound("get rundown", "rundown", rundownID)
	}
	return f.rundown, nil
}

func (f *fakeBackend) ListBlocks(ctx context.Context, rundownID string) ([]rundown.Block, error) {
	if err := f.enter("list_blocks"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rundown.Block
	for _, b := range f.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeBackend) ListItems(ctx context.Context, rundownID string) ([]rundown.Item, error) {
	if err := f.enter("list_items"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rundown.Item
	for _, it := range f.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order == out[j].Order {
			return out[i].ID < out[j].ID
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (f *fakeBackend) CreateBlock(ctx context.Context, b rundown.Block) (rundown.Block, error) {
	if err := f.enter("create_block"); err != nil {
		return rundown.Block{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ID = f.nextID("block")
	f.blocks[b.ID] = b
	return b, nil
}

func (f *fakeBackend) DeleteBlock(ctx context.Context, blockID string) error {
	if err := f.enter("delete_block"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocks, blockID)
	for id, it := range f.items {
		if it.BlockID == blockID {
			delete(f.items, id)
		}
	}
	return nil
}

func (f *fakeBackend) CreateItem(ctx context.Context, it rundown.Item) (rundown.Item, error) {
	if err := f.enter("create_item"); err != nil {
		return rundown.Item{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blocks[it.BlockID]; !ok {
		return rundown.Item{}, rundown.NotFound("create item", "block", it.BlockID)
	}
	it.ID = f.nextID("item")
	f.items[it.ID] = it
	return it, nil
}

func (f *fakeBackend) UpdateItem(ctx context.Context, itemID string, patch rundown.ItemPatch) (rundown.Item, error) {
	if err := f.enter("update_item"); err != nil {
		return rundown.Item{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateLocked(itemID, patch)
}

func (f *fakeBackend) UpdateItems(ctx context.Context, updates []rundown.ItemUpdate) ([]rundown.Item, error) {
	if err := f.enter("update_items"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rundown.Item, 0, len(updates))
	for _, u := range updates {
		row, err := f.updateLocked(u.ID, u.Patch)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeBackend) updateLocked(itemID string, patch rundown.ItemPatch) (rundown.Item, error) {
	it, ok := f.items[itemID]
	if !ok {
		return rundown.Item{}, rundown.NotFound("update item", "item", itemID)
	}
	it = patch.Apply(it)
	f.items[itemID] = it
	return it, nil
}

func (f *fakeBackend) DeleteItem(ctx context.Context, itemID string) error {
	if err := f.enter("delete_item"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, itemID)
	return nil
}
