package optimistic

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/internal/echo"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// AddItem inserts it under a temporary ref, creates it on the backend and then
// swaps the temporary row for the canonical one in the same position. On
// failure only that temporary row is removed.
func (e *Engine) AddItem(ctx context.Context, it rundown.Item) (rundown.Item, error) {
	const op = "add_item"

	if err := it.Validate(); err != nil {
		return rundown.Item{}, e.reject(op, err)
	}
	it.ID = ""
	it.RundownID = e.rundownID
	if it.Status == "" {
		it.Status = rundown.StatusDraft
	}

	tempID := e.newTempID()
	ref := collection.Pending(tempID)
	if _, changed := e.state.Apply(func(b []collection.Block) []collection.Block {
		return collection.InsertItem(b, collection.Item{Ref: ref, Data: it})
	}); !changed {
		return rundown.Item{}, e.reject(op, rundown.NotFound("add item", "block", it.BlockID))
	}

	e.echo.AddPending(echo.PendingInsert{TempID: tempID, BlockID: it.BlockID, Order: it.Order})
	defer e.echo.RemovePending(tempID)

	start := time.Now()
	row, err := e.backend.CreateItem(ctx, it)
	e.observe(op, start, err)
	if err != nil {
		e.state.Apply(func(b []collection.Block) []collection.Block {
			return collection.RemoveItem(b, ref)
		})
		e.logger.Warn("insert rolled back",
			zap.String("temp_id", tempID),
			zap.String("block_id", it.BlockID),
			zap.Error(err))
		return rundown.Item{}, backendErr("add item", err)
	}

	e.state.Apply(func(b []collection.Block) []collection.Block {
		return collection.ReplaceRef(b, ref, row)
	})
	e.logger.Debug("item created", zap.String("temp_id", tempID), zap.String("item_id", row.ID))
	return row, nil
}

// UpdateItem applies patch locally and on the backend. While the call is in
// flight, and for the echo window after it, notifications about the item are
// not allowed to overwrite the local edit. On failure the previous row is put
// back where it was.
func (e *Engine) UpdateItem(ctx context.Context, id string, patch rundown.ItemPatch) (rundown.Item, error) {
	const op = "update_item"

	ref, prev, err := e.refFor("update item", id)
	if err != nil {
		return rundown.Item{}, e.reject(op, err)
	}
	if patch.IsEmpty() {
		return prev.Data, nil
	}
	next := patch.Apply(prev.Data)
	if err := next.Validate(); err != nil {
		return rundown.Item{}, e.reject(op, err)
	}
	if patch.BlockID != nil && collection.BlockIndex(e.state.Snapshot(), *patch.BlockID) < 0 {
		return rundown.Item{}, e.reject(op, rundown.NotFound("update item", "block", *patch.BlockID))
	}
	prevBlock, prevIndex := position(e.state.Snapshot(), ref)

	e.echo.MarkEdited(id)
	done := e.echo.BeginUpdate(id)
	defer done()

	e.state.Apply(func(b []collection.Block) []collection.Block {
		return collection.UpdateItem(b, ref, next)
	})

	start := time.Now()
	row, err := e.backend.UpdateItem(ctx, id, patch)
	e.observe(op, start, err)
	if err != nil {
		e.state.Apply(func(b []collection.Block) []collection.Block {
			return restore(b, prev, prevBlock, prevIndex)
		})
		e.logger.Warn("update rolled back", zap.String("item_id", id), zap.Error(err))
		return rundown.Item{}, backendErr("update item", err)
	}

	e.echo.MarkEdited(id)
	e.state.Apply(func(b []collection.Block) []collection.Block {
		return collection.UpdateItem(b, ref, row)
	})
	return row, nil
}

// DeleteItem removes the item locally and on the backend. On failure it is put
// back at its previous index.
func (e *Engine) DeleteItem(ctx context.Context, id string) error {
	const op = "delete_item"

	ref, prev, err := e.refFor("delete item", id)
	if err != nil {
		return e.reject(op, err)
	}
	prevBlock, prevIndex := position(e.state.Snapshot(), ref)

	done := e.echo.BeginDelete(id)
	defer done()

	e.state.Apply(func(b []collection.Block) []collection.Block {
		return collection.RemoveItem(b, ref)
	})

	start := time.Now()
	err = e.backend.DeleteItem(ctx, id)
	e.observe(op, start, err)
	if err != nil {
		e.state.Apply(func(b []collection.Block) []collection.Block {
			return collection.InsertAt(b, prevBlock, prevIndex, prev)
		})
		e.logger.Warn("delete rolled back", zap.String("item_id", id), zap.Error(err))
		return backendErr("delete item", err)
	}
	return nil
}

// BeginDrag marks the start of a drag gesture. Notifications are held off
// until EndDrag so the list does not reorder under the user's pointer.
func (e *Engine) BeginDrag() {
	e.echo.SetDragging(true)
}

// EndDrag marks the end of a drag gesture.
func (e *Engine) EndDrag() {
	e.echo.SetDragging(false)
}

// Dragging reports whether a drag gesture is in progress.
func (e *Engine) Dragging() bool {
	return e.echo.Dragging()
}

// MoveItem moves an item to destIndex of destBlockID and persists only the
// moved item's block and order. A drop on the item's own slot is a no-op that
// never reaches the backend; moved reports whether anything happened.
func (e *Engine) MoveItem(ctx context.Context, id, destBlockID string, destIndex int) (row rundown.Item, moved bool, err error) {
	const op = "move_item"

	ref, prev, err := e.refFor("move item", id)
	if err != nil {
		return rundown.Item{}, false, e.reject(op, err)
	}
	if collection.BlockIndex(e.state.Snapshot(), destBlockID) < 0 {
		return rundown.Item{}, false, e.reject(op, rundown.NotFound("move item", "block", destBlockID))
	}
	prevBlock, prevIndex := position(e.state.Snapshot(), ref)

	var target collection.Item
	e.state.Apply(func(b []collection.Block) []collection.Block {
		out, it, ok := collection.MoveItem(b, ref, destBlockID, destIndex)
		target, moved = it, ok
		return out
	})
	if !moved {
		return prev.Data, false, nil
	}

	// Only an echo that lands exactly here is ours; any other update of this
	// item is a newer remote move and must win.
	e.echo.MarkMoved(id, target.Data.BlockID, target.Data.Order)
	done := e.echo.BeginMove(id)
	defer done()

	patch := rundown.ItemPatch{Order: rundown.Ptr(target.Data.Order)}
	if target.Data.BlockID != prev.Data.BlockID {
		patch.BlockID = rundown.Ptr(target.Data.BlockID)
	}

	start := time.Now()
	row, err = e.backend.UpdateItem(ctx, id, patch)
	e.observe(op, start, err)
	if err != nil {
		e.echo.ForgetMove(id)
		e.state.Apply(func(b []collection.Block) []collection.Block {
			cur, ok := collection.Find(b, ref)
			if !ok || !samePlace(cur.Data, target.Data) {
				return b
			}
			return restore(b, prev, prevBlock, prevIndex)
		})
		e.logger.Warn("move rolled back",
			zap.String("item_id", id),
			zap.String("dest_block_id", destBlockID),
			zap.Error(err))
		return rundown.Item{}, false, backendErr("move item", err)
	}

	e.state.Apply(func(b []collection.Block) []collection.Block {
		cur, ok := collection.Find(b, ref)
		if !ok || !samePlace(cur.Data, target.Data) {
			return b
		}
		return collection.UpdateItem(b, ref, row)
	})
	return row, true, nil
}

// Renumber rewrites orders and pages of the whole rundown in display order and
// persists them in one batch. On failure the previous values are restored.
func (e *Engine) Renumber(ctx context.Context) ([]collection.Change, error) {
	const op = "renumber"

	var changes []collection.Change
	e.state.Apply(func(b []collection.Block) []collection.Block {
		out, ch := collection.Renumber(b, e.renumberBase)
		changes = ch
		return out
	})
	if len(changes) == 0 {
		return nil, nil
	}

	updates := make([]rundown.ItemUpdate, len(changes))
	for i, c := range changes {
		updates[i] = rundown.ItemUpdate{
			ID:    c.ID,
			Patch: rundown.ItemPatch{Order: rundown.Ptr(c.Order), Page: rundown.Ptr(c.Page)},
		}
		e.echo.MarkEdited(c.ID)
		done := e.echo.BeginUpdate(c.ID)
		defer done()
	}

	start := time.Now()
	rows, err := e.backend.UpdateItems(ctx, updates)
	e.observe(op, start, err)
	if err != nil {
		e.state.Apply(func(b []collection.Block) []collection.Block {
			return collection.Restore(b, changes)
		})
		e.logger.Warn("renumber rolled back", zap.Int("items", len(changes)), zap.Error(err))
		return nil, backendErr("renumber", err)
	}

	e.state.Apply(func(b []collection.Block) []collection.Block {
		for _, row := range rows {
			b = collection.UpdateItem(b, collection.Committed(row.ID), row)
		}
		return b
	})
	e.logger.Info("rundown renumbered", zap.String("rundown_id", e.rundownID), zap.Int("items", len(changes)))
	return changes, nil
}

func position(blocks []collection.Block, ref collection.Ref) (blockID string, index int) {
	bi, ii, ok := collection.Locate(blocks, ref)
	if !ok {
		return "", 0
	}
	return blocks[bi].ID, ii
}

// restore puts prev back at blockID/index. An item deleted in the meantime
// stays deleted.
func restore(blocks []collection.Block, prev collection.Item, blockID string, index int) []collection.Block {
	if _, ok := collection.Find(blocks, prev.Ref); !ok {
		return blocks
	}
	return collection.InsertAt(collection.RemoveItem(blocks, prev.Ref), blockID, index, prev)
}

func samePlace(a, b rundown.Item) bool {
	return a.BlockID == b.BlockID && a.Order == b.Order
}
