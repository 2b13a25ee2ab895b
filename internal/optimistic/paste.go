package optimistic

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// PasteItem creates a copy of src in this rundown. The copy lands right after
// afterItemID when that item is in the model, otherwise at the end of the
// first block (created if the rundown has none).
func (e *Engine) PasteItem(ctx context.Context, src rundown.Item, afterItemID string) (rundown.Item, error) {
	blockID, order, err := e.pasteTarget(ctx, afterItemID)
	if err != nil {
		return rundown.Item{}, err
	}

	cp := src.Clone()
	cp.ID = ""
	cp.RundownID = e.rundownID
	cp.BlockID = blockID
	cp.Order = order
	cp.Page = ""
	cp.Title = src.Title + CopySuffix

	row, err := e.AddItem(ctx, cp)
	if err != nil {
		return rundown.Item{}, err
	}
	e.logger.Info("item pasted",
		zap.String("source_id", src.ID),
		zap.String("item_id", row.ID),
		zap.String("block_id", blockID))
	return row, nil
}

// PasteBlock creates a copy of a block with all its items at the end of this
// rundown. Items keep their relative order. When an item fails, the items
// created so far stay and the error says how far the paste got.
func (e *Engine) PasteBlock(ctx context.Context, src rundown.Block, items []rundown.Item) (collection.Block, error) {
	b, err := e.CreateBlock(ctx, src.Name+CopySuffix)
	if err != nil {
		return collection.Block{}, err
	}

	for i, it := range items {
		cp := it.Clone()
		cp.ID = ""
		cp.BlockID = b.ID
		cp.Page = ""
		if cp.Order <= 0 {
			cp.Order = i + 1
		}
		if _, err := e.AddItem(ctx, cp); err != nil {
			return b, fmt.Errorf("paste block %s: item %d of %d: %w", b.ID, i+1, len(items), err)
		}
	}

	e.logger.Info("block pasted",
		zap.String("source_id", src.ID),
		zap.String("block_id", b.ID),
		zap.Int("items", len(items)))

	blocks := e.state.Snapshot()
	if bi := collection.BlockIndex(blocks, b.ID); bi >= 0 {
		return blocks[bi], nil
	}
	return b, nil
}

func (e *Engine) pasteTarget(ctx context.Context, afterItemID string) (blockID string, order int, err error) {
	blocks := e.state.Snapshot()

	if afterItemID != "" {
		for _, ref := range []collection.Ref{collection.Committed(afterItemID), collection.Pending(afterItemID)} {
			bi, _, ok := collection.Locate(blocks, ref)
			if !ok {
				continue
			}
			order, _ = collection.OrderAfter(blocks, blocks[bi].ID, ref)
			return blocks[bi].ID, order, nil
		}
	}

	first, err := e.EnsureFirstBlock(ctx)
	if err != nil {
		return "", 0, err
	}
	order, _ = collection.NextOrder(e.state.Snapshot(), first.ID)
	return first.ID, order, nil
}
