package optimistic

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// EnsureFirstBlock returns the first block of the rundown, creating one when
// the rundown has none. The backend is checked before creating so a stale
// model does not add a second "first" block.
func (e *Engine) EnsureFirstBlock(ctx context.Context) (collection.Block, error) {
	if blocks := e.state.Snapshot(); len(blocks) > 0 {
		return blocks[0], nil
	}

	existing, err := e.backend.ListBlocks(ctx, e.rundownID)
	if err != nil {
		return collection.Block{}, backendErr("ensure first block", err)
	}
	if len(existing) > 0 {
		if err := e.Load(ctx); err != nil {
			return collection.Block{}, err
		}
		if blocks := e.state.Snapshot(); len(blocks) > 0 {
			return blocks[0], nil
		}
	}

	b, err := e.CreateBlock(ctx, e.firstBlockName)
	if err != nil {
		return collection.Block{}, err
	}
	e.logger.Info("first block created", zap.String("rundown_id", e.rundownID), zap.String("block_id", b.ID))
	return b, nil
}

// CreateBlock appends a block after the last one. Blocks are not created
// optimistically: the block appears once the backend has assigned its id.
func (e *Engine) CreateBlock(ctx context.Context, name string) (collection.Block, error) {
	const op = "create_block"

	if strings.TrimSpace(name) == "" {
		return collection.Block{}, e.reject(op, rundown.Validationf("create block", "block name cannot be empty"))
	}

	start := time.Now()
	row, err := e.backend.CreateBlock(ctx, rundown.Block{
		RundownID: e.rundownID,
		Name:      name,
		Order:     collection.NextBlockOrder(e.state.Snapshot()),
	})
	e.observe(op, start, err)
	if err != nil {
		return collection.Block{}, backendErr("create block", err)
	}

	b := collection.Block{Block: row}
	e.state.Apply(func(blocks []collection.Block) []collection.Block {
		return collection.InsertBlock(blocks, b)
	})
	return b, nil
}

// DeleteBlock removes a block and its items locally, then on the backend.
// On failure the block is restored with the items it had.
func (e *Engine) DeleteBlock(ctx context.Context, blockID string) error {
	const op = "delete_block"

	blocks := e.state.Snapshot()
	bi := collection.BlockIndex(blocks, blockID)
	if bi < 0 {
		return e.reject(op, rundown.NotFound("delete block", "block", blockID))
	}
	prev := blocks[bi]

	var dones []func()
	for _, it := range prev.Items {
		if it.Ref.IsCommitted() {
			dones = append(dones, e.echo.BeginDelete(it.Ref.ID()))
		}
	}
	defer func() {
		for _, done := range dones {
			done()
		}
	}()

	e.state.Apply(func(b []collection.Block) []collection.Block {
		return collection.RemoveBlock(b, blockID)
	})

	start := time.Now()
	err := e.backend.DeleteBlock(ctx, blockID)
	e.observe(op, start, err)
	if err != nil {
		e.state.Apply(func(b []collection.Block) []collection.Block {
			return collection.InsertBlock(b, prev)
		})
		e.logger.Warn("block delete rolled back", zap.String("block_id", blockID), zap.Error(err))
		return backendErr("delete block", err)
	}
	return nil
}
