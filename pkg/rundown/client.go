package rundown

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client provides namespace-scoped Redis operations for rundowns, blocks and items.
// Every successful write publishes a Notification on the owning rundown's changes
// channel, tagged with the client's origin id so that readers can recognise their
// own echoes. The client is safe for concurrent use.
type Client struct {
	rdb       *redis.Client
	namespace string
	origin    string

	publishFailures atomic.Int64
}

// NewClient creates a client for the given namespace.
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
		origin:    uuid.New().String(),
	}, nil
}

// Origin returns the id this client stamps on the notifications it publishes.
func (c *Client) Origin() string {
	return c.origin
}

// Namespace returns the key namespace of this client.
func (c *Client) Namespace() string {
	return c.namespace
}

// Redis exposes the underlying connection for components sharing it (clipboard store).
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CreateRundown writes rundown metadata. The id is generated when empty.
func (c *Client) CreateRundown(ctx context.Context, r Rundown) (Rundown, error) {
	if strings.TrimSpace(r.Name) == "" {
		return Rundown{}, Validationf("create rundown", "rundown name cannot be empty")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	if err := c.rdb.HSet(ctx, RundownKey(c.namespace, r.ID), RundownToHash(&r)).Err(); err != nil {
		return Rundown{}, Wrap(KindBackend, "create rundown", err)
	}
	return r, nil
}

// GetRundown retrieves rundown metadata.
func (c *Client) GetRundown(ctx context.Context, rundownID string) (Rundown, error) {
	hash, err := c.rdb.HGetAll(ctx, RundownKey(c.namespace, rundownID)).Result()
	if err != nil {
		return Rundown{}, Wrap(KindBackend, "get rundown", err)
	}
	if len(hash) == 0 {
		return Rundown{}, NotFound("get rundown", "rundown", rundownID)
	}

	r, err := HashToRundown(hash)
	if err != nil {
		return Rundown{}, Wrap(KindBackend, "get rundown", err)
	}
	return *r, nil
}

// SetRundownOpen opens or closes a rundown for editing.
func (c *Client) SetRundownOpen(ctx context.Context, rundownID string, open bool) error {
	if _, err := c.GetRundown(ctx, rundownID); err != nil {
		return err
	}
	if err := c.rdb.HSet(ctx, RundownKey(c.namespace, rundownID), "open", fmt.Sprint(open)).Err(); err != nil {
		return Wrap(KindBackend, "set rundown open", err)
	}
	return nil
}

// CreateBlock writes a block and publishes an insert notification.
func (c *Client) CreateBlock(ctx context.Context, b Block) (Block, error) {
	if err := b.Validate(); err != nil {
		return Block{}, err
	}
	if _, err := c.GetRundown(ctx, b.RundownID); err != nil {
		return Block{}, err
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, BlockKey(c.namespace, b.ID), BlockToHash(&b))
		pipe.SAdd(ctx, RundownBlocksKey(c.namespace, b.RundownID), b.ID)
		return nil
	})
	if err != nil {
		return Block{}, Wrap(KindBackend, "create block", err)
	}

	c.notify(ctx, b.RundownID, EventInsert, TableBlocks, b)
	return b, nil
}

// GetBlock retrieves a block by id.
func (c *Client) GetBlock(ctx context.Context, blockID string) (Block, error) {
	hash, err := c.rdb.HGetAll(ctx, BlockKey(c.namespace, blockID)).Result()
	if err != nil {
		return Block{}, Wrap(KindBackend, "get block", err)
	}
	if len(hash) == 0 {
		return Block{}, NotFound("get block", "block", blockID)
	}

	b, err := HashToBlock(hash)
	if err != nil {
		return Block{}, Wrap(KindBackend, "get block", err)
	}
	return *b, nil
}

// UpdateBlock patches a block and publishes an update notification.
func (c *Client) UpdateBlock(ctx context.Context, blockID string, patch BlockPatch) (Block, error) {
	current, err := c.GetBlock(ctx, blockID)
	if err != nil {
		return Block{}, err
	}

	updated := patch.Apply(current)
	if err := updated.Validate(); err != nil {
		return Block{}, err
	}
	if err := c.rdb.HSet(ctx, BlockKey(c.namespace, blockID), BlockToHash(&updated)).Err(); err != nil {
		return Block{}, Wrap(KindBackend, "update block", err)
	}

	c.notify(ctx, updated.RundownID, EventUpdate, TableBlocks, updated)
	return updated, nil
}

// DeleteBlock removes a block and every item it owns.
// One delete notification is published per item, then one for the block.
func (c *Client) DeleteBlock(ctx context.Context, blockID string) error {
	block, err := c.GetBlock(ctx, blockID)
	if err != nil {
		return err
	}

	items, err := c.blockItems(ctx, blockID)
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, it := range items {
			pipe.Del(ctx, ItemKey(c.namespace, it.ID))
		}
		pipe.Del(ctx, BlockItemsKey(c.namespace, blockID))
		pipe.Del(ctx, BlockKey(c.namespace, blockID))
		pipe.SRem(ctx, RundownBlocksKey(c.namespace, block.RundownID), blockID)
		return nil
	})
	if err != nil {
		return Wrap(KindBackend, "delete block", err)
	}

	for _, it := range items {
		c.notify(ctx, block.RundownID, EventDelete, TableItems, it)
	}
	c.notify(ctx, block.RundownID, EventDelete, TableBlocks, block)
	return nil
}

// ListBlocks returns the blocks of a rundown sorted by order.
func (c *Client) ListBlocks(ctx context.Context, rundownID string) ([]Block, error) {
	ids, err := c.rdb.SMembers(ctx, RundownBlocksKey(c.namespace, rundownID)).Result()
	if err != nil {
		return nil, Wrap(KindBackend, "list blocks", err)
	}

	hashes, err := c.readHashes(ctx, ids, func(id string) string { return BlockKey(c.namespace, id) })
	if err != nil {
		return nil, Wrap(KindBackend, "list blocks", err)
	}

	blocks := make([]Block, 0, len(hashes))
	for _, hash := range hashes {
		b, err := HashToBlock(hash)
		if err != nil {
			return nil, Wrap(KindBackend, "list blocks", err)
		}
		blocks = append(blocks, *b)
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Order != blocks[j].Order {
			return blocks[i].Order < blocks[j].Order
		}
		return blocks[i].ID < blocks[j].ID
	})
	return blocks, nil
}

// CreateItem writes an item into its block and publishes an insert notification.
// The id is generated when empty and the rundown id is taken from the block.
func (c *Client) CreateItem(ctx context.Context, it Item) (Item, error) {
	if err := it.Validate(); err != nil {
		return Item{}, err
	}

	block, err := c.GetBlock(ctx, it.BlockID)
	if err != nil {
		return Item{}, err
	}

	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.Status == "" {
		it.Status = StatusDraft
	}
	it.RundownID = block.RundownID
	it.UpdatedAtMs = time.Now().UnixMilli()

	hash, err := ItemToHash(&it)
	if err != nil {
		return Item{}, Wrap(KindBackend, "create item", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ItemKey(c.namespace, it.ID), hash)
		pipe.SAdd(ctx, BlockItemsKey(c.namespace, it.BlockID), it.ID)
		return nil
	})
	if err != nil {
		return Item{}, Wrap(KindBackend, "create item", err)
	}

	c.notify(ctx, it.RundownID, EventInsert, TableItems, it)
	return it, nil
}

// GetItem retrieves an item by id.
func (c *Client) GetItem(ctx context.Context, itemID string) (Item, error) {
	hash, err := c.rdb.HGetAll(ctx, ItemKey(c.namespace, itemID)).Result()
	if err != nil {
		return Item{}, Wrap(KindBackend, "get item", err)
	}
	if len(hash) == 0 {
		return Item{}, NotFound("get item", "item", itemID)
	}

	it, err := HashToItem(hash)
	if err != nil {
		return Item{}, Wrap(KindBackend, "get item", err)
	}
	return *it, nil
}

// UpdateItem patches an item and publishes an update notification.
// A patch changing the block moves the item between the blocks' membership sets.
func (c *Client) UpdateItem(ctx context.Context, itemID string, patch ItemPatch) (Item, error) {
	updated, err := c.UpdateItems(ctx, []ItemUpdate{{ID: itemID, Patch: patch}})
	if err != nil {
		return Item{}, err
	}
	return updated[0], nil
}

// UpdateItems applies a batch of patches in one transaction.
// Used by renumber, which rewrites many items at once.
func (c *Client) UpdateItems(ctx context.Context, updates []ItemUpdate) ([]Item, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	type move struct{ id, from, to string }
	var moves []move
	updated := make([]Item, 0, len(updates))
	hashes := make([]map[string]interface{}, 0, len(updates))

	for _, u := range updates {
		current, err := c.GetItem(ctx, u.ID)
		if err != nil {
			return nil, err
		}

		next := u.Patch.Apply(current)
		if err := next.Validate(); err != nil {
			return nil, err
		}
		if next.BlockID != current.BlockID {
			dest, err := c.GetBlock(ctx, next.BlockID)
			if err != nil {
				return nil, err
			}
			if dest.RundownID != current.RundownID {
				return nil, &Error{Kind: KindConflict, Op: "update item",
					Message: fmt.Sprintf("block %s belongs to another rundown", dest.ID)}
			}
			moves = append(moves, move{id: current.ID, from: current.BlockID, to: next.BlockID})
		}
		next.UpdatedAtMs = time.Now().UnixMilli()

		hash, err := ItemToHash(&next)
		if err != nil {
			return nil, Wrap(KindBackend, "update item", err)
		}
		updated = append(updated, next)
		hashes = append(hashes, hash)
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, it := range updated {
			pipe.HSet(ctx, ItemKey(c.namespace, it.ID), hashes[i])
		}
		for _, m := range moves {
			pipe.SRem(ctx, BlockItemsKey(c.namespace, m.from), m.id)
			pipe.SAdd(ctx, BlockItemsKey(c.namespace, m.to), m.id)
		}
		return nil
	})
	if err != nil {
		return nil, Wrap(KindBackend, "update item", err)
	}

	for _, it := range updated {
		c.notify(ctx, it.RundownID, EventUpdate, TableItems, it)
	}
	return updated, nil
}

// DeleteItem removes an item and publishes a delete notification carrying the last row.
func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	it, err := c.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ItemKey(c.namespace, itemID))
		pipe.SRem(ctx, BlockItemsKey(c.namespace, it.BlockID), itemID)
		return nil
	})
	if err != nil {
		return Wrap(KindBackend, "delete item", err)
	}

	c.notify(ctx, it.RundownID, EventDelete, TableItems, it)
	return nil
}

// ListItems returns every item of a rundown in display order:
// block order first, then item order.
func (c *Client) ListItems(ctx context.Context, rundownID string) ([]Item, error) {
	blocks, err := c.ListBlocks(ctx, rundownID)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, b := range blocks {
		blockItems, err := c.blockItems(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, blockItems...)
	}
	return items, nil
}

// ScanItems returns the ids of items whose id starts with prefix.
// Uses SCAN so large namespaces do not block Redis.
func (c *Client) ScanItems(ctx context.Context, prefix string) ([]string, error) {
	pattern := ItemScanPattern(c.namespace, prefix)
	keyPrefix := ItemKey(c.namespace, "")

	var ids []string
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, Wrap(KindBackend, "scan items", err)
		}
		for _, key := range keys {
			id := strings.TrimPrefix(key, keyPrefix)
			// Skip nested keys, item ids never contain ':'
			if strings.Contains(id, ":") {
				continue
			}
			ids = append(ids, id)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// blockItems loads the items of one block sorted by order.
func (c *Client) blockItems(ctx context.Context, blockID string) ([]Item, error) {
	ids, err := c.rdb.SMembers(ctx, BlockItemsKey(c.namespace, blockID)).Result()
	if err != nil {
		return nil, Wrap(KindBackend, "list items", err)
	}

	hashes, err := c.readHashes(ctx, ids, func(id string) string { return ItemKey(c.namespace, id) })
	if err != nil {
		return nil, Wrap(KindBackend, "list items", err)
	}

	items := make([]Item, 0, len(hashes))
	for _, hash := range hashes {
		it, err := HashToItem(hash)
		if err != nil {
			return nil, Wrap(KindBackend, "list items", err)
		}
		items = append(items, *it)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].UpdatedAtMs > items[j].UpdatedAtMs
	})
	return items, nil
}

// readHashes fetches many hashes in one pipeline, skipping keys that no longer exist.
func (c *Client) readHashes(ctx context.Context, ids []string, keyFn func(string) string) ([]map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, keyFn(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	hashes := make([]map[string]string, 0, len(cmds))
	for _, cmd := range cmds {
		hash, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		if len(hash) == 0 {
			continue
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// notify publishes after a successful write. Delivery is best-effort: the write is
// already committed, so a publish failure is counted instead of failing the call.
func (c *Client) notify(ctx context.Context, rundownID string, event Event, table Table, row any) {
	if err := c.publish(ctx, rundownID, event, table, row); err != nil {
		c.publishFailures.Add(1)
	}
}

// PublishFailures returns how many notifications could not be published.
func (c *Client) PublishFailures() int64 {
	return c.publishFailures.Load()
}

// publish sends a notification to the rundown's changes channel.
func (c *Client) publish(ctx context.Context, rundownID string, event Event, table Table, row any) error {
	n, err := NewNotification(event, table, c.origin, row)
	if err != nil {
		return Wrap(KindBackend, "publish", err)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return Wrap(KindBackend, "publish", fmt.Errorf("failed to marshal notification: %w", err))
	}

	if err := c.rdb.Publish(ctx, ChangesChannel(c.namespace, rundownID), payload).Err(); err != nil {
		return Wrap(KindBackend, "publish", fmt.Errorf("failed to publish %s %s event: %w", table, event, err))
	}
	return nil
}
