package clipboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroomate/rundown/internal/clock"
	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/internal/echo"
	"github.com/newsroomate/rundown/internal/optimistic"
	"github.com/newsroomate/rundown/pkg/rundown"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewRedisStore(rdb, "", "desk")
	assert.Error(t, err)
	_, err = NewRedisStore(rdb, "test", "")
	assert.Error(t, err)

	a, err := NewRedisStore(rdb, "test", "desk")
	require.NoError(t, err)
	b, err := NewRedisStore(rdb, "test", "desk")
	require.NoError(t, err)

	t.Run("apply sets and removes atomically with expiry", func(t *testing.T) {
		require.NoError(t, a.Apply(ctx, map[string]string{KeyBlock: "{}", KeyBlockTimestamp: "1"}, nil))
		require.NoError(t, a.Apply(ctx, map[string]string{KeyItem: "{}", KeyItemTimestamp: "2"}, []string{KeyBlock, KeyBlockTimestamp}))

		rec, err := b.Get(ctx, allKeys...)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{KeyItem: "{}", KeyItemTimestamp: "2"}, rec)

		key := rundown.ClipboardKey("test", "desk", KeyItem)
		assert.Equal(t, DefaultExpiry, mr.TTL(key))
		assert.False(t, mr.Exists(rundown.ClipboardKey("test", "desk", KeyBlock)))
	})

	t.Run("watch reports other handles only", func(t *testing.T) {
		wctx, wcancel := context.WithCancel(ctx)
		defer wcancel()
		changes, err := a.Watch(wctx)
		require.NoError(t, err)

		require.NoError(t, a.Apply(ctx, nil, allKeys))
		select {
		case <-changes:
			t.Fatal("own change was reported")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, b.Apply(ctx, nil, allKeys))
		select {
		case <-changes:
		case <-time.After(time.Second):
			t.Fatal("change from another handle was not reported")
		}

		wcancel()
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-changes:
				return !ok
			default:
				return false
			}
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("other scopes are separate", func(t *testing.T) {
		other, err := NewRedisStore(rdb, "test", "studio")
		require.NoError(t, err)
		require.NoError(t, a.Apply(ctx, map[string]string{KeyItem: "{}"}, nil))

		rec, err := other.Get(ctx, allKeys...)
		require.NoError(t, err)
		assert.Empty(t, rec)
	})
}

// TestPasteBetweenRundowns copies an item out of one rundown and pastes it
// into another through the optimistic engine, over the Redis backend.
func TestPasteBetweenRundowns(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := rundown.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := client.CreateRundown(ctx, rundown.Rundown{Name: "Jornal da Tarde", Open: true})
	require.NoError(t, err)
	blockA, err := client.CreateBlock(ctx, rundown.Block{RundownID: src.ID, Name: "Block A", Order: 1})
	require.NoError(t, err)
	item, err := client.CreateItem(ctx, rundown.Item{BlockID: blockA.ID, Order: 1, Title: "Economy Segment", DurationSeconds: 45})
	require.NoError(t, err)

	newDest := func(open bool) (*optimistic.Engine, rundown.Block) {
		r, err := client.CreateRundown(ctx, rundown.Rundown{Name: "Jornal da Noite", Open: open})
		require.NoError(t, err)
		blockB, err := client.CreateBlock(ctx, rundown.Block{RundownID: r.ID, Name: "Block B", Order: 1})
		require.NoError(t, err)
		_, err = client.CreateItem(ctx, rundown.Item{BlockID: blockB.ID, Order: 1, Title: "Headlines", DurationSeconds: 30})
		require.NoError(t, err)

		e := optimistic.New(r.ID, client, collection.NewState(nil), echo.New(clock.Real{}, 0))
		require.NoError(t, e.Load(ctx))
		return e, blockB
	}

	store, err := NewRedisStore(client.Redis(), "test", "desk")
	require.NoError(t, err)

	t.Run("paste lands at the end of the first block", func(t *testing.T) {
		clk := clock.NewFake(t0)
		m := newMachine(t, store, clk)
		dest, blockB := newDest(true)

		require.NoError(t, m.CopyItem(ctx, item))
		clk.Advance(DefaultDebounce)

		out, err := m.Paste(ctx, dest, "")
		require.NoError(t, err)
		require.Len(t, out.Items, 1)

		blocks := dest.Snapshot()
		require.Len(t, blocks, 1)
		assert.Equal(t, blockB.ID, blocks[0].ID)
		require.Len(t, blocks[0].Items, 2)
		last := blocks[0].Items[1]
		assert.Equal(t, "Economy Segment (Cópia)", last.Data.Title)
		assert.True(t, last.Ref.IsCommitted())
		assert.Equal(t, 75, blocks[0].Total())

		srcItems, err := client.ListItems(ctx, src.ID)
		require.NoError(t, err)
		require.Len(t, srcItems, 1, "source rundown unchanged")
		assert.Equal(t, "Economy Segment", srcItems[0].Title)

		clk.Advance(DefaultPasteClearDelay)
		assert.Equal(t, Empty, m.Current().State)
	})

	t.Run("closed rundown rejects the paste", func(t *testing.T) {
		clk := clock.NewFake(t0)
		m := newMachine(t, store, clk)
		dest, _ := newDest(false)

		require.NoError(t, m.CopyItem(ctx, item))
		clk.Advance(DefaultDebounce)

		_, err := m.Paste(ctx, dest, "")
		require.ErrorIs(t, err, ErrRundownClosed)

		items, err := client.ListItems(ctx, dest.RundownID())
		require.NoError(t, err)
		assert.Len(t, items, 1, "no item created")
		assert.Equal(t, HoldingItem, m.Current().State, "clipboard retained for retry")
	})
}
