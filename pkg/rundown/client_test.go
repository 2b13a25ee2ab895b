package rundown

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// seedRundown creates an open rundown with one block.
func seedRundown(t *testing.T, client *Client) (Rundown, Block) {
	ctx := context.Background()

	r, err := client.CreateRundown(ctx, Rundown{Name: "Evening News", Open: true})
	require.NoError(t, err)

	b, err := client.CreateBlock(ctx, Block{RundownID: r.ID, Name: "Block A", Order: 1})
	require.NoError(t, err)

	return r, b
}

func receive(t *testing.T, sub *Subscription) Notification {
	t.Helper()
	select {
	case n, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return n
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}
	return Notification{}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Equal(t, "test-ns", client.Namespace())
		assert.NotEmpty(t, client.Origin())
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})

	t.Run("each client gets its own origin", func(t *testing.T) {
		a, _ := setupTestClient(t)
		b, _ := setupTestClient(t)
		assert.NotEqual(t, a.Origin(), b.Origin())
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestRundownCRUD(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("round trips metadata", func(t *testing.T) {
		r, err := client.CreateRundown(ctx, Rundown{Name: "Morning", Open: true})
		require.NoError(t, err)
		require.NotEmpty(t, r.ID)

		got, err := client.GetRundown(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	})

	t.Run("closes a rundown", func(t *testing.T) {
		r, err := client.CreateRundown(ctx, Rundown{Name: "Late", Open: true})
		require.NoError(t, err)

		require.NoError(t, client.SetRundownOpen(ctx, r.ID, false))
		got, err := client.GetRundown(ctx, r.ID)
		require.NoError(t, err)
		assert.False(t, got.Open)
	})

	t.Run("missing rundown is not found", func(t *testing.T) {
		_, err := client.GetRundown(ctx, "missing")
		assert.True(t, IsNotFound(err))
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := client.CreateRundown(ctx, Rundown{})
		assert.True(t, IsValidation(err))
	})
}

func TestCreateItem(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	r, b := seedRundown(t, client)

	t.Run("assigns id, rundown and default status", func(t *testing.T) {
		it, err := client.CreateItem(ctx, Item{BlockID: b.ID, Order: 1, Title: "Economy Segment", DurationSeconds: 45})
		require.NoError(t, err)

		assert.NotEmpty(t, it.ID)
		assert.Equal(t, r.ID, it.RundownID)
		assert.Equal(t, StatusDraft, it.Status)
		assert.NotZero(t, it.UpdatedAtMs)

		got, err := client.GetItem(ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, it, got)
	})

	t.Run("rejects unknown block", func(t *testing.T) {
		_, err := client.CreateItem(ctx, Item{BlockID: "nope", Title: "x"})
		assert.True(t, IsNotFound(err))
	})

	t.Run("rejects negative duration", func(t *testing.T) {
		_, err := client.CreateItem(ctx, Item{BlockID: b.ID, Title: "x", DurationSeconds: -1})
		assert.True(t, IsValidation(err))
	})

	t.Run("publishes insert with origin", func(t *testing.T) {
		sub, err := client.Subscribe(ctx, r.ID)
		require.NoError(t, err)
		defer sub.Close()

		it, err := client.CreateItem(ctx, Item{BlockID: b.ID, Order: 2, Title: "Weather"})
		require.NoError(t, err)

		n := receive(t, sub)
		assert.Equal(t, EventInsert, n.Event)
		assert.Equal(t, TableItems, n.Table)
		assert.Equal(t, client.Origin(), n.Origin)

		row, err := n.DecodeItem()
		require.NoError(t, err)
		assert.Equal(t, it.ID, row.ID)
	})
}

func TestUpdateItem(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	r, a := seedRundown(t, client)

	b, err := client.CreateBlock(ctx, Block{RundownID: r.ID, Name: "Block B", Order: 2})
	require.NoError(t, err)

	it, err := client.CreateItem(ctx, Item{BlockID: a.ID, Order: 1, Title: "Sports"})
	require.NoError(t, err)

	t.Run("patches fields", func(t *testing.T) {
		got, err := client.UpdateItem(ctx, it.ID, ItemPatch{Title: Ptr("Sports Roundup"), DurationSeconds: Ptr(90)})
		require.NoError(t, err)
		assert.Equal(t, "Sports Roundup", got.Title)
		assert.Equal(t, 90, got.DurationSeconds)
	})

	t.Run("moves between blocks", func(t *testing.T) {
		_, err := client.UpdateItem(ctx, it.ID, ItemPatch{BlockID: Ptr(b.ID), Order: Ptr(3)})
		require.NoError(t, err)

		items, err := client.ListItems(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, b.ID, items[0].BlockID)
		assert.Equal(t, 3, items[0].Order)

		members, err := client.Redis().SMembers(ctx, BlockItemsKey("test-ns", a.ID)).Result()
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("rejects block of another rundown", func(t *testing.T) {
		other, err := client.CreateRundown(ctx, Rundown{Name: "Other", Open: true})
		require.NoError(t, err)
		ob, err := client.CreateBlock(ctx, Block{RundownID: other.ID, Name: "X", Order: 1})
		require.NoError(t, err)

		_, err = client.UpdateItem(ctx, it.ID, ItemPatch{BlockID: Ptr(ob.ID)})
		assert.Equal(t, KindConflict, KindOf(err))
	})

	t.Run("missing item is not found", func(t *testing.T) {
		_, err := client.UpdateItem(ctx, "missing", ItemPatch{Title: Ptr("x")})
		assert.True(t, IsNotFound(err))
	})
}

func TestUpdateItemsBatch(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	r, b := seedRundown(t, client)

	first, err := client.CreateItem(ctx, Item{BlockID: b.ID, Order: 10, Title: "one"})
	require.NoError(t, err)
	second, err := client.CreateItem(ctx, Item{BlockID: b.ID, Order: 40, Title: "two"})
	require.NoError(t, err)

	sub, err := client.Subscribe(ctx, r.ID)
	require.NoError(t, err)
	defer sub.Close()

	updated, err := client.UpdateItems(ctx, []ItemUpdate{
		{ID: first.ID, Patch: ItemPatch{Order: Ptr(1), Page: Ptr("1")}},
		{ID: second.ID, Patch: ItemPatch{Order: Ptr(2), Page: Ptr("2")}},
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)

	for i := 0; i < 2; i++ {
		n := receive(t, sub)
		assert.Equal(t, EventUpdate, n.Event)
	}

	items, err := client.ListItems(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{items[0].Order, items[1].Order})
	assert.Equal(t, []string{"1", "2"}, []string{items[0].Page, items[1].Page})
}

func TestDeleteItem(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	r, b := seedRundown(t, client)

	it, err := client.CreateItem(ctx, Item{BlockID: b.ID, Order: 1, Title: "Gone soon"})
	require.NoError(t, err)

	sub, err := client.Subscribe(ctx, r.ID)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.DeleteItem(ctx, it.ID))

	n := receive(t, sub)
	assert.Equal(t, EventDelete, n.Event)
	row, err := n.DecodeItem()
	require.NoError(t, err)
	assert.Equal(t, it.ID, row.ID)

	_, err = client.GetItem(ctx, it.ID)
	assert.True(t, IsNotFound(err))
}

func TestDeleteBlockCascades(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	r, b := seedRundown(t, client)

	for i := 1; i <= 3; i++ {
		_, err := client.CreateItem(ctx, Item{BlockID: b.ID, Order: i, Title: "x"})
		require.NoError(t, err)
	}

	sub, err := client.Subscribe(ctx, r.ID)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.DeleteBlock(ctx, b.ID))

	var tables []Table
	for i := 0; i < 4; i++ {
		tables = append(tables, receive(t, sub).Table)
	}
	assert.Equal(t, []Table{TableItems, TableItems, TableItems, TableBlocks}, tables)

	blocks, err := client.ListBlocks(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, blocks)

	items, err := client.ListItems(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListOrdering(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	r, err := client.CreateRundown(ctx, Rundown{Name: "Ordered", Open: true})
	require.NoError(t, err)

	late, err := client.CreateBlock(ctx, Block{RundownID: r.ID, Name: "Second", Order: 2})
	require.NoError(t, err)
	early, err := client.CreateBlock(ctx, Block{RundownID: r.ID, Name: "First", Order: 1})
	require.NoError(t, err)

	_, err = client.CreateItem(ctx, Item{BlockID: late.ID, Order: 1, Title: "c"})
	require.NoError(t, err)
	_, err = client.CreateItem(ctx, Item{BlockID: early.ID, Order: 5, Title: "b"})
	require.NoError(t, err)
	_, err = client.CreateItem(ctx, Item{BlockID: early.ID, Order: 2, Title: "a"})
	require.NoError(t, err)

	blocks, err := client.ListBlocks(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"First", "Second"}, []string{blocks[0].Name, blocks[1].Name})

	items, err := client.ListItems(ctx, r.ID)
	require.NoError(t, err)
	var titles []string
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"a", "b", "c"}, titles)
}

func TestScanItems(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	_, b := seedRundown(t, client)

	_, err := client.CreateItem(ctx, Item{ID: "abc12345-0000", BlockID: b.ID, Title: "x"})
	require.NoError(t, err)
	_, err = client.CreateItem(ctx, Item{ID: "abc12399-0000", BlockID: b.ID, Title: "y"})
	require.NoError(t, err)
	_, err = client.CreateItem(ctx, Item{ID: "fff00000-0000", BlockID: b.ID, Title: "z"})
	require.NoError(t, err)

	ids, err := client.ScanItems(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc12345-0000", "abc12399-0000"}, ids)
}

func TestSubscribe(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	r, _ := seedRundown(t, client)

	t.Run("reports malformed envelopes on the error channel", func(t *testing.T) {
		sub, err := client.Subscribe(ctx, r.ID)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.Redis().Publish(ctx, ChangesChannel("test-ns", r.ID), "{not json").Err())

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to decode notification")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for error")
		}
	})

	t.Run("close ends the subscription cleanly", func(t *testing.T) {
		sub, err := client.Subscribe(ctx, r.ID)
		require.NoError(t, err)

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("events channel not closed")
		}
		assert.NoError(t, sub.Err())
	})

	t.Run("fails when redis is unreachable", func(t *testing.T) {
		down, err := NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}, "test-ns")
		require.NoError(t, err)
		defer down.Close()

		_, err = down.Subscribe(ctx, r.ID)
		assert.True(t, IsBackend(err))
	})
}
