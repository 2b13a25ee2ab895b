package resolver

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/pkg/rundown"
)

func setupClient(t *testing.T) *rundown.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := rundown.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestResolveItemID(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	r, err := client.CreateRundown(ctx, rundown.Rundown{Name: "Jornal", Open: true})
	require.NoError(t, err)
	b, err := client.CreateBlock(ctx, rundown.Block{RundownID: r.ID, Name: "Bloco 1", Order: 1})
	require.NoError(t, err)

	ids := []string{
		"abc12345-0000-0000-0000-000000000001",
		"abc12399-0000-0000-0000-000000000002",
		"def45678-0000-0000-0000-000000000003",
	}
	for i, id := range ids {
		_, err := client.CreateItem(ctx, rundown.Item{ID: id, BlockID: b.ID, Order: i + 1, Title: "x"})
		require.NoError(t, err)
	}

	t.Run("full uuid", func(t *testing.T) {
		got, err := ResolveItemID(ctx, client, ids[2])
		require.NoError(t, err)
		assert.Equal(t, ids[2], got)
	})

	t.Run("full uuid missing", func(t *testing.T) {
		_, err := ResolveItemID(ctx, client, "fff00000-0000-0000-0000-000000000000")
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("unique prefix", func(t *testing.T) {
		got, err := ResolveItemID(ctx, client, "def456")
		require.NoError(t, err)
		assert.Equal(t, ids[2], got)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveItemID(ctx, client, "abc")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 6")
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := ResolveItemID(ctx, client, "abc123")
		require.True(t, IsAmbiguousError(err))
		amb := err.(*AmbiguousError)
		assert.ElementsMatch(t, ids[:2], amb.Matches)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolveItemID(ctx, client, "999999")
		require.True(t, IsNotFoundError(err))
		assert.Equal(t, "no items found matching '999999'", err.Error())
	})
}

func TestResolveBlockID(t *testing.T) {
	blocks := []collection.Block{
		{Block: rundown.Block{ID: "blk-1111", Name: "Abertura"}},
		{Block: rundown.Block{ID: "blk-2222", Name: "Esportes"}},
		{Block: rundown.Block{ID: "blk-2233", Name: "Clima"}},
	}

	tests := []struct {
		name      string
		ref       string
		want      string
		ambiguous bool
		notFound  bool
	}{
		{name: "exact id", ref: "blk-2222", want: "blk-2222"},
		{name: "name is case-insensitive", ref: "esportes", want: "blk-2222"},
		{name: "unique prefix", ref: "blk-1", want: "blk-1111"},
		{name: "ambiguous prefix", ref: "blk-22", ambiguous: true},
		{name: "unknown", ref: "Política", notFound: true},
		{name: "empty", ref: "", notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveBlockID(blocks, tt.ref)
			switch {
			case tt.ambiguous:
				assert.True(t, IsAmbiguousError(err))
			case tt.notFound:
				assert.True(t, IsNotFoundError(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFormatAmbiguousError(t *testing.T) {
	matches := make([]string, 12)
	for i := range matches {
		matches[i] = strings.Repeat("a", 8) + string(rune('a'+i))
	}
	msg := FormatAmbiguousError(&AmbiguousError{Kind: "item", ShortID: "aaaaaa", Matches: matches})

	assert.Contains(t, msg, "matches 12 items:")
	assert.Contains(t, msg, "...and 2 more")
	assert.Contains(t, msg, "identify the item.")
	assert.NotContains(t, msg, matches[10])
}
