package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroomate/rundown/internal/config"
	"github.com/newsroomate/rundown/internal/printer"
	"github.com/newsroomate/rundown/pkg/rundown"
)

func init() {
	color.NoColor = true
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

// syncBuffer is written by a running command while the test reads it.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type harness struct {
	t       *testing.T
	mr      *miniredis.Miniredis
	client  *rundown.Client
	cfgPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv(config.EnvRedisURL, "redis://"+mr.Addr()+"/0")
	t.Setenv(config.EnvNamespace, "test")
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(config.EnvClipboardScope, "cli")

	client, err := rundown.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &harness{t: t, mr: mr, client: client, cfgPath: filepath.Join(t.TempDir(), config.DefaultPath)}
}

func (h *harness) run(args ...string) (stdout, stderr string, err error) {
	h.t.Helper()
	out, errb := &syncBuffer{}, &syncBuffer{}
	err = h.runWith(context.Background(), out, errb, args...)
	return out.String(), errb.String(), err
}

func (h *harness) runWith(ctx context.Context, out, errb *syncBuffer, args ...string) error {
	prevOut, prevErr := printer.Out, printer.Err
	printer.Out, printer.Err = out, errb
	defer func() { printer.Out, printer.Err = prevOut, prevErr }()

	resetCommand(rootCmd)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errb)
	rootCmd.SetArgs(append([]string{"--config", h.cfgPath}, args...))
	return rootCmd.ExecuteContext(ctx)
}

// resetCommand clears flag values and contexts left over from earlier runs.
func resetCommand(cmd *cobra.Command) {
	cmd.SetContext(nil)
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetCommand(c)
	}
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, errOut, err := h.run(args...)
	require.NoError(h.t, err, "rundown %s\nstderr: %s", strings.Join(args, " "), errOut)
	return out
}

var idPattern = regexp.MustCompile(`: ([0-9a-f-]{36})`)

func extractID(t *testing.T, out string) string {
	t.Helper()
	m := idPattern.FindStringSubmatch(out)
	require.NotNil(t, m, "no id in %q", out)
	return m[1]
}

func (h *harness) items(rundownID string) []rundown.Item {
	h.t.Helper()
	items, err := h.client.ListItems(context.Background(), rundownID)
	require.NoError(h.t, err)
	return items
}

func TestInitCommand(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	out := h.mustRun("init", "--dir", dir)
	assert.Contains(t, out, "Successfully initialized")
	assert.FileExists(t, filepath.Join(dir, config.DefaultPath))

	_, _, err := h.run("init", "--dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already initialized")

	h.mustRun("init", "--dir", dir, "--force")
}

func TestInvalidConfig(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.cfgPath, []byte("version: \"2.0\"\n"), 0644))

	_, stderr, err := h.run("show", "anything")
	require.Error(t, err)
	assert.Equal(t, "invalid configuration", err.Error())
	assert.Contains(t, stderr, "unsupported version")
}

func TestUnreachableRedis(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	_, stderr, err := h.run("show", "anything")
	require.Error(t, err)
	assert.Equal(t, "Redis connection failed", err.Error())
	assert.Contains(t, stderr, "REDIS_URL")
}

func TestEditingFlow(t *testing.T) {
	h := newHarness(t)

	rundownID := extractID(t, h.mustRun("create", "Jornal da Tarde"))
	blocks, err := h.client.ListBlocks(context.Background(), rundownID)
	require.NoError(t, err)
	require.Len(t, blocks, 1, "first block created with the rundown")

	first := extractID(t, h.mustRun("add", rundownID, "--title", "Abertura", "--duration", "0:30"))
	third := extractID(t, h.mustRun("add", rundownID, "--title", "Clima", "--duration", "60"))
	second := extractID(t, h.mustRun("add", rundownID, "--title", "Economy Segment", "--duration", "45s", "--after", first[:8]))

	items := h.items(rundownID)
	require.Len(t, items, 3)
	assert.Equal(t, []string{first, second, third}, []string{items[0].ID, items[1].ID, items[2].ID})

	out := h.mustRun("show", rundownID)
	assert.Contains(t, out, "Rundown 'Jornal da Tarde':")
	assert.Contains(t, out, "3 items, total 02:15")

	t.Run("edit", func(t *testing.T) {
		h.mustRun("edit", second, "--status", "approved", "--duration", "1:00")
		it, err := h.client.GetItem(context.Background(), second)
		require.NoError(t, err)
		assert.Equal(t, rundown.StatusApproved, it.Status)
		assert.Equal(t, 60, it.DurationSeconds)
		assert.Equal(t, "Economy Segment", it.Title, "untouched fields stay")

		_, _, err = h.run("edit", second)
		assert.EqualError(t, err, "nothing to change")

		_, _, err = h.run("edit", second, "--status", "bogus")
		assert.EqualError(t, err, "cannot edit item")
	})

	t.Run("blocks and moves", func(t *testing.T) {
		h.mustRun("block", "add", rundownID, "Esportes")
		h.mustRun("move", third, "--block", "esportes")

		it, err := h.client.GetItem(context.Background(), third)
		require.NoError(t, err)
		blocks, err := h.client.ListBlocks(context.Background(), rundownID)
		require.NoError(t, err)
		require.Len(t, blocks, 2)
		assert.Equal(t, blocks[1].ID, it.BlockID)

		out := h.mustRun("move", first, "--position", "2")
		assert.Contains(t, out, "Item moved")
		out = h.mustRun("move", first, "--position", "2")
		assert.Contains(t, out, "already there")
	})

	t.Run("renumber and jsonl", func(t *testing.T) {
		h.mustRun("renumber", rundownID)

		out := h.mustRun("show", rundownID, "-o", "jsonl")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		var pages []string
		for _, line := range lines {
			var it rundown.Item
			require.NoError(t, json.Unmarshal([]byte(line), &it))
			pages = append(pages, it.Page)
		}
		assert.Equal(t, []string{"1", "2", "3"}, pages)
	})

	t.Run("delete", func(t *testing.T) {
		h.mustRun("delete", first)
		assert.Len(t, h.items(rundownID), 2)

		_, stderr, err := h.run("delete", first)
		require.Error(t, err)
		assert.Contains(t, stderr, "no items found")

		h.mustRun("block", "delete", rundownID, "Esportes")
		assert.Len(t, h.items(rundownID), 1)
	})

	t.Run("bad input", func(t *testing.T) {
		_, _, err := h.run("show", rundownID, "-o", "yaml")
		assert.EqualError(t, err, "invalid output format")

		_, _, err = h.run("show", "00000000-0000-0000-0000-000000000000")
		assert.EqualError(t, err, "rundown not found")

		_, _, err = h.run("add", rundownID, "--duration", "soon")
		assert.EqualError(t, err, "invalid duration")
	})
}

func TestClipboardFlow(t *testing.T) {
	h := newHarness(t)

	src := extractID(t, h.mustRun("create", "Jornal da Tarde"))
	dest := extractID(t, h.mustRun("create", "Jornal da Noite"))
	item := extractID(t, h.mustRun("add", src, "--title", "Economy Segment", "--duration", "45"))
	h.mustRun("add", dest, "--title", "Headlines", "--duration", "30")

	_, _, err := h.run("paste", dest)
	assert.EqualError(t, err, "nothing to paste")

	h.mustRun("copy", "item", item)

	out := h.mustRun("clipboard", "show", "-o", "json")
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "holding_item", view["state"])
	assert.Equal(t, float64(45), view["total_seconds"])

	t.Run("closed destination keeps the clipboard", func(t *testing.T) {
		h.mustRun("close", dest)
		_, _, err := h.run("paste", dest)
		assert.EqualError(t, err, "rundown closed")
		assert.Contains(t, h.mustRun("clipboard", "show"), "Holding item 'Economy Segment'")
		h.mustRun("open", dest)
	})

	t.Run("paste with keep", func(t *testing.T) {
		out := h.mustRun("paste", dest, "--keep")
		assert.Contains(t, out, "Pasted item 'Economy Segment (Cópia)' into 'Jornal da Noite'")
		assert.Contains(t, h.mustRun("clipboard", "show"), "Holding item")
	})

	t.Run("paste clears afterwards", func(t *testing.T) {
		h.mustRun("paste", dest)
		assert.Equal(t, "Clipboard is empty\n", h.mustRun("clipboard", "show"))

		items := h.items(dest)
		require.Len(t, items, 3)
		assert.Equal(t, "Economy Segment (Cópia)", items[1].Title)
		assert.Equal(t, "Economy Segment (Cópia)", items[2].Title)
		assert.Len(t, h.items(src), 1, "source unchanged")
	})

	t.Run("block copy", func(t *testing.T) {
		h.mustRun("copy", "block", src, "Bloco 1")
		out := h.mustRun("paste", dest, "--keep")
		assert.Contains(t, out, "Pasted block 'Bloco 1 (Cópia)' with 1 items")

		blocks, err := h.client.ListBlocks(context.Background(), dest)
		require.NoError(t, err)
		require.Len(t, blocks, 2)
		assert.Equal(t, "Bloco 1 (Cópia)", blocks[1].Name)

		h.mustRun("clipboard", "clear")
		assert.Equal(t, "Clipboard is empty\n", h.mustRun("clipboard", "show"))
	})
}

func TestWatchStreamsRemoteChanges(t *testing.T) {
	h := newHarness(t)
	rundownID := extractID(t, h.mustRun("create", "Jornal"))
	blocks, err := h.client.ListBlocks(context.Background(), rundownID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, errb := &syncBuffer{}, &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- h.runWith(ctx, out, errb, "watch", rundownID, "-o", "json", "--metrics-addr", "127.0.0.1:0") }()

	channel := rundown.ChangesChannel("test", rundownID)
	require.Eventually(t, func() bool {
		return h.mr.PubSubNumSub(channel)[channel] == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err = h.client.CreateItem(context.Background(), rundown.Item{BlockID: blocks[0].ID, Order: 1, Title: "Plantão"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Plantão")
	}, 5*time.Second, 10*time.Millisecond)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &line))
	assert.Equal(t, "insert", line["event"])
	assert.Equal(t, "applied", line["outcome"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
