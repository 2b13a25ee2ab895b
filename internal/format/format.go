// Package format renders rundowns, notifications and the clipboard for the CLI.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/newsroomate/rundown/internal/clipboard"
	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/internal/printer"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// FormatTable writes the model as one table per block, with block totals and
// the rundown total. Returns the number of items formatted.
func FormatTable(w io.Writer, blocks []collection.Block, rundownName string) int {
	if len(blocks) == 0 {
		fmt.Fprintf(w, "Rundown '%s' has no blocks\n", rundownName)
		return 0
	}

	fmt.Fprintf(w, "Rundown '%s':\n", rundownName)

	count := 0
	for _, b := range blocks {
		fmt.Fprintf(w, "\n%s\n", printer.Bold(fmt.Sprintf("%s  [%s]", b.Name, formatID(b.ID))))
		if len(b.Items) == 0 {
			fmt.Fprintf(w, "  (empty)\n")
			continue
		}

		fmt.Fprintf(w, "  %-5s %-10s %-42s %-8s %s\n", "PAGE", "ID", "TITLE", "DUR", "STATUS")
		fmt.Fprintf(w, "  %-5s %-10s %-42s %-8s %s\n",
			"-----", "----------", "------------------------------------------", "--------", "--------")

		for _, it := range b.Items {
			id := formatID(it.Ref.ID())
			if it.Ref.IsPending() {
				id = printer.Pending("pending")
			}
			fmt.Fprintf(w, "  %-5s %-10s %-42s %-8s %s\n",
				formatPage(it.Data.Page),
				id,
				formatTitle(it.Data.Title),
				FormatDuration(it.Data.DurationSeconds),
				printer.Status(it.Data.Status),
			)
			count++
		}
		fmt.Fprintf(w, "  %-5s %-10s %42s %s\n", "", "", "block total", FormatDuration(b.Total()))
	}

	countMsg := "item"
	if count != 1 {
		countMsg = "items"
	}
	fmt.Fprintf(w, "\n%d %s, total %s\n", count, countMsg, FormatDuration(collection.RundownTotal(blocks)))

	return count
}

// Line is one JSONL record of the watch stream.
type Line struct {
	Event     rundown.Event   `json:"event"`
	Table     rundown.Table   `json:"table"`
	Outcome   string          `json:"outcome"`
	Origin    string          `json:"origin,omitempty"`
	Timestamp int64           `json:"timestamp_ms"`
	Row       json.RawMessage `json:"row,omitempty"`
}

// NewLine builds a stream record from a notification and its reconcile outcome.
func NewLine(n rundown.Notification, outcome string, now time.Time) Line {
	return Line{
		Event:     n.Event,
		Table:     n.Table,
		Outcome:   outcome,
		Origin:    n.Origin,
		Timestamp: now.UnixMilli(),
		Row:       n.Row,
	}
}

// FormatJSONL writes values as line-delimited JSON (JSONL) to the provided writer.
// This format is ideal for streaming and processing with tools like jq.
func FormatJSONL[T any](w io.Writer, values []T) error {
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal to JSON: %w", err)
		}

		if _, err := fmt.Fprintf(w, "%s\n", string(data)); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}

	return nil
}

// Items flattens the model into backend rows for JSONL output.
func Items(blocks []collection.Block) []rundown.Item {
	flat := collection.Flatten(blocks)
	out := make([]rundown.Item, len(flat))
	for i, it := range flat {
		out[i] = it.Data
	}
	return out
}

// ClipboardView is the JSON shape of a clipboard snapshot.
type ClipboardView struct {
	State     string                   `json:"state"`
	CopiedAt  int64                    `json:"copied_at_ms,omitempty"`
	Item      *rundown.Item            `json:"item,omitempty"`
	Block     *clipboard.BlockSnapshot `json:"block,omitempty"`
	TotalSecs int                      `json:"total_seconds"`
}

// NewClipboardView flattens a snapshot for display.
func NewClipboardView(s clipboard.Snapshot) ClipboardView {
	v := ClipboardView{State: s.State.String(), CopiedAt: s.Timestamp()}
	switch {
	case s.Item != nil:
		item := s.Item.Item
		v.Item = &item
		v.TotalSecs = item.DurationSeconds
	case s.Block != nil:
		block := s.Block.Block
		v.Block = &block
		for _, it := range block.Items {
			v.TotalSecs += it.DurationSeconds
		}
	}
	return v
}

// FormatSingleJSON writes one value as pretty-printed JSON to the provided writer.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}

	// Add newline for clean output
	fmt.Fprintln(w)

	return nil
}

// FormatClipboard writes a one-paragraph summary of the clipboard.
func FormatClipboard(w io.Writer, s clipboard.Snapshot) {
	switch {
	case s.Item != nil:
		fmt.Fprintf(w, "Holding item '%s' (%s), copied %s\n",
			formatTitle(s.Item.Item.Title), FormatDuration(s.Item.Item.DurationSeconds), formatTimestamp(s.Item.Timestamp))
	case s.Block != nil:
		v := NewClipboardView(s)
		fmt.Fprintf(w, "Holding block '%s' with %d items (%s), copied %s\n",
			formatTitle(s.Block.Block.Name), len(s.Block.Block.Items), FormatDuration(v.TotalSecs), formatTimestamp(s.Block.Timestamp))
	default:
		fmt.Fprintln(w, "Clipboard is empty")
	}
}

// FormatDuration renders seconds as mm:ss, or h:mm:ss past an hour.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// formatID truncates ids to first 8 characters for compact display.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatPage(page string) string {
	if page == "" {
		return "-"
	}
	return page
}

// formatTitle keeps the first non-empty line, truncated to 40 characters.
func formatTitle(title string) string {
	var firstLine string
	for _, line := range strings.Split(title, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			firstLine = trimmed
			break
		}
	}
	if firstLine == "" {
		return "-"
	}

	runes := []rune(firstLine)
	if len(runes) > 40 {
		return string(runes[:37]) + "..."
	}
	return firstLine
}

// formatTimestamp formats Unix timestamp in milliseconds to human-readable time.
// Shows relative time like "2m ago", "1h ago", etc.
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
