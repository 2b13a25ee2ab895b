// Package watch streams reconciled notifications of an open rundown.
package watch

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/newsroomate/rundown/internal/clock"
	"github.com/newsroomate/rundown/internal/format"
	"github.com/newsroomate/rundown/internal/metrics"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// Event is one notification together with what the reconciler did with it.
type Event struct {
	Notification rundown.Notification
	Outcome      string
	At           time.Time
}

// Feed buffers events between the reconciler and a writer. Observe never
// blocks; events that do not fit are counted and dropped.
type Feed struct {
	ch      chan Event
	clock   clock.Clock
	dropped atomic.Int64
}

// NewFeed creates a feed holding up to size events.
func NewFeed(size int, clk clock.Clock) *Feed {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Feed{ch: make(chan Event, size), clock: clk}
}

// Observe has the signature of reconcile.OnNotification.
func (f *Feed) Observe(n rundown.Notification, outcome string) {
	select {
	case f.ch <- Event{Notification: n, Outcome: outcome, At: f.clock.Now()}:
	default:
		f.dropped.Add(1)
	}
}

func (f *Feed) Events() <-chan Event {
	return f.ch
}

// Dropped returns how many events did not fit in the buffer.
func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

// Stream writes events until ctx is done or events is closed.
func Stream(ctx context.Context, events <-chan Event, outputFormat OutputFormat, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := write(w, ev, outputFormat); err != nil {
				return err
			}
		}
	}
}

func write(w io.Writer, ev Event, outputFormat OutputFormat) error {
	if outputFormat == OutputFormatJSON {
		return format.FormatJSONL(w, []format.Line{format.NewLine(ev.Notification, ev.Outcome, ev.At)})
	}

	line := fmt.Sprintf("[%s] %s %s", ev.At.Format("15:04:05"), icon(ev.Notification.Event), describe(ev.Notification))
	if ev.Outcome != metrics.OutcomeApplied {
		line += fmt.Sprintf(" (%s)", ev.Outcome)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func icon(e rundown.Event) string {
	switch e {
	case rundown.EventInsert:
		return "➕"
	case rundown.EventUpdate:
		return "✏️ "
	case rundown.EventDelete:
		return "🗑️ "
	default:
		return "❓"
	}
}

// describe names the row a notification is about.
func describe(n rundown.Notification) string {
	switch n.Table {
	case rundown.TableItems:
		it, err := n.DecodeItem()
		if err != nil {
			return "item <malformed>"
		}
		return fmt.Sprintf("item '%s' (%s, block %s #%d)",
			it.Title, format.FormatDuration(it.DurationSeconds), shortID(it.BlockID), it.Order)
	case rundown.TableBlocks:
		b, err := n.DecodeBlock()
		if err != nil {
			return "block <malformed>"
		}
		return fmt.Sprintf("block '%s' #%d", b.Name, b.Order)
	default:
		return string(n.Table)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
