package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newsroomate/rundown/internal/clipboard"
	"github.com/newsroomate/rundown/internal/format"
	"github.com/newsroomate/rundown/internal/printer"
	"github.com/newsroomate/rundown/internal/resolver"
	"github.com/newsroomate/rundown/pkg/rundown"
)

var (
	pasteAfter      string
	pasteKeep       bool
	clipboardOutput string
)

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy an item or a whole block to the clipboard",
	Long: `Copy an item or a whole block to the clipboard shared by every process
of the configured clipboard scope. A new copy replaces whatever was held.`,
}

var copyItemCmd = &cobra.Command{
	Use:   "item ITEM_ID",
	Short: "Copy one item",
	Args:  cobra.ExactArgs(1),
	RunE:  runCopyItem,
}

var copyBlockCmd = &cobra.Command{
	Use:   "block RUNDOWN_ID BLOCK",
	Short: "Copy a block with all its items",
	Args:  cobra.ExactArgs(2),
	RunE:  runCopyBlock,
}

var pasteCmd = &cobra.Command{
	Use:   "paste RUNDOWN_ID",
	Short: "Paste the clipboard into a rundown",
	Long: `Paste the held item or block into an open rundown.

An item lands after --after, or at the end of the first block. A block is
appended after the last block. Pasted titles get a " (Cópia)" suffix.

The clipboard is cleared a moment after a successful paste; --keep holds it
for further pastes. A failed paste keeps the clipboard so it can be retried.`,
	Args: cobra.ExactArgs(1),
	RunE: runPaste,
}

var clipboardCmd = &cobra.Command{
	Use:   "clipboard",
	Short: "Inspect or clear the clipboard",
}

var clipboardShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show what the clipboard holds",
	Args:  cobra.NoArgs,
	RunE:  runClipboardShow,
}

var clipboardClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the clipboard",
	Args:  cobra.NoArgs,
	RunE:  runClipboardClear,
}

func init() {
	pasteCmd.Flags().StringVar(&pasteAfter, "after", "", "Paste an item right after this item")
	pasteCmd.Flags().BoolVar(&pasteKeep, "keep", false, "Keep the clipboard after pasting")
	clipboardShowCmd.Flags().StringVarP(&clipboardOutput, "output", "o", "default", "Output format: default or json")

	copyCmd.AddCommand(copyItemCmd, copyBlockCmd)
	clipboardCmd.AddCommand(clipboardShowCmd, clipboardClearCmd)
	rootCmd.AddCommand(copyCmd, pasteCmd, clipboardCmd)
}

func runCopyItem(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := resolver.ResolveItemID(ctx, a.session.Client(), args[0])
	if err != nil {
		return resolveError(args[0], err)
	}
	it, err := a.session.Client().GetItem(ctx, id)
	if err != nil {
		return err
	}

	m, err := a.session.Clipboard(ctx)
	if err != nil {
		return clipboardError(err)
	}
	if err := m.CopyItem(ctx, it); err != nil {
		return clipboardError(err)
	}
	printer.Success("Copied item '%s' (%s)\n", it.Title, format.FormatDuration(it.DurationSeconds))
	return nil
}

func runCopyBlock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rd, err := a.open(ctx, args[0])
	if err != nil {
		return err
	}
	blockID, err := block(rd, args[1])
	if err != nil {
		return err
	}

	var (
		src   rundown.Block
		items []rundown.Item
	)
	for _, b := range rd.Snapshot() {
		if b.ID != blockID {
			continue
		}
		src = b.Block
		for _, it := range b.Items {
			if it.Ref.IsCommitted() {
				items = append(items, it.Data)
			}
		}
	}

	m, err := a.session.Clipboard(ctx)
	if err != nil {
		return clipboardError(err)
	}
	if err := m.CopyBlock(ctx, src, items); err != nil {
		return clipboardError(err)
	}
	printer.Success("Copied block '%s' with %d items\n", src.Name, len(items))
	return nil
}

func runPaste(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rd, err := a.open(ctx, args[0])
	if err != nil {
		return err
	}

	afterID := ""
	if pasteAfter != "" {
		after, err := itemInRundown(ctx, a, rd, pasteAfter)
		if err != nil {
			return err
		}
		afterID = after.Ref.ID()
	}

	m, err := a.session.Clipboard(ctx)
	if err != nil {
		return clipboardError(err)
	}

	out, err := m.Paste(ctx, rd.Engine, afterID)
	if err != nil {
		return clipboardError(err)
	}

	switch out.Kind {
	case clipboard.HoldingBlock:
		printer.Success("Pasted block '%s' with %d items into '%s'\n", out.Block.Name, len(out.Items), rd.Meta.Name)
	default:
		printer.Success("Pasted item '%s' into '%s'\n", out.Items[0].Title, rd.Meta.Name)
	}

	if pasteKeep {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, a.cfg.Clipboard.PasteClearDelay+5*time.Second)
	defer cancel()
	if err := m.WaitClear(wctx); err != nil {
		printer.Warning("clipboard was not cleared: %v\n", err)
	}
	return nil
}

func runClipboardShow(cmd *cobra.Command, args []string) error {
	if clipboardOutput != "default" && clipboardOutput != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", clipboardOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx := cmd.Context()
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.session.Clipboard(ctx)
	if err != nil {
		return clipboardError(err)
	}

	snap := m.Current()
	if clipboardOutput == "json" {
		return format.FormatSingleJSON(printer.Out, format.NewClipboardView(snap))
	}
	format.FormatClipboard(printer.Out, snap)
	return nil
}

func runClipboardClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.session.Clipboard(ctx)
	if err != nil {
		return clipboardError(err)
	}
	if err := m.Clear(ctx); err != nil {
		return clipboardError(err)
	}
	printer.Success("Clipboard cleared\n")
	return nil
}

func clipboardError(err error) error {
	switch {
	case errors.Is(err, clipboard.ErrNothingCopied):
		return printer.Error(
			"nothing to paste",
			"The clipboard is empty or its content expired.",
			[]string{
				"Copy an item:\n  rundown copy item <ITEM_ID>",
				"Copy a block:\n  rundown copy block <RUNDOWN_ID> <BLOCK>",
			},
		)
	case errors.Is(err, clipboard.ErrRundownClosed):
		return printer.Error(
			"rundown closed",
			err.Error(),
			[]string{"Open it first:\n  rundown open <RUNDOWN_ID>"},
		)
	default:
		return mutationError("use the clipboard", err)
	}
}
