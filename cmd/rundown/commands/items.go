package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/internal/format"
	"github.com/newsroomate/rundown/internal/printer"
	"github.com/newsroomate/rundown/internal/resolver"
	"github.com/newsroomate/rundown/internal/session"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// itemFlags are shared by add and edit.
var (
	itemTitle    string
	itemDuration string
	itemPage     string
	itemStatus   string
	itemScript   string
	itemReporter string
	itemLocation string

	addBlock string
	addAfter string

	moveBlock    string
	movePosition int
)

var addCmd = &cobra.Command{
	Use:   "add RUNDOWN_ID",
	Short: "Add an item to a rundown",
	Long: `Add an item. It lands after --after when given, otherwise at the end of
--block, otherwise at the end of the first block.

Durations accept seconds (90), mm:ss (1:30) or Go durations (1m30s).

Examples:
  rundown add 3f2a... --title "Economy Segment" --duration 0:45
  rundown add 3f2a... --title "Plantão" --after 9c1e77 --status urgent`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var editCmd = &cobra.Command{
	Use:   "edit ITEM_ID",
	Short: "Change fields of an item",
	Long: `Change fields of an item. Only the flags given are changed.
ITEM_ID may be a unique prefix of at least 6 characters.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

var moveCmd = &cobra.Command{
	Use:   "move ITEM_ID",
	Short: "Move an item within or across blocks",
	Long: `Move an item to --position (1-based) of --block. Without --block the item
stays in its block; without --position it goes to the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runMove,
}

var deleteCmd = &cobra.Command{
	Use:   "delete ITEM_ID",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var renumberCmd = &cobra.Command{
	Use:   "renumber RUNDOWN_ID",
	Short: "Rewrite orders and page numbers in display order",
	Args:  cobra.ExactArgs(1),
	RunE:  runRenumber,
}

func addItemFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&itemTitle, "title", "", "Title")
	cmd.Flags().StringVar(&itemDuration, "duration", "", "Duration (90, 1:30 or 1m30s)")
	cmd.Flags().StringVar(&itemPage, "page", "", "Page number")
	cmd.Flags().StringVar(&itemStatus, "status", "", "Status: draft, review, approved, published or urgent")
	cmd.Flags().StringVar(&itemScript, "script", "", "Script text")
	cmd.Flags().StringVar(&itemReporter, "reporter", "", "Reporter")
	cmd.Flags().StringVar(&itemLocation, "location", "", "Location")
}

func init() {
	addItemFlags(addCmd)
	addCmd.Flags().StringVar(&addBlock, "block", "", "Block id, id prefix or name")
	addCmd.Flags().StringVar(&addAfter, "after", "", "Insert after this item")

	addItemFlags(editCmd)

	moveCmd.Flags().StringVar(&moveBlock, "block", "", "Destination block id, id prefix or name")
	moveCmd.Flags().IntVar(&movePosition, "position", 0, "1-based position in the destination block (0 = end)")

	rootCmd.AddCommand(addCmd, editCmd, moveCmd, deleteCmd, renumberCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	duration, err := parseDuration(itemDuration)
	if err != nil {
		return printer.Error("invalid duration", err.Error(), nil)
	}

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

	blockID, order, err := addTarget(ctx, a, rd)
	if err != nil {
		return err
	}

	row, err := rd.Engine.AddItem(ctx, rundown.Item{
		BlockID:         blockID,
		Order:           order,
		Page:            itemPage,
		Title:           itemTitle,
		DurationSeconds: duration,
		Status:          rundown.Status(itemStatus),
		Script:          itemScript,
		Reporter:        itemReporter,
		Location:        itemLocation,
	})
	if err != nil {
		return mutationError("add item", err)
	}

	printer.Success("Item added: %s\n", row.ID)
	printer.Info("  Rundown total: %s\n", format.FormatDuration(collection.RundownTotal(rd.Snapshot())))
	return nil
}

// addTarget picks the block and order of a new item from --after and --block.
func addTarget(ctx context.Context, a *app, rd *session.Rundown) (blockID string, order int, err error) {
	if addAfter != "" {
		after, err := itemInRundown(ctx, a, rd, addAfter)
		if err != nil {
			return "", 0, err
		}
		order, _ = collection.OrderAfter(rd.Snapshot(), after.Data.BlockID, after.Ref)
		return after.Data.BlockID, order, nil
	}

	if addBlock != "" {
		if blockID, err = block(rd, addBlock); err != nil {
			return "", 0, err
		}
	} else {
		first, err := rd.Engine.EnsureFirstBlock(ctx)
		if err != nil {
			return "", 0, mutationError("add item", err)
		}
		blockID = first.ID
	}
	order, _ = collection.NextOrder(rd.Snapshot(), blockID)
	return blockID, order, nil
}

// itemInRundown resolves ref and checks the item belongs to rd.
func itemInRundown(ctx context.Context, a *app, rd *session.Rundown, ref string) (collection.Item, error) {
	id, err := resolver.ResolveItemID(ctx, a.session.Client(), ref)
	if err != nil {
		return collection.Item{}, resolveError(ref, err)
	}
	it, ok := collection.FindByID(rd.Snapshot(), id)
	if !ok {
		return collection.Item{}, printer.Error(
			"item not in rundown",
			fmt.Sprintf("Item %s is not part of rundown '%s'.", id, rd.Meta.Name),
			nil,
		)
	}
	return it, nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	var patch rundown.ItemPatch
	flags := cmd.Flags()
	if flags.Changed("title") {
		patch.Title = rundown.Ptr(itemTitle)
	}
	if flags.Changed("duration") {
		d, err := parseDuration(itemDuration)
		if err != nil {
			return printer.Error("invalid duration", err.Error(), nil)
		}
		patch.DurationSeconds = rundown.Ptr(d)
	}
	if flags.Changed("page") {
		patch.Page = rundown.Ptr(itemPage)
	}
	if flags.Changed("status") {
		patch.Status = rundown.Ptr(rundown.Status(itemStatus))
	}
	if flags.Changed("script") {
		patch.Script = rundown.Ptr(itemScript)
	}
	if flags.Changed("reporter") {
		patch.Reporter = rundown.Ptr(itemReporter)
	}
	if flags.Changed("location") {
		patch.Location = rundown.Ptr(itemLocation)
	}
	if patch.IsEmpty() {
		return printer.Error("nothing to change", "No field flags were given.", []string{"For example:\n  rundown edit <ITEM_ID> --status approved"})
	}

	ctx := cmd.Context()
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rd, it, err := a.openItem(ctx, args[0])
	if err != nil {
		return err
	}

	row, err := rd.Engine.UpdateItem(ctx, it.ID, patch)
	if err != nil {
		return mutationError("edit item", err)
	}
	printer.Success("Item updated: %s '%s' (%s, %s)\n", row.ID, row.Title, format.FormatDuration(row.DurationSeconds), row.Status)
	return nil
}

func runMove(cmd *cobra.Command, args []string) error {
	if movePosition < 0 {
		return printer.Error("invalid position", fmt.Sprintf("Position must be >= 1, got %d", movePosition), nil)
	}

	ctx := cmd.Context()
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rd, it, err := a.openItem(ctx, args[0])
	if err != nil {
		return err
	}

	destBlockID := it.BlockID
	if moveBlock != "" {
		if destBlockID, err = block(rd, moveBlock); err != nil {
			return err
		}
	}

	blocks := rd.Snapshot()
	bi := collection.BlockIndex(blocks, destBlockID)
	if bi < 0 {
		return mutationError("move item", rundown.NotFound("move item", "block", destBlockID))
	}
	destIndex := len(blocks[bi].Items)
	if movePosition > 0 {
		destIndex = movePosition - 1
	}

	row, moved, err := rd.Engine.MoveItem(ctx, it.ID, destBlockID, destIndex)
	if err != nil {
		return mutationError("move item", err)
	}
	if !moved {
		printer.Info("Item is already there\n")
		return nil
	}
	printer.Success("Item moved: %s now #%d in block %s\n", row.ID, row.Order, row.BlockID)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rd, it, err := a.openItem(ctx, args[0])
	if err != nil {
		return err
	}

	if err := rd.Engine.DeleteItem(ctx, it.ID); err != nil {
		return mutationError("delete item", err)
	}
	printer.Success("Item deleted: %s '%s'\n", it.ID, it.Title)
	return nil
}

func runRenumber(cmd *cobra.Command, args []string) error {
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

	changes, err := rd.Engine.Renumber(ctx)
	if err != nil {
		return mutationError("renumber", err)
	}
	printer.Success("Renumbered %d items\n", len(changes))
	return nil
}
