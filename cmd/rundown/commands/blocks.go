package commands

import (
	"github.com/spf13/cobra"

	"github.com/newsroomate/rundown/internal/printer"
)

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Add or delete blocks",
}

var blockAddCmd = &cobra.Command{
	Use:   "add RUNDOWN_ID NAME",
	Short: "Append a block to a rundown",
	Args:  cobra.ExactArgs(2),
	RunE:  runBlockAdd,
}

var blockDeleteCmd = &cobra.Command{
	Use:   "delete RUNDOWN_ID BLOCK",
	Short: "Delete a block and all its items",
	Long:  "Delete a block and all its items. BLOCK is a block id, id prefix or name.",
	Args:  cobra.ExactArgs(2),
	RunE:  runBlockDelete,
}

func init() {
	blockCmd.AddCommand(blockAddCmd, blockDeleteCmd)
	rootCmd.AddCommand(blockCmd)
}

func runBlockAdd(cmd *cobra.Command, args []string) error {
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

	b, err := rd.Engine.CreateBlock(ctx, args[1])
	if err != nil {
		return mutationError("add block", err)
	}
	printer.Success("Block added: %s '%s' (#%d)\n", b.ID, b.Name, b.Order)
	return nil
}

func runBlockDelete(cmd *cobra.Command, args []string) error {
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

	if err := rd.Engine.DeleteBlock(ctx, blockID); err != nil {
		return mutationError("delete block", err)
	}
	printer.Success("Block deleted: %s\n", blockID)
	return nil
}
