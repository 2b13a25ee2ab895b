package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newsroomate/rundown/internal/format"
	"github.com/newsroomate/rundown/internal/printer"
	"github.com/newsroomate/rundown/pkg/rundown"
)

var (
	createClosed bool
	showOutput   string
)

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a rundown",
	Long: `Create a rundown and its first block.

Examples:
  rundown create "Jornal da Tarde"
  rundown create "Arquivo" --closed`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var openCmd = &cobra.Command{
	Use:   "open RUNDOWN_ID",
	Short: "Open a rundown for editing and pastes",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setOpen(cmd.Context(), args[0], true) },
}

var closeCmd = &cobra.Command{
	Use:   "close RUNDOWN_ID",
	Short: "Close a rundown; pastes into it are rejected",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setOpen(cmd.Context(), args[0], false) },
}

var showCmd = &cobra.Command{
	Use:   "show RUNDOWN_ID",
	Short: "Print a rundown with block and total durations",
	Long: `Print a rundown block by block.

Output Formats:
  default - One table per block with page, id, title, duration and status
  jsonl   - Line-delimited JSON, one item per line

Examples:
  rundown show 3f2a9c1e-...
  rundown show 3f2a9c1e-... -o jsonl | jq -r .title`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	createCmd.Flags().BoolVar(&createClosed, "closed", false, "Create the rundown closed")
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "default", "Output format: default or jsonl")
	rootCmd.AddCommand(createCmd, openCmd, closeCmd, showCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.session.Client().CreateRundown(ctx, rundown.Rundown{Name: args[0], Open: !createClosed})
	if err != nil {
		return mutationError("create rundown", err)
	}
	rd, err := a.open(ctx, r.ID)
	if err != nil {
		return err
	}

	printer.Success("Rundown created: %s\n", r.ID)
	if blocks := rd.Snapshot(); len(blocks) > 0 {
		printer.Info("  First block: %s (%s)\n", blocks[0].Name, blocks[0].ID)
	}
	return nil
}

func setOpen(ctx context.Context, rundownID string, open bool) error {
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.Client().SetRundownOpen(ctx, rundownID, open); err != nil {
		if rundown.IsNotFound(err) {
			return a.rundownNotFound(rundownID)
		}
		return mutationError("update rundown", err)
	}

	state := "closed"
	if open {
		state = "open"
	}
	printer.Success("Rundown %s is %s\n", rundownID, state)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	if showOutput != "default" && showOutput != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", showOutput),
			[]string{"Valid formats: default, jsonl"},
		)
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

	if showOutput == "jsonl" {
		return format.FormatJSONL(printer.Out, format.Items(rd.Snapshot()))
	}

	format.FormatTable(printer.Out, rd.Snapshot(), rd.Meta.Name)
	if !rd.Meta.Open {
		printer.Warning("Rundown is closed\n")
	}
	return nil
}
