package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newsroomate/rundown/internal/scaffold"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter rundown.yml",
	Long: `Write a starter configuration with every default spelled out.

Creates:
  • rundown.yml  - Redis location, namespace, realtime and clipboard tuning
  • .env.example - Environment overrides

Use --force to overwrite existing files.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite existing rundown.yml and .env.example")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write into")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if err := scaffold.CheckExisting(initDir); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(initDir, forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()
	return nil
}
