package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/workshop/internal/fileindex"
)

var indexRoot string

func init() {
	indexCmd.Flags().StringVar(&indexRoot, "root", "", "project root to index (default: resolved project root)")
	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index <project>",
	Short: "Sync the file index for a project",
	Long: `Walk the project root and bring the file index up to date. Incremental:
files with unchanged size and mtime are skipped, deleted files are pruned.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	root := indexRoot
	if root == "" {
		root = cfg.ProjectRoot
	}

	idx, err := fileindex.New(fileindex.DefaultConfig(cfg.WorkspaceDir))
	if err != nil {
		return err
	}
	defer idx.Close()

	report, err := idx.Sync(args[0], root)
	if err != nil {
		return err
	}
	fmt.Printf("Index synced: %d scanned, %d indexed, %d unchanged, %d removed, %d skipped.\n",
		report.Scanned, report.Indexed, report.Unchanged, report.Removed, report.Skipped)
	return nil
}
