package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show workspace statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.StoreStats()
	if err != nil {
		return err
	}

	fmt.Printf("Workspace: %s\n", cfg.WorkspaceDir)
	fmt.Printf("Projects: %d\nEvents: %d\nActive standards: %d\nOpen RA tags: %d\n",
		stats.TotalProjects, stats.TotalEvents, stats.ActiveStandards, stats.UnresolvedTags)
	for _, p := range stats.Projects {
		fmt.Printf("- %s\n", p)
	}
	return nil
}
