package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/workshop/internal/config"
	"github.com/HendryAvila/workshop/internal/ctxtools"
	"github.com/HendryAvila/workshop/internal/phasestate"
	"github.com/HendryAvila/workshop/internal/standards"
)

var auditDomain string

func init() {
	auditCmd.Flags().StringVar(&auditDomain, "domain", "",
		"restrict the pass to one domain (default: all)")
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit <project>",
	Short: "Aggregate recurring patterns into standards",
	Long: `Run an aggregation pass over a project's event log: cluster recurring
decisions, gotchas and notes, promote clusters at the recurrence
threshold, and rebuild the standards snapshot.

Exit codes:
  0 - pass completed cleanly
  1 - pass completed but some slices were skipped (partial)
  2 - store unreachable
  3 - pass failed`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	agg := standards.NewAggregator(store, standards.Config{
		Threshold:         cfg.PromotionThreshold,
		CriticalThreshold: cfg.CriticalThreshold,
		SimilarityCutoff:  cfg.SimilarityCutoff,
	})
	report, err := agg.Aggregate(args[0], auditDomain)
	store.Close()
	if err != nil {
		return err
	}

	fmt.Print(ctxtools.FormatReport(report))
	reportStaleTasks(cfg, args[0])

	if report.Partial() {
		os.Exit(exitPartial)
	}
	return nil
}

// reportStaleTasks flags task runs that are still active past the
// configured age. Report-only: stale tasks never change the exit code
// and nothing is archived or deleted.
func reportStaleTasks(cfg *config.Config, projectID string) {
	tracker := phasestate.NewTracker(cfg.WorkspaceDir, nil)
	states, err := tracker.List()
	if err != nil {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.StaleTaskDays)
	for _, s := range states {
		if s.ProjectID != projectID || s.Status != phasestate.StatusActive {
			continue
		}
		updated, err := time.Parse(time.RFC3339, s.UpdatedAt)
		if err != nil || !updated.Before(cutoff) {
			continue
		}
		fmt.Printf("⚠️  Task %s has been active since %s (phase: %s); resume or close it.\n",
			s.TaskID, s.UpdatedAt, s.CurrentPhase)
	}
}
