package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/workshop/internal/eventstore"
)

var (
	logProject   string
	logKind      string
	logDomain    string
	logText      string
	logRationale string
	logSeverity  string
	logTask      string
)

func init() {
	logCmd.Flags().StringVar(&logProject, "project", "", "project identifier (required)")
	logCmd.Flags().StringVar(&logKind, "kind", "note", "decision, gotcha, goal, note, task_outcome")
	logCmd.Flags().StringVar(&logDomain, "domain", "general", "domain the event belongs to")
	logCmd.Flags().StringVar(&logText, "text", "", "what happened (required)")
	logCmd.Flags().StringVar(&logRationale, "rationale", "", "why, if the text alone doesn't carry it")
	logCmd.Flags().StringVar(&logSeverity, "severity", "", "normal (default) or critical")
	logCmd.Flags().StringVar(&logTask, "task", "", "task run this event belongs to")
	_ = logCmd.MarkFlagRequired("project")
	_ = logCmd.MarkFlagRequired("text")
	rootCmd.AddCommand(logCmd)
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Append an event to a project's log",
	Long: `Append one event to a project's append-only log. Inline RA markers in
the text ('#COMPLETION_DRIVE(file.go): assumed X') are parsed and stored
with the event.`,
	Example: `  workshop log --project api --kind decision --domain auth \
    --text "rotate refresh tokens on every use" \
    --rationale "stolen refresh tokens stay valid for a week otherwise"`,
	RunE: runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Append(eventstore.AppendParams{
		ProjectID: logProject,
		Kind:      eventstore.Kind(logKind),
		Domain:    logDomain,
		Text:      logText,
		Rationale: logRationale,
		Severity:  eventstore.Severity(logSeverity),
		TaskID:    logTask,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Event %d recorded.\n", id)
	return nil
}
