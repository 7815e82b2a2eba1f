package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/standards"
)

var (
	standardsDomain string
	standardsAll    bool
	supersedeReason string
)

func init() {
	standardsListCmd.Flags().StringVar(&standardsDomain, "domain", "", "restrict to one domain")
	standardsListCmd.Flags().BoolVar(&standardsAll, "all", false, "include archived standards")
	standardsSupersedeCmd.Flags().StringVar(&supersedeReason, "reason", "", "why the standard no longer applies (required)")
	_ = standardsSupersedeCmd.MarkFlagRequired("reason")

	standardsCmd.AddCommand(standardsListCmd)
	standardsCmd.AddCommand(standardsSupersedeCmd)
	rootCmd.AddCommand(standardsCmd)
}

var standardsCmd = &cobra.Command{
	Use:   "standards",
	Short: "Inspect and retire promoted standards",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var standardsListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List a project's standards",
	Args:  cobra.ExactArgs(1),
	RunE:  runStandardsList,
}

func runStandardsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var stds []eventstore.Standard
	if standardsDomain != "" {
		stds, err = store.StandardsForDomain(args[0], standardsDomain)
	} else {
		stds, err = store.Standards(args[0], standardsAll)
	}
	if err != nil {
		return err
	}
	if len(stds) == 0 {
		fmt.Println("No standards.")
		return nil
	}

	for _, s := range stds {
		status := ""
		if s.Status == eventstore.StandardArchived {
			status = " [archived]"
		}
		fmt.Printf("[%d] (%s)%s %s\n", s.ID, s.Domain, status, s.RuleText)
		fmt.Printf("    promoted from %d event(s), %s\n", len(s.PromotedFrom), s.CreatedAt)
	}
	return nil
}

var standardsSupersedeCmd = &cobra.Command{
	Use:   "supersede <standard-id>",
	Short: "Archive a standard and record the unlearn decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runStandardsSupersede,
}

func runStandardsSupersede(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("standard id must be a number: %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	agg := standards.NewAggregator(store, standards.DefaultConfig())
	eventID, err := agg.Supersede(id, supersedeReason)
	if err != nil {
		return err
	}
	fmt.Printf("Standard %d archived; unlearn recorded as event %d.\n", id, eventID)
	return nil
}
