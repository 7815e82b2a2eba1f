package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/workshop/internal/ctxtools"
	"github.com/HendryAvila/workshop/internal/eventstore"
)

var (
	tailLimit  int
	tailDomain string
	tailKind   string
	tailQuery  string
)

func init() {
	tailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 20, "number of events")
	tailCmd.Flags().StringVar(&tailDomain, "domain", "", "restrict to one domain")
	tailCmd.Flags().StringVar(&tailKind, "kind", "", "restrict to one kind")
	tailCmd.Flags().StringVar(&tailQuery, "query", "", "full-text search instead of plain tail")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail <project>",
	Short: "Show a project's most recent events",
	Args:  cobra.ExactArgs(1),
	RunE:  runTail,
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Query(args[0], eventstore.QueryOptions{
		Domain:     tailDomain,
		Kind:       eventstore.Kind(tailKind),
		TextSearch: tailQuery,
		Limit:      tailLimit,
	})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events.")
		return nil
	}
	fmt.Print(ctxtools.FormatEvents(events))
	return nil
}
