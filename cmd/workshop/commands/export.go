package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/workshop/internal/eventstore"
)

var exportOutput string

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump the whole workspace database as JSON",
	Long: `Export every project, event, and standard to a single JSON document.
The dump can be committed, moved to another machine, and loaded with
'workshop import'.`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := store.Export()
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encode: %w", err)
	}
	out = append(out, '\n')

	if exportOutput == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(exportOutput, out, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", exportOutput, err)
	}
	fmt.Printf("Exported %d project(s), %d event(s), %d standard(s) to %s.\n",
		len(data.Projects), len(data.Events), len(data.Standards), exportOutput)
	return nil
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a JSON dump into the workspace database",
	Long: `Load a dump produced by 'workshop export'. Projects merge by id;
events and standards are appended with fresh ids.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("import: read %s: %w", args[0], err)
	}
	var data eventstore.ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("import: parse %s: %w", args[0], err)
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

	result, err := store.Import(&data)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d project(s), %d event(s), %d standard(s).\n",
		result.ProjectsImported, result.EventsImported, result.StandardsImported)
	return nil
}
