package commands

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	wserver "github.com/HendryAvila/workshop/internal/server"
	"github.com/HendryAvila/workshop/internal/updater"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	Long: `Start the workshop MCP server on stdio.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "workshop": {
        "command": "workshop",
        "args": ["serve"]
      }
    }
  }

Diagnostics go to stderr; stdout belongs to the MCP transport.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, cleanup, err := wserver.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// Best-effort, stderr only: stdout belongs to the MCP transport.
	go checkForUpdates()

	return server.ServeStdio(s)
}

func checkForUpdates() {
	result := updater.CheckVersion(wserver.Version)
	if result.UpdateAvailable {
		fmt.Fprintf(os.Stderr,
			"\n  📦 Update available: v%s → v%s\n"+
				"     Run: workshop update\n"+
				"     Release: %s\n\n",
			result.CurrentVersion, result.LatestVersion, result.ReleaseURL,
		)
	}
}
