// Package commands implements the CLI commands for workshop.
package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/workshop/internal/config"
	"github.com/HendryAvila/workshop/internal/eventstore"
	wserver "github.com/HendryAvila/workshop/internal/server"
)

// Exit codes, stable for scripts. exitPartial is reserved for an audit
// pass that completed with skipped slices; other command failures use
// exitFailure.
const (
	exitOK          = 0
	exitPartial     = 1
	exitUnavailable = 2
	exitFailure     = 3
)

// dirFlag holds the value of the --dir flag.
var dirFlag string

func init() {
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "C", "",
		"start directory for workspace resolution (default: working directory)")

	rootCmd.Version = wserver.Version
	rootCmd.SetVersionTemplate("workshop version {{.Version}}\n")

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

var rootCmd = &cobra.Command{
	Use:   "workshop",
	Short: "Per-project orchestration memory for AI coding agents",
	Long: `workshop is the durable memory and context service behind agent
orchestration: an append-only event log per project, standards promoted
from recurring decisions, phase tracking for task runs, and a gate that
judges finished work.

The same state serves two surfaces: 'workshop serve' exposes it over MCP
for agents, and the remaining commands are the audit surface for humans
and scripts.`,
	Example: `  # Start the MCP server (stdio transport)
  workshop serve

  # Record a decision
  workshop log --project api --kind decision --domain auth \
    --text "rotate refresh tokens on every use"

  # What happened lately
  workshop tail api

  # Promote recurring decisions to standards
  workshop audit api`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, eventstore.ErrStoreUnavailable):
		return exitUnavailable
	default:
		return exitFailure
	}
}

// loadConfig resolves the workspace configuration for a command.
func loadConfig() (*config.Config, error) {
	start := dirFlag
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		start = cwd
	}
	return config.Load(start)
}

// openStore opens the event store for a CLI command.
func openStore(cfg *config.Config) (*eventstore.Store, error) {
	store, err := eventstore.New(eventstore.Config{
		WorkspaceDir:       cfg.WorkspaceDir,
		AutoCreateProjects: cfg.AutoCreateProjects,
		MaxEventLength:     cfg.MaxEventLength,
		MaxQueryLimit:      cfg.MaxQueryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", eventstore.ErrStoreUnavailable, err)
	}
	return store, nil
}
