package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/workshop/internal/assembler"
	"github.com/HendryAvila/workshop/internal/fileindex"
)

var (
	assembleTask   string
	assembleDomain string
)

func init() {
	assembleCmd.Flags().StringVar(&assembleTask, "task", "", "task description driving relevance (required)")
	assembleCmd.Flags().StringVar(&assembleDomain, "domain", "", "domain the task lives in")
	_ = assembleCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(assembleCmd)
}

var assembleCmd = &cobra.Command{
	Use:   "assemble <project>",
	Short: "Assemble the context bundle for a task",
	Long: `Build the bounded context bundle for a task: active standards,
relevant files from the index, and recent history ranked by relevance.
A degraded bundle (broken source) still prints; it says what's missing.`,
	Args: cobra.ExactArgs(1),
	RunE: runAssemble,
}

func runAssemble(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var files assembler.FileIndex
	if idx, err := fileindex.New(fileindex.DefaultConfig(cfg.WorkspaceDir)); err == nil {
		defer idx.Close()
		files = idx
	}

	asm := assembler.New(store, store, files, assembler.Options{
		MaxFiles:   cfg.AssembleMaxFiles,
		MaxHistory: cfg.AssembleMaxHistory,
		ByteBudget: cfg.AssembleByteBudget,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bundle, err := asm.Assemble(ctx, args[0], assembleDomain, assembleTask)
	if err != nil {
		return err
	}
	fmt.Print(assembler.FormatBundle(bundle))
	return nil
}
