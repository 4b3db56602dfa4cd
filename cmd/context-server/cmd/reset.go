package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/output"
)

func newResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear all indexes",
		Long: `Delete every vector index and its on-disk snapshot. The notes
themselves are never touched. Run 'context-server index' afterwards to
rebuild.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReset(cmd, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")

	return cmd
}

func runReset(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupFileLogging(cfg)()

	if !force {
		fmt.Fprintf(cmd.OutOrStdout(), "Clear all indexes in %s? [y/N] ", cfg.Index.DataDir)
		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			out.Status("", "Aborted.")
			return nil
		}
	}

	lock := index.NewProcessLock(cfg.Index.DataDir)
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("another context-server is using %s; stop it first", cfg.Index.DataDir)
	}
	defer func() { _ = lock.Release() }()

	pipe, err := buildPipeline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pipe.Close()

	pipe.coord.ResetAll()
	out.Success("Indexes cleared. Run 'context-server index' to rebuild.")
	return nil
}
