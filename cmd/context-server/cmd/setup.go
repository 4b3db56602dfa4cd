package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/config"
	"github.com/twilsonco/context-server/internal/lifecycle"
	"github.com/twilsonco/context-server/internal/output"
	"github.com/twilsonco/context-server/internal/preflight"
)

type setupOptions struct {
	offline bool
	model   string
}

func newSetupCmd() *cobra.Command {
	var opts setupOptions

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Prepare the environment for first use",
		Long: `Get everything ready to index and search: write a default config
if none exists, start Ollama and pull the embedding model, and verify
the environment.

With --offline the Ollama steps are skipped and the static embedding
provider is configured instead.

Examples:
  context-server setup
  context-server setup --offline
  context-server setup --model nomic-embed-text`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSetup(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Skip Ollama; use static embeddings")
	cmd.Flags().StringVar(&opts.model, "model", "", "Embedding model to pull (default: all-minilm)")

	return cmd
}

func runSetup(cmd *cobra.Command, opts setupOptions) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	// Write a default config when none exists, so later commands and
	// the web UI have a file to persist settings into.
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if opts.offline {
			cfg.Embeddings.Provider = "static"
		}
		if err := cfg.WriteYAML(path); err != nil {
			return err
		}
		out.Successf("Wrote default config to %s", path)
	} else {
		out.Field("Config", path)
	}
	defer setupFileLogging(cfg)()

	if opts.offline {
		out.Status("", "Offline mode: skipping Ollama setup, static embeddings will be used.")
	} else {
		manager := lifecycle.NewManager(cfg.Embeddings.OllamaHost)
		model := opts.model
		if model == "" {
			model = cfg.Embeddings.Model
		}

		err := manager.EnsureReady(ctx, model, lifecycle.EnsureOpts{
			AutoStart: true,
			AutoPull:  true,
			Out:       cmd.OutOrStdout(),
			ProgressFunc: func(p lifecycle.PullProgress) {
				if p.Total > 0 {
					out.Progress(int(p.Completed), int(p.Total), p.Status)
				}
			},
		})
		switch {
		case err == nil:
			out.Success("Embedding backend ready.")
		case errors.As(err, new(*lifecycle.NotInstalledError)):
			out.Warning("Ollama is not installed.")
			out.Status("", lifecycle.InstallInstructions())
			out.Status("", "Search still works with static embeddings (reduced quality).")
		default:
			out.Warningf("Ollama setup incomplete: %v", err)
			out.Status("", "Search still works with static embeddings (reduced quality).")
		}
	}

	// Verify the environment and remember the result.
	checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()))
	results := checker.RunAll(ctx, cfg.Notes.Dir, cfg.Index.DataDir)
	if checker.HasCriticalFailures(results) {
		checker.PrintResults(results)
		return errors.New("environment check failed")
	}
	if err := preflight.MarkPassed(cfg.Index.DataDir); err == nil {
		out.Success("Environment checks passed.")
	}

	out.Newline()
	out.Status("", "Next: run 'context-server index' and then 'context-server serve'.")
	return nil
}
