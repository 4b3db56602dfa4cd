package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/logging"
	"github.com/twilsonco/context-server/internal/mcp"
	"github.com/twilsonco/context-server/internal/telemetry"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve AI clients over the Model Context Protocol (stdio)",
		Long: `Run the MCP server on stdin/stdout for AI clients such as Claude
Desktop. Exposes the search_notes and index_status tools and the
notes://index resource.

Stdout carries JSON-RPC exclusively; all logging goes to the log file
in the data directory. An empty index triggers a background rebuild so
the first search finds notes without a manual index run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd)
		},
	}

	return cmd
}

func runMCP(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Stdout belongs to the protocol; logs go to file only.
	level := cfg.Server.LogLevel
	if debugMode {
		level = "debug"
	}
	if cleanup, err := logging.SetupMCPMode(level); err == nil {
		defer cleanup()
	}

	pipe, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipe.Close()

	metrics := telemetry.NewQueryMetrics()
	metricsStore := telemetry.NewStore(cfg.Index.DataDir)
	if snap, err := metricsStore.Load(); err == nil {
		metrics.Restore(snap)
	}
	defer func() {
		if err := metricsStore.Save(metrics.Snapshot()); err != nil {
			slog.Warn("query_metrics_save_failed", slog.String("error", err.Error()))
		}
	}()

	if pipe.coord.Status().Files == 0 {
		go func() {
			if _, err := pipe.coord.Reindex(ctx); err != nil {
				slog.Error("startup_reindex_failed", slog.String("error", err.Error()))
			}
		}()
	}

	server, err := mcp.NewServer(mcp.Deps{
		Searcher: pipe.engine,
		Index:    pipe.coord,
		Embedder: pipe.embedder,
		Reranker: pipe.reranker,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	return server.Serve(ctx)
}
