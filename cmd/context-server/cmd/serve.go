package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/config"
	"github.com/twilsonco/context-server/internal/httpapi"
	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/lifelog"
	"github.com/twilsonco/context-server/internal/logging"
	"github.com/twilsonco/context-server/internal/output"
	"github.com/twilsonco/context-server/internal/preflight"
	"github.com/twilsonco/context-server/internal/telemetry"
	"github.com/twilsonco/context-server/internal/watcher"
)

// metricsSaveInterval is how often query metrics are flushed to disk
// while serving. They are also flushed on shutdown.
const metricsSaveInterval = 5 * time.Minute

type serveOptions struct {
	host      string
	port      int
	reindex   bool
	skipCheck bool
	noWatch   bool
	noSync    bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with file watching",
		Long: `Start the HTTP API and web UI, watch the notes directory for
changes, and keep the vector indexes current.

On startup the indexes are loaded from their snapshots; an empty data
directory triggers a full index of the notes tree. A file watcher then
applies note edits incrementally. When lifelog sync is enabled, new
days are pulled from the API on a periodic schedule.

Examples:
  context-server serve
  context-server serve --port 8080
  context-server serve --reindex`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Listen port (overrides config)")
	cmd.Flags().BoolVar(&opts.reindex, "reindex", false, "Rebuild all indexes on startup")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip environment checks")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Disable the file watcher")
	cmd.Flags().BoolVar(&opts.noSync, "no-sync", false, "Disable periodic lifelog sync")

	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}

	// Logs go to the data directory and stderr; stdout stays readable.
	logCfg := logging.Config{
		Level:         cfg.Server.LogLevel,
		FilePath:      logging.LogPathInDir(cfg.Index.DataDir),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}
	if debugMode {
		logCfg.Level = "debug"
	}
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	if !opts.skipCheck && preflight.NeedsCheck(cfg.Index.DataDir) {
		checker := preflight.New(preflight.WithOutput(io.Discard))
		results := checker.RunAll(ctx, cfg.Notes.Dir, cfg.Index.DataDir)
		if checker.HasCriticalFailures(results) {
			checker.PrintResults(results)
			return fmt.Errorf("environment check failed; run 'context-server doctor' for details")
		}
		if err := preflight.MarkPassed(cfg.Index.DataDir); err != nil {
			slog.Debug("preflight_marker_failed", slog.String("error", err.Error()))
		}
	}

	// One server per data directory.
	lock := index.NewProcessLock(cfg.Index.DataDir)
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("another context-server is using %s: %w", cfg.Index.DataDir, err)
	}
	defer func() { _ = lock.Release() }()

	pipe, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipe.Close()

	// Query metrics persist across restarts.
	metrics := telemetry.NewQueryMetrics()
	metricsStore := telemetry.NewStore(cfg.Index.DataDir)
	if snap, err := metricsStore.Load(); err == nil {
		metrics.Restore(snap)
	} else {
		slog.Warn("query_metrics_load_failed", slog.String("error", err.Error()))
	}
	saveMetrics := func() {
		if err := metricsStore.Save(metrics.Snapshot()); err != nil {
			slog.Warn("query_metrics_save_failed", slog.String("error", err.Error()))
		}
	}
	defer saveMetrics()

	server, err := httpapi.NewServer(httpapi.Deps{
		Coordinator: pipe.coord,
		Searcher:    pipe.engine,
		Embedder:    pipe.embedder,
		Reranker:    pipe.reranker,
		Metrics:     metrics,
		Config:      cfg,
		ConfigPath:  configPath,
	})
	if err != nil {
		return err
	}

	if opts.reindex || pipe.coord.Status().Files == 0 {
		go func() {
			if opts.reindex {
				pipe.coord.ResetAll()
			}
			summary, err := pipe.coord.Reindex(ctx)
			if err != nil {
				slog.Error("startup_reindex_failed", slog.String("error", err.Error()))
				return
			}
			slog.Info("startup_reindex_complete",
				slog.Int("files", summary.Files),
				slog.Int("segments", summary.Segments),
				slog.Duration("duration", summary.Duration))
		}()
	}

	if !opts.noWatch {
		w, err := watcher.NewHybridWatcher(watcher.Options{})
		if err != nil {
			slog.Warn("watcher_create_failed", slog.String("error", err.Error()))
		} else if err := w.Start(ctx, cfg.Notes.Dir); err != nil {
			slog.Warn("watcher_start_failed", slog.String("error", err.Error()))
		} else {
			defer func() { _ = w.Stop() }()
			go consumeWatchEvents(ctx, w, pipe.coord)
		}
	}

	if cfg.Sync.Enabled && !opts.noSync {
		syncer, err := newSyncer(cfg)
		if err != nil {
			slog.Warn("lifelog_sync_disabled", slog.String("error", err.Error()))
		} else {
			go runPeriodicSync(ctx, syncer, cfg)
		}
	}

	go func() {
		ticker := time.NewTicker(metricsSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				saveMetrics()
			}
		}
	}()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	out.Successf("Serving on http://%s", addr)
	out.Field("Notes", cfg.Notes.Dir)
	out.Field("Data", cfg.Index.DataDir)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		out.Status("", "Shutting down...")
		if err := server.Shutdown(); err != nil {
			slog.Warn("http_shutdown_failed", slog.String("error", err.Error()))
		}
		return nil
	}
}

// consumeWatchEvents applies debounced file-change batches to the
// index until the context ends.
func consumeWatchEvents(ctx context.Context, w watcher.Watcher, coord *index.Coordinator) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			applyWatchBatch(ctx, coord, batch)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

func applyWatchBatch(ctx context.Context, coord *index.Coordinator, batch []watcher.FileEvent) {
	for _, ev := range batch {
		if ev.IsDir || !strings.EqualFold(filepath.Ext(ev.Path), ".md") {
			continue
		}
		switch ev.Operation {
		case watcher.OpCreate, watcher.OpModify:
			if err := coord.IndexFile(ctx, ev.Path); err != nil {
				slog.Warn("watch_index_failed",
					slog.String("path", ev.Path),
					slog.String("error", err.Error()))
			}
		case watcher.OpDelete:
			coord.RemoveFile(ev.Path)
		case watcher.OpRename:
			if ev.OldPath != "" {
				coord.RemoveFile(ev.OldPath)
			}
			if err := coord.IndexFile(ctx, ev.Path); err != nil {
				slog.Warn("watch_index_failed",
					slog.String("path", ev.Path),
					slog.String("error", err.Error()))
			}
		}
	}
}

// newSyncer builds a lifelog syncer from the sync config.
func newSyncer(cfg *config.Config) (*lifelog.Syncer, error) {
	client, err := lifelog.NewClient(lifelog.Config{
		BaseURL:  cfg.Sync.APIURL,
		APIKey:   cfg.Sync.APIKey,
		Timezone: cfg.Sync.Timezone,
	})
	if err != nil {
		return nil, err
	}
	return lifelog.NewSyncer(client, cfg.Notes.Dir)
}

// runPeriodicSync pulls recent lifelog days on the configured
// interval. New files land in the notes tree, where the watcher picks
// them up for indexing.
func runPeriodicSync(ctx context.Context, syncer *lifelog.Syncer, cfg *config.Config) {
	run := func() {
		summary, err := syncer.SyncRecent(ctx, cfg.Sync.DaysBack)
		if err != nil {
			slog.Warn("lifelog_sync_failed", slog.String("error", err.Error()))
			return
		}
		slog.Info("lifelog_sync_complete",
			slog.Int("days", summary.Days),
			slog.Int("files", summary.Files),
			slog.Int("entries", summary.Entries))
	}

	run()

	ticker := time.NewTicker(cfg.SyncInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
