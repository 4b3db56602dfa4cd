package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/embed"
	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/ui"
)

// progressPollInterval drives the renderer refresh during a bulk run.
const progressPollInterval = 100 * time.Millisecond

type indexOptions struct {
	reset bool
	noTUI bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the notes directory",
		Long: `Walk the notes tree, segment every markdown file at all four
granularities, embed the segments, and persist the vector indexes.

Files already indexed are re-read and replaced; use --reset first to
discard stale entries from files that no longer exist.

Examples:
  context-server index
  context-server index --reset
  context-server index --no-tui`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.reset, "reset", false, "Clear the indexes before indexing")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Plain text progress output")

	return cmd
}

func runIndex(cmd *cobra.Command, opts indexOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupFileLogging(cfg)()

	lock := index.NewProcessLock(cfg.Index.DataDir)
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("another context-server is using %s; stop it or wait for it to finish", cfg.Index.DataDir)
	}
	defer func() { _ = lock.Release() }()

	pipe, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipe.Close()

	if opts.reset {
		pipe.coord.ResetAll()
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNotesDir(cfg.Notes.Dir),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	type result struct {
		summary *index.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := pipe.coord.Reindex(ctx)
		done <- result{summary, err}
	}()

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning})

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	var lastFailed int
	for {
		select {
		case <-ticker.C:
			snap := pipe.coord.Progress().Snapshot()
			if snap.Total == 0 {
				continue
			}
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageIndexing,
				Current:     snap.Processed,
				Total:       snap.Total,
				CurrentFile: snap.CurrentFile,
			})
			if snap.Failed > lastFailed && snap.LastError != "" {
				renderer.AddError(ui.ErrorEvent{
					File:   snap.CurrentFile,
					Err:    fmt.Errorf("%s", snap.LastError),
					IsWarn: true,
				})
				lastFailed = snap.Failed
			}
		case res := <-done:
			if res.err != nil {
				if res.err == context.Canceled || ctx.Err() != nil {
					return fmt.Errorf("indexing interrupted")
				}
				return res.err
			}
			info := embed.GetInfo(ctx, pipe.embedder)
			renderer.Complete(ui.CompletionStats{
				Files:    res.summary.Files,
				Failed:   res.summary.Failed,
				Segments: res.summary.Segments,
				Duration: res.summary.Duration,
				Embedder: ui.EmbedderInfo{
					Provider:   string(info.Provider),
					Model:      info.Model,
					Dimensions: info.Dimensions,
				},
			})
			return nil
		}
	}
}
