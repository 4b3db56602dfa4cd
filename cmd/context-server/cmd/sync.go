package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/output"
)

type syncOptions struct {
	days int
	from string
	to   string
}

func newSyncCmd() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull lifelog entries into the notes directory",
		Long: `Fetch recorded lifelog entries from the configured API and write
them as dated markdown notes (<year>/<Month>/<YYYY-MM-DD>.md). Days
without entries leave no file behind.

Requires sync.api_key in the config or the LIFELOG_API_KEY environment
variable. Newly written notes are picked up by a running server's
watcher, or by the next 'context-server index'.

Examples:
  context-server sync
  context-server sync --days 30
  context-server sync --from 2026-01-01 --to 2026-01-31`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.days, "days", 0, "Sync the last N days (default: sync.days_back from config)")
	cmd.Flags().StringVar(&opts.from, "from", "", "Range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Range end (YYYY-MM-DD, default: today)")

	return cmd
}

func runSync(cmd *cobra.Command, opts syncOptions) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupFileLogging(cfg)()

	if opts.to != "" && opts.from == "" {
		return fmt.Errorf("--to requires --from")
	}
	if opts.from != "" && opts.days > 0 {
		return fmt.Errorf("--days and --from are mutually exclusive")
	}

	syncer, err := newSyncer(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	var summaryErr error
	var days, files, entries int

	if opts.from != "" {
		from, err := time.Parse("2006-01-02", opts.from)
		if err != nil {
			return fmt.Errorf("invalid --from date %q: use YYYY-MM-DD", opts.from)
		}
		to := time.Now()
		if opts.to != "" {
			to, err = time.Parse("2006-01-02", opts.to)
			if err != nil {
				return fmt.Errorf("invalid --to date %q: use YYYY-MM-DD", opts.to)
			}
		}
		out.Statusf("", "Syncing %s through %s...", from.Format("2006-01-02"), to.Format("2006-01-02"))
		summary, err := syncer.Sync(ctx, from, to)
		summaryErr = err
		if summary != nil {
			days, files, entries = summary.Days, summary.Files, summary.Entries
		}
	} else {
		daysBack := opts.days
		if daysBack <= 0 {
			daysBack = cfg.Sync.DaysBack
		}
		out.Statusf("", "Syncing the last %d day(s)...", daysBack)
		summary, err := syncer.SyncRecent(ctx, daysBack)
		summaryErr = err
		if summary != nil {
			days, files, entries = summary.Days, summary.Files, summary.Entries
		}
	}

	if summaryErr != nil {
		return summaryErr
	}

	out.Successf("Synced %d entr%s across %d day(s): %d note file(s) written in %s",
		entries, pluralY(entries), days, files, time.Since(start).Round(time.Millisecond))
	return nil
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
