package lifelog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cerrors "github.com/twilsonco/context-server/internal/errors"
	"github.com/twilsonco/context-server/internal/notes"
)

// Syncer walks a date range and materializes each day's lifelogs as a
// markdown note under <notes-dir>/<year>/<Month>/<YYYY-MM-DD>.md.
type Syncer struct {
	client   *Client
	notesDir string
}

// NewSyncer creates a syncer writing into the given notes directory.
func NewSyncer(client *Client, notesDir string) (*Syncer, error) {
	if client == nil {
		return nil, fmt.Errorf("nil client")
	}
	if strings.TrimSpace(notesDir) == "" {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput,
			"notes directory is required", nil)
	}
	abs, err := filepath.Abs(notesDir)
	if err != nil {
		return nil, fmt.Errorf("resolve notes directory: %w", err)
	}
	return &Syncer{client: client, notesDir: abs}, nil
}

// Summary reports what a sync run covered.
type Summary struct {
	Days     int
	Files    int
	Entries  int
	Duration time.Duration
}

// Sync fetches every day from from through to inclusive and writes one
// note file per day that has entries. Days without entries leave no
// file behind. Notes are written via a temp file and rename so a
// concurrent watcher only ever indexes complete files.
func (s *Syncer) Sync(ctx context.Context, from, to time.Time) (*Summary, error) {
	start := time.Now()
	from = dateOnly(from)
	to = dateOnly(to)
	if to.Before(from) {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput,
			fmt.Sprintf("sync range ends (%s) before it starts (%s)",
				to.Format("2006-01-02"), from.Format("2006-01-02")), nil)
	}

	summary := &Summary{}
	defer func() { summary.Duration = time.Since(start) }()

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		logs, err := s.client.FetchDay(ctx, day)
		if err != nil {
			return summary, fmt.Errorf("fetch %s: %w", day.Format("2006-01-02"), err)
		}
		summary.Days++

		if len(logs) == 0 {
			slog.Debug("lifelog_day_empty", slog.String("day", day.Format("2006-01-02")))
			continue
		}

		path, err := s.writeNote(day, RenderDay(logs))
		if err != nil {
			return summary, err
		}
		summary.Files++
		summary.Entries += len(logs)

		slog.Info("lifelog_day_synced",
			slog.String("day", day.Format("2006-01-02")),
			slog.Int("entries", len(logs)),
			slog.String("path", path))
	}

	slog.Info("sync_complete",
		slog.Int("days", summary.Days),
		slog.Int("files", summary.Files),
		slog.Int("entries", summary.Entries),
		slog.Duration("duration", time.Since(start)))
	return summary, nil
}

// SyncRecent syncs from the newest dated note through today. The newest
// day is re-fetched so entries recorded after the last sync are picked
// up. When the notes directory has no dated files yet, the sync
// backfills the given number of days instead.
func (s *Syncer) SyncRecent(ctx context.Context, days int) (*Summary, error) {
	if days < 1 {
		days = 1
	}

	to := time.Now()
	from, ok := notes.LastNoteDate(s.notesDir)
	if !ok {
		from = to.AddDate(0, 0, -(days - 1))
	}
	if from.After(to) {
		from = to
	}
	return s.Sync(ctx, from, to)
}

// writeNote atomically writes one day's rendered markdown.
func (s *Syncer) writeNote(day time.Time, content string) (string, error) {
	dir := filepath.Join(s.notesDir, strconv.Itoa(day.Year()), day.Month().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create notes directory: %w", err)
	}

	path := filepath.Join(dir, day.Format("2006-01-02")+".md")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return path, nil
}

// dateOnly truncates a timestamp to midnight in its own location.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
