// Package index coordinates the per-granularity vector stores behind a
// single facade. One call fans a note file out to every granularity,
// and bulk runs drive a shared progress tracker that the status
// surfaces poll.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twilsonco/context-server/internal/embed"
	cerrors "github.com/twilsonco/context-server/internal/errors"
	"github.com/twilsonco/context-server/internal/notes"
	"github.com/twilsonco/context-server/internal/segment"
	"github.com/twilsonco/context-server/internal/store"
)

// maxNoteFileSize caps how large a note file may be before it is
// skipped. Anything bigger is almost certainly not a notes file.
const maxNoteFileSize = 10 << 20

// Config holds coordinator construction parameters.
type Config struct {
	// NotesDir is the root of the markdown notes tree.
	NotesDir string

	// DataDir is where index snapshots live. Empty disables
	// persistence and keeps all four stores in memory.
	DataDir string

	// IncludeTitles prepends heading lines to memory and section
	// segment text before embedding.
	IncludeTitles bool

	// Embedder produces the vectors stored in every granularity.
	Embedder embed.Embedder
}

// Coordinator owns the four granularity stores and applies every
// file-level mutation to all of them.
type Coordinator struct {
	config   Config
	stores   [segment.Count]*store.GranularStore
	progress *Progress

	// includeTitles can change at runtime via the settings API; the
	// new value applies to files indexed afterwards.
	includeTitles atomic.Bool

	// bulkActive gates Reindex so only one bulk run exists at a time.
	// Single-file updates are not gated; the stores serialize those.
	bulkActive atomic.Bool
}

// Summary reports what a bulk indexing run accomplished.
type Summary struct {
	Files    int
	Failed   int
	Segments int
	Duration time.Duration
}

// Status is the combined index state returned to status endpoints.
type Status struct {
	Progress Snapshot       `json:"progress"`
	Counts   map[string]int `json:"counts"`
	Files    int            `json:"files"`
}

// New builds a coordinator with one store per granularity. When
// cfg.DataDir is set, each store loads its snapshot from
// <data-dir>/index and persists back there after every mutation.
func New(cfg Config) (*Coordinator, error) {
	if cfg.NotesDir == "" {
		return nil, fmt.Errorf("notes directory is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	notesDir, err := filepath.Abs(cfg.NotesDir)
	if err != nil {
		return nil, fmt.Errorf("resolve notes directory: %w", err)
	}
	cfg.NotesDir = notesDir

	c := &Coordinator{
		config:   cfg,
		progress: NewProgress(),
	}
	c.includeTitles.Store(cfg.IncludeTitles)
	for _, gr := range segment.All {
		sc := store.DefaultConfig(0)
		if cfg.DataDir != "" {
			sc.Path = store.SnapshotPath(filepath.Join(cfg.DataDir, "index"), gr)
		}
		s, err := store.New(gr, cfg.Embedder, sc)
		if err != nil {
			return nil, fmt.Errorf("create %s store: %w", gr, err)
		}
		c.stores[gr] = s
	}
	return c, nil
}

// Store returns the vector store for one granularity.
func (c *Coordinator) Store(g segment.Granularity) *store.GranularStore {
	return c.stores[g]
}

// Progress returns the shared progress tracker.
func (c *Coordinator) Progress() *Progress {
	return c.progress
}

// Indexing reports whether a bulk run is active.
func (c *Coordinator) Indexing() bool {
	return c.bulkActive.Load()
}

// IncludeTitles reports whether heading text is folded into segments.
func (c *Coordinator) IncludeTitles() bool {
	return c.includeTitles.Load()
}

// SetIncludeTitles changes the title-folding behavior for files
// indexed after the call. Already-indexed files keep their old
// segments until reindexed.
func (c *Coordinator) SetIncludeTitles(v bool) {
	c.includeTitles.Store(v)
}

// IndexFile segments one note file and replaces its entries in all
// four stores. Symlinks and oversized files are skipped without error.
// The granularities are updated in parallel; embedding dominates the
// cost and each store serializes its own mutations.
func (c *Coordinator) IndexFile(ctx context.Context, path string) error {
	abs := c.absPath(path)
	rel := c.relPath(path)

	info, err := os.Lstat(abs)
	if err != nil {
		return fmt.Errorf("stat note file: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		slog.Debug("note_symlink_skipped", slog.String("file", rel))
		return nil
	}
	if info.Size() > maxNoteFileSize {
		slog.Warn("note_too_large",
			slog.String("file", rel),
			slog.Int64("size_bytes", info.Size()))
		return nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read note file: %w", err)
	}

	date, _ := notes.FileDate(rel)
	result := segment.Split(string(content), c.includeTitles.Load())

	g, gctx := errgroup.WithContext(ctx)
	for _, gr := range segment.All {
		g.Go(func() error {
			return c.stores[gr].AddSegments(gctx, result[gr], rel, date)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Debug("note_indexed",
		slog.String("file", rel),
		slog.Int("segments", result.Total()))
	return nil
}

// RemoveFile drops a file's entries from all four stores. Unknown
// files are a no-op.
func (c *Coordinator) RemoveFile(path string) {
	rel := c.relPath(path)
	for _, gr := range segment.All {
		c.stores[gr].RemoveFile(rel)
	}
	slog.Debug("note_removed", slog.String("file", rel))
}

// ResetAll clears all four stores and their snapshots.
func (c *Coordinator) ResetAll() {
	c.resetStores()
	slog.Info("index_reset")
}

func (c *Coordinator) resetStores() {
	for _, gr := range segment.All {
		c.stores[gr].Reset()
	}
}

// Reindex rebuilds the whole index from the notes directory. It
// clears the stores, indexes every note file, and reports per-file
// failures in the summary instead of aborting. Only one bulk run may
// be active at a time.
func (c *Coordinator) Reindex(ctx context.Context) (*Summary, error) {
	if !c.bulkActive.CompareAndSwap(false, true) {
		return nil, cerrors.New(cerrors.ErrCodeIndexingActive,
			"an indexing run is already in progress", nil).
			WithSuggestion("wait for the current run to finish before starting another")
	}
	defer c.bulkActive.Store(false)

	start := time.Now()
	files, err := notes.ScanDir(c.config.NotesDir)
	if err != nil {
		return nil, fmt.Errorf("scan notes directory: %w", err)
	}

	c.progress.Start(len(files))
	c.resetStores()

	failed := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			c.progress.Finish(err)
			return nil, err
		}
		rel := c.relPath(f)
		if err := c.IndexFile(ctx, f); err != nil {
			slog.Warn("note_index_failed",
				slog.String("file", rel),
				slog.String("error", err.Error()))
			c.progress.FileFailed(rel)
			failed++
			continue
		}
		c.progress.FileDone(rel)
	}
	c.progress.Finish(nil)

	segments := 0
	for _, gr := range segment.All {
		segments += c.stores[gr].Count()
	}

	summary := &Summary{
		Files:    len(files) - failed,
		Failed:   failed,
		Segments: segments,
		Duration: time.Since(start),
	}
	slog.Info("index_complete",
		slog.Int("files", summary.Files),
		slog.Int("failed", summary.Failed),
		slog.Int("segments", summary.Segments),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

// Status reports progress plus per-granularity document counts and the
// number of distinct indexed files.
func (c *Coordinator) Status() Status {
	counts := make(map[string]int, segment.Count)
	seen := make(map[string]struct{})
	for _, gr := range segment.All {
		st := c.stores[gr]
		counts[gr.String()] = st.Count()
		for _, f := range st.Files() {
			seen[f] = struct{}{}
		}
	}
	return Status{
		Progress: c.progress.Snapshot(),
		Counts:   counts,
		Files:    len(seen),
	}
}

// Close closes all four stores and returns the first error.
func (c *Coordinator) Close() error {
	var first error
	for _, gr := range segment.All {
		if err := c.stores[gr].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// relPath converts path to the notes-dir-relative, slash-separated
// form the stores use as their file key. Paths outside the notes
// directory pass through unchanged.
func (c *Coordinator) relPath(path string) string {
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(c.config.NotesDir, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

func (c *Coordinator) absPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.config.NotesDir, filepath.FromSlash(path))
}
