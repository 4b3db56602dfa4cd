// Package ui renders bulk indexing progress in the terminal. An
// interactive terminal gets a live TUI; pipes and CI get plain line
// output.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a phase of a bulk indexing run.
type Stage int

const (
	// StageScanning is the notes directory walk.
	StageScanning Stage = iota
	// StageIndexing is the per-file segment/embed/insert loop.
	StageIndexing
	// StageComplete indicates the run finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageIndexing:
		return "Indexing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageIndexing:
		return "INDEX"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is one progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent reports a per-file failure during indexing.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// EmbedderInfo identifies the embedding backend used for the run.
type EmbedderInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// CompletionStats summarizes a finished indexing run.
type CompletionStats struct {
	Files    int
	Failed   int
	Segments int
	Duration time.Duration
	Embedder EmbedderInfo
}

// Renderer displays indexing progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates the progress display.
	UpdateProgress(event ProgressEvent)

	// AddError surfaces a per-file failure.
	AddError(event ErrorEvent)

	// Complete renders the final summary.
	Complete(stats CompletionStats)

	// Stop tears the renderer down.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool

	// NotesDir is shown in the TUI header.
	NotesDir string
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithNotesDir sets the notes directory shown in the header.
func WithNotesDir(dir string) ConfigOption {
	return func(c *Config) {
		c.NotesDir = dir
	}
}

// NewConfig creates a Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if !cfg.NoColor {
		cfg.NoColor = DetectNoColor()
	}
	return cfg
}

// NewRenderer picks a renderer for the environment: the TUI for
// interactive terminals, plain output for pipes, CI, and --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w writes to a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether the process runs under a CI system.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
