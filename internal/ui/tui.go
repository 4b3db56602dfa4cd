package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer drives a live bubbletea view of an indexing run.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexModel
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Fails when the output is not
// a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	model := newIndexModel(cfg.NotesDir)
	if cfg.NoColor {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:   cfg,
		model: model,
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Quit()
		// Do not hang on an unresponsive terminal.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

// bubbletea message types
type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats

// maxVisibleErrors bounds the error tail shown under the progress bar.
const maxVisibleErrors = 5

// indexModel is the bubbletea model for an indexing run.
type indexModel struct {
	notesDir string
	styles   Styles

	stage       Stage
	current     int
	total       int
	currentFile string
	message     string
	errors      []ErrorEvent
	failed      int

	complete bool
	quitting bool
	stats    CompletionStats

	width       int
	spinner     spinner.Model
	progressBar progress.Model
}

func newIndexModel(notesDir string) *indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	p := progress.New(
		progress.WithSolidFill(ColorAccent),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &indexModel{
		notesDir:    notesDir,
		styles:      DefaultStyles(),
		stage:       StageScanning,
		spinner:     s,
		progressBar: p,
		width:       80,
	}
}

// Init implements tea.Model.
func (m *indexModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := msg.Width - 20
		if w > 60 {
			w = 60
		}
		if w > 10 {
			m.progressBar.Width = w
		}

	case progressUpdateMsg:
		m.stage = msg.Stage
		m.current = msg.Current
		m.total = msg.Total
		m.currentFile = msg.CurrentFile
		m.message = msg.Message

	case errorMsg:
		if !msg.IsWarn {
			m.failed++
		}
		m.errors = append(m.errors, ErrorEvent(msg))
		if len(m.errors) > maxVisibleErrors {
			m.errors = m.errors[len(m.errors)-maxVisibleErrors:]
		}

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *indexModel) View() string {
	var b strings.Builder

	header := "Indexing notes"
	if m.notesDir != "" {
		header += " in " + m.notesDir
	}
	b.WriteString(m.styles.Header.Render(header))
	b.WriteString("\n\n")

	if m.complete {
		b.WriteString(m.styles.Success.Render(fmt.Sprintf(
			"Done: %d files, %d segments in %s",
			m.stats.Files, m.stats.Segments, m.stats.Duration.Round(100*time.Millisecond))))
		if m.stats.Failed > 0 {
			b.WriteString(m.styles.Warning.Render(fmt.Sprintf("  (%d failed)", m.stats.Failed)))
		}
		b.WriteString("\n")
		if m.stats.Embedder.Provider != "" {
			b.WriteString(m.styles.Dim.Render(fmt.Sprintf(
				"embedder: %s (%s, %d dims)",
				m.stats.Embedder.Provider, m.stats.Embedder.Model, m.stats.Embedder.Dimensions)))
			b.WriteString("\n")
		}
		return b.String()
	}

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.styles.Stage.Render(m.stage.String()))

	if m.total > 0 {
		pct := float64(m.current) / float64(m.total)
		b.WriteString(fmt.Sprintf(" %d/%d\n", m.current, m.total))
		b.WriteString(m.progressBar.ViewAs(pct))
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
	}

	switch {
	case m.message != "":
		b.WriteString(m.styles.Dim.Render(m.message))
		b.WriteString("\n")
	case m.currentFile != "":
		b.WriteString(m.styles.Dim.Render(m.currentFile))
		b.WriteString("\n")
	}

	for _, e := range m.errors {
		label := "error"
		style := m.styles.Error
		if e.IsWarn {
			label = "warn"
			style = m.styles.Warning
		}
		b.WriteString(style.Render(fmt.Sprintf("%s: %s: %v", label, e.File, e.Err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Dim.Render("press q to quit"))
	b.WriteString("\n")
	return b.String()
}
