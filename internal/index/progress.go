package index

import (
	"sync"
	"time"
)

// State names the two phases of the indexing state machine.
type State string

const (
	// StateIdle means no bulk indexing run is active.
	StateIdle State = "idle"
	// StateIndexing means a bulk run is walking the notes directory.
	StateIndexing State = "indexing"
)

// Progress tracks a bulk indexing run. It is purely observational:
// nothing consults it to gate mutations, it only feeds the status
// surfaces. Safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	state       State
	total       int
	processed   int
	failed      int
	currentFile string
	startedAt   time.Time
	finishedAt  time.Time
	lastError   string
}

// Snapshot is a point-in-time view of the progress state, shaped for
// JSON status responses.
type Snapshot struct {
	State       State   `json:"state"`
	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Failed      int     `json:"failed"`
	CurrentFile string  `json:"current_file,omitempty"`
	Percent     float64 `json:"percent"`
	StartedAt   string  `json:"started_at,omitempty"`
	FinishedAt  string  `json:"finished_at,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
}

// NewProgress returns an idle progress tracker.
func NewProgress() *Progress {
	return &Progress{state: StateIdle}
}

// Start begins a run of total files. Counters and the previous run's
// error are cleared.
func (p *Progress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateIndexing
	p.total = total
	p.processed = 0
	p.failed = 0
	p.currentFile = ""
	p.startedAt = time.Now()
	p.finishedAt = time.Time{}
	p.lastError = ""
}

// FileDone records one successfully indexed file.
func (p *Progress) FileDone(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	p.currentFile = path
}

// FileFailed records one file that was skipped after an error. Failed
// files still count as processed so the percentage keeps moving.
func (p *Progress) FileFailed(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	p.failed++
	p.currentFile = path
}

// Finish returns to idle. A non-nil err is kept as the run's error
// message until the next Start.
func (p *Progress) Finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateIdle
	p.currentFile = ""
	p.finishedAt = time.Now()
	if err != nil {
		p.lastError = err.Error()
	}
}

// Indexing reports whether a run is active.
func (p *Progress) Indexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == StateIndexing
}

// Percent returns run completion in the range 0-100. Idle means
// nothing is pending, so it reads as 100; an indexing run over zero
// files is complete by definition and also reads as 100.
func (p *Progress) Percent() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.percentLocked()
}

func (p *Progress) percentLocked() float64 {
	if p.state == StateIdle || p.total == 0 {
		return 100
	}
	pct := float64(p.processed) / float64(p.total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Snapshot returns the current state for status responses.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		State:       p.state,
		Total:       p.total,
		Processed:   p.processed,
		Failed:      p.failed,
		CurrentFile: p.currentFile,
		Percent:     p.percentLocked(),
		LastError:   p.lastError,
	}
	if !p.startedAt.IsZero() {
		snap.StartedAt = p.startedAt.Format(time.RFC3339)
	}
	if !p.finishedAt.IsZero() {
		snap.FinishedAt = p.finishedAt.Format(time.RFC3339)
	}
	return snap
}
