package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	cerrors "github.com/twilsonco/context-server/internal/errors"
)

// lockFileName is the lock file kept at the data directory root.
const lockFileName = "context-server.lock"

// ProcessLock guards a data directory against concurrent writers.
// Commands that mutate the index take it for their lifetime so two
// processes never write the same snapshot files.
type ProcessLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewProcessLock returns a lock for the given data directory. Nothing
// is acquired until Acquire is called.
func NewProcessLock(dataDir string) *ProcessLock {
	path := filepath.Join(dataDir, lockFileName)
	return &ProcessLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Acquire takes the lock without blocking. When another process holds
// it, the error says which file is contended so the user can find the
// other instance.
func (l *ProcessLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire data directory lock: %w", err)
	}
	if !ok {
		return cerrors.New(cerrors.ErrCodeDataDirLocked,
			fmt.Sprintf("data directory is locked by another process (%s)", l.path), nil).
			WithSuggestion("stop the other context-server instance or use a different data directory")
	}

	l.locked = true
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *ProcessLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release data directory lock: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *ProcessLock) Path() string {
	return l.path
}

// Held reports whether this process holds the lock.
func (l *ProcessLock) Held() bool {
	return l.locked
}
