package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/twilsonco/context-server/internal/errors"
)

func TestProcessLock_AcquireAndRelease(t *testing.T) {
	// Given a lock on a data directory that does not exist yet
	dataDir := filepath.Join(t.TempDir(), "data")
	lock := NewProcessLock(dataDir)
	assert.False(t, lock.Held())

	// When the lock is acquired
	require.NoError(t, lock.Acquire())

	// Then it is held and the directory was created
	assert.True(t, lock.Held())
	assert.FileExists(t, lock.Path())

	// And release is idempotent
	require.NoError(t, lock.Release())
	assert.False(t, lock.Held())
	require.NoError(t, lock.Release())

	// And the lock can be taken again afterwards
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}

func TestProcessLock_SecondHolderIsRejected(t *testing.T) {
	// Given a held data directory lock
	dataDir := t.TempDir()
	first := NewProcessLock(dataDir)
	require.NoError(t, first.Acquire())
	defer func() { _ = first.Release() }()

	// When another holder tries the same directory
	second := NewProcessLock(dataDir)
	err := second.Acquire()

	// Then it fails with the locked code and names the lock file
	var cerr *cerrors.ContextError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, cerrors.ErrCodeDataDirLocked, cerr.Code)
	assert.Contains(t, err.Error(), lockFileName)
	assert.False(t, second.Held())

	// And the directory frees up once the first holder releases
	require.NoError(t, first.Release())
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}
