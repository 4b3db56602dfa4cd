package index

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_StartsIdle(t *testing.T) {
	// Given a fresh tracker
	p := NewProgress()

	// Then it reports idle with nothing pending
	snap := p.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, p.Indexing())
	assert.Equal(t, 0, snap.Total)
	assert.Equal(t, 0, snap.Processed)

	// And idle reads as fully complete
	assert.Equal(t, float64(100), snap.Percent)
}

func TestProgress_StartTransitionsToIndexing(t *testing.T) {
	// Given a tracker with a run of four files
	p := NewProgress()
	p.Start(4)

	// Then it is indexing from zero
	assert.True(t, p.Indexing())
	assert.Equal(t, float64(0), p.Percent())

	// When two files complete
	p.FileDone("2025/March/2025-03-01.md")
	p.FileDone("2025/March/2025-03-02.md")

	// Then the snapshot tracks the half-way point
	snap := p.Snapshot()
	assert.Equal(t, StateIndexing, snap.State)
	assert.Equal(t, 2, snap.Processed)
	assert.Equal(t, float64(50), snap.Percent)
	assert.Equal(t, "2025/March/2025-03-02.md", snap.CurrentFile)
	assert.NotEmpty(t, snap.StartedAt)
}

func TestProgress_ZeroFileRunIsComplete(t *testing.T) {
	// Given a run over an empty notes directory
	p := NewProgress()
	p.Start(0)

	// Then there is nothing to do, so the run reads as complete
	assert.True(t, p.Indexing())
	assert.Equal(t, float64(100), p.Percent())
}

func TestProgress_FileFailedStillAdvances(t *testing.T) {
	// Given a run where one file fails
	p := NewProgress()
	p.Start(3)
	p.FileDone("a.md")
	p.FileFailed("b.md")

	// Then the failure counts as processed so percent keeps moving
	snap := p.Snapshot()
	assert.Equal(t, 2, snap.Processed)
	assert.Equal(t, 1, snap.Failed)
	assert.InDelta(t, 66.6, snap.Percent, 0.1)
}

func TestProgress_FinishReturnsToIdle(t *testing.T) {
	// Given a finished run that ended with an error
	p := NewProgress()
	p.Start(2)
	p.FileDone("a.md")
	p.Finish(errors.New("scan interrupted"))

	// Then the tracker is idle and keeps the error message
	snap := p.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, float64(100), snap.Percent)
	assert.Equal(t, "scan interrupted", snap.LastError)
	assert.NotEmpty(t, snap.FinishedAt)
	assert.Empty(t, snap.CurrentFile)

	// When a new run starts
	p.Start(1)

	// Then the previous error is cleared
	assert.Empty(t, p.Snapshot().LastError)
}

func TestProgress_SnapshotSerializesToJSON(t *testing.T) {
	// Given an active run
	p := NewProgress()
	p.Start(2)
	p.FileDone("a.md")

	// When the snapshot is marshalled for a status response
	data, err := json.Marshal(p.Snapshot())
	require.NoError(t, err)

	// Then the wire fields use snake_case names
	assert.Contains(t, string(data), `"state":"indexing"`)
	assert.Contains(t, string(data), `"current_file":"a.md"`)
	assert.Contains(t, string(data), `"percent":50`)
}
