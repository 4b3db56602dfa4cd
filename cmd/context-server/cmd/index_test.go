package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dayNote = `# Morning walk

- saw the herons by the river

## Coffee with Sam

- talked about the camping trip
- Sam recommended the north loop trail
`

func TestIndexThenSearch(t *testing.T) {
	notesDir, _ := testEnv(t)
	writeTestNote(t, notesDir, "2026/March/2026-03-05.md", dayNote)

	out, err := runCommand(t, "index", "--no-tui")
	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 1 files")

	out, err = runCommand(t, "search", "camping trip", "-g", "line", "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Found")
	assert.Contains(t, out, "2026-03-05")
}

func TestIndexEmptyTree(t *testing.T) {
	testEnv(t)

	out, err := runCommand(t, "index", "--no-tui")
	require.NoError(t, err)
	assert.Contains(t, out, "0 files")
}

func TestIndexResetClearsPreviousEntries(t *testing.T) {
	notesDir, _ := testEnv(t)
	writeTestNote(t, notesDir, "2026/March/2026-03-05.md", dayNote)

	_, err := runCommand(t, "index", "--no-tui")
	require.NoError(t, err)

	// Reset and reindex lands at the same counts, not doubled.
	out, err := runCommand(t, "index", "--no-tui", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 1 files")
}

func TestSearchWithoutIndexFails(t *testing.T) {
	testEnv(t)

	_, err := runCommand(t, "search", "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no notes indexed")
}

func TestSearchJSONOutput(t *testing.T) {
	notesDir, _ := testEnv(t)
	writeTestNote(t, notesDir, "2026/March/2026-03-05.md", dayNote)

	_, err := runCommand(t, "index", "--no-tui")
	require.NoError(t, err)

	out, err := runCommand(t, "search", "herons", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"granularity"`)
	assert.Contains(t, out, `"score"`)
}
