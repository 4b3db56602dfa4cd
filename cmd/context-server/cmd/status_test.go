package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusEmptyIndex(t *testing.T) {
	testEnv(t)

	out, err := runCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Index")
	assert.Contains(t, out, "Embedder")
	assert.Contains(t, out, "static")
}

func TestStatusJSONAfterIndexing(t *testing.T) {
	notesDir, _ := testEnv(t)
	writeTestNote(t, notesDir, "2026/March/2026-03-05.md", dayNote)

	_, err := runCommand(t, "index", "--no-tui")
	require.NoError(t, err)

	out, err := runCommand(t, "status", "--json")
	require.NoError(t, err)

	var report struct {
		Files  int            `json:"files"`
		Counts map[string]int `json:"counts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 1, report.Counts["day"])
	assert.GreaterOrEqual(t, report.Counts["line"], 3)
}

func TestResetForceClearsIndex(t *testing.T) {
	notesDir, _ := testEnv(t)
	writeTestNote(t, notesDir, "2026/March/2026-03-05.md", dayNote)

	_, err := runCommand(t, "index", "--no-tui")
	require.NoError(t, err)

	out, err := runCommand(t, "reset", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")

	var report struct {
		Files int `json:"files"`
	}
	out, err = runCommand(t, "status", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Files)
}
