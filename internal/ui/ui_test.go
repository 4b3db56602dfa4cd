package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRendererSelectsPlainForBuffer(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(NewConfig(&buf))

	_, ok := r.(*PlainRenderer)
	assert.True(t, ok, "non-TTY output should get the plain renderer")
}

func TestNewRendererForcePlain(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(NewConfig(&buf, WithForcePlain(true)))

	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestNewTUIRendererRejectsNonTTY(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewTUIRenderer(NewConfig(&buf))
	assert.Error(t, err)
}

func TestIsTTY(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, IsTTY(&buf))
	assert.False(t, IsTTY(nil))
}

func TestStageStrings(t *testing.T) {
	assert.Equal(t, "Scanning", StageScanning.String())
	assert.Equal(t, "Indexing", StageIndexing.String())
	assert.Equal(t, "Complete", StageComplete.String())

	assert.Equal(t, "SCAN", StageScanning.Icon())
	assert.Equal(t, "INDEX", StageIndexing.Icon())
	assert.Equal(t, "DONE", StageComplete.Icon())
}

func TestNewConfigOptions(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewConfig(&buf, WithNoColor(true), WithNotesDir("/tmp/notes"))

	assert.True(t, cfg.NoColor)
	assert.Equal(t, "/tmp/notes", cfg.NotesDir)
	assert.False(t, cfg.ForcePlain)
}
