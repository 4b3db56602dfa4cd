package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlain(buf *bytes.Buffer) *PlainRenderer {
	return NewPlainRenderer(NewConfig(buf))
}

func TestPlainRendererProgressLine(t *testing.T) {
	var buf bytes.Buffer
	r := newTestPlain(&buf)
	require.NoError(t, r.Start(context.Background()))

	r.UpdateProgress(ProgressEvent{
		Stage:       StageIndexing,
		Current:     3,
		Total:       10,
		CurrentFile: "2026/August/2026-08-20.md",
	})

	out := buf.String()
	assert.Contains(t, out, "[INDEX]")
	assert.Contains(t, out, "3/10")
	assert.Contains(t, out, "2026-08-20.md")
}

func TestPlainRendererThrottlesPerFileUpdates(t *testing.T) {
	var buf bytes.Buffer
	r := newTestPlain(&buf)

	// First line prints, the immediate follow-up is suppressed.
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 1, Total: 100, CurrentFile: "a.md"})
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 2, Total: 100, CurrentFile: "b.md"})

	assert.Contains(t, buf.String(), "a.md")
	assert.NotContains(t, buf.String(), "b.md")
}

func TestPlainRendererFinalFileAlwaysPrints(t *testing.T) {
	var buf bytes.Buffer
	r := newTestPlain(&buf)

	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 1, Total: 2, CurrentFile: "a.md"})
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 2, Total: 2, CurrentFile: "b.md"})

	assert.Contains(t, buf.String(), "b.md")
}

func TestPlainRendererMessageWithoutTotal(t *testing.T) {
	var buf bytes.Buffer
	r := newTestPlain(&buf)

	r.UpdateProgress(ProgressEvent{Stage: StageScanning, Message: "scanning notes directory"})

	assert.Contains(t, buf.String(), "[SCAN] scanning notes directory")
}

func TestPlainRendererErrors(t *testing.T) {
	var buf bytes.Buffer
	r := newTestPlain(&buf)

	r.AddError(ErrorEvent{File: "bad.md", Err: errors.New("unreadable")})
	r.AddError(ErrorEvent{Err: errors.New("slow disk"), IsWarn: true})

	out := buf.String()
	assert.Contains(t, out, "ERROR: bad.md: unreadable")
	assert.Contains(t, out, "WARN: slow disk")
}

func TestPlainRendererComplete(t *testing.T) {
	var buf bytes.Buffer
	r := newTestPlain(&buf)

	r.Complete(CompletionStats{
		Files:    12,
		Failed:   1,
		Segments: 340,
		Duration: 2300 * time.Millisecond,
		Embedder: EmbedderInfo{Provider: "ollama", Model: "all-minilm", Dimensions: 384},
	})

	out := buf.String()
	assert.Contains(t, out, "12 files")
	assert.Contains(t, out, "340 segments")
	assert.Contains(t, out, "(1 files failed)")
	assert.Contains(t, out, "ollama (all-minilm, 384 dims)")

	assert.NoError(t, r.Stop())
}
