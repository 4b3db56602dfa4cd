package mcp

import (
	"fmt"
	"strings"

	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/search"
)

// FormatResults renders ranked results as markdown for MCP clients.
func FormatResults(query string, results []search.ResultView) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// formatResult writes one result: a numbered heading with the score,
// a metadata line, and the segment text verbatim. Note content is
// already markdown, so it is kept unwrapped.
func formatResult(sb *strings.Builder, num int, r search.ResultView) {
	fmt.Fprintf(sb, "### %d. %s (score: %.3f)\n\n", num, resultHeading(r), r.Score)

	meta := make([]string, 0, 3)
	if r.Date != "" {
		meta = append(meta, "Date: "+r.Date)
	}
	if r.ParentMemory != "" {
		meta = append(meta, "Memory: "+r.ParentMemory)
	}
	if r.ParentSection != "" {
		meta = append(meta, "Section: "+r.ParentSection)
	}
	if len(meta) > 0 {
		fmt.Fprintf(sb, "*%s*\n\n", strings.Join(meta, " | "))
	}

	sb.WriteString(r.Text)
	sb.WriteString("\n\n---\n\n")
}

// resultHeading picks the heading for a result: its own title, its
// date for untitled dated segments, or the granularity name.
func resultHeading(r search.ResultView) string {
	if r.Title != "" {
		return r.Title
	}
	if r.Date != "" {
		return r.Date
	}
	return r.Granularity
}

// formatIndexingNotice renders the progress notice returned instead
// of search results while a bulk run rebuilds the index.
func formatIndexingNotice(snap index.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("## Indexing in Progress\n\n")
	fmt.Fprintf(&sb, "**Progress:** %.1f%% (%d/%d files)\n", snap.Percent, snap.Processed, snap.Total)
	if snap.CurrentFile != "" {
		fmt.Fprintf(&sb, "**Current file:** %s\n", snap.CurrentFile)
	}
	sb.WriteString("\nSearch results may be incomplete or unavailable. Please try again in a moment.")
	return sb.String()
}
