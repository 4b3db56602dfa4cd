package lifelog

import (
	"fmt"
	"strings"
	"time"
)

// RenderDay renders a day's lifelogs as one markdown document in the
// dialect the indexer segments: "# " titles, "## " sections, "- " bullets.
func RenderDay(logs []Lifelog) string {
	parts := make([]string, 0, len(logs))
	for _, l := range logs {
		if doc := FormatLifelog(l); doc != "" {
			parts = append(parts, doc)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n") + "\n"
}

// FormatLifelog converts one lifelog to markdown. The raw markdown field
// is preferred when the API provides it; otherwise the document is built
// from the structured content nodes, grouping spoken bullets under their
// section headings.
func FormatLifelog(l Lifelog) string {
	var blocks []string
	if title := strings.TrimSpace(l.Title); title != "" {
		blocks = append(blocks, "# "+title)
	}

	if md := strings.TrimSpace(l.Markdown); md != "" {
		blocks = append(blocks, md)
		return strings.Join(blocks, "\n\n")
	}

	var lines []string
	pendingHeading := ""
	flush := func() {
		if len(lines) == 0 {
			return
		}
		if pendingHeading != "" {
			blocks = append(blocks, "## "+pendingHeading)
			pendingHeading = ""
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
		lines = nil
	}

	for _, node := range l.Contents {
		switch node.Type {
		case "heading2":
			flush()
			// Headings with no content under them are dropped at the
			// next flush.
			pendingHeading = strings.TrimSpace(node.Content)
		case "heading1":
			// The title already provides the top-level heading.
		case "blockquote":
			lines = append(lines, formatBullet(node))
		default:
			if text := strings.TrimSpace(node.Content); text != "" {
				lines = append(lines, text)
			}
		}
	}
	flush()

	return strings.Join(blocks, "\n\n")
}

// formatBullet renders a spoken blockquote as "- Speaker (HH:MM): text".
// The time is omitted when the node carries no usable timestamp.
func formatBullet(node ContentNode) string {
	speaker := strings.TrimSpace(node.SpeakerName)
	if speaker == "" {
		speaker = "Speaker"
	}
	text := strings.TrimSpace(node.Content)

	if at, ok := parseStartTime(node.StartTime); ok {
		return fmt.Sprintf("- %s (%s): %s", speaker, at.Format("15:04"), text)
	}
	return fmt.Sprintf("- %s: %s", speaker, text)
}

// parseStartTime accepts RFC 3339 timestamps with or without a zone
// offset.
func parseStartTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if at, err := time.Parse(layout, value); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}
