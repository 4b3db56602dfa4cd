package segment

import (
	"strings"
)

// Markdown markers recognized by the segmenter. Deeper headings and
// other list styles are treated as plain content.
const (
	memoryMarker  = "# "
	sectionMarker = "## "
	lineMarker    = "- "
)

// Segment is a unit of text extracted at one granularity, not yet
// embedded or stored. Empty string means the field is absent.
type Segment struct {
	Text          string
	Title         string
	ParentMemory  string
	ParentSection string
}

// Result holds the extracted segments, indexed by Granularity.
type Result [Count][]Segment

// Total returns the number of segments across all granularities.
func (r Result) Total() int {
	n := 0
	for _, segs := range r {
		n += len(segs)
	}
	return n
}

// Split parses note markdown into segments at every granularity.
// Pure and deterministic: no I/O, no shared state.
//
// A "# " line opens a memory, a "## " line opens a section inside the
// current memory, and a "- " line is a single indexed entry tagged with
// its enclosing titles. Container text is the verbatim concatenation of
// the lines seen while the container was open; when includeTitles is
// set, the emitted text is prefixed with the container's heading line.
// The day segment is built independently from the whole file with all
// markers stripped. Containers whose accumulated body is empty after
// trimming emit nothing.
func Split(content string, includeTitles bool) Result {
	var res Result
	lines := splitLines(content)

	if text := dayText(lines); text != "" {
		res[Day] = append(res[Day], Segment{Text: text})
	}

	var (
		memOpen  bool
		memTitle string
		memAcc   []string
		secOpen  bool
		secTitle string
		secAcc   []string
	)

	closeSection := func() {
		if !secOpen {
			return
		}
		if text := joinBody(secAcc); text != "" {
			if includeTitles {
				text = sectionMarker + secTitle + "\n" + text
			}
			res[Section] = append(res[Section], Segment{
				Text:         text,
				Title:        secTitle,
				ParentMemory: memTitle,
			})
		}
		secOpen = false
		secTitle = ""
		secAcc = nil
	}

	// Sections close before their parent memory. The memory text
	// already contains the section's raw lines, appended as they
	// arrived.
	closeMemory := func() {
		closeSection()
		if !memOpen {
			return
		}
		if text := joinBody(memAcc); text != "" {
			if includeTitles {
				text = memoryMarker + memTitle + "\n" + text
			}
			res[Memory] = append(res[Memory], Segment{
				Text:  text,
				Title: memTitle,
			})
		}
		memOpen = false
		memTitle = ""
		memAcc = nil
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, memoryMarker):
			closeMemory()
			memOpen = true
			memTitle = strings.TrimSpace(line[len(memoryMarker):])

		case strings.HasPrefix(line, sectionMarker):
			closeSection()
			secOpen = true
			secTitle = strings.TrimSpace(line[len(sectionMarker):])
			if memOpen {
				// The heading stays part of the memory text,
				// offset by a blank line.
				memAcc = append(memAcc, "", line)
			}

		case strings.HasPrefix(line, lineMarker):
			if text := strings.TrimSpace(line[len(lineMarker):]); text != "" {
				res[Line] = append(res[Line], Segment{
					Text:          text,
					ParentMemory:  memTitle,
					ParentSection: secTitle,
				})
			}
			// Empty bullets emit no line segment but remain part
			// of the container text.
			if secOpen {
				secAcc = append(secAcc, line)
			}
			if memOpen {
				memAcc = append(memAcc, line)
			}

		default:
			if secOpen {
				secAcc = append(secAcc, line)
				if memOpen {
					memAcc = append(memAcc, line)
				}
			} else if memOpen {
				memAcc = append(memAcc, line)
			}
		}
	}
	closeMemory()

	return res
}

// dayText builds the whole-day view: memory headings dropped, section
// headings and list markers stripped to bare text, everything else
// verbatim.
func dayText(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, memoryMarker):
			// skip
		case strings.HasPrefix(line, sectionMarker):
			out = append(out, strings.TrimSpace(line[len(sectionMarker):]))
		case strings.HasPrefix(line, lineMarker):
			out = append(out, strings.TrimSpace(line[len(lineMarker):]))
		default:
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func joinBody(acc []string) string {
	return strings.TrimSpace(strings.Join(acc, "\n"))
}

func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
