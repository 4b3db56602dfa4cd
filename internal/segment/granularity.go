// Package segment turns raw note markdown into typed segments at the
// four indexing granularities: whole-day, memory, section, and line.
package segment

import "fmt"

// Granularity identifies one of the four content scopes at which note
// text is independently indexed and searched.
type Granularity int

const (
	// Day is the whole-file scope: one segment per note file.
	Day Granularity = iota
	// Memory is a level-1 heading block.
	Memory
	// Section is a level-2 heading block nested inside a memory.
	Section
	// Line is a single list-item entry.
	Line

	// Count is the number of granularities, for fixed-size
	// per-granularity arrays.
	Count = 4
)

// All lists every granularity in index order.
var All = [Count]Granularity{Day, Memory, Section, Line}

// String returns the wire name of the granularity.
func (g Granularity) String() string {
	switch g {
	case Day:
		return "day"
	case Memory:
		return "memory"
	case Section:
		return "section"
	case Line:
		return "line"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// Valid reports whether g is one of the four defined granularities.
func (g Granularity) Valid() bool {
	return g >= Day && g <= Line
}

// ParseGranularity converts a wire name to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "day":
		return Day, nil
	case "memory":
		return Memory, nil
	case "section":
		return Section, nil
	case "line":
		return Line, nil
	default:
		return 0, fmt.Errorf("invalid granularity %q (valid: day, memory, section, line)", s)
	}
}
