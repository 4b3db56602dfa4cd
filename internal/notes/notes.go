// Package notes resolves metadata from note file paths and scans note
// directories. Note files are markdown, one file per day, named
// YYYY-MM-DD.md and usually nested under year/month directories.
package notes

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// monthNames maps directory names like "January" (or "jan") to months,
// matching the layout the lifelog sync writer produces.
var monthNames = map[string]time.Month{}

func init() {
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		monthNames[name] = m
		monthNames[name[:3]] = m
	}
}

// FileDate extracts the calendar date a note file covers.
// The base name is tried first: the leading YYYY-MM-DD (underscores
// tolerated as separators). Failing that, the day comes from the first
// name component and year/month from the two enclosing directories,
// covering layouts like 2024/March/15.md or 2024/3/15.md.
// Returns false when no date can be resolved.
func FileDate(path string) (time.Time, bool) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(strings.ReplaceAll(name, "_", "-"), "-")

	if len(parts) >= 3 {
		year, errY := strconv.Atoi(parts[0])
		month, errM := strconv.Atoi(parts[1])
		day, errD := strconv.Atoi(parts[2])
		if errY == nil && errM == nil && errD == nil {
			if d, ok := makeDate(year, time.Month(month), day); ok {
				return d, true
			}
		}
	}

	// Directory fallback: <year>/<month>/<day...>.md
	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, false
	}
	monthDir := filepath.Base(filepath.Dir(path))
	yearDir := filepath.Base(filepath.Dir(filepath.Dir(path)))

	year, err := strconv.Atoi(yearDir)
	if err != nil {
		return time.Time{}, false
	}
	month, ok := parseMonth(monthDir)
	if !ok {
		return time.Time{}, false
	}
	return makeDate(year, month, day)
}

// parseMonth accepts a numeric month or an English month name.
func parseMonth(s string) (time.Month, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1 && n <= 12 {
			return time.Month(n), true
		}
		return 0, false
	}
	m, ok := monthNames[strings.ToLower(s)]
	return m, ok
}

// makeDate validates the components by round-tripping through
// time.Date, which silently normalizes out-of-range values.
func makeDate(year int, month time.Month, day int) (time.Time, bool) {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

// ScanDir lists every markdown note file under root, sorted by path.
// Hidden directories and symlinks are skipped.
func ScanDir(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if IsNoteFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// IsNoteFile reports whether path looks like a note file.
func IsNoteFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

// LastNoteDate returns the newest date among non-empty note files
// under root. The zero time (and false) means no dated notes exist,
// which callers treat as "sync everything".
func LastNoteDate(root string) (time.Time, bool) {
	files, err := ScanDir(root)
	if err != nil {
		return time.Time{}, false
	}

	var latest time.Time
	found := false
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || info.Size() == 0 {
			continue
		}
		d, ok := FileDate(f)
		if !ok {
			continue
		}
		if !found || d.After(latest) {
			latest = d
			found = true
		}
	}
	return latest, found
}
