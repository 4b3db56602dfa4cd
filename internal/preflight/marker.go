package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records that the environment checks passed, so the server
// does not re-run them on every start.
const MarkerFile = ".preflight-ok"

// NeedsCheck reports whether checks should run for this data directory.
func NeedsCheck(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, MarkerFile))
	return os.IsNotExist(err)
}

// MarkPassed writes the marker file.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	markerPath := filepath.Join(dataDir, MarkerFile)
	return os.WriteFile(markerPath, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
}

// ClearMarker removes the marker, forcing a re-check on next start.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge reports how long ago checks last passed, zero when the
// marker is missing or unreadable.
func MarkerAge(dataDir string) time.Duration {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0
	}
	return time.Since(t)
}
