package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.context-server/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".context-server", "logs")
	}
	return filepath.Join(home, ".context-server", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// LogPathInDir returns the server log path under a specific data directory.
// Used when the data directory is overridden by config or flags.
func LogPathInDir(dataDir string) string {
	if dataDir == "" {
		return DefaultLogPath()
	}
	return filepath.Join(dataDir, "logs", "server.log")
}
