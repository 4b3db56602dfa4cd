package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fileName is the metrics file kept in the data directory.
const fileName = "query_metrics.json"

// persisted is the on-disk envelope around a Snapshot.
type persisted struct {
	UpdatedAt time.Time `json:"updated_at"`
	Metrics   Snapshot  `json:"metrics"`
}

// Store persists query metrics as one JSON file in the data directory.
type Store struct {
	path string
}

// NewStore creates a store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, fileName)}
}

// Path returns the metrics file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted snapshot. A missing file returns an empty
// snapshot, not an error.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read query metrics: %w", err)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return Snapshot{}, fmt.Errorf("parse query metrics: %w", err)
	}
	return p.Metrics, nil
}

// Save writes the snapshot via temp file and rename so a crash mid-
// write never leaves a truncated file.
func (s *Store) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}

	data, err := json.MarshalIndent(persisted{
		UpdatedAt: time.Now().UTC(),
		Metrics:   snap,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal query metrics: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write query metrics: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename query metrics: %w", err)
	}
	return nil
}
