// Package store holds the per-granularity vector indexes. Each
// GranularStore pairs an HNSW graph with a document table and per-file
// id buckets, so a note file can be reindexed by purging its previous
// ids and inserting fresh ones.
package store

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/twilsonco/context-server/internal/segment"
)

// DocumentRecord is one indexed segment. Records are owned by the store
// that created them and are unique per granularity by ID.
type DocumentRecord struct {
	ID         uint64
	Text       string
	Title      string
	SourceFile string

	// Date is the note date resolved from the source file path. The
	// zero time means the file is undated.
	Date time.Time

	Granularity segment.Granularity

	// ParentMemory and ParentSection name the enclosing containers for
	// section and line records. Empty means absent.
	ParentMemory  string
	ParentSection string
}

// Dated reports whether the record's source file carries a date.
func (r *DocumentRecord) Dated() bool {
	return !r.Date.IsZero()
}

// Candidate is one nearest-neighbor hit: the similarity score from the
// graph plus the resolved document record.
type Candidate struct {
	ID     uint64
	Score  float64
	Record *DocumentRecord
}

// Config configures a GranularStore.
type Config struct {
	// Dimensions is the embedding width. Zero takes the embedder's
	// reported dimensions.
	Dimensions int

	// Metric selects the distance function: "cos" (default) or "l2".
	Metric string

	// M and EfSearch are HNSW graph parameters.
	M        int
	EfSearch int

	// Path is the snapshot base path (the ".meta" sidecar sits next to
	// it). Empty keeps the store in memory only.
	Path string
}

// DefaultConfig returns the standard store configuration for the given
// embedding dimensions.
func DefaultConfig(dims int) Config {
	return Config{
		Dimensions: dims,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// ErrDimensionMismatch reports a vector whose width disagrees with the
// store's configured dimensions.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Stats describes the store's current contents. GraphNodes can exceed
// Documents while lazily deleted nodes await compaction.
type Stats struct {
	Documents  int `json:"documents"`
	Files      int `json:"files"`
	GraphNodes int `json:"graph_nodes"`
	Orphans    int `json:"orphans"`
}

// SnapshotPath returns the snapshot file for one granularity under dir,
// e.g. "<dir>/memory.hnsw".
func SnapshotPath(dir string, g segment.Granularity) string {
	return filepath.Join(dir, g.String()+".hnsw")
}
