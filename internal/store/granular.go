package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/twilsonco/context-server/internal/embed"
	cerrors "github.com/twilsonco/context-server/internal/errors"
	"github.com/twilsonco/context-server/internal/segment"
)

const (
	// metaSuffix is appended to the snapshot path for the gob sidecar.
	metaSuffix = ".meta"

	// Compaction thresholds: the graph is rebuilt once lazily deleted
	// nodes exceed both the ratio and the absolute count.
	orphanRatioThreshold = 0.2
	minOrphanCompact     = 100
)

// GranularStore indexes one granularity's segments: an HNSW graph for
// nearest-neighbor search over embeddings, a document table keyed by
// id, and per-file id buckets so reindexing a file is remove-then-add.
//
// Deleting single nodes from the graph is unreliable (removing the last
// node corrupts it), so removal is lazy: ids leave the table and
// buckets immediately, and the orphaned graph nodes are filtered out of
// search results until compaction rebuilds the graph from the live
// vectors.
type GranularStore struct {
	mu sync.RWMutex

	granularity segment.Granularity
	embedder    embed.Embedder
	config      Config

	graph  *hnsw.Graph[uint64]
	docs   map[uint64]*DocumentRecord
	vecs   map[uint64][]float32
	files  map[string][]uint64
	nextID uint64

	closed bool
}

// storeSnapshot is the gob sidecar payload. Together with the exported
// graph it restores the full store state.
type storeSnapshot struct {
	Granularity segment.Granularity
	Dimensions  int
	Metric      string
	M           int
	EfSearch    int

	Docs   map[uint64]*DocumentRecord
	Vecs   map[uint64][]float32
	Files  map[string][]uint64
	NextID uint64
}

// New creates the store for one granularity. When cfg.Path is set, an
// existing snapshot pair is loaded; a missing snapshot starts empty,
// and an unreadable or mismatched one is logged and discarded so the
// caller can reindex into a fresh store.
func New(g segment.Granularity, embedder embed.Embedder, cfg Config) (*GranularStore, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("invalid granularity %d", int(g))
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder must not be nil")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = embedder.Dimensions()
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("store dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	s := &GranularStore{
		granularity: g,
		embedder:    embedder,
		config:      cfg,
	}
	s.initEmptyLocked()

	if cfg.Path != "" {
		if err := s.loadLocked(cfg.Path); err != nil {
			slog.Warn("index_snapshot_discarded",
				slog.String("granularity", g.String()),
				slog.String("path", cfg.Path),
				slog.String("error", err.Error()))
			s.initEmptyLocked()
		}
	}

	return s, nil
}

func newGraph(cfg Config) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		g.Distance = hnsw.EuclideanDistance
	default:
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

func (s *GranularStore) initEmptyLocked() {
	s.graph = newGraph(s.config)
	s.docs = make(map[uint64]*DocumentRecord)
	s.vecs = make(map[uint64][]float32)
	s.files = make(map[string][]uint64)
	s.nextID = 0
}

// AddSegments reindexes file's segments at this granularity: the file's
// previous ids are purged first, then each segment is embedded and
// inserted under a fresh id. The file is registered even when segs is
// empty, so Contains stays faithful for files that produced nothing at
// this granularity. The embedding call happens before any state
// changes; on embedding failure the previous contents stay intact.
func (s *GranularStore) AddSegments(ctx context.Context, segs []segment.Segment, file string, date time.Time) error {
	if file == "" {
		return fmt.Errorf("source file must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	var vectors [][]float32
	if len(segs) > 0 {
		texts := make([]string, len(segs))
		for i, sg := range segs {
			texts[i] = sg.Text
		}
		var err error
		vectors, err = s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for _, vec := range vectors {
			if len(vec) != s.config.Dimensions {
				return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vec)}
			}
		}
	}

	s.removeFileLocked(file)

	ids := make([]uint64, 0, len(segs))
	for i, sg := range segs {
		id := s.nextID
		s.nextID++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(id, vec))
		s.vecs[id] = vec
		s.docs[id] = &DocumentRecord{
			ID:            id,
			Text:          sg.Text,
			Title:         sg.Title,
			SourceFile:    file,
			Date:          date,
			Granularity:   s.granularity,
			ParentMemory:  sg.ParentMemory,
			ParentSection: sg.ParentSection,
		}
		ids = append(ids, id)
	}
	s.files[file] = ids

	s.compactLocked()
	s.persistLocked()
	return nil
}

// RemoveFile drops every id indexed for file. Unknown files are a
// no-op and do not touch the snapshot.
func (s *GranularStore) RemoveFile(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.files[file]; !ok {
		return
	}

	s.removeFileLocked(file)
	s.compactLocked()
	s.persistLocked()
}

// removeFileLocked retires a file's ids from the table and buckets.
// The graph nodes stay behind as orphans until compactLocked rebuilds
// them away; Search never returns ids missing from the table.
func (s *GranularStore) removeFileLocked(file string) {
	ids, ok := s.files[file]
	if !ok {
		return
	}
	for _, id := range ids {
		delete(s.docs, id)
		delete(s.vecs, id)
	}
	delete(s.files, file)
}

// Reset discards every document and rebuilds an empty graph. The id
// counter restarts at zero; reset is the one operation that may reuse
// ids. The empty state is persisted immediately.
func (s *GranularStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.initEmptyLocked()
	s.persistLocked()
}

// Search returns up to k live candidates nearest to query. Lazily
// deleted nodes are skipped; the graph is over-queried by the current
// orphan count so they do not eat into k.
func (s *GranularStore) Search(ctx context.Context, query []float32, k int) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || len(s.docs) == 0 || s.graph.Len() == 0 {
		return []Candidate{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric == "cos" {
		normalizeInPlace(q)
	}

	fetch := k + (s.graph.Len() - len(s.docs))
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	nodes := s.graph.Search(q, fetch)

	results := make([]Candidate, 0, len(nodes))
	for _, node := range nodes {
		rec, ok := s.docs[node.Key]
		if !ok {
			continue
		}
		dist := s.graph.Distance(q, node.Value)
		results = append(results, Candidate{
			ID:     node.Key,
			Score:  similarityFromDistance(dist, s.config.Metric),
			Record: rec,
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Count returns the number of live documents.
func (s *GranularStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.docs)
}

// Files returns the indexed source files in sorted order.
func (s *GranularStore) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	files := make([]string, 0, len(s.files))
	for f := range s.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Contains reports whether file has been indexed, including files whose
// content produced no segments at this granularity.
func (s *GranularStore) Contains(file string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, ok := s.files[file]
	return ok
}

// Granularity returns the granularity this store indexes.
func (s *GranularStore) Granularity() segment.Granularity {
	return s.granularity
}

// Dimensions returns the embedding width the store was built with.
func (s *GranularStore) Dimensions() int {
	return s.config.Dimensions
}

// Stats returns current document, file, and orphan counts.
func (s *GranularStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}
	}
	nodes := s.graph.Len()
	return Stats{
		Documents:  len(s.docs),
		Files:      len(s.files),
		GraphNodes: nodes,
		Orphans:    nodes - len(s.docs),
	}
}

// compactLocked rebuilds the graph from the live vectors once orphaned
// nodes pass both thresholds.
func (s *GranularStore) compactLocked() {
	nodes := s.graph.Len()
	orphans := nodes - len(s.docs)
	if orphans < minOrphanCompact || nodes == 0 {
		return
	}
	if float64(orphans)/float64(nodes) <= orphanRatioThreshold {
		return
	}

	start := time.Now()
	g := newGraph(s.config)
	for id, vec := range s.vecs {
		g.Add(hnsw.MakeNode(id, vec))
	}
	s.graph = g

	slog.Debug("index_compacted",
		slog.String("granularity", s.granularity.String()),
		slog.Int("orphans_removed", orphans),
		slog.Int("vectors", len(s.vecs)),
		slog.Duration("duration", time.Since(start)))
}

// persistLocked snapshots to the configured path. Persistence failures
// are logged, not returned: memory stays authoritative and the next
// successful save or a reindex repairs the disk copy.
func (s *GranularStore) persistLocked() {
	if s.config.Path == "" {
		return
	}
	if err := s.saveLocked(s.config.Path); err != nil {
		slog.Warn("index_snapshot_failed",
			slog.String("granularity", s.granularity.String()),
			slog.String("path", s.config.Path),
			slog.String("error", err.Error()))
	}
}

// Save writes the snapshot pair (graph file plus ".meta" sidecar) to
// path. Both writes go through a temp file in the same directory and a
// rename, so a crash never leaves a torn snapshot.
func (s *GranularStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.saveLocked(path)
}

func (s *GranularStore) saveLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return s.saveMeta(path + metaSuffix)
}

func (s *GranularStore) saveMeta(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create meta file: %w", err)
	}

	snap := storeSnapshot{
		Granularity: s.granularity,
		Dimensions:  s.config.Dimensions,
		Metric:      s.config.Metric,
		M:           s.config.M,
		EfSearch:    s.config.EfSearch,
		Docs:        s.docs,
		Vecs:        s.vecs,
		Files:       s.files,
		NextID:      s.nextID,
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close meta file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load replaces the store contents with the snapshot pair at path. A
// fully absent snapshot leaves the store empty: that is the fresh-start
// case, not an error. A snapshot that is half missing, cannot be
// decoded, or disagrees with the store's granularity or dimensions
// returns a snapshot-corrupt error with the store left empty.
func (s *GranularStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.loadLocked(path)
}

func (s *GranularStore) loadLocked(path string) error {
	s.initEmptyLocked()

	metaPath := path + metaSuffix
	_, metaErr := os.Stat(metaPath)
	_, graphErr := os.Stat(path)
	if os.IsNotExist(metaErr) && os.IsNotExist(graphErr) {
		return nil
	}
	if os.IsNotExist(metaErr) || os.IsNotExist(graphErr) {
		return cerrors.New(cerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("incomplete snapshot pair for %s", path), nil).
			WithSuggestion("delete the index directory and reindex")
	}

	metaFile, err := os.Open(metaPath)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("open snapshot meta for %s", path), err)
	}
	var snap storeSnapshot
	decErr := gob.NewDecoder(metaFile).Decode(&snap)
	metaFile.Close()
	if decErr != nil {
		return cerrors.New(cerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("decode snapshot meta for %s", path), decErr).
			WithSuggestion("delete the index directory and reindex")
	}

	if snap.Granularity != s.granularity {
		return cerrors.New(cerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("snapshot granularity %s does not match store granularity %s",
				snap.Granularity, s.granularity), nil)
	}
	if snap.Dimensions != s.config.Dimensions {
		return cerrors.New(cerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("snapshot dimensions %d do not match store dimensions %d",
				snap.Dimensions, s.config.Dimensions), nil).
			WithSuggestion("reindex after changing embedding models")
	}

	graphFile, err := os.Open(path)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("open snapshot graph for %s", path), err)
	}
	defer graphFile.Close()

	graph := newGraph(s.config)
	// Import needs an io.ByteReader.
	if err := graph.Import(bufio.NewReader(graphFile)); err != nil {
		return cerrors.New(cerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("import snapshot graph for %s", path), err).
			WithSuggestion("delete the index directory and reindex")
	}

	s.graph = graph
	s.docs = snap.Docs
	s.vecs = snap.Vecs
	s.files = snap.Files
	s.nextID = snap.NextID
	// gob decodes empty maps as nil.
	if s.docs == nil {
		s.docs = make(map[uint64]*DocumentRecord)
	}
	if s.vecs == nil {
		s.vecs = make(map[uint64][]float32)
	}
	if s.files == nil {
		s.files = make(map[string][]uint64)
	}
	return nil
}

// Close releases the store. Further calls are no-ops.
func (s *GranularStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeInPlace scales v to unit length. Zero vectors are left
// unchanged.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// similarityFromDistance converts a graph distance to a similarity
// score: cosine similarity for "cos", 1/(1+d) for "l2".
func similarityFromDistance(dist float32, metric string) float64 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + float64(dist))
	default:
		return 1.0 - float64(dist)
	}
}
