package store

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	Dimensions            int
	Strategy              DistanceStrategy
	DefaultSourceLocation string

	// M is HNSW max connections per layer (default: 16).
	M int
	// EfSearch is HNSW query-time search width (default: 20).
	EfSearch int

	// Path, when set, is loaded on open and written on Close.
	Path string

	// CatchSearchErrors logs search failures and returns no results.
	CatchSearchErrors bool
}

// MemoryStore implements VectorStore on a coder/hnsw graph. Candidates from
// the graph are re-ranked by exact distance before results are returned.
type MemoryStore struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	cfg   MemoryConfig

	records  map[uint64]VectorRecord
	bySource map[string]map[uint64]struct{}
	nextKey  uint64

	closed bool
}

var _ VectorStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store, loading cfg.Path if it exists.
func NewMemoryStore(cfg MemoryConfig) (*MemoryStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = DistanceL2
	}
	if cfg.DefaultSourceLocation == "" {
		cfg.DefaultSourceLocation = DefaultSourceLocation
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	s := &MemoryStore{cfg: cfg}
	s.reset()

	if cfg.Path != "" {
		if err := s.load(cfg.Path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) reset() {
	graph := hnsw.NewGraph[uint64]()
	switch s.cfg.Strategy {
	case DistanceCosine:
		graph.Distance = hnsw.CosineDistance
	case DistanceInner:
		graph.Distance = negativeInnerProduct
	default:
		graph.Distance = hnsw.EuclideanDistance
	}
	graph.M = s.cfg.M
	graph.EfSearch = s.cfg.EfSearch
	graph.Ml = 0.25

	s.graph = graph
	s.records = make(map[uint64]VectorRecord)
	s.bySource = make(map[string]map[uint64]struct{})
	s.nextKey = 0
}

// EnsureSchema only checks that the store is open.
func (s *MemoryStore) EnsureSchema(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("store is closed")
	}
	return nil
}

// AddVectors deletes the batch's source locations and inserts docs.
func (s *MemoryStore) AddVectors(ctx context.Context, vectors [][]float32, docs []Document) error {
	records, err := NewRecords(vectors, docs, s.cfg.Dimensions, s.cfg.DefaultSourceLocation)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}
	s.deleteLocked(DistinctSourceLocations(docs, s.cfg.DefaultSourceLocation))
	s.insertLocked(records)
	return nil
}

// InsertVectors appends docs.
func (s *MemoryStore) InsertVectors(ctx context.Context, vectors [][]float32, docs []Document) error {
	records, err := NewRecords(vectors, docs, s.cfg.Dimensions, s.cfg.DefaultSourceLocation)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}
	s.insertLocked(records)
	return nil
}

// DeleteBySourceLocation removes all rows of the given locations.
func (s *MemoryStore) DeleteBySourceLocation(ctx context.Context, locations ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}
	s.deleteLocked(FilterLocations(locations, s.cfg.DefaultSourceLocation))
	return nil
}

func (s *MemoryStore) insertLocked(records []VectorRecord) {
	for _, rec := range records {
		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(rec.Embedding))
		copy(vec, rec.Embedding)
		rec.Embedding = vec

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.records[key] = rec
		if s.bySource[rec.SourceLocation] == nil {
			s.bySource[rec.SourceLocation] = make(map[uint64]struct{})
		}
		s.bySource[rec.SourceLocation][key] = struct{}{}
	}
}

// deleteLocked drops rows from the record maps only. Their graph nodes stay
// as orphans until compaction, which avoids coder/hnsw's last-node delete bug.
func (s *MemoryStore) deleteLocked(locations []string) {
	for _, loc := range locations {
		for key := range s.bySource[loc] {
			delete(s.records, key)
		}
		delete(s.bySource, loc)
	}
	if orphans := s.graph.Len() - len(s.records); orphans > 64 && orphans > len(s.records) {
		s.compactLocked()
	}
}

// compactLocked rebuilds the graph from live records.
func (s *MemoryStore) compactLocked() {
	live := make([]VectorRecord, 0, len(s.records))
	keys := make([]uint64, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		live = append(live, s.records[k])
	}
	s.reset()
	s.insertLocked(live)
	slog.Debug("memory_store_compacted", slog.Int("records", len(live)))
}

// SimilaritySearchVectorWithScore returns up to k rows nearest to query whose
// metadata matches every filter entry.
func (s *MemoryStore) SimilaritySearchVectorWithScore(ctx context.Context, query []float32, k int, filter map[string]string) ([]ScoredDocument, error) {
	if len(query) != s.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(query)}
	}

	results, err := s.search(ctx, query, k, filter)
	if err != nil {
		slog.Error("similarity_search_failed", slog.String("error", err.Error()))
		if s.cfg.CatchSearchErrors {
			return []ScoredDocument{}, nil
		}
		return nil, err
	}
	return results, nil
}

func (s *MemoryStore) search(ctx context.Context, query []float32, k int, filter map[string]string) ([]ScoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New("store is closed")
	}
	if k <= 0 || len(s.records) == 0 {
		return []ScoredDocument{}, nil
	}

	type hit struct {
		rec      VectorRecord
		meta     map[string]any
		distance float64
	}

	total := s.graph.Len()
	fetch := k
	var hits []hit
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits = hits[:0]
		for _, node := range s.graph.Search(query, min(fetch, total)) {
			rec, ok := s.records[node.Key]
			if !ok {
				continue
			}
			meta := map[string]any{}
			if len(rec.Metadata) > 0 {
				if err := json.Unmarshal(rec.Metadata, &meta); err != nil {
					return nil, fmt.Errorf("decode metadata: %w", err)
				}
			}
			if !matchesFilter(meta, filter) {
				continue
			}
			hits = append(hits, hit{rec: rec, meta: meta, distance: rawDistance(s.cfg.Strategy, query, rec.Embedding)})
		}
		if len(hits) >= k || fetch >= total {
			break
		}
		fetch *= 2
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]ScoredDocument, len(hits))
	for i, h := range hits {
		out[i] = ScoredDocument{
			Document: Document{
				PageContent:    h.rec.Document,
				Metadata:       h.meta,
				SourceLocation: h.rec.SourceLocation,
			},
			Score: scoreFromDistance(s.cfg.Strategy, h.distance),
		}
	}
	return out, nil
}

// Count returns the number of live rows.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// CountBySource returns the number of live rows for a location.
func (s *MemoryStore) CountBySource(location string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySource[location])
}

// MemoryStats reports live rows and lazily deleted graph nodes.
type MemoryStats struct {
	Records    int
	GraphNodes int
	Orphans    int
}

// Stats returns store statistics.
func (s *MemoryStore) Stats() MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return MemoryStats{}
	}
	nodes := s.graph.Len()
	return MemoryStats{Records: len(s.records), GraphNodes: nodes, Orphans: nodes - len(s.records)}
}

// Save writes live records to path atomically (temp file + rename).
func (s *MemoryStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("store is closed")
	}
	return s.saveLocked(path)
}

func (s *MemoryStore) saveLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	records := make([]VectorRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(memorySnapshot{Dimensions: s.cfg.Dimensions, Records: records}); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode records: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp, path)
}

type memorySnapshot struct {
	Dimensions int
	Records    []VectorRecord
}

func (s *MemoryStore) load(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open vector snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	var snap memorySnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode vector snapshot: %w", err)
	}
	if snap.Dimensions != s.cfg.Dimensions {
		return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: snap.Dimensions}
	}
	s.insertLocked(snap.Records)
	return nil
}

// Close persists to cfg.Path when configured. It is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var err error
	if s.cfg.Path != "" {
		err = s.saveLocked(s.cfg.Path)
	}
	s.closed = true
	s.graph = nil
	return err
}

func matchesFilter(meta map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok {
			return false
		}
		s, isString := got.(string)
		if !isString {
			s = fmt.Sprint(got)
		}
		if s != want {
			return false
		}
	}
	return true
}

func negativeInnerProduct(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return -dot
}

// rawDistance matches pgvector's <->, <=> and <#> operators.
func rawDistance(strategy DistanceStrategy, a, b []float32) float64 {
	var dot, na, nb, sq float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
		sq += (x - y) * (x - y)
	}
	switch strategy {
	case DistanceCosine:
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	case DistanceInner:
		return -dot
	default:
		return math.Sqrt(sq)
	}
}

// scoreFromDistance reports L2 distance as is, cosine as similarity and
// inner product un-negated.
func scoreFromDistance(strategy DistanceStrategy, distance float64) float64 {
	switch strategy {
	case DistanceCosine:
		return 1 - distance
	case DistanceInner:
		return -distance
	default:
		return distance
	}
}
