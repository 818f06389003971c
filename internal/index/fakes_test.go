package index

import (
	"context"
	"errors"
	"sync"

	"github.com/Aman-CERP/corpusindex/internal/cache"
	"github.com/Aman-CERP/corpusindex/internal/store"
)

// recordingVectors records the calls a worker makes against a vector store.
type recordingVectors struct {
	mu        sync.Mutex
	calls     []string
	deleted   []string
	inserted  []store.Document
	insertErr error
}

func (v *recordingVectors) EnsureSchema(context.Context) error { return nil }

func (v *recordingVectors) AddVectors(ctx context.Context, vectors [][]float32, docs []store.Document) error {
	return v.InsertVectors(ctx, vectors, docs)
}

func (v *recordingVectors) InsertVectors(_ context.Context, vectors [][]float32, docs []store.Document) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.insertErr != nil {
		return v.insertErr
	}
	if len(vectors) != len(docs) {
		return errors.New("vector and document counts differ")
	}
	v.calls = append(v.calls, "insert")
	v.inserted = append(v.inserted, docs...)
	return nil
}

func (v *recordingVectors) DeleteBySourceLocation(_ context.Context, locations ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, "delete")
	v.deleted = append(v.deleted, locations...)
	return nil
}

func (v *recordingVectors) SimilaritySearchVectorWithScore(context.Context, []float32, int, map[string]string) ([]store.ScoredDocument, error) {
	return nil, nil
}

func (v *recordingVectors) Close() error { return nil }

// recordingCache records UpdateLastIndexed calls.
type recordingCache struct {
	mu      sync.Mutex
	updates [][]string
	err     error
}

func (c *recordingCache) UpdateLastIndexed(_ context.Context, locations []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.updates = append(c.updates, append([]string(nil), locations...))
	return nil
}

func (c *recordingCache) indexed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, u := range c.updates {
		out = append(out, u...)
	}
	return out
}

type countingReporter struct {
	mu    sync.Mutex
	total int
}

func (r *countingReporter) OnEntitiesIndexed(n int) {
	r.mu.Lock()
	r.total += n
	r.mu.Unlock()
}

// memFiles serves entity contents from a map keyed by local path.
func memFiles(files map[string]string) FileReader {
	return func(path string) ([]byte, error) {
		text, ok := files[path]
		if !ok {
			return nil, errors.New("no such file: " + path)
		}
		return []byte(text), nil
	}
}

func entity(name string) cache.SourceEntity {
	return cache.SourceEntity{
		ObjectKey:      name,
		LocalPath:      "/data/" + name,
		SourceLocation: "s3://bucket/" + name,
		Metadata:       map[string]string{"title": name},
	}
}
