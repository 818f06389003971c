package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/kv"
)

// noWait retries immediately.
var noWait = cerrors.RetryConfig{MaxRetries: 2, Multiplier: 1}

func newTestCache(t *testing.T, objects *fakeObjects, records *fakeKV) *IndexingCache {
	t.Helper()
	c, err := New(Config{
		Bucket:                "bucket",
		Model:                 "all_mpnet_base_v2_768",
		BaseLocalPath:         "/data",
		SupportedContentTypes: []string{"text/plain"},
		MetadataRetry:         cerrors.RetryConfig{MaxRetries: 4, Multiplier: 1},
		UnprocessedRetry:      noWait,
	}, objects, records)
	require.NoError(t, err)
	return c
}

func keysN(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("docs/file-%03d.txt", i)
	}
	return keys
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Bucket: "b"}, newFakeObjects(), newFakeKV())
	assert.Error(t, err)

	_, err = New(Config{Model: "m"}, newFakeObjects(), newFakeKV())
	assert.Error(t, err)

	_, err = New(Config{Model: "m", Bucket: "b"}, nil, newFakeKV())
	assert.Error(t, err)
}

func TestFormatSourceLocation(t *testing.T) {
	c := newTestCache(t, newFakeObjects(), newFakeKV())

	assert.Equal(t, "s3://bucket/docs/a.txt", c.FormatSourceLocation("docs/a.txt"))
	assert.Equal(t, "s3://other/a.txt", c.FormatSourceLocation("s3://other/a.txt"))
}

func TestResolveEntitiesToIndex_NeverExecuted_ReturnsAll(t *testing.T) {
	// Given: 100 supported objects and no model status record
	objects := newFakeObjects()
	now := time.Now()
	for _, k := range keysN(100) {
		objects.add(k, "text/plain", now, nil)
	}
	records := newFakeKV()
	c := newTestCache(t, objects, records)

	// When: resolving with the delta check enabled
	entities, err := c.ResolveEntitiesToIndex(context.Background(), keysN(100), false)

	// Then: every entity is returned and no cache records were read
	require.NoError(t, err)
	assert.Len(t, entities, 100)
	assert.Equal(t, 0, records.batchGets)
	assert.Equal(t, 100, c.EntityCount())
	assert.Equal(t, "/data/docs/file-000.txt", entities[0].LocalPath)
	assert.Equal(t, "s3://bucket/docs/file-000.txt", entities[0].SourceLocation)
}

func TestResolveEntitiesToIndex_AllCached_ReturnsNone(t *testing.T) {
	// Given: a prior run indexed all 100 objects after they were modified
	ctx := context.Background()
	objects := newFakeObjects()
	modified := time.Now().Add(-time.Hour)
	for _, k := range keysN(100) {
		objects.add(k, "text/plain", modified, nil)
	}
	records := newFakeKV()
	seed := newTestCache(t, objects, records)
	require.NoError(t, seed.UpdateLastIndexed(ctx, sourceLocations(seed, keysN(100))))
	require.NoError(t, seed.UpdateModelLastExecuted(ctx))

	// When: a fresh cache resolves the same keys
	c := newTestCache(t, objects, records)
	entities, err := c.ResolveEntitiesToIndex(ctx, keysN(100), false)

	// Then: nothing needs indexing and gets were chunked at the batch limit
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.LessOrEqual(t, records.maxGetBatch, kv.MaxBatchGetItems)
	assert.LessOrEqual(t, records.maxWriteBatch, kv.MaxBatchWriteItems)
}

func TestResolveEntitiesToIndex_PartiallyModified(t *testing.T) {
	// Given: all objects indexed 6 minutes ago; even ones modified since
	ctx := context.Background()
	now := time.Now()
	objects := newFakeObjects()
	keys := keysN(100)
	for i, k := range keys {
		modified := now.Add(-720 * time.Second)
		if i%2 == 0 {
			modified = now
		}
		objects.add(k, "text/plain", modified, nil)
	}
	records := newFakeKV()
	seed := newTestCache(t, objects, records)
	seed.now = func() time.Time { return now.Add(-360 * time.Second) }
	require.NoError(t, seed.UpdateLastIndexed(ctx, sourceLocations(seed, keys)))
	require.NoError(t, seed.UpdateModelLastExecuted(ctx))

	// When: resolving
	c := newTestCache(t, objects, records)
	entities, err := c.ResolveEntitiesToIndex(ctx, keys, false)

	// Then: exactly the 50 modified entities, in input order
	require.NoError(t, err)
	require.Len(t, entities, 50)
	assert.Equal(t, keys[0], entities[0].ObjectKey)
	assert.Equal(t, keys[2], entities[1].ObjectKey)
}

func TestResolveEntitiesToIndex_SkipDeltaCheck(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	objects.add("a.txt", "text/plain", time.Now().Add(-time.Hour), nil)
	records := newFakeKV()
	c := newTestCache(t, objects, records)
	require.NoError(t, c.UpdateLastIndexed(ctx, []string{c.FormatSourceLocation("a.txt")}))
	require.NoError(t, c.UpdateModelLastExecuted(ctx))

	entities, err := c.ResolveEntitiesToIndex(ctx, []string{"a.txt"}, true)

	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestResolveEntitiesToIndex_SkipsUnsupportedContentType(t *testing.T) {
	// Given: one text file and one pdf
	objects := newFakeObjects()
	objects.add("a.txt", "text/plain", time.Now(), nil)
	objects.add("b.pdf", "application/pdf", time.Now(), nil)
	c := newTestCache(t, objects, newFakeKV())

	// When: resolving both
	entities, err := c.ResolveEntitiesToIndex(context.Background(), []string{"a.txt", "b.pdf"}, false)

	// Then: the pdf is skipped without failing the run
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "a.txt", entities[0].ObjectKey)
	assert.Equal(t, 1, c.SkippedUnsupported())
}

func TestResolveEntitiesToIndex_CountsArePerCall(t *testing.T) {
	// Given: a cache reused across two resolutions, as in watch mode
	objects := newFakeObjects()
	objects.add("a.txt", "text/plain", time.Now(), nil)
	objects.add("b.pdf", "application/pdf", time.Now(), nil)
	objects.add("c.txt", "text/plain", time.Now(), nil)
	c := newTestCache(t, objects, newFakeKV())
	ctx := context.Background()

	_, err := c.ResolveEntitiesToIndex(ctx, []string{"a.txt", "b.pdf", "c.txt"}, false)
	require.NoError(t, err)
	require.Equal(t, 1, c.SkippedUnsupported())
	require.Equal(t, 2, c.EntityCount())

	// When: the second resolution sees one supported object only
	_, err = c.ResolveEntitiesToIndex(ctx, []string{"c.txt"}, false)

	// Then: the counts describe that call alone
	require.NoError(t, err)
	assert.Equal(t, 0, c.SkippedUnsupported())
	assert.Equal(t, 1, c.EntityCount())
}

func TestResolveEntitiesToIndex_DuplicateKeysCollapse(t *testing.T) {
	objects := newFakeObjects()
	objects.add("a.txt", "text/plain", time.Now(), nil)
	c := newTestCache(t, objects, newFakeKV())

	entities, err := c.ResolveEntitiesToIndex(context.Background(), []string{"a.txt", "a.txt"}, false)

	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestResolveEntitiesToIndex_RetriesMetadata(t *testing.T) {
	// Given: a key whose head fails four times before succeeding
	objects := newFakeObjects()
	objects.add("a.txt", "text/plain", time.Now(), nil)
	objects.failFirst["a.txt"] = 4
	c := newTestCache(t, objects, newFakeKV())

	// When: resolving
	entities, err := c.ResolveEntitiesToIndex(context.Background(), []string{"a.txt"}, false)

	// Then: the fifth attempt succeeds
	require.NoError(t, err)
	assert.Len(t, entities, 1)
	assert.Equal(t, 5, objects.heads["a.txt"])
}

func TestResolveEntitiesToIndex_MetadataRetriesExhausted(t *testing.T) {
	objects := newFakeObjects()
	objects.add("a.txt", "text/plain", time.Now(), nil)
	objects.failFirst["a.txt"] = 5
	c := newTestCache(t, objects, newFakeKV())

	_, err := c.ResolveEntitiesToIndex(context.Background(), []string{"a.txt"}, false)

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeMetadataFetch, cerrors.GetCode(err))
	assert.True(t, cerrors.IsRetryable(err))
	assert.Equal(t, 5, objects.heads["a.txt"])
}

func TestResolveEntitiesToIndex_UnprocessedKeysRetried(t *testing.T) {
	// Given: a cached entity whose key is throttled twice
	ctx := context.Background()
	objects := newFakeObjects()
	objects.add("a.txt", "text/plain", time.Now().Add(-time.Hour), nil)
	records := newFakeKV()
	seed := newTestCache(t, objects, records)
	require.NoError(t, seed.UpdateLastIndexed(ctx, []string{seed.FormatSourceLocation("a.txt")}))
	require.NoError(t, seed.UpdateModelLastExecuted(ctx))
	records.getUnprocessed[seed.sourceLocationKey("a.txt")] = 2

	// When: resolving
	c := newTestCache(t, objects, records)
	entities, err := c.ResolveEntitiesToIndex(ctx, []string{"a.txt"}, false)

	// Then: the third attempt finds the record and the entity is excluded
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Equal(t, 3, records.batchGets)
}

func TestResolveEntitiesToIndex_UnprocessedKeysExhausted_TreatedAsNeverIndexed(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	objects.add("a.txt", "text/plain", time.Now().Add(-time.Hour), nil)
	records := newFakeKV()
	seed := newTestCache(t, objects, records)
	require.NoError(t, seed.UpdateLastIndexed(ctx, []string{seed.FormatSourceLocation("a.txt")}))
	require.NoError(t, seed.UpdateModelLastExecuted(ctx))
	records.getUnprocessed[seed.sourceLocationKey("a.txt")] = 10

	c := newTestCache(t, objects, records)
	entities, err := c.ResolveEntitiesToIndex(ctx, []string{"a.txt"}, false)

	require.NoError(t, err)
	assert.Len(t, entities, 1)
	assert.Equal(t, 3, records.batchGets)
}

func TestUpdateLastIndexed_ChunksAndRetriesUnprocessed(t *testing.T) {
	// Given: 60 locations, one of which is throttled once
	ctx := context.Background()
	records := newFakeKV()
	c := newTestCache(t, newFakeObjects(), records)
	locations := sourceLocations(c, keysN(60))
	records.writeUnprocessed[c.sourceLocationKey(locations[10])] = 1

	// When: recording them
	err := c.UpdateLastIndexed(ctx, locations)

	// Then: three chunks of at most 25 plus one retry, all records written
	require.NoError(t, err)
	assert.Equal(t, 4, records.batchWrites)
	assert.Equal(t, kv.MaxBatchWriteItems, records.maxWriteBatch)
	assert.Len(t, records.items, 60)
	item := records.items[c.sourceLocationKey(locations[10])]
	assert.Equal(t, locations[10], item.Attrs["id"])
	assert.Equal(t, "SOURCE_LOCATION#"+locations[10], item.Key.PK)
	assert.Equal(t, c.Model(), item.Key.SK)
}

func TestUpdateLastIndexed_UnprocessedExhausted(t *testing.T) {
	records := newFakeKV()
	c := newTestCache(t, newFakeObjects(), records)
	loc := c.FormatSourceLocation("a.txt")
	records.writeUnprocessed[c.sourceLocationKey(loc)] = 100

	err := c.UpdateLastIndexed(context.Background(), []string{loc})

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeCacheUnprocessed, cerrors.GetCode(err))
	assert.Equal(t, 3, records.batchWrites)
}

func TestModelLastExecuted_Memoized(t *testing.T) {
	// Given: a stored model status
	ctx := context.Background()
	records := newFakeKV()
	seed := newTestCache(t, newFakeObjects(), records)
	require.NoError(t, seed.UpdateModelLastExecuted(ctx))

	// When: read twice by a fresh cache
	c := newTestCache(t, newFakeObjects(), records)
	first, ok, err := c.GetModelLastExecuted(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	second, _, err := c.GetModelLastExecuted(ctx)
	require.NoError(t, err)

	// Then: the backend is hit once
	assert.True(t, first.Equal(second))
	assert.Equal(t, 1, records.gets)
	assert.Equal(t, "MODEL#"+c.Model(), c.modelStatusKey().PK)
	assert.Equal(t, "status", c.modelStatusKey().SK)
}

func TestResetCache(t *testing.T) {
	ctx := context.Background()
	records := newFakeKV()
	c := newTestCache(t, newFakeObjects(), records)

	// Given: no status record, reset is a no-op
	require.NoError(t, c.ResetCache(ctx))
	assert.Equal(t, 0, records.deletes)

	// Given: a status record and a source record
	loc := c.FormatSourceLocation("a.txt")
	require.NoError(t, c.UpdateLastIndexed(ctx, []string{loc}))
	require.NoError(t, c.UpdateModelLastExecuted(ctx))

	// When: reset
	require.NoError(t, c.ResetCache(ctx))

	// Then: only the model status is removed
	assert.Equal(t, 1, records.deletes)
	_, ok, err := c.GetModelLastExecuted(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, records.items, c.sourceLocationKey(loc))
}

func TestFilterKeysByLastIndexedSince(t *testing.T) {
	// Given: a indexed at t0, b never indexed
	ctx := context.Background()
	records := newFakeKV()
	c := newTestCache(t, newFakeObjects(), records)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return t0 }
	require.NoError(t, c.UpdateLastIndexed(ctx, []string{c.FormatSourceLocation("a.txt")}))
	require.NoError(t, c.UpdateModelLastExecuted(ctx))

	// Then: a is filtered out for an earlier since and kept for a later one
	keys, err := c.FilterKeysByLastIndexedSince(ctx, []string{"a.txt", "b.txt"}, t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, keys)

	keys, err = c.FilterKeysByLastIndexedSince(ctx, []string{"a.txt", "b.txt"}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, keys)
}

func sourceLocations(c *IndexingCache, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = c.FormatSourceLocation(k)
	}
	return out
}
