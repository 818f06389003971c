// Package cache decides which source entities need re-indexing for a model.
//
// Per-source last-indexed timestamps and a per-model last-executed record live
// in a kv.Store. Object metadata (content type, last modified, user metadata)
// comes from an objectstore.ObjectStore.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/kv"
	"github.com/Aman-CERP/corpusindex/internal/objectstore"
)

const (
	sourceLocationPrefix = "SOURCE_LOCATION#"
	modelPrefix          = "MODEL#"
	modelStatusSK        = "status"

	attrID        = "id"
	attrTimestamp = "timestamp"

	// DefaultMetadataConcurrency caps concurrent HeadMetadata calls.
	DefaultMetadataConcurrency = 1000
)

// SourceEntity is a document eligible for indexing.
type SourceEntity struct {
	ObjectKey string
	LocalPath string
	// SourceLocation is the canonical s3://bucket/key URI.
	SourceLocation string
	Metadata       map[string]string
	LastModified   time.Time
}

// Config configures an IndexingCache.
type Config struct {
	Bucket                string
	Model                 string
	BaseLocalPath         string
	SupportedContentTypes []string
	MetadataConcurrency   int
	MetadataRetry         cerrors.RetryConfig
	UnprocessedRetry      cerrors.RetryConfig
}

// IndexingCache tracks per-source and per-model indexing state.
// It is safe for concurrent use.
type IndexingCache struct {
	cfg     Config
	objects objectstore.ObjectStore
	records kv.Store
	now     func() time.Time

	mu                 sync.Mutex
	entities           map[string]SourceEntity
	lastIndexed        map[string]time.Time
	modelLastExecuted  time.Time
	modelStatusLoaded  bool
	skippedUnsupported int
}

// New creates an IndexingCache. Zero-valued retry and concurrency settings
// take their defaults.
func New(cfg Config, objects objectstore.ObjectStore, records kv.Store) (*IndexingCache, error) {
	if cfg.Model == "" {
		return nil, cerrors.ValidationError("cache model is required", nil)
	}
	if cfg.Bucket == "" {
		return nil, cerrors.ValidationError("cache bucket is required", nil)
	}
	if objects == nil || records == nil {
		return nil, cerrors.ValidationError("cache requires an object store and a record store", nil)
	}
	if cfg.MetadataConcurrency <= 0 {
		cfg.MetadataConcurrency = DefaultMetadataConcurrency
	}
	if cfg.MetadataRetry.Multiplier == 0 {
		cfg.MetadataRetry = cerrors.MetadataRetryConfig()
	}
	if cfg.UnprocessedRetry.Multiplier == 0 {
		cfg.UnprocessedRetry = cerrors.UnprocessedRetryConfig()
	}
	if len(cfg.SupportedContentTypes) == 0 {
		cfg.SupportedContentTypes = []string{"text/plain"}
	}

	return &IndexingCache{
		cfg:         cfg,
		objects:     objects,
		records:     records,
		now:         time.Now,
		entities:    make(map[string]SourceEntity),
		lastIndexed: make(map[string]time.Time),
	}, nil
}

// Model returns the model id the cache records are keyed by.
func (c *IndexingCache) Model() string { return c.cfg.Model }

// EntityCount returns the number of entities resolved by the last
// ResolveEntitiesToIndex call.
func (c *IndexingCache) EntityCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entities)
}

// SkippedUnsupported returns how many objects the last ResolveEntitiesToIndex
// call skipped for their content type.
func (c *IndexingCache) SkippedUnsupported() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skippedUnsupported
}

// FormatSourceLocation returns key unchanged if it is already an s3:// URI,
// otherwise s3://<bucket>/<key>.
func (c *IndexingCache) FormatSourceLocation(key string) string {
	if strings.HasPrefix(key, "s3://") {
		return key
	}
	return fmt.Sprintf("s3://%s/%s", c.cfg.Bucket, key)
}

func (c *IndexingCache) sourceLocationKey(sourceLocation string) kv.Key {
	return kv.Key{PK: sourceLocationPrefix + c.FormatSourceLocation(sourceLocation), SK: c.cfg.Model}
}

func (c *IndexingCache) modelStatusKey() kv.Key {
	return kv.Key{PK: modelPrefix + c.cfg.Model, SK: modelStatusSK}
}

// ResolveEntitiesToIndex resolves object metadata for keys and returns the
// entities needing indexing, in input order.
func (c *IndexingCache) ResolveEntitiesToIndex(ctx context.Context, objectKeys []string, skipDeltaCheck bool) ([]SourceEntity, error) {
	c.mu.Lock()
	clear(c.entities)
	c.skippedUnsupported = 0
	c.mu.Unlock()

	resolved, err := c.resolveMetadata(ctx, objectKeys)
	if err != nil {
		return nil, err
	}
	if skipDeltaCheck || len(resolved) == 0 {
		return resolved, nil
	}

	lastExecuted, ok, err := c.GetModelLastExecuted(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Debug("model_never_executed", slog.String("model", c.cfg.Model))
		return resolved, nil
	}
	slog.Debug("model_last_executed",
		slog.String("model", c.cfg.Model),
		slog.Time("timestamp", lastExecuted))

	locations := make([]string, len(resolved))
	for i, e := range resolved {
		locations[i] = e.SourceLocation
	}
	if err := c.resolveLastIndexed(ctx, locations); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SourceEntity, 0, len(resolved))
	for _, e := range resolved {
		last, ok := c.lastIndexed[e.SourceLocation]
		if !ok || last.Before(e.LastModified) {
			out = append(out, e)
		}
	}
	return out, nil
}

// resolveMetadata fetches head metadata for every key with bounded
// concurrency and retries. Unsupported content types are skipped.
func (c *IndexingCache) resolveMetadata(ctx context.Context, objectKeys []string) ([]SourceEntity, error) {
	slog.Info("resolving_object_metadata", slog.Int("count", len(objectKeys)))

	results := make([]*SourceEntity, len(objectKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MetadataConcurrency)

	for i, key := range objectKeys {
		g.Go(func() error {
			entity, err := c.resolveOne(gctx, key)
			if err != nil {
				return err
			}
			results[i] = entity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(results))
	out := make([]SourceEntity, 0, len(results))
	c.mu.Lock()
	for _, e := range results {
		if e == nil {
			continue
		}
		if _, dup := seen[e.SourceLocation]; dup {
			continue
		}
		seen[e.SourceLocation] = struct{}{}
		c.entities[e.SourceLocation] = *e
		out = append(out, *e)
	}
	c.mu.Unlock()

	slog.Info("resolved_object_metadata",
		slog.Int("count", len(objectKeys)),
		slog.Int("eligible", len(out)))
	return out, nil
}

// resolveOne returns nil for objects with an unsupported content type.
func (c *IndexingCache) resolveOne(ctx context.Context, key string) (*SourceEntity, error) {
	sourceLocation := c.FormatSourceLocation(key)

	meta, err := cerrors.RetryWithResult(ctx, c.cfg.MetadataRetry, func() (objectstore.ObjectMetadata, error) {
		m, err := c.objects.HeadMetadata(ctx, key)
		if err != nil {
			slog.Warn("object_metadata_fetch_failed",
				slog.String("source_location", sourceLocation),
				slog.String("error", err.Error()))
		}
		return m, err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, cerrors.BackendError(cerrors.ErrCodeMetadataFetch,
			fmt.Sprintf("failed to resolve object metadata for %s", sourceLocation), err).
			WithDetail("source_location", sourceLocation)
	}

	if !slices.Contains(c.cfg.SupportedContentTypes, meta.ContentType) {
		slog.Warn("unsupported_content_type",
			slog.String("code", cerrors.ErrCodeUnsupportedContentType),
			slog.String("source_location", sourceLocation),
			slog.String("content_type", meta.ContentType))
		c.mu.Lock()
		c.skippedUnsupported++
		c.mu.Unlock()
		return nil, nil
	}

	lastModified := meta.LastModified
	if lastModified.IsZero() {
		lastModified = c.now()
	}
	return &SourceEntity{
		ObjectKey:      key,
		LocalPath:      filepath.Join(c.cfg.BaseLocalPath, filepath.FromSlash(key)),
		SourceLocation: sourceLocation,
		Metadata:       NormalizeMetadata(meta.Metadata),
		LastModified:   lastModified,
	}, nil
}

// resolveLastIndexed loads cache records for the given locations into the
// in-memory map. Keys the backend leaves unprocessed are retried a bounded
// number of times and then treated as never indexed.
func (c *IndexingCache) resolveLastIndexed(ctx context.Context, sourceLocations []string) error {
	pending := make([]kv.Key, len(sourceLocations))
	for i, loc := range sourceLocations {
		pending[i] = c.sourceLocationKey(loc)
	}

	retry := c.cfg.UnprocessedRetry
	for attempt := 0; len(pending) > 0; attempt++ {
		var unprocessed []kv.Key
		for start := 0; start < len(pending); start += kv.MaxBatchGetItems {
			end := min(start+kv.MaxBatchGetItems, len(pending))
			found, left, err := c.records.BatchGetItems(ctx, pending[start:end])
			if err != nil {
				return cerrors.BackendError(cerrors.ErrCodeCacheBackend, "failed to read cache records", err)
			}
			c.storeLastIndexed(found)
			unprocessed = append(unprocessed, left...)
		}

		pending = unprocessed
		if len(pending) == 0 {
			break
		}
		if attempt >= retry.MaxRetries {
			slog.Warn("cache_keys_unprocessed",
				slog.String("code", cerrors.ErrCodeCacheUnprocessed),
				slog.Int("count", len(pending)),
				slog.Int("attempts", attempt+1))
			break
		}
		if err := cerrors.Sleep(ctx, retry.Delay(attempt)); err != nil {
			return err
		}
	}
	return nil
}

func (c *IndexingCache) storeLastIndexed(items []kv.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range items {
		id := item.Attrs[attrID]
		if id == "" {
			id = strings.TrimPrefix(item.Key.PK, sourceLocationPrefix)
		}
		ts, err := parseTimestamp(item.Attrs[attrTimestamp])
		if err != nil {
			slog.Warn("cache_record_bad_timestamp",
				slog.String("source_location", id),
				slog.String("error", err.Error()))
			continue
		}
		c.lastIndexed[id] = ts
	}
}

// UpdateLastIndexed records now as the last-indexed time of each source.
func (c *IndexingCache) UpdateLastIndexed(ctx context.Context, sourceLocations []string) error {
	if len(sourceLocations) == 0 {
		return nil
	}
	now := c.now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	pending := make([]kv.Item, len(sourceLocations))
	for i, loc := range sourceLocations {
		pending[i] = kv.Item{
			Key:   c.sourceLocationKey(loc),
			Attrs: map[string]string{attrID: loc, attrTimestamp: timestamp},
		}
	}

	retry := c.cfg.UnprocessedRetry
	for attempt := 0; ; attempt++ {
		var unprocessed []kv.Item
		for start := 0; start < len(pending); start += kv.MaxBatchWriteItems {
			end := min(start+kv.MaxBatchWriteItems, len(pending))
			left, err := c.records.BatchWriteItems(ctx, pending[start:end])
			if err != nil {
				return cerrors.BackendError(cerrors.ErrCodeCacheBackend, "failed to write cache records", err)
			}
			unprocessed = append(unprocessed, left...)
		}

		pending = unprocessed
		if len(pending) == 0 {
			break
		}
		if attempt >= retry.MaxRetries {
			return cerrors.New(cerrors.ErrCodeCacheUnprocessed,
				fmt.Sprintf("%d cache records left unprocessed after %d attempts", len(pending), attempt+1), nil)
		}
		slog.Debug("cache_write_retry",
			slog.Int("unprocessed", len(pending)),
			slog.Int("attempt", attempt+1))
		if err := cerrors.Sleep(ctx, retry.Delay(attempt)); err != nil {
			return err
		}
	}

	c.mu.Lock()
	for _, loc := range sourceLocations {
		c.lastIndexed[loc] = now
	}
	c.mu.Unlock()
	return nil
}

// UpdateModelLastExecuted writes the model status record with the current time.
func (c *IndexingCache) UpdateModelLastExecuted(ctx context.Context) error {
	now := c.now().UTC()
	item := kv.Item{
		Key:   c.modelStatusKey(),
		Attrs: map[string]string{attrID: c.cfg.Model, attrTimestamp: now.Format(time.RFC3339Nano)},
	}
	if err := c.records.PutItem(ctx, item); err != nil {
		return cerrors.BackendError(cerrors.ErrCodeCacheBackend, "failed to write model status", err)
	}

	c.mu.Lock()
	c.modelLastExecuted = now
	c.modelStatusLoaded = true
	c.mu.Unlock()
	return nil
}

// GetModelLastExecuted returns the time of the last successful run for the
// model. The first successful read is memoized.
func (c *IndexingCache) GetModelLastExecuted(ctx context.Context) (time.Time, bool, error) {
	c.mu.Lock()
	if c.modelStatusLoaded {
		t := c.modelLastExecuted
		c.mu.Unlock()
		return t, !t.IsZero(), nil
	}
	c.mu.Unlock()

	item, err := c.records.GetItem(ctx, c.modelStatusKey())
	if errors.Is(err, kv.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, cerrors.BackendError(cerrors.ErrCodeCacheBackend, "failed to read model status", err)
	}

	ts, err := parseTimestamp(item.Attrs[attrTimestamp])
	if err != nil {
		slog.Warn("model_status_bad_timestamp", slog.String("error", err.Error()))
		return time.Time{}, false, nil
	}

	c.mu.Lock()
	c.modelLastExecuted = ts
	c.modelStatusLoaded = true
	c.mu.Unlock()
	return ts, true, nil
}

// ResetCache deletes the model status record if one exists, which makes the
// next run re-index everything. Per-source records are left in place.
func (c *IndexingCache) ResetCache(ctx context.Context) error {
	_, ok, err := c.GetModelLastExecuted(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := c.records.DeleteItem(ctx, c.modelStatusKey()); err != nil {
		return cerrors.BackendError(cerrors.ErrCodeCacheBackend, "failed to delete model status", err)
	}

	c.mu.Lock()
	c.modelLastExecuted = time.Time{}
	c.modelStatusLoaded = false
	c.mu.Unlock()
	slog.Info("cache_reset", slog.String("model", c.cfg.Model))
	return nil
}

// FilterKeysByLastIndexedSince returns the keys never indexed or last indexed
// before since.
func (c *IndexingCache) FilterKeysByLastIndexedSince(ctx context.Context, objectKeys []string, since time.Time) ([]string, error) {
	if _, ok, err := c.GetModelLastExecuted(ctx); err != nil {
		return nil, err
	} else if ok {
		locations := make([]string, len(objectKeys))
		for i, k := range objectKeys {
			locations[i] = c.FormatSourceLocation(k)
		}
		if err := c.resolveLastIndexed(ctx, locations); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(objectKeys))
	for _, k := range objectKeys {
		last, ok := c.lastIndexed[c.FormatSourceLocation(k)]
		if !ok || last.Before(since) {
			out = append(out, k)
		}
	}
	slog.Debug("filtered_keys_by_last_indexed",
		slog.Time("since", since),
		slog.Int("from", len(objectKeys)),
		slog.Int("to", len(out)))
	return out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, s)
}
