package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aman-CERP/corpusindex/internal/kv"
	"github.com/Aman-CERP/corpusindex/internal/objectstore"
)

// fakeObjects serves canned metadata, optionally failing the first N heads per key.
type fakeObjects struct {
	mu        sync.Mutex
	meta      map[string]objectstore.ObjectMetadata
	failFirst map[string]int
	heads     map[string]int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		meta:      map[string]objectstore.ObjectMetadata{},
		failFirst: map[string]int{},
		heads:     map[string]int{},
	}
}

func (f *fakeObjects) add(key, contentType string, modified time.Time, meta map[string]string) {
	f.meta[key] = objectstore.ObjectMetadata{ContentType: contentType, LastModified: modified, Metadata: meta}
}

func (f *fakeObjects) HeadMetadata(_ context.Context, key string) (objectstore.ObjectMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads[key]++
	if f.failFirst[key] > 0 {
		f.failFirst[key]--
		return objectstore.ObjectMetadata{}, fmt.Errorf("throttled: %s", key)
	}
	m, ok := f.meta[key]
	if !ok {
		return objectstore.ObjectMetadata{}, objectstore.ErrNotFound
	}
	return m, nil
}

func (f *fakeObjects) ListObjects(context.Context, string, []string) ([]string, error) {
	keys := make([]string, 0, len(f.meta))
	for k := range f.meta {
		keys = append(keys, k)
	}
	return keys, nil
}

// fakeKV is an in-memory kv.Store that can report keys or items as
// unprocessed a set number of times.
type fakeKV struct {
	mu               sync.Mutex
	items            map[kv.Key]kv.Item
	getUnprocessed   map[kv.Key]int
	writeUnprocessed map[kv.Key]int
	batchGets        int
	batchWrites      int
	maxGetBatch      int
	maxWriteBatch    int
	gets             int
	deletes          int
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		items:            map[kv.Key]kv.Item{},
		getUnprocessed:   map[kv.Key]int{},
		writeUnprocessed: map[kv.Key]int{},
	}
}

func (f *fakeKV) GetItem(_ context.Context, key kv.Key) (kv.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	item, ok := f.items[key]
	if !ok {
		return kv.Item{}, kv.ErrNotFound
	}
	return item, nil
}

func (f *fakeKV) PutItem(_ context.Context, item kv.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.Key] = item
	return nil
}

func (f *fakeKV) DeleteItem(_ context.Context, key kv.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.items, key)
	return nil
}

func (f *fakeKV) BatchGetItems(_ context.Context, keys []kv.Key) ([]kv.Item, []kv.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(keys) > kv.MaxBatchGetItems {
		return nil, nil, kv.ErrBatchTooLarge
	}
	f.batchGets++
	f.maxGetBatch = max(f.maxGetBatch, len(keys))
	var found []kv.Item
	var unprocessed []kv.Key
	for _, k := range keys {
		if f.getUnprocessed[k] > 0 {
			f.getUnprocessed[k]--
			unprocessed = append(unprocessed, k)
			continue
		}
		if item, ok := f.items[k]; ok {
			found = append(found, item)
		}
	}
	return found, unprocessed, nil
}

func (f *fakeKV) BatchWriteItems(_ context.Context, items []kv.Item) ([]kv.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(items) > kv.MaxBatchWriteItems {
		return nil, kv.ErrBatchTooLarge
	}
	f.batchWrites++
	f.maxWriteBatch = max(f.maxWriteBatch, len(items))
	var unprocessed []kv.Item
	for _, item := range items {
		if f.writeUnprocessed[item.Key] > 0 {
			f.writeUnprocessed[item.Key]--
			unprocessed = append(unprocessed, item)
			continue
		}
		f.items[item.Key] = item
	}
	return unprocessed, nil
}

func (f *fakeKV) Close() error { return nil }
