// Package kv defines the partition/sort-key record store backing the
// indexing cache, with DynamoDB and SQLite implementations.
package kv

import (
	"context"
	"errors"
)

// Batch limits mirror DynamoDB's BatchGetItem and BatchWriteItem caps.
const (
	MaxBatchGetItems   = 100
	MaxBatchWriteItems = 25
)

var (
	// ErrBatchTooLarge is returned when a batch exceeds the store limits.
	ErrBatchTooLarge = errors.New("kv: batch exceeds maximum size")
	// ErrNotFound is returned by GetItem when no record exists.
	ErrNotFound = errors.New("kv: item not found")
)

// Key addresses a record by partition and sort key.
type Key struct {
	PK string
	SK string
}

// Item is a record with string attributes.
type Item struct {
	Key   Key
	Attrs map[string]string
}

// Store is a key-value record store with batch operations.
// Implementations must be safe for concurrent use.
type Store interface {
	GetItem(ctx context.Context, key Key) (Item, error)
	PutItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, key Key) error

	// BatchGetItems returns the items found and the keys the backend did
	// not process. Missing keys appear in neither.
	BatchGetItems(ctx context.Context, keys []Key) (found []Item, unprocessed []Key, err error)

	// BatchWriteItems puts items and returns the ones the backend did not
	// process.
	BatchWriteItems(ctx context.Context, items []Item) (unprocessed []Item, err error)

	Close() error
}
