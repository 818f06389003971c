package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure Go driver
)

// SQLiteStore implements Store on a single SQLite table.
// Batches are applied in one transaction, so nothing is ever left unprocessed.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path with the given table.
// Use ":memory:" for a throwaway store.
func NewSQLiteStore(path, table string) (*SQLiteStore, error) {
	if !validIdent(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, table: table}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		pk TEXT NOT NULL,
		sk TEXT NOT NULL,
		attrs TEXT NOT NULL,
		PRIMARY KEY (pk, sk)
	)`, s.table))
	return err
}

// GetItem returns ErrNotFound when no record exists.
func (s *SQLiteStore) GetItem(ctx context.Context, key Key) (Item, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT attrs FROM %s WHERE pk = ? AND sk = ?", s.table),
		key.PK, key.SK).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	return decodeItem(key, raw)
}

// PutItem inserts or replaces the record.
func (s *SQLiteStore) PutItem(ctx context.Context, item Item) error {
	raw, err := json.Marshal(item.Attrs)
	if err != nil {
		return fmt.Errorf("encode attrs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (pk, sk, attrs) VALUES (?, ?, ?)", s.table),
		item.Key.PK, item.Key.SK, string(raw))
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// DeleteItem is a no-op for missing records.
func (s *SQLiteStore) DeleteItem(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE pk = ? AND sk = ?", s.table),
		key.PK, key.SK)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// BatchGetItems never reports unprocessed keys.
func (s *SQLiteStore) BatchGetItems(ctx context.Context, keys []Key) ([]Item, []Key, error) {
	if len(keys) > MaxBatchGetItems {
		return nil, nil, ErrBatchTooLarge
	}
	found := make([]Item, 0, len(keys))
	for _, key := range keys {
		item, err := s.GetItem(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		found = append(found, item)
	}
	return found, nil, nil
}

// BatchWriteItems writes all items in one transaction.
func (s *SQLiteStore) BatchWriteItems(ctx context.Context, items []Item) ([]Item, error) {
	if len(items) > MaxBatchWriteItems {
		return nil, ErrBatchTooLarge
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (pk, sk, attrs) VALUES (?, ?, ?)", s.table))
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		raw, err := json.Marshal(item.Attrs)
		if err != nil {
			return nil, fmt.Errorf("encode attrs: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, item.Key.PK, item.Key.SK, string(raw)); err != nil {
			return nil, fmt.Errorf("batch write: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return nil, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeItem(key Key, raw string) (Item, error) {
	attrs := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return Item{}, fmt.Errorf("decode attrs for %s/%s: %w", key.PK, key.SK, err)
	}
	return Item{Key: key, Attrs: attrs}, nil
}

func validIdent(name string) bool {
	if name == "" {
		return false
	}
	return strings.IndexFunc(name, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) < 0
}
