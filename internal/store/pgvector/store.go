// Package pgvector implements the vector store engine on PostgreSQL with the
// pgvector extension, using pgx connection pools.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/store"
)

// SchemaState tracks how far schema setup has progressed.
type SchemaState int

const (
	Uninitialized SchemaState = iota
	ExtensionEnabled
	TableReady
	Indexed
)

func (s SchemaState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case ExtensionEnabled:
		return "extension_enabled"
	case TableReady:
		return "table_ready"
	case Indexed:
		return "indexed"
	default:
		return "unknown"
	}
}

// insertColumns is the number of bind parameters per inserted row.
const insertColumns = 5

// maxRowsPerStatement keeps a multi-row INSERT under the 65535 parameter limit.
const maxRowsPerStatement = 65535 / insertColumns

// Config configures a Store.
type Config struct {
	TableName             string
	Dimensions            int
	Strategy              store.DistanceStrategy
	DefaultSourceLocation string
	// CatchSearchErrors logs search failures and returns no results.
	CatchSearchErrors bool
	// Host keys the vector type OID cache.
	Host string
}

// Store is a pgvector-backed store.VectorStore and store.IndexManager.
type Store struct {
	db    DB
	cfg   Config
	table string

	mu      sync.Mutex
	state   SchemaState
	indexes map[store.DistanceStrategy]bool
}

var (
	_ store.VectorStore  = (*Store)(nil)
	_ store.IndexManager = (*Store)(nil)
)

// New creates a Store over db.
func New(db DB, cfg Config) (*Store, error) {
	if cfg.TableName == "" {
		return nil, cerrors.ValidationError("pgvector table name is required", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, cerrors.ValidationError(fmt.Sprintf("invalid vector dimensions %d", cfg.Dimensions), nil)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = store.DistanceL2
	}
	if cfg.DefaultSourceLocation == "" {
		cfg.DefaultSourceLocation = store.DefaultSourceLocation
	}
	return &Store{
		db:      db,
		cfg:     cfg,
		table:   pgx.Identifier{cfg.TableName}.Sanitize(),
		indexes: make(map[store.DistanceStrategy]bool),
	}, nil
}

// TableName returns the unquoted table name.
func (s *Store) TableName() string { return s.cfg.TableName }

// State returns the schema setup progress observed by this Store.
func (s *Store) State() SchemaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) advance(to SchemaState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to > s.state {
		s.state = to
	}
}

// EnsureSchema enables the extension and creates the table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.CreateVectorExtension(ctx); err != nil {
		return err
	}
	return s.CreateTableIfNotExists(ctx)
}

// CreateVectorExtension enables pgvector and resolves its type OID. New
// connections opened afterwards register the vector codec.
func (s *Store) CreateVectorExtension(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to create vector extension", err)
	}

	forgetVectorOID(s.cfg.Host)
	if _, err := lookupVectorOID(ctx, s.db, s.cfg.Host); err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to resolve vector type", err)
	}
	if r, ok := s.db.(interface{ Reset() }); ok {
		r.Reset()
	}
	s.advance(ExtensionEnabled)
	return nil
}

// CreateTableIfNotExists creates the embeddings table.
func (s *Store) CreateTableIfNotExists(ctx context.Context) error {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id uuid primary key, source_location text, document text, cmetadata jsonb, embeddings vector(%d))`,
		s.table, s.cfg.Dimensions)
	if _, err := s.db.Exec(ctx, sql); err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to create table "+s.cfg.TableName, err)
	}
	s.advance(TableReady)
	return nil
}

// TableExists reports whether the table exists in the public schema.
func (s *Store) TableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = $1)`,
		s.cfg.TableName).Scan(&exists)
	if err != nil {
		return false, cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to check table", err)
	}
	return exists, nil
}

// IndexExists reports whether the index for strategy exists.
func (s *Store) IndexExists(ctx context.Context, strategy store.DistanceStrategy) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_indexes WHERE schemaname = 'public' AND indexname = $1)`,
		strategy.IndexName()).Scan(&exists)
	if err != nil {
		return false, cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to check index", err)
	}
	return exists, nil
}

func opClass(strategy store.DistanceStrategy) string {
	switch strategy {
	case store.DistanceCosine:
		return "vector_cosine_ops"
	case store.DistanceInner:
		return "vector_ip_ops"
	default:
		return "vector_l2_ops"
	}
}

// CreateIndexIfNotExisting creates an ivfflat index per requested strategy.
// With dropOthers, indexes of strategies not requested are dropped. No
// strategies means the store's own strategy.
func (s *Store) CreateIndexIfNotExisting(ctx context.Context, lists int, strategies []store.DistanceStrategy, dropOthers, concurrently bool) error {
	if lists <= 0 {
		lists = 100
	}
	if len(strategies) == 0 {
		strategies = []store.DistanceStrategy{s.cfg.Strategy}
	}
	wanted := make(map[store.DistanceStrategy]bool, len(strategies))
	for _, st := range strategies {
		wanted[st] = true
	}
	conc := ""
	if concurrently {
		conc = " CONCURRENTLY"
	}

	for _, st := range store.AllStrategies {
		var sql string
		switch {
		case wanted[st]:
			sql = fmt.Sprintf(`CREATE INDEX%s IF NOT EXISTS %s ON %s USING ivfflat (embeddings %s) WITH (lists = %d)`,
				conc, st.IndexName(), s.table, opClass(st), lists)
		case dropOthers:
			sql = fmt.Sprintf(`DROP INDEX%s IF EXISTS %s`, conc, st.IndexName())
		default:
			continue
		}
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to update index "+st.IndexName(), err)
		}
		s.mu.Lock()
		if wanted[st] {
			s.indexes[st] = true
		} else {
			delete(s.indexes, st)
		}
		s.mu.Unlock()
		slog.Info("pgvector_index_updated",
			slog.String("index", st.IndexName()),
			slog.Bool("created", wanted[st]),
			slog.Int("lists", lists))
	}
	s.advance(Indexed)
	return nil
}

// Indexes returns the strategies indexed through this Store, sorted.
func (s *Store) Indexes() []store.DistanceStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.DistanceStrategy, 0, len(s.indexes))
	for st := range s.indexes {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Truncate removes every row when the table exists.
func (s *Store) Truncate(ctx context.Context) error {
	exists, err := s.TableExists(ctx)
	if err != nil || !exists {
		return err
	}
	if _, err := s.db.Exec(ctx, `TRUNCATE `+s.table); err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorWrite, "failed to truncate "+s.cfg.TableName, err)
	}
	return nil
}

// DeleteBySourceLocation removes the rows of every given location except the
// default one.
func (s *Store) DeleteBySourceLocation(ctx context.Context, locations ...string) error {
	locs := store.FilterLocations(locations, s.cfg.DefaultSourceLocation)
	if len(locs) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, s.deleteSQL(), locs); err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorWrite, "failed to delete by source location", err)
	}
	return nil
}

func (s *Store) deleteSQL() string {
	return `DELETE FROM ` + s.table + ` WHERE source_location = ANY($1)`
}

// AddVectors replaces the rows of every source location in docs with docs,
// in one transaction.
func (s *Store) AddVectors(ctx context.Context, vectors [][]float32, docs []store.Document) error {
	records, err := store.NewRecords(vectors, docs, s.cfg.Dimensions, s.cfg.DefaultSourceLocation)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorWrite, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if locs := store.DistinctSourceLocations(docs, s.cfg.DefaultSourceLocation); len(locs) > 0 {
		if _, err := tx.Exec(ctx, s.deleteSQL(), locs); err != nil {
			return cerrors.BackendError(cerrors.ErrCodeVectorWrite, "failed to delete by source location", err)
		}
	}
	if err := s.insert(ctx, tx, records); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorWrite, "failed to commit vectors", err)
	}
	return nil
}

// InsertVectors appends rows without deleting.
func (s *Store) InsertVectors(ctx context.Context, vectors [][]float32, docs []store.Document) error {
	records, err := store.NewRecords(vectors, docs, s.cfg.Dimensions, s.cfg.DefaultSourceLocation)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	return s.insert(ctx, s.db, records)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) insert(ctx context.Context, db execer, records []store.VectorRecord) error {
	for start := 0; start < len(records); start += maxRowsPerStatement {
		batch := records[start:min(start+maxRowsPerStatement, len(records))]
		sql, args := s.insertSQL(batch)
		if _, err := db.Exec(ctx, sql, args...); err != nil {
			return cerrors.BackendError(cerrors.ErrCodeVectorWrite,
				fmt.Sprintf("failed to insert %d vectors", len(batch)), err)
		}
	}
	return nil
}

func (s *Store) insertSQL(records []store.VectorRecord) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO `)
	b.WriteString(s.table)
	b.WriteString(` (id, source_location, document, cmetadata, embeddings) VALUES `)
	args := make([]any, 0, len(records)*insertColumns)
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * insertColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d::vector)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, rec.ID.String(), rec.SourceLocation, rec.Document, rec.Metadata, FormatVector(rec.Embedding))
	}
	return b.String(), args
}

func distanceOperator(strategy store.DistanceStrategy) string {
	switch strategy {
	case store.DistanceCosine:
		return "<=>"
	case store.DistanceInner:
		return "<#>"
	default:
		return "<->"
	}
}

// searchSQL builds the search statement. $1 is the query vector, filters
// follow as key/value pairs and the limit is last.
func (s *Store) searchSQL(filter map[string]string) (string, []string) {
	distance := "embeddings " + distanceOperator(s.cfg.Strategy) + " $1::vector"
	var score string
	switch s.cfg.Strategy {
	case store.DistanceCosine:
		score = "1 - (" + distance + ")"
	case store.DistanceInner:
		score = "(" + distance + ") * -1"
	default:
		score = distance
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, source_location, document, cmetadata, %s AS score FROM %s", score, s.table)
	param := 2
	for i := range keys {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "cmetadata ->> $%d = $%d", param, param+1)
		param += 2
	}
	fmt.Fprintf(&b, " ORDER BY %s ASC LIMIT $%d", distance, param)
	return b.String(), keys
}

// SimilaritySearchVectorWithScore returns up to k rows nearest to query whose
// metadata matches every filter entry.
func (s *Store) SimilaritySearchVectorWithScore(ctx context.Context, query []float32, k int, filter map[string]string) ([]store.ScoredDocument, error) {
	if len(query) != s.cfg.Dimensions {
		return nil, store.ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(query)}
	}
	if k <= 0 {
		return []store.ScoredDocument{}, nil
	}

	results, err := s.search(ctx, query, k, filter)
	if err != nil {
		slog.Error("similarity_search_failed",
			slog.String("table", s.cfg.TableName),
			slog.String("error", err.Error()))
		if s.cfg.CatchSearchErrors {
			return []store.ScoredDocument{}, nil
		}
		return nil, cerrors.BackendError(cerrors.ErrCodeVectorSearch, "similarity search failed", err)
	}
	return results, nil
}

func (s *Store) search(ctx context.Context, query []float32, k int, filter map[string]string) ([]store.ScoredDocument, error) {
	sql, keys := s.searchSQL(filter)
	args := make([]any, 0, 2+2*len(keys))
	args = append(args, FormatVector(query))
	for _, key := range keys {
		args = append(args, key, filter[key])
	}
	args = append(args, k)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.ScoredDocument{}
	for rows.Next() {
		var (
			id, location, document string
			meta                   []byte
			score                  float64
		)
		if err := rows.Scan(&id, &location, &document, &meta, &score); err != nil {
			return nil, err
		}
		doc, err := newDocument(location, document, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, store.ScoredDocument{Document: doc, Score: score})
	}
	return out, rows.Err()
}

// GetBySourceLocation returns every row stored for location, embeddings included.
func (s *Store) GetBySourceLocation(ctx context.Context, location string) ([]store.VectorRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, source_location, document, cmetadata, embeddings FROM `+s.table+` WHERE source_location = $1`,
		location)
	if err != nil {
		return nil, cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to read vectors", err)
	}
	defer rows.Close()

	var out []store.VectorRecord
	for rows.Next() {
		var (
			id, loc, document string
			meta              []byte
			embedding         []float32
		)
		if err := rows.Scan(&id, &loc, &document, &meta, &embedding); err != nil {
			return nil, cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to scan vector row", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid row id %q: %w", id, err)
		}
		out = append(out, store.VectorRecord{
			ID:             parsed,
			SourceLocation: loc,
			Document:       document,
			Metadata:       json.RawMessage(meta),
			Embedding:      embedding,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to read vectors", err)
	}
	return out, nil
}

func newDocument(location, content string, meta []byte) (store.Document, error) {
	doc := store.Document{PageContent: content, SourceLocation: location, Metadata: map[string]any{}}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return store.Document{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return doc, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}
