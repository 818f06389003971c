package pgvector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VectorTypeName is the Postgres type installed by the pgvector extension.
const VectorTypeName = "vector"

// DefaultMaxConns bounds the pool, matching a small serverless footprint.
const DefaultMaxConns = 3

// DB is the subset of *pgxpool.Pool the engine uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

var _ DB = (*pgxpool.Pool)(nil)

// vectorOIDs memoizes the vector type OID per host.
var vectorOIDs sync.Map

var errNoVectorType = errors.New("vector extension not available")

// queryRower is satisfied by *pgx.Conn and DB.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const vectorTypeQuery = `SELECT typname, oid, typarray FROM pg_type WHERE typname = $1`

// lookupVectorOID returns the vector type OID for host, querying q on a miss.
func lookupVectorOID(ctx context.Context, q queryRower, host string) (uint32, error) {
	if oid, ok := vectorOIDs.Load(host); ok {
		return oid.(uint32), nil
	}

	var (
		name     string
		oid      uint32
		arrayOID uint32
	)
	err := q.QueryRow(ctx, vectorTypeQuery, VectorTypeName).Scan(&name, &oid, &arrayOID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errNoVectorType
	}
	if err != nil {
		return 0, err
	}
	vectorOIDs.Store(host, oid)
	return oid, nil
}

// forgetVectorOID drops the memoized OID for host.
func forgetVectorOID(host string) {
	vectorOIDs.Delete(host)
}

// registerVectorType installs VectorCodec on m unless already present.
func registerVectorType(m *pgtype.Map, oid uint32) {
	if _, ok := m.TypeForName(VectorTypeName); ok {
		return
	}
	m.RegisterType(&pgtype.Type{Name: VectorTypeName, OID: oid, Codec: VectorCodec{}})
}

// AfterConnect registers the vector codec on each new connection. A missing
// extension is logged and tolerated so that setup can create it later.
func AfterConnect(ctx context.Context, conn *pgx.Conn) error {
	host := conn.Config().Host
	oid, err := lookupVectorOID(ctx, conn, host)
	if err != nil {
		slog.Warn("pgvector_type_unavailable",
			slog.String("host", host),
			slog.String("error", err.Error()))
		return nil
	}
	registerVectorType(conn.TypeMap(), oid)
	slog.Debug("pgvector_connected", slog.String("host", host), slog.Uint64("vector_oid", uint64(oid)))
	return nil
}

// NewPool opens a pgxpool for dsn with the vector codec hook installed.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	cfg.MaxConns = maxConns
	cfg.AfterConnect = AfterConnect

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}
