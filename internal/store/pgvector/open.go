package pgvector

import (
	"context"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
)

// OpenConfig describes how to reach the database and which table to use.
type OpenConfig struct {
	// DSN is used as-is when set; otherwise Secret is resolved through Secrets.
	DSN      string
	Secret   SecretSource
	Secrets  SecretsAPI
	MaxConns int32

	Store Config
}

// Open connects a pool and returns a Store over it.
func Open(ctx context.Context, cfg OpenConfig) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.Secret.SecretID == "" || cfg.Secrets == nil {
			return nil, cerrors.ConfigError("pgvector requires a dsn or a secret id", nil)
		}
		resolved, err := ResolveSecretDSN(ctx, cfg.Secrets, cfg.Secret)
		if err != nil {
			return nil, cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to resolve database secret", err)
		}
		dsn = resolved
	}

	pool, err := NewPool(ctx, dsn, cfg.MaxConns)
	if err != nil {
		return nil, cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to open database pool", err)
	}

	storeCfg := cfg.Store
	if storeCfg.Host == "" {
		storeCfg.Host = pool.Config().ConnConfig.Host
	}
	s, err := New(pool, storeCfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}
