package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/Aman-CERP/corpusindex/internal/cache"
	"github.com/Aman-CERP/corpusindex/internal/config"
	"github.com/Aman-CERP/corpusindex/internal/embed"
	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/kv"
	"github.com/Aman-CERP/corpusindex/internal/objectstore"
	"github.com/Aman-CERP/corpusindex/internal/store"
	"github.com/Aman-CERP/corpusindex/internal/store/pgvector"
	"github.com/Aman-CERP/corpusindex/internal/store/qdrant"
)

// backends holds the collaborators built from configuration. Close releases
// whatever was opened.
type backends struct {
	cfg      *config.Config
	objects  objectstore.ObjectStore
	records  kv.Store
	cache    *cache.IndexingCache
	vectors  store.VectorStore
	embedder embed.Embedder

	closers []func() error
	aws     *aws.Config
}

// need selects which collaborators openBackends builds.
type need struct {
	cache    bool
	vectors  bool
	embedder bool
}

func openBackends(ctx context.Context, cfg *config.Config, n need) (*backends, error) {
	b := &backends{cfg: cfg}
	if err := b.open(ctx, n); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) open(ctx context.Context, n need) error {
	if n.cache {
		if err := b.openCache(ctx); err != nil {
			return err
		}
	}
	if n.vectors {
		if err := b.openVectors(ctx); err != nil {
			return err
		}
	}
	if n.embedder {
		e, err := embed.New(embed.Config{
			Provider:          b.cfg.Embeddings.Provider,
			Model:             b.cfg.Embeddings.Model,
			Dimensions:        b.cfg.Embeddings.Dimensions,
			Endpoint:          b.cfg.Embeddings.Endpoint,
			OllamaHost:        b.cfg.Embeddings.OllamaHost,
			BatchSize:         b.cfg.Embeddings.BatchSize,
			MaxConcurrency:    b.cfg.Embeddings.MaxConcurrency,
			RequestsPerSecond: b.cfg.Embeddings.RequestsPerSecond,
			Timeout:           b.cfg.Embeddings.Timeout,
			QueryCacheSize:    b.cfg.Embeddings.QueryCacheSize,
		})
		if err != nil {
			return err
		}
		b.embedder = e
		b.closers = append(b.closers, e.Close)
	}
	return nil
}

// awsConfig loads the shared AWS configuration once.
func (b *backends) awsConfig(ctx context.Context) (aws.Config, error) {
	if b.aws != nil {
		return *b.aws, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if b.cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(b.cfg.AWS.Region))
	}
	c, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, cerrors.ConfigError("failed to load AWS configuration", err)
	}
	b.aws = &c
	return c, nil
}

func (b *backends) openCache(ctx context.Context) error {
	switch b.cfg.ObjectStore.Backend {
	case "s3":
		awsCfg, err := b.awsConfig(ctx)
		if err != nil {
			return err
		}
		b.objects = objectstore.NewS3StoreFromConfig(awsCfg, b.cfg.Indexing.Bucket, b.cfg.AWS.Endpoint, b.cfg.ObjectStore.UsePathStyle)
	default:
		b.objects = objectstore.NewLocalStore(b.cfg.Indexing.InputPath)
	}

	switch b.cfg.Cache.Backend {
	case "dynamodb":
		awsCfg, err := b.awsConfig(ctx)
		if err != nil {
			return err
		}
		b.records = kv.NewDynamoStoreFromConfig(awsCfg, b.cfg.Cache.Table, b.cfg.AWS.Endpoint)
	default:
		if err := os.MkdirAll(filepath.Dir(b.cfg.Cache.SQLitePath), 0o755); err != nil {
			return cerrors.New(cerrors.ErrCodeCacheBackend, "failed to create cache directory", err)
		}
		s, err := kv.NewSQLiteStore(b.cfg.Cache.SQLitePath, b.cfg.Cache.Table)
		if err != nil {
			return cerrors.BackendError(cerrors.ErrCodeCacheBackend, "failed to open cache database", err)
		}
		b.records = s
		b.closers = append(b.closers, s.Close)
	}

	c, err := cache.New(cache.Config{
		Bucket:                b.cfg.Indexing.Bucket,
		Model:                 b.cfg.ModelID(),
		BaseLocalPath:         b.cfg.Indexing.InputPath,
		SupportedContentTypes: b.cfg.Indexing.SupportedContentTypes,
		MetadataConcurrency:   b.cfg.Indexing.MetadataConcurrency,
	}, b.objects, b.records)
	if err != nil {
		return err
	}
	b.cache = c
	return nil
}

func (b *backends) openVectors(ctx context.Context) error {
	strategy, err := store.ParseDistanceStrategy(b.cfg.VectorStore.DistanceStrategy)
	if err != nil {
		return cerrors.ConfigError("invalid distance strategy", err)
	}
	vs := b.cfg.VectorStore
	dims := b.cfg.Embeddings.Dimensions

	switch vs.Backend {
	case "pgvector":
		open := pgvector.OpenConfig{
			DSN: vs.Postgres.DSN,
			Secret: pgvector.SecretSource{
				SecretID:      vs.Postgres.SecretID,
				ProxyEndpoint: vs.Postgres.ProxyEndpoint,
				TLSEnabled:    vs.Postgres.TLSEnabled,
			},
			MaxConns: vs.Postgres.MaxConns,
			Store: pgvector.Config{
				TableName:             b.cfg.TableName(),
				Dimensions:            dims,
				Strategy:              strategy,
				DefaultSourceLocation: vs.DefaultSourceLocation,
				CatchSearchErrors:     vs.CatchSearchErrors,
			},
		}
		// A configured secret takes precedence over the default DSN.
		if vs.Postgres.SecretID != "" {
			awsCfg, err := b.awsConfig(ctx)
			if err != nil {
				return err
			}
			open.DSN = ""
			open.Secrets = secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
				if b.cfg.AWS.Endpoint != "" {
					o.BaseEndpoint = aws.String(b.cfg.AWS.Endpoint)
				}
			})
		}
		s, err := pgvector.Open(ctx, open)
		if err != nil {
			return err
		}
		b.vectors = s

	case "qdrant":
		s, err := qdrant.Dial(qdrant.ConnConfig{
			Host:   vs.Qdrant.Host,
			Port:   vs.Qdrant.Port,
			APIKey: vs.Qdrant.APIKey,
			UseTLS: vs.Qdrant.UseTLS,
		}, qdrant.Config{
			Collection:            b.cfg.TableName(),
			Dimensions:            dims,
			Strategy:              strategy,
			DefaultSourceLocation: vs.DefaultSourceLocation,
			CatchSearchErrors:     vs.CatchSearchErrors,
		})
		if err != nil {
			return err
		}
		b.vectors = s

	case "memory":
		s, err := store.NewMemoryStore(store.MemoryConfig{
			Dimensions:            dims,
			Strategy:              strategy,
			DefaultSourceLocation: vs.DefaultSourceLocation,
			Path:                  b.cfg.MemoryStorePath(),
			CatchSearchErrors:     vs.CatchSearchErrors,
		})
		if err != nil {
			return cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to open memory vector store", err)
		}
		b.vectors = s

	default:
		return cerrors.ConfigError(fmt.Sprintf("unknown vector store backend %q", vs.Backend), nil)
	}
	b.closers = append(b.closers, b.vectors.Close)
	return nil
}

// indexManager returns the schema administration API of the vector store,
// if it has one.
func (b *backends) indexManager() (store.IndexManager, bool) {
	m, ok := b.vectors.(store.IndexManager)
	return m, ok
}

// Close closes everything in reverse open order.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
