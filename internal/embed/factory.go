package embed

import (
	"fmt"
	"strings"
	"time"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
)

// Provider names accepted by New.
const (
	ProviderRemote = "remote"
	ProviderOllama = "ollama"
	ProviderStatic = "static"
)

// Config selects and configures an embedding provider.
type Config struct {
	Provider          string
	Model             string
	Dimensions        int
	Endpoint          string
	OllamaHost        string
	BatchSize         int
	MaxConcurrency    int
	RequestsPerSecond float64
	Timeout           time.Duration

	// QueryCacheSize wraps the provider in a CachedEmbedder when positive.
	QueryCacheSize int
}

// New creates the embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	var e Embedder
	switch strings.ToLower(cfg.Provider) {
	case ProviderRemote, "":
		e = NewRemoteEmbedder(RemoteConfig{
			Endpoint:          cfg.Endpoint,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			MaxConcurrency:    cfg.MaxConcurrency,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.Timeout,
		})
	case ProviderOllama:
		e = NewOllamaEmbedder(OllamaConfig{
			Host:              cfg.OllamaHost,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			MaxConcurrency:    cfg.MaxConcurrency,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.Timeout,
		})
	case ProviderStatic:
		e = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, cerrors.ValidationError(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil).
			WithSuggestion("Use one of: remote, ollama, static")
	}

	if cfg.QueryCacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.QueryCacheSize)
	}
	return e, nil
}
