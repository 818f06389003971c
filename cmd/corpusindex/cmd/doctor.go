package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpusindex/internal/config"
	"github.com/Aman-CERP/corpusindex/internal/output"
	"github.com/Aman-CERP/corpusindex/internal/preflight"
)

var errPreflightFailed = errors.New("preflight checks failed")

func newDoctorCmd(st *rootState) *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and backends before indexing",
		Long: `Doctor checks the input path, the data directory and system limits, then
connects to the indexing cache, the vector store and the embedding provider.
It exits non-zero when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			checker := preflight.New(
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
				preflight.WithProbeTimeout(st.cfg.Embeddings.Timeout),
			)
			results := checker.RunAll(cmd.Context(), preflight.Target{
				InputPath: st.cfg.Indexing.InputPath,
				DataDir:   dataDirFor(st.cfg),
			}, backendProbes(st.cfg)...)

			if jsonOutput {
				if err := output.New(cmd.OutOrStdout(), false).JSON(map[string]any{
					"status": checker.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}
			if checker.HasCriticalFailures(results) {
				return errPreflightFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	return cmd
}

// dataDirFor is where local state is written: the SQLite cache directory,
// or DataDir for other backends.
func dataDirFor(cfg *config.Config) string {
	if cfg.Cache.Backend == "sqlite" && cfg.Cache.SQLitePath != "" {
		return filepath.Dir(cfg.Cache.SQLitePath)
	}
	return config.DataDir()
}

// backendProbes opens each collaborator on its own so one failure does not
// hide the others.
func backendProbes(cfg *config.Config) []preflight.Probe {
	return []preflight.Probe{
		{
			Name:     "indexing_cache",
			Required: true,
			Run: func(ctx context.Context) (string, error) {
				b, err := openBackends(ctx, cfg, need{cache: true})
				if err != nil {
					return "", err
				}
				defer func() { _ = b.Close() }()
				last, ok, err := b.cache.GetModelLastExecuted(ctx)
				if err != nil {
					return "", err
				}
				if !ok {
					return fmt.Sprintf("%s (%s), model never indexed", cfg.Cache.Backend, cfg.ModelID()), nil
				}
				return fmt.Sprintf("%s (%s), last run %s", cfg.Cache.Backend, cfg.ModelID(), last.Format("2006-01-02 15:04:05")), nil
			},
		},
		{
			Name:     "vector_store",
			Required: true,
			Run: func(ctx context.Context) (string, error) {
				b, err := openBackends(ctx, cfg, need{vectors: true})
				if err != nil {
					return "", err
				}
				defer func() { _ = b.Close() }()
				return fmt.Sprintf("%s (%s)", cfg.VectorStore.Backend, cfg.TableName()), nil
			},
		},
		{
			Name:     "embedder",
			Required: true,
			Run: func(ctx context.Context) (string, error) {
				b, err := openBackends(ctx, cfg, need{embedder: true})
				if err != nil {
					return "", err
				}
				defer func() { _ = b.Close() }()
				vec, err := b.embedder.EmbedQuery(ctx, "preflight")
				if err != nil {
					return "", err
				}
				if len(vec) != cfg.Embeddings.Dimensions {
					return "", fmt.Errorf("model returned %d dimensions, configured %d", len(vec), cfg.Embeddings.Dimensions)
				}
				return fmt.Sprintf("%s (%s, %d dims)", cfg.Embeddings.Provider, b.embedder.ModelName(), len(vec)), nil
			},
		},
	}
}
