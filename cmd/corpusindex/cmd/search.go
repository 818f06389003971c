package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/logging"
	"github.com/Aman-CERP/corpusindex/internal/output"
	"github.com/Aman-CERP/corpusindex/internal/store"
)

type searchOptions struct {
	k        int
	filters  []string
	jsonOut  bool
	preview  int
	strategy string
}

func newSearchCmd(st *rootState) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed chunks by similarity",
		Long: `Search embeds the query with the configured model and returns the k most
similar chunks. Filters match metadata values exactly.`,
		Example: `  corpusindex search "retention policy"
  corpusindex search "invoice totals" -k 5 --filter department=finance --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, st, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "k", "k", 4, "Number of results")
	cmd.Flags().StringSliceVar(&opts.filters, "filter", nil, "Metadata filter as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")
	cmd.Flags().IntVar(&opts.preview, "preview", 200, "Characters of content to show per result (0 for all)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "Distance strategy: l2, cosine or inner (default from config)")

	return cmd
}

func parseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, cerrors.ValidationError(fmt.Sprintf("invalid filter %q", p), nil).
				WithSuggestion("Use key=value, for example --filter department=finance")
		}
		filter[strings.TrimSpace(k)] = v
	}
	return filter, nil
}

func runSearch(ctx context.Context, cmd *cobra.Command, st *rootState, query string, opts searchOptions) error {
	if strings.TrimSpace(query) == "" {
		return cerrors.New(cerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if opts.k <= 0 {
		return cerrors.ValidationError("k must be positive", nil)
	}
	filter, err := parseFilters(opts.filters)
	if err != nil {
		return err
	}
	if opts.strategy != "" {
		st.cfg.VectorStore.DistanceStrategy = opts.strategy
	}

	b, err := openBackends(ctx, st.cfg, need{vectors: true, embedder: true})
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	vector, err := logging.Timed(ctx, "embed_query", func(ctx context.Context) ([]float32, error) {
		return b.embedder.EmbedQuery(ctx, query)
	})
	if err != nil {
		return err
	}
	results, err := logging.Timed(ctx, "similarity_search", func(ctx context.Context) ([]store.ScoredDocument, error) {
		return b.vectors.SimilaritySearchVectorWithScore(ctx, vector, opts.k, filter)
	})
	if err != nil {
		return err
	}
	slog.Info("search_complete",
		slog.Int("k", opts.k),
		slog.Int("results", len(results)),
		slog.Int("filters", len(filter)))

	out := output.New(cmd.OutOrStdout(), !opts.jsonOut && !noColor(cmd))
	if opts.jsonOut {
		return out.JSON(output.Hits(results))
	}
	out.SearchResults(results, opts.preview)
	return nil
}
