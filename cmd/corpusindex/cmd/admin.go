package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/output"
	"github.com/Aman-CERP/corpusindex/internal/store"
	"github.com/Aman-CERP/corpusindex/internal/ui"
)

// noColor reports whether command output should be plain.
func noColor(cmd *cobra.Command) bool {
	if ui.DetectNoColor() {
		return true
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	return !ok || !ui.IsTTY(f)
}

func newSetupCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the vector extension and table",
		Long: `Setup enables the pgvector extension and creates the embeddings table for
the configured model. Other backends create their collection. It is safe to
run repeatedly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackends(cmd.Context(), st.cfg, need{vectors: true})
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			out := output.New(cmd.OutOrStdout(), !noColor(cmd))
			if m, ok := b.indexManager(); ok {
				if err := m.CreateVectorExtension(cmd.Context()); err != nil {
					return err
				}
				if err := m.CreateTableIfNotExists(cmd.Context()); err != nil {
					return err
				}
			} else if err := b.vectors.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			out.Successf("Vector store ready: %s (%s)", st.cfg.TableName(), st.cfg.VectorStore.Backend)
			return nil
		},
	}
}

type createIndexesOptions struct {
	lists        int
	strategies   []string
	dropOthers   bool
	concurrently bool
}

func newCreateIndexesCmd(st *rootState) *cobra.Command {
	var opts createIndexesOptions

	cmd := &cobra.Command{
		Use:   "create-indexes",
		Short: "Create approximate nearest-neighbour indexes",
		Long: `Create-indexes builds an ivfflat index per distance strategy on the
embeddings table. Only the pgvector backend has indexes to manage.`,
		Example: `  corpusindex create-indexes --strategy cosine --drop-others --concurrently`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			strategies, err := parseStrategies(opts.strategies)
			if err != nil {
				return err
			}
			lists := opts.lists
			if lists <= 0 {
				lists = st.cfg.VectorStore.IndexLists
			}

			b, err := openBackends(cmd.Context(), st.cfg, need{vectors: true})
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			out := output.New(cmd.OutOrStdout(), !noColor(cmd))
			m, ok := b.indexManager()
			if !ok {
				out.Warningf("The %s backend manages its own indexes", st.cfg.VectorStore.Backend)
				return nil
			}
			if err := m.CreateIndexIfNotExisting(cmd.Context(), lists, strategies, opts.dropOthers, opts.concurrently); err != nil {
				return err
			}
			out.Successf("Indexes ready on %s (lists=%d)", st.cfg.TableName(), lists)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.lists, "lists", 0, "ivfflat lists (default from config)")
	cmd.Flags().StringSliceVar(&opts.strategies, "strategy", nil, "Strategies to index: l2, cosine, inner (default from config)")
	cmd.Flags().BoolVar(&opts.dropOthers, "drop-others", false, "Drop indexes for strategies not requested")
	cmd.Flags().BoolVar(&opts.concurrently, "concurrently", false, "Build without locking writes")

	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if len(opts.strategies) == 0 {
			opts.strategies = st.cfg.VectorStore.IndexStrategies
		}
		return nil
	}
	return cmd
}

func parseStrategies(names []string) ([]store.DistanceStrategy, error) {
	out := make([]store.DistanceStrategy, 0, len(names))
	for _, n := range names {
		s, err := store.ParseDistanceStrategy(n)
		if err != nil {
			return nil, cerrors.ValidationError("invalid index strategy", err)
		}
		out = append(out, s)
	}
	return out, nil
}

func newResetCacheCmd(st *rootState) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset-cache",
		Short: "Forget indexing state for the configured model",
		Long: `Reset-cache deletes the model's last-executed record, so the next run
treats the model as never executed and re-indexes every document.
Per-document records and vectors are left in place; vectors are replaced
as documents are re-indexed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				if err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
					fmt.Sprintf("Reset indexing cache for %s? [y/N] ", st.cfg.ModelID())); err != nil {
					return err
				}
			}

			b, err := openBackends(cmd.Context(), st.cfg, need{cache: true})
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			if err := b.cache.ResetCache(cmd.Context()); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout(), !noColor(cmd)).Successf("Reset cache for %s", st.cfg.ModelID())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

var errAborted = errors.New("aborted")

func confirm(in io.Reader, out io.Writer, prompt string) error {
	_, _ = fmt.Fprint(out, prompt)
	var answer string
	_, _ = fmt.Fscanln(in, &answer)
	if answer == "y" || answer == "Y" || answer == "yes" {
		return nil
	}
	return errAborted
}
