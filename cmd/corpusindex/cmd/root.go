// Package cmd provides the CLI commands for corpusindex.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpusindex/internal/config"
	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/logging"
	"github.com/Aman-CERP/corpusindex/pkg/version"
)

// skipConfigAnnotation marks commands that run without a valid configuration.
const skipConfigAnnotation = "skip-config"

// rootState is shared by the root command and its subcommands.
type rootState struct {
	configPath string
	debug      bool
	logFile    string

	cfg            *config.Config
	loggingCleanup func()
}

// NewRootCmd creates the root command for the corpusindex CLI.
func NewRootCmd() *cobra.Command {
	st := &rootState{}

	cmd := &cobra.Command{
		Use:   "corpusindex",
		Short: "Incremental vector indexing for document corpora",
		Long: `corpusindex lists the documents of a corpus, works out which changed
since the last run, and chunks, embeds and writes only those to a vector
store (pgvector, Qdrant or an embedded HNSW index).

Configuration is read from ~/.config/corpusindex/config.yaml, then
./corpusindex.yaml or --config, then environment variables.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: st.preRun,
		PersistentPostRun: func(*cobra.Command, []string) { st.postRun() },
	}
	cmd.SetVersionTemplate("corpusindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&st.configPath, "config", "c", "", "Path to a config file (default ./corpusindex.yaml)")
	cmd.PersistentFlags().BoolVar(&st.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&st.logFile, "log-file", "", "Also write logs to this file, with rotation")

	cmd.AddCommand(newIndexCmd(st))
	cmd.AddCommand(newSearchCmd(st))
	cmd.AddCommand(newSetupCmd(st))
	cmd.AddCommand(newCreateIndexesCmd(st))
	cmd.AddCommand(newResetCacheCmd(st))
	cmd.AddCommand(newWatchCmd(st))
	cmd.AddCommand(newDoctorCmd(st))
	cmd.AddCommand(newConfigCmd(st))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (st *rootState) preRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(st.configPath)
	if err != nil {
		if cmd.Annotations[skipConfigAnnotation] == "" {
			return cerrors.ConfigError("failed to load configuration", err).
				WithSuggestion("Run 'corpusindex config show' to inspect the effective settings")
		}
		cfg = config.NewConfig()
	}
	if st.debug {
		cfg.Logging.Level = "debug"
	}
	if st.logFile != "" {
		cfg.Logging.FilePath = st.logFile
	}
	st.cfg = cfg
	return st.setupLogging(cfg.Logging)
}

// setupLogging installs the default slog logger, replacing any earlier one.
func (st *rootState) setupLogging(cfg logging.Config) error {
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	if st.loggingCleanup != nil {
		st.loggingCleanup()
	}
	st.loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func (st *rootState) postRun() {
	if st.loggingCleanup != nil {
		st.loggingCleanup()
		st.loggingCleanup = nil
	}
}

// Execute runs the root command and prints errors for the terminal.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, cerrors.FormatForCLI(err))
	}
	return err
}
