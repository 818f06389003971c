package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/corpusindex/internal/config"
	"github.com/Aman-CERP/corpusindex/internal/output"
)

func newConfigCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration",
		Long: `Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/corpusindex/config.yaml)
  3. ./corpusindex.yaml, or the file given with --config
  4. Environment variables`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
	}

	cmd.AddCommand(newConfigShowCmd(st))
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigShowCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(st.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			if err != nil {
				return err
			}
			if verr := st.cfg.Validate(); verr != nil {
				output.New(cmd.ErrOrStderr(), false).Warningf("%v", verr)
			}
			return nil
		},
		Annotations: map[string]string{skipConfigAnnotation: "true"},
	}
}

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Example: `  # Create ./corpusindex.yaml
  corpusindex config init

  # Create the user config, keeping a backup of the current one
  corpusindex config init --user --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout(), false)
			if fileExists(path) {
				if !force {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
				backup, err := config.BackupFile(path)
				if err != nil {
					return err
				}
				out.Status("", "Backed up existing config to "+backup)
			}
			if err := config.NewConfig().WriteYAML(path); err != nil {
				return err
			}
			out.Successf("Wrote %s", path)
			return nil
		},
		Annotations: map[string]string{skipConfigAnnotation: "true"},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().StringVarP(&path, "output", "o", config.ProjectFileName, "File to write")
	cmd.Flags().Bool("user", false, "Write the user config instead of ./corpusindex.yaml")
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if user, _ := cmd.Flags().GetBool("user"); user {
			path = config.GetUserConfigPath()
		}
		return nil
	}
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user configuration file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
		Annotations: map[string]string{skipConfigAnnotation: "true"},
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
