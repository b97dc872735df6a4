// Package cmd provides the CLI commands for semcode.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/semcode/semcode/internal/config"
	"github.com/semcode/semcode/pkg/version"
)

var cfgFile string

// NewRootCmd creates the root command for the semcode CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "semcode",
		Short: "Semantic and structural code indexing engine",
		Long: `semcode indexes project trees into a per-project vector collection
(semantic search over code chunks) and a per-project code graph
(files, symbols, imports), and keeps both current as files change.

Run 'semcode serve' for the long-running engine with its HTTP control
surface, or 'semcode index <path>' for a one-shot foreground run.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("semcode version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ~/.semcode/semcode.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newEmbeddersCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves the config path and loads it.
func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("SEMCODE_CONFIG")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".semcode", "semcode.yaml")
		}
	}
	return config.Load(path)
}
