// Package cli implements the reposcope command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/engine"
)

var (
	// Version is set at build time.
	Version = "dev"

	homeFlag string
)

var rootCmd = &cobra.Command{
	Use:   "reposcope",
	Short: "Index, search and question many code repositories at once",
	Long: `reposcope indexes local repositories into semantic search indexes and
answers natural language queries across any set of them.

Indexes, configuration and the repository catalog live in the home
directory (~/.reposcope, or $REPOSCOPE_HOME, or --home).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "reposcope home directory (default ~/.reposcope)")
}

// Execute runs the root command.
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

func resolveHome() (string, error) {
	if homeFlag != "" {
		return filepath.Abs(homeFlag)
	}
	return config.HomeDir()
}

// openEngine loads the configuration and restores the indexed repositories.
func openEngine(ctx context.Context, opts engine.Options) (*engine.Engine, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	eng, err := engine.Open(ctx, home, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return eng, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
