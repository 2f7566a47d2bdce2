// Package cli implements the shamap-store command line tool.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LeJamon/go-shamap/internal/config"
	"github.com/LeJamon/go-shamap/internal/shamap"
	"github.com/LeJamon/go-shamap/internal/storage/nodestore"
)

var (
	configFile string
	storePath  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "shamap-store",
	Short:   "Inspect and verify a tree node store",
	Long:    `shamap-store operates on a node store holding the content-addressed nodes of radix-16 Merkle trees: verifying record integrity, reporting store statistics, and listing the nodes a tree version still needs.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "node store path (overrides configuration)")
}

// loadConfig resolves the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	return cfg, nil
}

// openFamily opens the configured store and wraps it for tree use.
func openFamily() (*shamap.NodeStoreFamily, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Store.CreateIfMissing = false
	db, err := nodestore.Open(&cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return shamap.NewNodeStoreFamily(db), nil
}
