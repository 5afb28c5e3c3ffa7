// Command docent is the CLI for the docent pipeline: ingest documents,
// ask questions about them, inspect the store, or drive everything from a
// terminal UI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/docent-ai/docent/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagIndex   string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:          "docent",
	Short:        "Ingest documents and ask questions about them",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: docent.yaml, then ~/.config/docent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagIndex, "index", "", "override the configured index name")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log pipeline internals to stderr")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliLogger keeps stdout for command output; pipeline logs go to stderr
// and only with --verbose.
func cliLogger() *slog.Logger {
	if flagVerbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if flagIndex != "" {
		cfg.Store.Index = flagIndex
	}
	return cfg, nil
}
