package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/docent-ai/docent/app"
	"github.com/spf13/cobra"
)

var statusProbe bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured store and its indexes",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusProbe, "probe", false, "call the embedding provider and report its vector dimension")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, err := app.New(ctx, cfg, cliLogger(), app.Options{})
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	names, err := deps.Store.ListIndexes(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("backend:    %s\n", cfg.Store.Backend)
	fmt.Printf("metric:     %s\n", cfg.Store.Metric)
	fmt.Printf("embedding:  %s %s%s\n", cfg.Embedding.Provider, cfg.Embedding.Model, probeNote(ctx, deps))
	fmt.Printf("generation: %s %s\n", cfg.Generation.Provider, cfg.Generation.Model)
	if len(names) == 0 {
		fmt.Println("indexes:    none")
		return nil
	}
	fmt.Println("indexes:")
	for _, n := range names {
		marker := ""
		if n == cfg.Store.Index {
			marker = " (active)"
		}
		fmt.Printf("  %s%s\n", n, marker)
	}
	return nil
}

// probeNote checks the embedding provider with one call when --probe is set.
// Failures are reported inline; status itself still succeeds.
func probeNote(ctx context.Context, deps *app.Dependencies) string {
	if !statusProbe {
		return ""
	}
	dim, err := deps.Embedder.Dimension(ctx)
	if err != nil {
		return fmt.Sprintf(" (unreachable: %v)", err)
	}
	return fmt.Sprintf(" (dim %d)", dim)
}
