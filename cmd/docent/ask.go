package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/docent-ai/docent/app"
	"github.com/spf13/cobra"
)

var (
	flagTopK int
	flagFull bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&flagTopK, "top-k", "k", 0, "matches to retrieve (default from config)")
	askCmd.Flags().BoolVar(&flagFull, "full", false, "print full source passages instead of previews")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	topK := cfg.Query.TopK
	if flagTopK > 0 {
		topK = flagTopK
	}

	deps, err := app.New(ctx, cfg, cliLogger(), app.Options{})
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	result, err := deps.Pipeline.Ask(ctx, strings.Join(args, " "), topK)
	if err != nil {
		return err
	}

	fmt.Println(result.Answer)
	if len(result.Sources) == 0 {
		return nil
	}
	fmt.Println("\nSources:")
	for i, s := range result.Sources {
		text := s.Preview
		if flagFull {
			text = s.Text
		}
		fmt.Printf("  %d. [%.3f] %s (%s)\n", i+1, s.Score, s.Source, s.ID)
		fmt.Printf("     %s\n", strings.ReplaceAll(text, "\n", "\n     "))
	}
	return nil
}
