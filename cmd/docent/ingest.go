package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/docent-ai/docent/app"
	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/rag"
	"github.com/docent-ai/docent/engine/segment"
	"github.com/docent-ai/docent/pkg/config"
	"github.com/docent-ai/docent/pkg/flow"
	"github.com/docent-ai/docent/pkg/natsutil"
	"github.com/spf13/cobra"
)

// ingestParallelism bounds concurrent files; per-batch embedding
// concurrency is configured separately.
const ingestParallelism = 4

var (
	flagPolicy           string
	flagWindow           int
	flagOverlap          int
	flagMaxTokens        int
	flagOverlapSentences int
	flagQueue            bool
	flagWait             bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file...>",
	Short: "Segment, embed, and index documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}

func ingestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagPolicy, "policy", "", "segmentation policy: fixed_word, fixed_char, or sentence_token")
	cmd.Flags().IntVar(&flagWindow, "window", 0, "window size for the fixed policies")
	cmd.Flags().IntVar(&flagOverlap, "overlap", 0, "word overlap between fixed_word windows")
	cmd.Flags().IntVar(&flagMaxTokens, "max-tokens", 0, "token budget per sentence_token chunk")
	cmd.Flags().IntVar(&flagOverlapSentences, "overlap-sentences", 0, "sentences carried across sentence_token chunks")
	cmd.Flags().BoolVar(&flagQueue, "queue", false, "publish jobs to the ingest queue instead of processing locally")
	cmd.Flags().BoolVar(&flagWait, "wait", false, "with --queue, wait for worker results")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	policy := resolvePolicy(cmd, cfg)
	if err := policy.Validate(); err != nil {
		return err
	}

	if flagQueue {
		return queueIngest(ctx, cfg, policy, args)
	}

	// Stage progress is only legible for a single document; parallel files
	// would interleave.
	var events func(rag.Event)
	if len(args) == 1 {
		events = func(e rag.Event) { fmt.Printf("  %-8s %d/%d\n", e.Stage, e.Done, e.Total) }
	}

	deps, err := app.New(ctx, cfg, cliLogger(), app.Options{Events: events})
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	type outcome struct {
		path   string
		report rag.IngestReport
	}

	results := flow.ParMapResult(args, ingestParallelism, func(path string) flow.Result[outcome] {
		data, err := os.ReadFile(path)
		if err != nil {
			return flow.Errf[outcome]("read %s: %w", path, err)
		}
		doc := domain.Document{Source: filepath.Base(path), Text: string(data)}
		report, err := deps.Pipeline.Ingest(ctx, doc, policy)
		if err != nil {
			return flow.Errf[outcome]("%s: %w", path, err)
		}
		return flow.Ok(outcome{path: path, report: report})
	})

	failed := 0
	for _, r := range results {
		out, err := r.Unwrap()
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Printf("%s: %d chunks, %d records, %d batches\n",
			filepath.Base(out.path), out.report.ChunkCount, out.report.Records, out.report.Batches)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

// resolvePolicy starts from the configured policy; --policy switches the
// kind to that kind's defaults, and explicitly set flags override fields.
func resolvePolicy(cmd *cobra.Command, cfg *config.Config) segment.Policy {
	policy := cfg.Segmenter.Policy()
	if cmd.Flags().Changed("policy") {
		policy = segment.Policy{Kind: segment.Kind(flagPolicy)}
		switch policy.Kind {
		case segment.FixedWord:
			policy.Window = segment.DefaultWindow
			policy.Overlap = segment.DefaultOverlap
		case segment.FixedChar:
			policy.Window = segment.DefaultWindow
		case segment.SentenceToken:
			policy.MaxTokens = segment.DefaultMaxTokens
			policy.OverlapSentences = segment.DefaultOverlapSentences
		}
	}
	if cmd.Flags().Changed("window") {
		policy.Window = flagWindow
	}
	if cmd.Flags().Changed("overlap") {
		policy.Overlap = flagOverlap
	}
	if cmd.Flags().Changed("max-tokens") {
		policy.MaxTokens = flagMaxTokens
	}
	if cmd.Flags().Changed("overlap-sentences") {
		policy.OverlapSentences = flagOverlapSentences
	}
	return policy
}

func queueIngest(ctx context.Context, cfg *config.Config, policy segment.Policy, paths []string) error {
	nc, err := natsutil.Connect(cfg.NATS.URL, "docent-cli")
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.NATS.URL, err)
	}
	defer nc.Close()

	// Subscribe before publishing so no result can slip past.
	results := make(chan rag.IngestResult, len(paths))
	failures := make(chan rag.DLQMessage, len(paths))
	if flagWait {
		rsub, err := natsutil.Subscribe(nc, rag.ResultsSubject, func(_ context.Context, res rag.IngestResult) {
			results <- res
		})
		if err != nil {
			return err
		}
		defer rsub.Unsubscribe()

		dsub, err := natsutil.Subscribe(nc, rag.DLQSubject, func(_ context.Context, m rag.DLQMessage) {
			failures <- m
		})
		if err != nil {
			return err
		}
		defer dsub.Unsubscribe()
	}

	pending := make(map[string]int, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		job := rag.IngestJob{Source: filepath.Base(path), Text: string(data), Policy: &policy}
		if err := natsutil.Publish(ctx, nc, rag.JobsSubject, job); err != nil {
			return fmt.Errorf("queue %s: %w", path, err)
		}
		pending[job.Source]++
		fmt.Printf("queued %s\n", job.Source)
	}
	if err := nc.Flush(); err != nil {
		return err
	}
	if !flagWait {
		return nil
	}

	remaining, failed := len(paths), 0
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("interrupted with %d results outstanding", remaining)
		case res := <-results:
			if pending[res.Source] == 0 {
				continue
			}
			pending[res.Source]--
			remaining--
			fmt.Printf("%s: %d chunks indexed\n", res.Source, res.Report.ChunkCount)
		case m := <-failures:
			if pending[m.Job.Source] == 0 {
				continue
			}
			pending[m.Job.Source]--
			remaining--
			failed++
			fmt.Fprintf(os.Stderr, "%s: parked after %d deliveries: %s\n", m.Job.Source, m.Retries, m.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(paths))
	}
	return nil
}
