// Command worker consumes queued ingest jobs from NATS and runs them
// through the docent pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/docent-ai/docent/app"
	"github.com/docent-ai/docent/engine/rag"
	"github.com/docent-ai/docent/pkg/config"
	"github.com/docent-ai/docent/pkg/flow"
	"github.com/docent-ai/docent/pkg/metrics"
	"github.com/docent-ai/docent/pkg/natsutil"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

var reg = metrics.NewRegistry()

// Worker metrics
var (
	mStageItems = func(stage string) *metrics.Counter {
		return reg.Counter(metrics.Labels("docent_worker_stage_items_total", "stage", stage), "Items that passed each pipeline stage")
	}
	mDocsTotal   = reg.Counter("docent_worker_docs_total", "Documents ingested")
	mGoroutines  = reg.Gauge("docent_worker_goroutines", "Live goroutines")
	mHeapBytes   = reg.Gauge("docent_worker_heap_bytes", "Heap bytes in use")
	mLastCollect = reg.Gauge("docent_worker_last_collect_timestamp", "Epoch of last runtime stats collection")
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	configPath := flag.String("config", "", "config file path (default: docent.yaml, then ~/.config/docent/config.yaml)")
	flag.Parse()

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func resolveConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, from, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	slog.Info("config resolved", "path", from)
	return cfg, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger, app.Options{Events: recordEvent})
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Error("close dependencies", "err", err)
		}
	}()

	// The queue is allowed to come up after the worker.
	nc, err := flow.Retry(ctx, flow.RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Second,
		MaxWait:     15 * time.Second,
		Jitter:      true,
	}, func(ctx context.Context) flow.Result[*nats.Conn] {
		return flow.FromPair(natsutil.Connect(cfg.NATS.URL, "docent-worker"))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.NATS.URL, err)
	}
	defer nc.Drain()

	sub, err := rag.StartConsumer(nc, deps.Pipeline, deps.Policy, logger)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", rag.JobsSubject, err)
	}
	defer sub.Unsubscribe()

	go collectRuntime(ctx, 15*time.Second)

	msrv := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: metricsMux()}
	go func() {
		logger.Info("metrics listening", "addr", cfg.Worker.MetricsAddr)
		if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	logger.Info("worker consuming",
		"subject", rag.JobsSubject,
		"nats", cfg.NATS.URL,
		"store", cfg.Store.Backend,
		"index", cfg.Store.Index,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return msrv.Shutdown(shutCtx)
}

// recordEvent turns pipeline progress callbacks into counters. One index
// event fires per document, so it doubles as the document counter.
func recordEvent(e rag.Event) {
	mStageItems(e.Stage).Add(uint64(e.Done))
	if e.Stage == "index" {
		mDocsTotal.Inc()
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func collectRuntime(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var ms runtime.MemStats
	for {
		runtime.ReadMemStats(&ms)
		mGoroutines.Set(int64(runtime.NumGoroutine()))
		mHeapBytes.Set(int64(ms.HeapAlloc))
		mLastCollect.Set(time.Now().Unix())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
