// Package main implements the docent HTTP API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docent-ai/docent/app"
	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/rag"
	"github.com/docent-ai/docent/engine/segment"
	"github.com/docent-ai/docent/pkg/config"
	"github.com/docent-ai/docent/pkg/metrics"
	"github.com/docent-ai/docent/pkg/mid"
	"github.com/docent-ai/docent/pkg/resilience"
	"github.com/joho/godotenv"
)

// maxUploadBytes bounds both JSON bodies and multipart uploads.
const maxUploadBytes = 32 << 20

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
		logger.Error("server exited with error", "err", err)
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

	deps, err := app.New(ctx, cfg, logger, app.Options{})
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

	reg := metrics.NewRegistry()
	mux := newMux(deps, cfg.Query.TopK, reg, logger)

	mw := []mid.Middleware{
		mid.Recover(logger),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.OTel("docent-api"),
	}
	if cfg.Server.RPS > 0 {
		// Innermost so shed requests still show up in logs and metrics.
		mw = append(mw, mid.Throttle(resilience.NewLimiter(cfg.Server.RPS, cfg.Server.Burst)))
	}
	handler := mid.Chain(mux, mw...)

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// Generation calls dominate response time; give them room.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.Server.Addr, "store", cfg.Store.Backend, "index", cfg.Store.Index)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func newMux(deps *app.Dependencies, topK int, reg *metrics.Registry, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(deps))
	mux.HandleFunc("POST /api/ingest", handleIngest(deps.Pipeline, deps.Policy, logger))
	mux.HandleFunc("POST /api/ask", handleAsk(deps.Pipeline, topK, logger))
	mux.HandleFunc("GET /api/indexes", handleIndexes(deps, logger))
	mux.HandleFunc("DELETE /api/indexes/{name}", handleDeleteIndex(deps, logger))
	mux.Handle("GET /metrics", reg.Handler())
	return mux
}

// --- Handlers ---

// handleHealth reports liveness plus the generation breaker state, so a
// probe can tell a healthy server from one riding out a dead model endpoint.
func handleHealth(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]string{"status": "ok"}
		if deps.Breaker != nil {
			st := deps.Breaker.State()
			resp["generation"] = st.String()
			if st == resilience.Open {
				resp["status"] = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// IngestRequest is the JSON body for POST /api/ingest. Multipart uploads
// carry the same data as a "file" part plus optional "source" and "id"
// form values, and always use the server's configured policy.
type IngestRequest struct {
	ID     string            `json:"id,omitempty"`
	Source string            `json:"source,omitempty"`
	Text   string            `json:"text"`
	Meta   map[string]string `json:"meta,omitempty"`
	// Policy overrides the server's segmentation policy for this document.
	Policy *segment.Policy `json:"policy,omitempty"`
}

func handleIngest(p *rag.Pipeline, base segment.Policy, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeIngest(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}

		policy := base
		if req.Policy != nil {
			policy = *req.Policy
		}

		doc := domain.Document{ID: req.ID, Source: req.Source, Text: req.Text, Meta: req.Meta}
		report, err := p.Ingest(r.Context(), doc, policy)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func decodeIngest(r *http.Request) (IngestRequest, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		return decodeIngestUpload(r)
	}

	var req IngestRequest
	body := http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return IngestRequest{}, errors.New("invalid request body")
	}
	return req, nil
}

func decodeIngestUpload(r *http.Request) (IngestRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return IngestRequest{}, fmt.Errorf("parse multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return IngestRequest{}, errors.New(`multipart upload needs a "file" part`)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return IngestRequest{}, fmt.Errorf("read upload: %w", err)
	}

	source := r.FormValue("source")
	if source == "" {
		source = header.Filename
	}
	return IngestRequest{ID: r.FormValue("id"), Source: source, Text: string(data)}, nil
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

func handleAsk(p *rag.Pipeline, defaultTopK int, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "question is required"})
			return
		}
		topK := req.TopK
		if topK <= 0 {
			topK = defaultTopK
		}

		result, err := p.Ask(r.Context(), req.Question, topK)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleIndexes(deps *app.Dependencies, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := deps.Store.ListIndexes(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"indexes": names})
	}
}

func handleDeleteIndex(deps *app.Dependencies, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := deps.Store.DeleteIndex(r.Context(), name); err != nil {
			if errors.Is(err, domain.ErrIndexNotFound) {
				writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("index %q does not exist", name)})
				return
			}
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Error mapping ---

type errorBody struct {
	Error string `json:"error"`
	Param string `json:"param,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// writeError maps the pipeline error taxonomy onto HTTP statuses: caller
// mistakes are 400, failing dependencies are 502 with the stage named,
// anything else is 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if ce, ok := domain.AsConfig(err); ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ce.Error(), Param: ce.Param})
		return
	}
	if ue, ok := domain.AsUpstream(err); ok {
		logger.Error("upstream failure", "stage", ue.Stage, "err", ue.Err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: ue.Error(), Stage: string(ue.Stage)})
		return
	}
	logger.Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
