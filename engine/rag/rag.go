// Package rag orchestrates the docent pipeline. Ingest runs segment → embed
// → index for one document; Ask runs retrieve → synthesize for one question.
// The orchestrator owns no retry logic; errors propagate with their
// originating stage identifiable, and "no relevant data" is never conflated
// with failure.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/index"
	"github.com/docent-ai/docent/engine/segment"
	"github.com/docent-ai/docent/pkg/flow"
)

// PreviewChars is the source preview length in runes.
const PreviewChars = 300

// Embedder is the embedding capability the pipeline composes.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer is the index writing capability.
type Indexer interface {
	Ensure(ctx context.Context, dim int) error
	Upsert(ctx context.Context, doc domain.Document, chunks []domain.Chunk, vectors [][]float32) error
}

// Searcher is the retrieval capability.
type Searcher interface {
	Retrieve(ctx context.Context, question string, topK int) ([]domain.Match, error)
}

// Answerer is the answer synthesis capability.
type Answerer interface {
	Synthesize(ctx context.Context, question string, matches []domain.Match) (string, error)
}

// Deps holds the capabilities a Pipeline composes.
type Deps struct {
	Embedder    Embedder
	Writer      Indexer
	Retriever   Searcher
	Synthesizer Answerer
	// Tokens overrides the token counter for sentence policies; nil uses
	// the word-count default.
	Tokens segment.TokenCounter
	// Events receives progress callbacks; nil disables them.
	Events func(Event)
	Logger *slog.Logger
}

// Pipeline is the docent orchestrator.
type Pipeline struct {
	embedder    Embedder
	writer      Indexer
	retriever   Searcher
	synthesizer Answerer
	tokens      segment.TokenCounter
	events      func(Event)
	log         *slog.Logger
}

// New builds a Pipeline from Deps.
func New(deps Deps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		embedder:    deps.Embedder,
		writer:      deps.Writer,
		retriever:   deps.Retriever,
		synthesizer: deps.Synthesizer,
		tokens:      deps.Tokens,
		events:      deps.Events,
		log:         log,
	}
}

// Ingest segments the document under the given policy, embeds the chunks,
// and writes them to the index. A document that segments to zero chunks
// returns an empty report without any external call.
func (p *Pipeline) Ingest(ctx context.Context, doc domain.Document, policy segment.Policy) (IngestReport, error) {
	doc = domain.NormalizeDocument(doc)
	if err := domain.ValidateDocument(doc); err != nil {
		return IngestReport{}, err
	}
	seg, err := segment.New(policy, p.tokens)
	if err != nil {
		return IngestReport{}, err
	}

	start := time.Now()
	chunks := seg.Segment(doc.Text)
	p.emit(Event{Stage: "segment", Done: len(chunks), Total: len(chunks)})
	if len(chunks) == 0 {
		p.log.Info("ingest: document segments to nothing", "doc_id", doc.ID)
		return IngestReport{DocID: doc.ID}, nil
	}

	run := flow.Then(p.embedStage(), p.indexStage())
	report, err := run(ctx, segmentedDoc{Doc: doc, Chunks: chunks}).Unwrap()
	if err != nil {
		return IngestReport{}, err
	}

	p.log.Info("ingest: done",
		"doc_id", doc.ID,
		"chunks", report.ChunkCount,
		"batches", report.Batches,
		"duration", time.Since(start),
	)
	return report, nil
}

// Ask retrieves up to topK matches for the question and synthesizes an
// answer from them. An index with zero relevant records still succeeds,
// with the fixed no-context answer and no sources.
func (p *Pipeline) Ask(ctx context.Context, question string, topK int) (AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return AnswerResult{}, domain.NewConfigError("question", "must not be empty")
	}

	start := time.Now()
	run := flow.Then(p.searchStage(topK), p.answerStage())
	result, err := run(ctx, question).Unwrap()
	if err != nil {
		return AnswerResult{}, err
	}

	p.log.Info("ask: done",
		"question_len", len(question),
		"sources", len(result.Sources),
		"duration", time.Since(start),
	)
	return result, nil
}

func (p *Pipeline) embedStage() flow.Step[segmentedDoc, embeddedDoc] {
	return flow.Traced("embed", func(ctx context.Context, s segmentedDoc) flow.Result[embeddedDoc] {
		texts := flow.Map(s.Chunks, func(c domain.Chunk) string { return c.Text })
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return flow.Err[embeddedDoc](err)
		}
		p.emit(Event{Stage: "embed", Done: len(vectors), Total: len(vectors)})
		return flow.Ok(embeddedDoc{segmentedDoc: s, Vectors: vectors})
	})
}

func (p *Pipeline) indexStage() flow.Step[embeddedDoc, IngestReport] {
	return flow.Traced("index", func(ctx context.Context, e embeddedDoc) flow.Result[IngestReport] {
		if err := p.writer.Ensure(ctx, len(e.Vectors[0])); err != nil {
			return flow.Err[IngestReport](err)
		}
		if err := p.writer.Upsert(ctx, e.Doc, e.Chunks, e.Vectors); err != nil {
			return flow.Err[IngestReport](err)
		}
		n := len(e.Chunks)
		p.emit(Event{Stage: "index", Done: n, Total: n})
		return flow.Ok(IngestReport{
			DocID:      e.Doc.ID,
			ChunkCount: n,
			Records:    n,
			Batches:    (n + index.UpsertBatchSize - 1) / index.UpsertBatchSize,
		})
	})
}

func (p *Pipeline) searchStage(topK int) flow.Step[string, asked] {
	return flow.Traced("search", func(ctx context.Context, question string) flow.Result[asked] {
		matches, err := p.retriever.Retrieve(ctx, question, topK)
		if err != nil {
			// An index that was never created holds zero records; that is
			// the empty outcome, not a failure.
			if errors.Is(err, domain.ErrIndexNotFound) {
				matches = nil
			} else {
				return flow.Err[asked](err)
			}
		}
		p.emit(Event{Stage: "search", Done: len(matches), Total: topK})
		return flow.Ok(asked{Question: question, Matches: matches})
	})
}

func (p *Pipeline) answerStage() flow.Step[asked, AnswerResult] {
	return flow.Traced("generate", func(ctx context.Context, a asked) flow.Result[AnswerResult] {
		text, err := p.synthesizer.Synthesize(ctx, a.Question, a.Matches)
		if err != nil {
			return flow.Err[AnswerResult](err)
		}
		p.emit(Event{Stage: "generate", Done: 1, Total: 1})

		sources := make([]Source, len(a.Matches))
		for i, m := range a.Matches {
			sources[i] = Source{
				ID:      m.ID,
				DocID:   m.Meta.DocID,
				Source:  m.Meta.Source,
				Score:   m.Score,
				Preview: preview(m.Meta.Text, PreviewChars),
				Text:    m.Meta.Text,
			}
		}
		return flow.Ok(AnswerResult{Answer: text, Sources: sources})
	})
}

func (p *Pipeline) emit(e Event) {
	if p.events != nil {
		p.events(e)
	}
}

// preview clips text to n runes with a truncation marker.
func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return fmt.Sprintf("%s...", string(runes[:n]))
}
