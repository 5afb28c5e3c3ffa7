package rag

import (
	"github.com/docent-ai/docent/engine/domain"
)

// Event reports stage progress through the optional pipeline callback.
// Renderers live in the calling layers; the pipeline never prints.
type Event struct {
	Stage string `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// IngestReport summarizes one ingested document.
type IngestReport struct {
	DocID      string `json:"doc_id"`
	ChunkCount int    `json:"chunk_count"`
	Records    int    `json:"records"`
	Batches    int    `json:"batches"`
}

// AnswerResult carries the answer and its ranked provenance.
type AnswerResult struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Source is one retrieved match rendered for provenance display.
type Source struct {
	ID      string  `json:"id"`
	DocID   string  `json:"doc_id"`
	Source  string  `json:"source"`
	Score   float32 `json:"score"`
	Preview string  `json:"preview"`
	Text    string  `json:"text"`
}

// segmentedDoc is the ingest state after segmentation.
type segmentedDoc struct {
	Doc    domain.Document
	Chunks []domain.Chunk
}

// embeddedDoc is the ingest state after embedding; Vectors align with
// Chunks by position.
type embeddedDoc struct {
	segmentedDoc
	Vectors [][]float32
}

// asked is the ask state after retrieval.
type asked struct {
	Question string
	Matches  []domain.Match
}
