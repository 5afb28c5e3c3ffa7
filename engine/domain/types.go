// Package domain defines core domain types, constants, and validation for the
// Docent engine pipeline. It acts as the validation gate at pipeline entry points.
package domain

// Chunk is a contiguous segment of a document produced by the segmenter.
// IDs are assigned in document order starting at zero; StartOffset is the
// rune offset of the chunk's first character in the original text.
type Chunk struct {
	ID          int    `json:"id"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	WordCount   int    `json:"word_count"`
	CharCount   int    `json:"char_count"`
}

// Document is a unit of source text submitted for ingestion.
type Document struct {
	ID     string            `json:"id"`
	Source string            `json:"source,omitempty"`
	Text   string            `json:"text"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Stage identifies the pipeline stage an external call belongs to.
type Stage string

const (
	StageEmbed    Stage = "embed"
	StageIndex    Stage = "index"
	StageSearch   Stage = "search"
	StageGenerate Stage = "generate"
)

// ValidStages is the set of recognised pipeline stages.
var ValidStages = map[Stage]bool{
	StageEmbed: true, StageIndex: true, StageSearch: true, StageGenerate: true,
}
