package domain

// Meta is the metadata snapshot persisted with each record. It carries enough
// of the chunk to render a human-readable result without a second lookup.
type Meta struct {
	DocID       string `json:"doc_id"`
	Source      string `json:"source,omitempty"`
	ChunkID     int    `json:"chunk_id"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	WordCount   int    `json:"word_count"`
	CharCount   int    `json:"char_count"`
}

// Record is the persisted unit. The store owns it after a successful upsert;
// the pipeline holds no authoritative copy.
type Record struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
	Meta   Meta      `json:"meta"`
}

// Match is one scored retrieval hit. Rank is positional: matches arrive
// ordered by descending score exactly as the store returned them, and they
// are never renormalized or re-sorted downstream.
type Match struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Meta  Meta    `json:"meta"`
}
