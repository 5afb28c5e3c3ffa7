package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SourceInline is the source assigned to documents submitted without one.
const SourceInline = "inline"

// DeriveDocumentID returns a stable hex ID for a document, derived from its
// source and text. Re-ingesting the same content yields the same ID, which in
// turn keeps record IDs stable across runs.
func DeriveDocumentID(source, text string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// NormalizeDocument fills derived fields: a missing source defaults to
// SourceInline and a missing ID is derived from source and text.
func NormalizeDocument(doc Document) Document {
	if doc.Source == "" {
		doc.Source = SourceInline
	}
	if doc.ID == "" {
		doc.ID = DeriveDocumentID(doc.Source, doc.Text)
	}
	return doc
}

// ValidateDocument checks a Document before ingestion. Empty text is allowed
// through: it segments to zero chunks, which is a valid no-op ingest rather
// than an error.
func ValidateDocument(doc Document) error {
	if strings.ContainsAny(doc.ID, "\n\r") {
		return NewConfigError("id", "document id must not contain line breaks")
	}
	if len(doc.ID) > 256 {
		return NewConfigError("id", "document id exceeds 256 bytes")
	}
	return nil
}
