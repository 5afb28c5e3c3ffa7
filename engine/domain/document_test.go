package domain

import (
	"strings"
	"testing"
)

func TestDeriveDocumentID_Stable(t *testing.T) {
	a := DeriveDocumentID("notes", "Cats are mammals.")
	b := DeriveDocumentID("notes", "Cats are mammals.")
	if a != b {
		t.Errorf("expected stable IDs, got %q and %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
}

func TestDeriveDocumentID_SourceSeparatesContent(t *testing.T) {
	// The separator byte keeps ("ab","c") and ("a","bc") apart.
	if DeriveDocumentID("ab", "c") == DeriveDocumentID("a", "bc") {
		t.Errorf("expected distinct IDs for shifted source/text boundary")
	}
}

func TestNormalizeDocument_FillsDefaults(t *testing.T) {
	doc := NormalizeDocument(Document{Text: "hello"})
	if doc.Source != SourceInline {
		t.Errorf("expected source %q, got %q", SourceInline, doc.Source)
	}
	if doc.ID == "" {
		t.Errorf("expected derived ID")
	}
}

func TestNormalizeDocument_KeepsExplicitFields(t *testing.T) {
	in := Document{ID: "doc-1", Source: "manual", Text: "hello"}
	out := NormalizeDocument(in)
	if out.ID != "doc-1" || out.Source != "manual" {
		t.Errorf("expected explicit fields preserved, got %+v", out)
	}
}

func TestValidateDocument_AllowsEmptyText(t *testing.T) {
	if err := ValidateDocument(Document{ID: "doc-1"}); err != nil {
		t.Errorf("expected empty text to pass validation, got %v", err)
	}
}

func TestValidateDocument_RejectsBadIDs(t *testing.T) {
	cases := []Document{
		{ID: "line\nbreak", Text: "x"},
		{ID: strings.Repeat("a", 257), Text: "x"},
	}
	for _, doc := range cases {
		err := ValidateDocument(doc)
		if _, ok := AsConfig(err); !ok {
			t.Errorf("expected ConfigError for ID %q, got %v", doc.ID, err)
		}
	}
}
