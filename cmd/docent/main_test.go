package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/docent-ai/docent/app"
	"github.com/docent-ai/docent/engine/embed"
	"github.com/docent-ai/docent/engine/rag"
	"github.com/docent-ai/docent/engine/segment"
	"github.com/docent-ai/docent/pkg/config"
)

func newIngestFlagSet(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	ingestFlags(cmd)
	return cmd
}

func TestResolvePolicy_ConfigDefault(t *testing.T) {
	cmd := newIngestFlagSet(t)
	p := resolvePolicy(cmd, config.Default())
	if p.Kind != segment.SentenceToken {
		t.Fatalf("expected sentence_token, got %s", p.Kind)
	}
	if p.MaxTokens != segment.DefaultMaxTokens {
		t.Fatalf("expected default budget, got %d", p.MaxTokens)
	}
}

func TestResolvePolicy_SwitchKindGetsKindDefaults(t *testing.T) {
	cmd := newIngestFlagSet(t)
	if err := cmd.Flags().Set("policy", "fixed_word"); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	if err := cmd.Flags().Set("window", "50"); err != nil {
		t.Fatalf("set window: %v", err)
	}

	p := resolvePolicy(cmd, config.Default())
	if p.Kind != segment.FixedWord {
		t.Fatalf("expected fixed_word, got %s", p.Kind)
	}
	if p.Window != 50 {
		t.Fatalf("expected window 50, got %d", p.Window)
	}
	if p.Overlap != segment.DefaultOverlap {
		t.Fatalf("expected default overlap, got %d", p.Overlap)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("resolved policy invalid: %v", err)
	}
}

func TestResolvePolicy_FieldOverrideKeepsKind(t *testing.T) {
	cmd := newIngestFlagSet(t)
	if err := cmd.Flags().Set("max-tokens", "64"); err != nil {
		t.Fatalf("set max-tokens: %v", err)
	}

	p := resolvePolicy(cmd, config.Default())
	if p.Kind != segment.SentenceToken {
		t.Fatalf("kind must stay sentence_token, got %s", p.Kind)
	}
	if p.MaxTokens != 64 {
		t.Fatalf("expected budget 64, got %d", p.MaxTokens)
	}
}

func TestLoadConfig_IndexOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docent.yaml")
	if err := config.Save(path, config.Default()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	flagConfig, flagIndex = path, "manuals"
	t.Cleanup(func() { flagConfig, flagIndex = "", "" })

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Store.Index != "manuals" {
		t.Fatalf("expected index manuals, got %s", cfg.Store.Index)
	}
}

func TestConsole_AnswerArrives(t *testing.T) {
	m := newConsole(context.Background(), nil, 5, "docs")
	m.waiting = true

	result := rag.AnswerResult{
		Answer: "Cats are mammals.",
		Sources: []rag.Source{
			{ID: "a:0", Source: "animals.txt", Score: 0.91, Text: "Cats are mammals."},
			{ID: "a:1", Source: "animals.txt", Score: 0.42, Text: "Dogs are mammals too."},
		},
	}
	next, _ := m.Update(answerMsg{question: "what are cats?", result: result})
	m = next.(console)

	if m.waiting {
		t.Fatal("still waiting after answer arrived")
	}
	if !strings.Contains(m.status, "2 sources") {
		t.Fatalf("status missing source count: %q", m.status)
	}

	view := m.renderResult()
	if !strings.Contains(view, "Cats are mammals.") {
		t.Fatalf("render missing answer:\n%s", view)
	}
	if !strings.Contains(view, "1. [0.910] animals.txt") {
		t.Fatalf("render missing first source:\n%s", view)
	}
}

func TestConsole_CursorCyclesSources(t *testing.T) {
	m := newConsole(context.Background(), nil, 5, "docs")
	next, _ := m.Update(answerMsg{question: "q", result: rag.AnswerResult{
		Answer:  "A.",
		Sources: []rag.Source{{ID: "a:0"}, {ID: "a:1"}, {ID: "a:2"}},
	}})
	m = next.(console)

	down := tea.KeyMsg{Type: tea.KeyDown}
	up := tea.KeyMsg{Type: tea.KeyUp}

	next, _ = m.Update(down)
	m = next.(console)
	if m.cursor != 1 {
		t.Fatalf("expected cursor 1, got %d", m.cursor)
	}
	next, _ = m.Update(up)
	m = next.(console)
	if m.cursor != 0 {
		t.Fatalf("expected cursor 0, got %d", m.cursor)
	}
	next, _ = m.Update(up)
	m = next.(console)
	if m.cursor != 2 {
		t.Fatalf("expected wraparound to 2, got %d", m.cursor)
	}
}

func TestConsole_ErrorShowsInStatus(t *testing.T) {
	m := newConsole(context.Background(), nil, 5, "docs")
	next, _ := m.Update(answerMsg{question: "q", err: errors.New("generation offline")})
	m = next.(console)

	if !strings.Contains(m.status, "generation offline") {
		t.Fatalf("status missing error: %q", m.status)
	}
	if m.result.Answer != "" {
		t.Fatalf("stale answer kept: %q", m.result.Answer)
	}
}

type probeClient struct{ err error }

func (c probeClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func TestProbeNote(t *testing.T) {
	statusProbe = true
	defer func() { statusProbe = false }()

	deps := &app.Dependencies{Embedder: embed.New(probeClient{}, embed.Options{})}
	if got := probeNote(context.Background(), deps); got != " (dim 3)" {
		t.Fatalf("note = %q, want \" (dim 3)\"", got)
	}

	deps = &app.Dependencies{Embedder: embed.New(probeClient{err: errors.New("connection refused")}, embed.Options{})}
	if got := probeNote(context.Background(), deps); !strings.Contains(got, "unreachable") {
		t.Fatalf("note = %q, want an unreachable marker", got)
	}
}

func TestProbeNoteOffByDefault(t *testing.T) {
	if got := probeNote(context.Background(), nil); got != "" {
		t.Fatalf("note = %q, want empty without --probe", got)
	}
}
