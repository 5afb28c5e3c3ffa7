// Package answer builds a grounded prompt from retrieved matches and calls
// the generation capability for the final reply.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/docent-ai/docent/engine/domain"
)

// NoContextAnswer is returned verbatim when retrieval produced no matches.
// The generator is never called in that case.
const NoContextAnswer = "No relevant information was found in the index for this question."

// DefaultContextBudget caps the assembled context block in characters.
const DefaultContextBudget = 8000

const defaultSystemPrompt = `You are Docent, an assistant answering questions about an indexed document corpus.
Answer the question using ONLY the provided context. If the context does not
contain enough information, say so plainly. Cite passages by their [n] number.`

// Generator is the text completion capability. Model, temperature, and
// output length are fixed on the implementation, not varied per call.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configure prompt assembly.
type Options struct {
	// ContextBudget caps the context block in characters. Passages are
	// packed in rank order; the first one is always kept.
	ContextBudget int
	// SystemPrompt overrides the grounding instruction.
	SystemPrompt string
}

// Synthesizer turns a question and its retrieved matches into an answer.
type Synthesizer struct {
	gen  Generator
	opts Options
}

// New returns a Synthesizer over a generation capability.
func New(gen Generator, opts Options) *Synthesizer {
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = DefaultContextBudget
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	return &Synthesizer{gen: gen, opts: opts}
}

// Synthesize answers the question from the matches. Empty matches
// short-circuit to NoContextAnswer without touching the generator, so an
// empty index never produces a hallucinated answer or an external call.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, matches []domain.Match) (string, error) {
	if len(matches) == 0 {
		return NoContextAnswer, nil
	}

	reply, err := s.gen.Complete(ctx, s.buildPrompt(question, matches))
	if err != nil {
		return "", domain.NewUpstreamError(domain.StageGenerate, fmt.Errorf("answer: complete: %w", err))
	}
	return strings.TrimSpace(reply), nil
}

// buildPrompt numbers passages in rank order and packs them greedily under
// the context budget. A first passage that alone overflows the budget is
// still included whole.
func (s *Synthesizer) buildPrompt(question string, matches []domain.Match) string {
	var passages strings.Builder
	used := 0
	for i, m := range matches {
		part := fmt.Sprintf("[%d] (source: %s, score: %.3f)\n%s\n\n", i+1, m.Meta.Source, m.Score, m.Meta.Text)
		if used+len(part) > s.opts.ContextBudget && used > 0 {
			break
		}
		passages.WriteString(part)
		used += len(part)
	}

	var b strings.Builder
	b.WriteString(s.opts.SystemPrompt)
	b.WriteString("\n\nContext:\n")
	b.WriteString(passages.String())
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}
