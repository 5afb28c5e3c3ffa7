package segment

import (
	"fmt"

	"github.com/docent-ai/docent/engine/domain"
)

// Kind selects a chunk-boundary policy.
type Kind string

const (
	// FixedWord slides a window of Window words, advancing Window-Overlap
	// words per step.
	FixedWord Kind = "fixed_word"
	// FixedChar slides a window of Window characters, advancing a full
	// window per step. No overlap in this variant.
	FixedChar Kind = "fixed_char"
	// SentenceToken packs punctuation-terminated sentences under a token
	// budget, carrying OverlapSentences sentences across chunk boundaries.
	SentenceToken Kind = "sentence_token"
)

// Defaults used by DefaultPolicy and config loading.
const (
	DefaultMaxTokens        = 512
	DefaultOverlapSentences = 1
	DefaultWindow           = 200
	DefaultOverlap          = 20
)

// Policy describes how a document is cut into chunks. Exactly one Kind is
// active; only the fields belonging to that kind are read.
type Policy struct {
	Kind Kind `json:"kind"`

	// FixedWord and FixedChar window size, in words or characters.
	Window int `json:"window,omitempty"`
	// Overlap between consecutive windows, in words. FixedWord only.
	Overlap int `json:"overlap,omitempty"`

	// SentenceToken budget and sentence carry-over.
	MaxTokens        int `json:"max_tokens,omitempty"`
	OverlapSentences int `json:"overlap_sentences,omitempty"`
}

// DefaultPolicy is sentence-aware packing under the default token budget.
func DefaultPolicy() Policy {
	return Policy{
		Kind:             SentenceToken,
		MaxTokens:        DefaultMaxTokens,
		OverlapSentences: DefaultOverlapSentences,
	}
}

// Validate checks the policy once at construction. Violations are fatal
// configuration errors and must not be retried.
func (p Policy) Validate() error {
	switch p.Kind {
	case FixedWord:
		if p.Window < 1 {
			return domain.NewConfigError("window", fmt.Sprintf("must be at least 1, got %d", p.Window))
		}
		if p.Overlap < 0 {
			return domain.NewConfigError("overlap", fmt.Sprintf("must not be negative, got %d", p.Overlap))
		}
		if p.Overlap >= p.Window {
			return domain.NewConfigError("overlap", fmt.Sprintf("must be smaller than window %d, got %d", p.Window, p.Overlap))
		}
	case FixedChar:
		if p.Window < 1 {
			return domain.NewConfigError("window", fmt.Sprintf("must be at least 1, got %d", p.Window))
		}
		if p.Overlap != 0 {
			return domain.NewConfigError("overlap", "not supported for fixed_char windows")
		}
	case SentenceToken:
		if p.MaxTokens < 1 {
			return domain.NewConfigError("max_tokens", fmt.Sprintf("must be at least 1, got %d", p.MaxTokens))
		}
		if p.OverlapSentences < 0 {
			return domain.NewConfigError("overlap_sentences", fmt.Sprintf("must not be negative, got %d", p.OverlapSentences))
		}
	default:
		return domain.NewConfigError("kind", fmt.Sprintf("unknown policy kind %q", p.Kind))
	}
	return nil
}
