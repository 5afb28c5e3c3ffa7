// Package segment turns raw text into an ordered sequence of chunks under a
// configurable boundary policy. Segmentation is pure and deterministic: the
// same text and policy always produce the same chunks, so an interrupted
// ingest can simply be re-run.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/docent-ai/docent/engine/domain"
)

// TokenCounter reports the token cost of a span of text. The segmenter owns
// chunk-boundary policy but not tokenization; callers wire the counter of the
// embedding model they target.
type TokenCounter func(text string) int

// WordTokens approximates tokens by word count. Good enough for
// sentence packing when no model tokenizer is wired.
func WordTokens(text string) int {
	return len(strings.Fields(text))
}

// Segmenter cuts documents into chunks under one Policy.
type Segmenter struct {
	policy Policy
	tokens TokenCounter
}

// New validates the policy and returns a Segmenter. A nil TokenCounter
// falls back to WordTokens.
func New(policy Policy, tokens TokenCounter) (*Segmenter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = WordTokens
	}
	return &Segmenter{policy: policy, tokens: tokens}, nil
}

// Policy returns the active policy.
func (s *Segmenter) Policy() Policy { return s.policy }

// Segment splits text into chunks. Empty or blank input yields zero chunks.
// Chunk IDs count up from zero in emission order; StartOffset is expressed
// in the policy's own unit (words, characters, or sentences).
func (s *Segmenter) Segment(text string) []domain.Chunk {
	switch s.policy.Kind {
	case FixedWord:
		return s.segmentWords(text)
	case FixedChar:
		return s.segmentChars(text)
	default:
		return s.segmentSentences(text)
	}
}

func (s *Segmenter) segmentWords(text string) []domain.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	advance := s.policy.Window - s.policy.Overlap

	var chunks []domain.Chunk
	for start := 0; start < len(words); start += advance {
		end := start + s.policy.Window
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, newChunk(len(chunks), strings.Join(words[start:end], " "), start))
		if end == len(words) {
			break
		}
	}
	return chunks
}

func (s *Segmenter) segmentChars(text string) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)

	var chunks []domain.Chunk
	for start := 0; start < len(runes); start += s.policy.Window {
		end := start + s.policy.Window
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, newChunk(len(chunks), string(runes[start:end]), start))
	}
	return chunks
}

// segmentSentences greedily packs sentences while the cumulative token count
// stays within MaxTokens. On overflow the chunk closes and the next one is
// seeded with the last OverlapSentences sentences. A single sentence over the
// budget is emitted as its own oversized chunk, never dropped or truncated.
func (s *Segmenter) segmentSentences(text string) []domain.Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []domain.Chunk
	start := 0
	for start < len(sentences) {
		var buf strings.Builder
		tokens := 0
		end := start

		for end < len(sentences) {
			cost := s.tokens(sentences[end])
			if tokens+cost > s.policy.MaxTokens && tokens > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(sentences[end])
			tokens += cost
			end++
		}

		chunks = append(chunks, newChunk(len(chunks), buf.String(), start))
		if end == len(sentences) {
			break
		}

		// Walk back for overlap, forcing forward progress when the closed
		// chunk has no more than OverlapSentences sentences.
		next := end - s.policy.OverlapSentences
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// splitSentences splits text into punctuation-terminated spans. A terminator
// counts only at end of input, before whitespace, or on a newline, so tokens
// like "v1.2" stay intact. Input without any terminator comes back whole.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i, r := range text {
		current.WriteRune(r)
		if !isTerminator(r) {
			continue
		}
		next, size := utf8.DecodeRuneInString(text[i+utf8.RuneLen(r):])
		if size == 0 || r == '\n' || unicode.IsSpace(next) {
			flush()
		}
	}
	flush()
	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

func newChunk(id int, text string, startOffset int) domain.Chunk {
	return domain.Chunk{
		ID:          id,
		Text:        text,
		StartOffset: startOffset,
		WordCount:   len(strings.Fields(text)),
		CharCount:   utf8.RuneCountInString(text),
	}
}
