package embedding

import (
	"context"
	"strings"
	"unicode"
)

// TermFrequencyProvider is the deterministic final fallback: tokenize, count
// frequencies, and populate the vector by first-seen token order with
// frequency/token-count values. Unused slots stay zero. The result is
// intentionally left unnormalized; cosine similarity is scale-invariant, so
// mixing these with unit-length vectors from other providers is safe.
type TermFrequencyProvider struct{}

// Name identifies the strategy in logs and metrics.
func (TermFrequencyProvider) Name() string { return "term-frequency" }

// TryEmbed never fails; empty text yields the zero vector.
func (TermFrequencyProvider) TryEmbed(_ context.Context, text string) ([]float64, error) {
	vector := make([]float64, Dimensions)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vector, nil
	}

	counts := make(map[string]int, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, seen := counts[token]; !seen {
			order = append(order, token)
		}
		counts[token]++
	}

	total := float64(len(tokens))
	for i, token := range order {
		if i >= Dimensions {
			break
		}
		vector[i] = float64(counts[token]) / total
	}
	return vector, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
