// Package embedding converts failure text into fixed-length vectors for
// similarity clustering.
package embedding

import "context"

// Dimensions is the fixed vector length produced by every provider. Keeping
// all paths at one dimensionality keeps downstream cosine math well-defined
// regardless of which provider served a given text.
const Dimensions = 100

// Provider is one embedding strategy. Strategies are tried in order until one
// succeeds; a returned error means "try the next one".
type Provider interface {
	Name() string
	TryEmbed(ctx context.Context, text string) ([]float64, error)
}
