package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/reportstack/triage-engine/internal/cache"
	"github.com/reportstack/triage-engine/internal/metrics"
)

// Generator produces embedding vectors, consulting a content-addressed cache
// before trying providers in order. The last provider in the chain should be
// the deterministic term-frequency fallback, which never fails.
type Generator struct {
	providers []Provider
	cache     cache.Provider
	ttl       time.Duration
	logger    *slog.Logger
}

// NewGenerator builds a Generator. A nil cache disables caching; the
// term-frequency fallback is always appended so the chain cannot come up
// empty.
func NewGenerator(providers []Provider, cacheProvider cache.Provider, ttl time.Duration, logger *slog.Logger) *Generator {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	chain := make([]Provider, 0, len(providers)+1)
	for _, p := range providers {
		if p != nil {
			chain = append(chain, p)
		}
	}
	chain = append(chain, TermFrequencyProvider{})
	return &Generator{providers: chain, cache: cacheProvider, ttl: ttl, logger: logger}
}

// Embed returns the vector for text, computing and caching it on miss. The
// vector always has Dimensions entries regardless of which strategy served
// it.
func (g *Generator) Embed(ctx context.Context, text string) []float64 {
	key := cacheKey(text)
	if cached, err := g.cache.Get(ctx, key); err == nil {
		var vector []float64
		if json.Unmarshal(cached, &vector) == nil && len(vector) == Dimensions {
			return vector
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		g.logger.Warn("embedding cache read failed", slog.Any("error", err))
	}

	vector := g.compute(ctx, text)

	if payload, err := json.Marshal(vector); err == nil {
		if err := g.cache.Set(ctx, key, payload, g.ttl); err != nil {
			g.logger.Warn("embedding cache write failed", slog.Any("error", err))
		}
	}
	return vector
}

func (g *Generator) compute(ctx context.Context, text string) []float64 {
	for i, provider := range g.providers {
		vector, err := provider.TryEmbed(ctx, text)
		if err == nil && len(vector) == Dimensions {
			return vector
		}
		if err != nil {
			g.logger.Warn("embedding provider failed, falling through",
				slog.String("provider", provider.Name()),
				slog.Any("error", err))
			if i < len(g.providers)-1 {
				metrics.ObserveProviderFallback("embedding")
			}
		}
	}
	// Unreachable in practice: the term-frequency fallback never errors.
	return make([]float64, Dimensions)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + hex.EncodeToString(sum[:])
}
