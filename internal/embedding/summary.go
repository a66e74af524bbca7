package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/reportstack/triage-engine/internal/llm"
)

const summarySystemPrompt = "You are a test failure analyst. Summarize the essential cause of the " +
	"failure below in one or two sentences, naming the failing operation and the suspected layer " +
	"(network, UI automation, test data, or application)."

// keywordWeights maps vocabulary terms to vector slots. The slot index is the
// position in this list; weights reflect how strongly a term localizes the
// failure cause. The list must stay shorter than Dimensions.
var keywordWeights = []struct {
	term   string
	weight float64
}{
	{"timeout", 1.0},
	{"wait", 0.8},
	{"slow", 0.6},
	{"element", 1.0},
	{"locator", 1.0},
	{"selector", 0.9},
	{"stale", 0.8},
	{"click", 0.5},
	{"visible", 0.6},
	{"network", 1.0},
	{"connection", 1.0},
	{"refused", 0.9},
	{"dns", 0.9},
	{"ssl", 0.9},
	{"certificate", 0.8},
	{"unreachable", 0.8},
	{"request", 0.6},
	{"response", 0.5},
	{"http", 0.6},
	{"api", 0.6},
	{"server", 0.7},
	{"database", 0.9},
	{"sql", 0.8},
	{"query", 0.6},
	{"constraint", 0.7},
	{"duplicate", 0.6},
	{"fixture", 0.8},
	{"data", 0.5},
	{"seed", 0.6},
	{"credential", 0.8},
	{"permission", 0.9},
	{"access", 0.7},
	{"denied", 0.8},
	{"forbidden", 0.7},
	{"unauthorized", 0.8},
	{"assertion", 0.9},
	{"expected", 0.6},
	{"mismatch", 0.7},
	{"null", 0.7},
	{"undefined", 0.7},
	{"exception", 0.6},
	{"memory", 0.8},
	{"crash", 0.8},
	{"deploy", 0.6},
	{"environment", 0.7},
	{"grid", 0.7},
	{"browser", 0.6},
	{"session", 0.6},
	{"script", 0.5},
	{"automation", 0.5},
}

// SummaryProvider asks the language model for a semantic summary and derives
// a vector from the summary via weighted keyword matching. Output is
// unit-normalized.
type SummaryProvider struct {
	completer llm.Completer
}

// NewSummaryProvider wraps an LLM completer; returns nil when no completer is
// configured so the generator skips the strategy entirely.
func NewSummaryProvider(completer llm.Completer) *SummaryProvider {
	if completer == nil {
		return nil
	}
	return &SummaryProvider{completer: completer}
}

// Name identifies the strategy in logs and metrics.
func (*SummaryProvider) Name() string { return "llm-summary" }

// TryEmbed requests a summary and vectorizes it. Any provider error is
// returned as-is so the generator can fall through to the next strategy.
func (p *SummaryProvider) TryEmbed(ctx context.Context, text string) ([]float64, error) {
	summary, err := p.completer.Complete(ctx, summarySystemPrompt, text, 256, 0.2)
	if err != nil {
		return nil, fmt.Errorf("summary request: %w", err)
	}
	vector := vectorizeSummary(summary)
	if norm(vector) == 0 {
		return nil, fmt.Errorf("summary produced no vocabulary matches")
	}
	return vector, nil
}

func vectorizeSummary(summary string) []float64 {
	vector := make([]float64, Dimensions)
	lower := strings.ToLower(summary)
	for i, kw := range keywordWeights {
		if occurrences := strings.Count(lower, kw.term); occurrences > 0 {
			vector[i] = kw.weight * float64(occurrences)
		}
	}
	normalize(vector)
	return vector
}

func normalize(vector []float64) {
	n := norm(vector)
	if n == 0 {
		return
	}
	for i := range vector {
		vector[i] /= n
	}
}

func norm(vector []float64) float64 {
	sum := 0.0
	for _, v := range vector {
		sum += v * v
	}
	return math.Sqrt(sum)
}
