package embedding

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/reportstack/triage-engine/internal/cache"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(_ context.Context, _, _ string, _ int, _ float64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestTermFrequencyFallbackWithoutProvider(t *testing.T) {
	g := NewGenerator(nil, nil, 0, nil)

	vector := g.Embed(context.Background(), "connection refused to database")
	if len(vector) != Dimensions {
		t.Fatalf("dimensions = %d, want %d", len(vector), Dimensions)
	}

	nonZero := 0
	for _, v := range vector {
		if v != 0 {
			nonZero++
		}
	}
	// Four distinct tokens: connection, refused, to, database.
	if nonZero != 4 {
		t.Fatalf("non-zero slots = %d, want 4", nonZero)
	}
	if math.Abs(vector[0]-0.25) > 1e-9 {
		t.Fatalf("first slot = %f, want 0.25 (frequency/token-count)", vector[0])
	}
}

func TestTermFrequencyRepeatedTokens(t *testing.T) {
	var p TermFrequencyProvider
	vector, err := p.TryEmbed(context.Background(), "timeout timeout element")
	if err != nil {
		t.Fatalf("try embed: %v", err)
	}
	if math.Abs(vector[0]-2.0/3.0) > 1e-9 {
		t.Fatalf("slot for repeated token = %f, want 2/3", vector[0])
	}
	if math.Abs(vector[1]-1.0/3.0) > 1e-9 {
		t.Fatalf("slot for single token = %f, want 1/3", vector[1])
	}
}

func TestTermFrequencyEmptyText(t *testing.T) {
	var p TermFrequencyProvider
	vector, err := p.TryEmbed(context.Background(), "")
	if err != nil {
		t.Fatalf("try embed: %v", err)
	}
	for i, v := range vector {
		if v != 0 {
			t.Fatalf("slot %d = %f, want zero vector for empty text", i, v)
		}
	}
}

func TestSummaryProviderProducesUnitVector(t *testing.T) {
	completer := &fakeCompleter{response: "Network connection to the database was refused during setup."}
	p := NewSummaryProvider(completer)

	vector, err := p.TryEmbed(context.Background(), "connect ECONNREFUSED db:5432")
	if err != nil {
		t.Fatalf("try embed: %v", err)
	}
	if len(vector) != Dimensions {
		t.Fatalf("dimensions = %d, want %d", len(vector), Dimensions)
	}

	sum := 0.0
	for _, v := range vector {
		sum += v * v
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-9 {
		t.Fatalf("norm = %f, want unit length", math.Sqrt(sum))
	}
}

func TestGeneratorFallsThroughOnProviderError(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("quota exceeded")}
	g := NewGenerator([]Provider{NewSummaryProvider(completer)}, nil, 0, nil)

	vector := g.Embed(context.Background(), "timeout waiting for element")
	if len(vector) != Dimensions {
		t.Fatalf("dimensions = %d, want %d", len(vector), Dimensions)
	}
	nonZero := false
	for _, v := range vector {
		if v != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatalf("fallback vector is all zeros for non-empty text")
	}
	if completer.calls != 1 {
		t.Fatalf("completer calls = %d, want 1", completer.calls)
	}
}

func TestGeneratorCachesByContent(t *testing.T) {
	completer := &fakeCompleter{response: "Timeout waiting for a UI element."}
	g := NewGenerator(
		[]Provider{NewSummaryProvider(completer)},
		cache.NewMemoryProvider(16, time.Minute),
		time.Minute,
		nil,
	)

	first := g.Embed(context.Background(), "Timeout waiting for element #submit")
	second := g.Embed(context.Background(), "Timeout waiting for element #submit")

	if completer.calls != 1 {
		t.Fatalf("completer calls = %d, want 1 (second call must hit the cache)", completer.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at slot %d", i)
		}
	}
}
