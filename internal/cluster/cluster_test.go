package cluster

import (
	"math"
	"testing"

	"github.com/reportstack/triage-engine/internal/models"
)

func feature(id string) models.FailureFeature {
	return models.FailureFeature{RecordID: id, TestName: id}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float64{1, 2, 3}
	if got := CosineSimilarity(v, v); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("similarity = %f, want 1.0", got)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 1}
	if got := CosineSimilarity(a, b); got != 0 {
		t.Fatalf("similarity = %f, want 0", got)
	}
}

func TestCosineSimilarityScaleInvariant(t *testing.T) {
	a := []float64{0.2, 0.4, 0.1}
	b := []float64{2, 4, 1}
	if got := CosineSimilarity(a, b); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("similarity = %f, want 1.0 for scaled copies", got)
	}
}

func TestCosineSimilarityZeroVectorGuard(t *testing.T) {
	zero := []float64{0, 0, 0}
	other := []float64{1, 2, 3}
	if got := CosineSimilarity(zero, other); got != 0 {
		t.Fatalf("similarity with zero vector = %f, want 0", got)
	}
	if got := CosineSimilarity(zero, zero); got != 0 {
		t.Fatalf("similarity of two zero vectors = %f, want 0", got)
	}
}

// vectorAtSimilarity builds a unit vector whose cosine similarity to the unit
// x-axis vector is exactly sim.
func vectorAtSimilarity(sim float64) []float64 {
	return []float64{sim, math.Sqrt(1 - sim*sim)}
}

func TestGroupThresholdIsStrict(t *testing.T) {
	seed := []float64{1, 0}

	atThreshold := vectorAtSimilarity(0.7)
	clusters := Group(
		[]models.FailureFeature{feature("a"), feature("b")},
		[][]float64{seed, atThreshold},
	)
	if len(clusters) != 2 {
		t.Fatalf("clusters = %d, want 2: similarity exactly 0.7 must not merge", len(clusters))
	}

	aboveThreshold := vectorAtSimilarity(0.70000001)
	clusters = Group(
		[]models.FailureFeature{feature("a"), feature("b")},
		[][]float64{seed, aboveThreshold},
	)
	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1: similarity above 0.7 must merge", len(clusters))
	}
}

func TestGroupSingleLinkToSeedOnly(t *testing.T) {
	// b is similar to seed a; c is similar to b but not to a. Under
	// seed-scan single-link, c must not join a's cluster.
	a := vectorAtSimilarity(1.0)  // x-axis
	b := vectorAtSimilarity(0.75) // close to a
	c := []float64{0.2, math.Sqrt(1 - 0.04)}

	if CosineSimilarity(a, c) > SimilarityThreshold {
		t.Fatalf("test construction broken: a and c too similar (%f)", CosineSimilarity(a, c))
	}
	if CosineSimilarity(b, c) <= SimilarityThreshold {
		t.Fatalf("test construction broken: b and c not similar (%f)", CosineSimilarity(b, c))
	}

	clusters := Group(
		[]models.FailureFeature{feature("a"), feature("b"), feature("c")},
		[][]float64{a, b, c},
	)
	if len(clusters) != 2 {
		t.Fatalf("clusters = %d, want 2 (c joins only via direct seed similarity)", len(clusters))
	}
	if len(clusters[0].Members) != 2 {
		t.Fatalf("largest cluster size = %d, want 2", len(clusters[0].Members))
	}
}

func TestGroupSortsByDescendingSize(t *testing.T) {
	x := []float64{1, 0}
	y := []float64{0, 1}

	clusters := Group(
		[]models.FailureFeature{feature("lone"), feature("a"), feature("b"), feature("c")},
		[][]float64{y, x, x, x},
	)
	if len(clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(clusters))
	}
	if len(clusters[0].Members) != 3 || len(clusters[1].Members) != 1 {
		t.Fatalf("cluster sizes = %d,%d, want 3,1 (descending)", len(clusters[0].Members), len(clusters[1].Members))
	}
}

func TestGroupEmptyInput(t *testing.T) {
	if clusters := Group(nil, nil); clusters != nil {
		t.Fatalf("expected nil clusters for empty input")
	}
}

func TestGroupCentroid(t *testing.T) {
	x := []float64{1, 0}
	clusters := Group(
		[]models.FailureFeature{feature("a"), feature("b")},
		[][]float64{x, x},
	)
	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(clusters))
	}
	got := clusters[0].Centroid
	if math.Abs(got[0]-1.0) > 1e-9 || math.Abs(got[1]) > 1e-9 {
		t.Fatalf("centroid = %v, want [1 0]", got)
	}
}
