// Package cluster groups failure features by embedding similarity.
package cluster

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/reportstack/triage-engine/internal/models"
)

// SimilarityThreshold is the cosine similarity a candidate must exceed
// (strictly) to join a seed's cluster.
const SimilarityThreshold = 0.7

// CosineSimilarity returns dot(a,b)/(|a|*|b|). A zero-norm vector (possible
// from the term-frequency fallback on empty text) yields 0 rather than a
// division by zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	dot, normA, normB := 0.0, 0.0, 0.0
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Group performs greedy single-link clustering over the features in input
// order: each unassigned feature seeds a cluster and collects every later
// unassigned feature directly similar to the seed. A candidate joins only on
// similarity to the seed, not to other members; this is an intentional
// simplification, not full linkage clustering, and makes the output
// order-sensitive but reproducible for a fixed input order.
//
// embeddings[i] must correspond to features[i]. Clusters are returned sorted
// by descending member count so the largest groups surface first for triage.
func Group(features []models.FailureFeature, embeddings [][]float64) []models.FailureCluster {
	if len(features) == 0 || len(features) != len(embeddings) {
		return nil
	}

	assigned := make([]bool, len(features))
	clusters := make([]models.FailureCluster, 0)

	for i := range features {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []models.FailureFeature{features[i]}
		memberVectors := [][]float64{embeddings[i]}

		for j := i + 1; j < len(features); j++ {
			if assigned[j] {
				continue
			}
			if CosineSimilarity(embeddings[i], embeddings[j]) > SimilarityThreshold {
				assigned[j] = true
				members = append(members, features[j])
				memberVectors = append(memberVectors, embeddings[j])
			}
		}

		clusters = append(clusters, models.FailureCluster{
			ID:       uuid.NewString(),
			Members:  members,
			Centroid: centroid(memberVectors),
		})
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return len(clusters[i].Members) > len(clusters[j].Members)
	})
	return clusters
}

func centroid(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for _, vector := range vectors {
		for i, v := range vector {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(vectors))
	}
	return out
}
