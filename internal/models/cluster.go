package models

import "time"

// FailureFeature is the per-failure input to the clustering path: the raw
// record plus the text the embedding was computed from.
type FailureFeature struct {
	RecordID    string
	TestName    string
	ErrorText   string
	Environment string
	Duration    time.Duration
}

// FailureCluster is an ephemeral grouping of failures by embedding
// similarity. Clusters are recomputed per analysis and never persisted.
type FailureCluster struct {
	ID              string
	Members         []FailureFeature
	Centroid        []float64
	Patterns        []string
	RootCause       string
	Confidence      float64
	Recommendations []string
}

// ReportInsights aggregates all clusters of one report into a summary.
// Confidence here is on the 0-100 scale used by the synthesizer.
type ReportInsights struct {
	Summary         string
	TopPatterns     []string
	Confidence      float64
	Recommendations []string
}

// ReportAnalysis is the cached result of one analyzeReport invocation.
type ReportAnalysis struct {
	ReportID  string
	Clusters  []FailureCluster
	Insights  ReportInsights
	CreatedAt time.Time
}
