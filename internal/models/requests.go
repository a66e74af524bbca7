package models

import "time"

// FailureFilter bounds the classify/dedup queries: either a relative window
// or an explicit start/end range, optionally narrowed by a free-text test
// name search and an explicit run subset.
type FailureFilter struct {
	ProjectID  string
	Window     time.Duration
	Start      time.Time
	End        time.Time
	TestSearch string
	RunIDs     []string
}

// Range resolves the filter into an absolute interval relative to now.
func (f FailureFilter) Range(now time.Time) (time.Time, time.Time) {
	if !f.Start.IsZero() || !f.End.IsZero() {
		end := f.End
		if end.IsZero() {
			end = now
		}
		return f.Start, end
	}
	window := f.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	return now.Add(-window), now
}

// ClassSummary aggregates classification counts for a project.
type ClassSummary struct {
	ProjectID     string
	Total         int
	ByClass       map[PrimaryClass]int
	BySubClass    map[string]int
	ManualCount   int
	AvgConfidence float64
}

// RunFailures groups classified failures under one suite run.
type RunFailures struct {
	RunID    string
	Failures []ClassifiedFailure
}
