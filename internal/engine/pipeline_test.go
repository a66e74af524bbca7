package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/reportstack/triage-engine/internal/cache"
	"github.com/reportstack/triage-engine/internal/insights"
	"github.com/reportstack/triage-engine/internal/models"
	"github.com/reportstack/triage-engine/internal/repo"
)

type fakeSource struct {
	report  repo.Report
	err     error
	fetches int
}

func (f *fakeSource) FetchReport(_ context.Context, _ string) (repo.Report, error) {
	f.fetches++
	if f.err != nil {
		return repo.Report{}, f.err
	}
	return f.report, nil
}

type fakeStore struct {
	failures        []models.FailureRecord
	classifications []models.Classification
	classifyErr     error
}

func (f *fakeStore) UpsertFailures(_ context.Context, _ string, records []models.FailureRecord) error {
	f.failures = append(f.failures, records...)
	return nil
}

func (f *fakeStore) UpsertClassification(_ context.Context, c models.Classification) error {
	if f.classifyErr != nil {
		return f.classifyErr
	}
	f.classifications = append(f.classifications, c)
	return nil
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(errorText, _ string) models.Classification {
	return models.Classification{
		PrimaryClass: models.ClassEnvironmentIssue,
		SubClass:     "Connection_Refused",
		Confidence:   0.85,
	}
}

// fakeEmbedder maps error text onto fixed 2-d directions so cluster
// membership is fully controlled by the test.
type fakeEmbedder struct {
	vectors map[string][]float64
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) []float64 {
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return []float64{1, 0}
}

func failureRecord(id, errorText string) models.FailureRecord {
	return models.FailureRecord{
		ID:           id,
		TestName:     "test_" + id,
		ErrorMessage: errorText,
		Timestamp:    time.Now().UTC(),
	}
}

func newTestPipeline(source *fakeSource, store *fakeStore, embedder *fakeEmbedder) *Pipeline {
	return NewPipeline(
		nil,
		source,
		store,
		fakeClassifier{},
		embedder,
		insights.NewSynthesizer(nil, nil),
		cache.NewMemoryProvider(16, time.Minute),
		time.Minute,
	)
}

func TestAnalyzeReportCleanReport(t *testing.T) {
	source := &fakeSource{report: repo.Report{ReportID: "rep-1", TotalTests: 50}}
	embedder := &fakeEmbedder{}
	p := newTestPipeline(source, &fakeStore{}, embedder)

	analysis, err := p.AnalyzeReport(context.Background(), "rep-1")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.Insights.Confidence != 100 {
		t.Fatalf("confidence = %f, want 100 for a clean report", analysis.Insights.Confidence)
	}
	if len(analysis.Clusters) != 0 {
		t.Fatalf("clusters = %d, want none", len(analysis.Clusters))
	}
	if embedder.calls != 0 {
		t.Fatalf("embedder calls = %d, want 0 on the clean-report path", embedder.calls)
	}
}

func TestAnalyzeReportClustersAndSynthesizes(t *testing.T) {
	source := &fakeSource{report: repo.Report{
		ReportID:  "rep-2",
		ProjectID: "proj-1",
		Failures: []models.FailureRecord{
			failureRecord("f-1", "connection refused to payments"),
			failureRecord("f-2", "connection refused to payments"),
			failureRecord("f-3", "assertion failed: expected 3 got 2"),
		},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"connection refused to payments":    {1, 0},
		"assertion failed: expected 3 got 2": {0, 1},
	}}
	store := &fakeStore{}
	p := newTestPipeline(source, store, embedder)

	analysis, err := p.AnalyzeReport(context.Background(), "rep-2")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if len(analysis.Clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(analysis.Clusters))
	}
	if len(analysis.Clusters[0].Members) != 2 {
		t.Fatalf("largest cluster = %d members, want 2", len(analysis.Clusters[0].Members))
	}
	if analysis.Clusters[0].RootCause != "Network connectivity or API issues" {
		t.Fatalf("root cause = %q", analysis.Clusters[0].RootCause)
	}
	if len(store.failures) != 3 {
		t.Fatalf("persisted failures = %d, want 3", len(store.failures))
	}
	if len(store.classifications) != 3 {
		t.Fatalf("persisted classifications = %d, want 3", len(store.classifications))
	}
	if store.classifications[0].TestCaseID != "f-1" {
		t.Fatalf("classification keyed by %q, want record ID", store.classifications[0].TestCaseID)
	}
}

func TestAnalyzeReportIsCached(t *testing.T) {
	source := &fakeSource{report: repo.Report{
		ReportID: "rep-3",
		Failures: []models.FailureRecord{failureRecord("f-1", "timeout waiting for element")},
	}}
	p := newTestPipeline(source, &fakeStore{}, &fakeEmbedder{})

	if _, err := p.AnalyzeReport(context.Background(), "rep-3"); err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	if _, err := p.AnalyzeReport(context.Background(), "rep-3"); err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if source.fetches != 1 {
		t.Fatalf("fetches = %d, want 1 (second call must hit the cache)", source.fetches)
	}
}

func TestClearCacheForcesReanalysis(t *testing.T) {
	source := &fakeSource{report: repo.Report{
		ReportID: "rep-4",
		Failures: []models.FailureRecord{failureRecord("f-1", "timeout waiting for element")},
	}}
	p := newTestPipeline(source, &fakeStore{}, &fakeEmbedder{})

	ctx := context.Background()
	if _, err := p.AnalyzeReport(ctx, "rep-4"); err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	if err := p.ClearCache(ctx); err != nil {
		t.Fatalf("clear cache: %v", err)
	}
	if _, err := p.AnalyzeReport(ctx, "rep-4"); err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if source.fetches != 2 {
		t.Fatalf("fetches = %d, want 2 after cache clear", source.fetches)
	}
}

func TestAnalyzeReportSourceErrorPropagates(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("report not found")}
	p := newTestPipeline(source, &fakeStore{}, &fakeEmbedder{})

	if _, err := p.AnalyzeReport(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error when the source fails")
	}
}

func TestAnalyzeReportSurvivesClassificationStoreError(t *testing.T) {
	source := &fakeSource{report: repo.Report{
		ReportID: "rep-5",
		Failures: []models.FailureRecord{failureRecord("f-1", "timeout waiting for element")},
	}}
	store := &fakeStore{classifyErr: fmt.Errorf("disk full")}
	p := newTestPipeline(source, store, &fakeEmbedder{})

	analysis, err := p.AnalyzeReport(context.Background(), "rep-5")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(analysis.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1 despite store errors", len(analysis.Clusters))
	}
}
