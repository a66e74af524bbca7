// Package services exposes the triage operations behind the HTTP API.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reportstack/triage-engine/internal/dedup"
	"github.com/reportstack/triage-engine/internal/models"
	"github.com/reportstack/triage-engine/internal/utils"
)

// Analyzer runs (and caches) the full report analysis.
type Analyzer interface {
	AnalyzeReport(ctx context.Context, reportID string) (models.ReportAnalysis, error)
	ClearCache(ctx context.Context) error
}

// TriageStore defines the persistence operations the service layer needs.
type TriageStore interface {
	QueryClassified(ctx context.Context, filter models.FailureFilter, now time.Time) ([]models.ClassifiedFailure, error)
	GetFailure(ctx context.Context, id string) (models.FailureRecord, error)
	UpsertClassification(ctx context.Context, c models.Classification) error
	GetClassification(ctx context.Context, testCaseID string) (models.Classification, error)
	ListGroups(ctx context.Context, projectID string) ([]models.DefectGroup, error)
}

// TriageService is the facade over analysis, classification queries, manual
// reclassification, and deduplication.
type TriageService struct {
	logger       *slog.Logger
	store        TriageStore
	analyzer     Analyzer
	deduplicator *dedup.Deduplicator
	latencies    *utils.LatencyTracker
	now          func() time.Time
}

// NewTriageService constructs the service facade.
func NewTriageService(logger *slog.Logger, store TriageStore, analyzer Analyzer, deduplicator *dedup.Deduplicator) *TriageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriageService{
		logger:       logger,
		store:        store,
		analyzer:     analyzer,
		deduplicator: deduplicator,
		latencies:    utils.NewLatencyTracker(1024),
		now:          time.Now,
	}
}

// AnalyzeReport delegates to the pipeline and tracks end-to-end latency.
func (s *TriageService) AnalyzeReport(ctx context.Context, reportID string) (models.ReportAnalysis, error) {
	if s.analyzer == nil {
		return models.ReportAnalysis{}, utils.NewAppError("analyze", "analyzer not configured", nil)
	}
	if reportID == "" {
		return models.ReportAnalysis{}, utils.NewAppError("analyze", "report id is required", nil)
	}

	start := time.Now()
	analysis, err := s.analyzer.AnalyzeReport(ctx, reportID)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("report analysis failed", slog.String("report_id", reportID), slog.Any("error", err))
		return models.ReportAnalysis{}, utils.NewAppError("analyze", "report analysis failed", err)
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency",
			slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return analysis, nil
}

// GetSummary aggregates classification counts for the filtered failures.
func (s *TriageService) GetSummary(ctx context.Context, filter models.FailureFilter) (models.ClassSummary, error) {
	failures, err := s.store.QueryClassified(ctx, filter, s.now())
	if err != nil {
		return models.ClassSummary{}, utils.NewAppError("summary", "query failures", err)
	}

	summary := models.ClassSummary{
		ProjectID:  filter.ProjectID,
		Total:      len(failures),
		ByClass:    make(map[models.PrimaryClass]int),
		BySubClass: make(map[string]int),
	}
	confidenceSum := 0.0
	for _, cf := range failures {
		summary.ByClass[cf.Classification.PrimaryClass]++
		if cf.Classification.SubClass != "" {
			summary.BySubClass[cf.Classification.SubClass]++
		}
		if cf.Classification.IsManual {
			summary.ManualCount++
		}
		confidenceSum += cf.Classification.Confidence
	}
	if summary.Total > 0 {
		summary.AvgConfidence = confidenceSum / float64(summary.Total)
	}
	return summary, nil
}

// GetTestCaseFailures returns filtered failures with classifications and
// signature hashes attached.
func (s *TriageService) GetTestCaseFailures(ctx context.Context, filter models.FailureFilter) ([]models.ClassifiedFailure, error) {
	failures, err := s.store.QueryClassified(ctx, filter, s.now())
	if err != nil {
		return nil, utils.NewAppError("failures", "query failures", err)
	}
	for i := range failures {
		failures[i].SignatureHash = dedup.Hash(failures[i].Record.ErrorMessage, failures[i].Record.StackTrace)
	}
	return failures, nil
}

// GetFailureGroups returns the project's persisted defect groups, largest
// first.
func (s *TriageService) GetFailureGroups(ctx context.Context, projectID string) ([]models.DefectGroup, error) {
	groups, err := s.store.ListGroups(ctx, projectID)
	if err != nil {
		return nil, utils.NewAppError("groups", "list defect groups", err)
	}
	return groups, nil
}

// GetSuiteRunFailures partitions filtered failures by suite run.
func (s *TriageService) GetSuiteRunFailures(ctx context.Context, filter models.FailureFilter) ([]models.RunFailures, error) {
	failures, err := s.GetTestCaseFailures(ctx, filter)
	if err != nil {
		return nil, err
	}

	byRun := make(map[string]*models.RunFailures)
	order := make([]string, 0)
	for _, cf := range failures {
		runID := cf.Record.RunID
		run, ok := byRun[runID]
		if !ok {
			run = &models.RunFailures{RunID: runID}
			byRun[runID] = run
			order = append(order, runID)
		}
		run.Failures = append(run.Failures, cf)
	}

	runs := make([]models.RunFailures, 0, len(order))
	for _, runID := range order {
		runs = append(runs, *byRun[runID])
	}
	return runs, nil
}

// GetClassification returns the stored verdict for one test case.
func (s *TriageService) GetClassification(ctx context.Context, testCaseID string) (models.Classification, error) {
	c, err := s.store.GetClassification(ctx, testCaseID)
	if err != nil {
		return models.Classification{}, fmt.Errorf("classification %s: %w", testCaseID, err)
	}
	return c, nil
}

// Reclassify records a manual verdict for one test case. Manual verdicts
// carry confidence 1.0 and are never overwritten by later automatic passes.
func (s *TriageService) Reclassify(ctx context.Context, testCaseID string, class models.PrimaryClass, subClass string) (models.Classification, error) {
	if _, ok := models.ParsePrimaryClass(string(class)); !ok {
		return models.Classification{}, utils.NewAppError("reclassify", fmt.Sprintf("unknown class %q", class), nil)
	}

	if _, err := s.store.GetFailure(ctx, testCaseID); err != nil {
		return models.Classification{}, utils.NewAppError("reclassify", "test case lookup", err)
	}

	verdict := models.Classification{
		TestCaseID:   testCaseID,
		PrimaryClass: class,
		SubClass:     subClass,
		Confidence:   1.0,
		IsManual:     true,
		ClassifiedAt: s.now().UTC(),
	}
	if err := s.store.UpsertClassification(ctx, verdict); err != nil {
		return models.Classification{}, utils.NewAppError("reclassify", "persist classification", err)
	}

	s.logger.Info("manual reclassification",
		slog.String("test_case_id", testCaseID),
		slog.String("class", string(class)),
		slog.String("sub_class", subClass))
	return verdict, nil
}

// Deduplicate groups the filtered failures by signature hash and persists the
// resulting defect groups.
func (s *TriageService) Deduplicate(ctx context.Context, filter models.FailureFilter) ([]models.GroupSummary, error) {
	if s.deduplicator == nil {
		return nil, utils.NewAppError("deduplicate", "deduplicator not configured", nil)
	}

	failures, err := s.GetTestCaseFailures(ctx, filter)
	if err != nil {
		return nil, err
	}

	groups, err := s.deduplicator.Deduplicate(ctx, filter.ProjectID, failures)
	if err != nil {
		return nil, utils.NewAppError("deduplicate", "group failures", err)
	}

	summaries := make([]models.GroupSummary, 0, len(groups))
	for _, group := range groups {
		summaries = append(summaries, models.GroupSummary{
			GroupID:       group.ID,
			SignatureHash: group.SignatureHash,
			MemberCount:   len(group.MemberIDs),
		})
	}
	return summaries, nil
}

// ClearCache drops all cached report analyses.
func (s *TriageService) ClearCache(ctx context.Context) error {
	if s.analyzer == nil {
		return utils.NewAppError("cache", "analyzer not configured", nil)
	}
	if err := s.analyzer.ClearCache(ctx); err != nil {
		return utils.NewAppError("cache", "flush analysis cache", err)
	}
	return nil
}
