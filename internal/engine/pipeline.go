// Package engine orchestrates the report analysis flow: fetch, classify,
// embed, cluster, synthesize.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/reportstack/triage-engine/internal/cache"
	"github.com/reportstack/triage-engine/internal/cluster"
	"github.com/reportstack/triage-engine/internal/insights"
	"github.com/reportstack/triage-engine/internal/metrics"
	"github.com/reportstack/triage-engine/internal/models"
	"github.com/reportstack/triage-engine/internal/repo"
)

const analysisKeyPrefix = "analysis:"

// ReportSource fetches a report and its failed cases from the reporting
// backend.
type ReportSource interface {
	FetchReport(ctx context.Context, reportID string) (repo.Report, error)
}

// Embedder turns failure text into a fixed-dimension vector. Implementations
// never fail; degraded providers fall through to a local vectorizer.
type Embedder interface {
	Embed(ctx context.Context, text string) []float64
}

// Classifier assigns a two-level class to one failure.
type Classifier interface {
	Classify(errorText, stackTrace string) models.Classification
}

// FailureStore persists fetched failures and their automatic classifications.
type FailureStore interface {
	UpsertFailures(ctx context.Context, projectID string, records []models.FailureRecord) error
	UpsertClassification(ctx context.Context, c models.Classification) error
}

// Pipeline runs the full analysis for one report and caches the result.
type Pipeline struct {
	logger      *slog.Logger
	source      ReportSource
	store       FailureStore
	classifier  Classifier
	embedder    Embedder
	synthesizer *insights.Synthesizer
	cache       cache.Provider
	cacheTTL    time.Duration
}

// NewPipeline constructs the analysis pipeline. cacheProvider may be nil to
// disable analysis caching.
func NewPipeline(
	logger *slog.Logger,
	source ReportSource,
	store FailureStore,
	classifier Classifier,
	embedder Embedder,
	synthesizer *insights.Synthesizer,
	cacheProvider cache.Provider,
	cacheTTL time.Duration,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Pipeline{
		logger:      logger,
		source:      source,
		store:       store,
		classifier:  classifier,
		embedder:    embedder,
		synthesizer: synthesizer,
		cache:       cacheProvider,
		cacheTTL:    cacheTTL,
	}
}

// AnalyzeReport runs (or returns the cached result of) the full analysis for
// one report. Repeated calls for the same report within the cache TTL return
// the first result without re-running classification or clustering.
func (p *Pipeline) AnalyzeReport(ctx context.Context, reportID string) (models.ReportAnalysis, error) {
	if p.source == nil {
		return models.ReportAnalysis{}, fmt.Errorf("report source not configured")
	}

	cacheKey := analysisKeyPrefix + reportID
	if cached, err := p.cache.Get(ctx, cacheKey); err == nil {
		var analysis models.ReportAnalysis
		if json.Unmarshal(cached, &analysis) == nil {
			p.logger.Debug("analysis cache hit", slog.String("report_id", reportID))
			return analysis, nil
		}
	}

	start := time.Now()
	analysis, err := p.analyze(ctx, reportID)
	if err != nil {
		metrics.ObserveAnalysis(time.Since(start), metrics.OutcomeError)
		return models.ReportAnalysis{}, err
	}
	metrics.ObserveAnalysis(time.Since(start), metrics.OutcomeSuccess)

	if encoded, err := json.Marshal(analysis); err == nil {
		if err := p.cache.Set(ctx, cacheKey, encoded, p.cacheTTL); err != nil {
			p.logger.Warn("analysis cache write failed", slog.Any("error", err))
		}
	}
	return analysis, nil
}

func (p *Pipeline) analyze(ctx context.Context, reportID string) (models.ReportAnalysis, error) {
	report, err := p.source.FetchReport(ctx, reportID)
	if err != nil {
		return models.ReportAnalysis{}, fmt.Errorf("fetch report %s: %w", reportID, err)
	}

	if p.store != nil && len(report.Failures) > 0 {
		if err := p.store.UpsertFailures(ctx, report.ProjectID, report.Failures); err != nil {
			p.logger.Warn("persist failures failed", slog.Any("error", err))
		}
	}

	p.classifyAll(ctx, report.Failures)

	analysis := models.ReportAnalysis{
		ReportID:  report.ReportID,
		CreatedAt: time.Now().UTC(),
	}

	// A clean report never touches the embedding or synthesis providers.
	if len(report.Failures) == 0 {
		analysis.Insights = insights.AllPassed()
		return analysis, nil
	}

	features := make([]models.FailureFeature, 0, len(report.Failures))
	embeddings := make([][]float64, 0, len(report.Failures))
	for _, failure := range report.Failures {
		feature := models.FailureFeature{
			RecordID:    failure.ID,
			TestName:    failure.TestName,
			ErrorText:   failure.ErrorMessage,
			Environment: failure.Environment,
			Duration:    failure.Duration,
		}
		features = append(features, feature)
		embeddings = append(embeddings, p.embedder.Embed(ctx, embeddingText(failure)))
	}

	clusters := cluster.Group(features, embeddings)
	for i := range clusters {
		clusters[i] = p.synthesizer.Synthesize(ctx, clusters[i])
	}

	analysis.Clusters = clusters
	analysis.Insights = insights.BuildInsights(clusters, len(report.Failures))
	return analysis, nil
}

// classifyAll runs the rule classifier over every failure. A fault in one
// record is absorbed by the classifier's recover and never stops the batch.
func (p *Pipeline) classifyAll(ctx context.Context, failures []models.FailureRecord) {
	if p.classifier == nil {
		return
	}
	for _, failure := range failures {
		verdict := p.classifier.Classify(failure.ErrorMessage, failure.StackTrace)
		verdict.TestCaseID = failure.ID
		verdict.ClassifiedAt = time.Now().UTC()
		metrics.ObserveClassification(string(verdict.PrimaryClass))

		if p.store == nil {
			continue
		}
		if err := p.store.UpsertClassification(ctx, verdict); err != nil {
			p.logger.Warn("persist classification failed",
				slog.String("test_case_id", failure.ID), slog.Any("error", err))
		}
	}
}

// ClearCache drops all cached analyses.
func (p *Pipeline) ClearCache(ctx context.Context) error {
	return p.cache.Flush(ctx)
}

func embeddingText(failure models.FailureRecord) string {
	if failure.StackTrace == "" {
		return failure.ErrorMessage
	}
	return failure.ErrorMessage + "\n" + failure.StackTrace
}
