// Package insights derives human-readable root causes for failure clusters
// and aggregates them into report-level summaries.
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/reportstack/triage-engine/internal/llm"
	"github.com/reportstack/triage-engine/internal/metrics"
	"github.com/reportstack/triage-engine/internal/models"
)

const synthesisSystemPrompt = "You are a senior QA engineer performing root cause analysis on a cluster " +
	"of related test failures. Respond with a JSON object containing rootCause (string), confidence " +
	"(number 0-100), recommendations (array of strings), and technicalAnalysis (string). Respond with " +
	"JSON only."

// degradedConfidence is used when the provider answered but not with
// parseable JSON; the truncated text still beats the generic fallback.
const degradedConfidence = 75

// rootCauseRule maps an extracted error pattern to a canned analysis.
type rootCauseRule struct {
	pattern         string
	keywords        []string
	rootCause       string
	confidence      float64
	recommendations []string
}

// ruleTable is evaluated in order; the first rule whose keywords match the
// cluster's dominant pattern wins.
var ruleTable = []rootCauseRule{
	{
		pattern:    "timeout",
		keywords:   []string{"timeout", "wait", "timed out"},
		rootCause:  "Timing or synchronization issues in test execution",
		confidence: 90,
		recommendations: []string{
			"Increase explicit wait timeouts for slow operations",
			"Replace fixed sleeps with condition-based waits",
			"Check environment performance during the failure window",
		},
	},
	{
		pattern:    "locator",
		keywords:   []string{"not found", "locator", "element", "selector"},
		rootCause:  "UI element locators are stale or unstable",
		confidence: 90,
		recommendations: []string{
			"Review locators against the current page structure",
			"Prefer stable data-test attributes over positional selectors",
			"Add existence checks before interacting with elements",
		},
	},
	{
		pattern:    "network",
		keywords:   []string{"network", "request", "connection", "refused", "unreachable"},
		rootCause:  "Network connectivity or API issues",
		confidence: 95,
		recommendations: []string{
			"Check service health and network connectivity",
			"Verify API endpoints and their dependencies",
			"Add retry with backoff for transient network failures",
		},
	},
	{
		pattern:    "permission",
		keywords:   []string{"permission", "access", "denied", "forbidden", "unauthorized"},
		rootCause:  "Permission or access control misconfiguration",
		confidence: 90,
		recommendations: []string{
			"Verify test account roles and permissions",
			"Check credential expiry and rotation",
			"Review access control changes in the application",
		},
	},
}

// fallbackRule applies when no vocabulary keyword matches.
var fallbackRule = rootCauseRule{
	pattern:    "unclear",
	rootCause:  "Unclear failure pattern, manual investigation required",
	confidence: 30,
	recommendations: []string{
		"Manual review required",
		"Inspect full logs and artifacts for the affected tests",
	},
}

// Synthesizer produces per-cluster root causes, via the language model when
// available and a deterministic rule table otherwise.
type Synthesizer struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewSynthesizer constructs a Synthesizer; completer may be nil, in which
// case only the rule table is used.
func NewSynthesizer(completer llm.Completer, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{completer: completer, logger: logger}
}

type providerAnalysis struct {
	RootCause         string   `json:"rootCause"`
	Confidence        float64  `json:"confidence"`
	Recommendations   []string `json:"recommendations"`
	TechnicalAnalysis string   `json:"technicalAnalysis"`
}

// Synthesize fills in RootCause, Confidence, Recommendations, and Patterns
// for one cluster. Provider failures never propagate; the deterministic rule
// table always yields a well-formed result.
func (s *Synthesizer) Synthesize(ctx context.Context, cluster models.FailureCluster) models.FailureCluster {
	cluster.Patterns = extractPatterns(cluster.Members)

	if s.completer != nil {
		if done, ok := s.synthesizeWithProvider(ctx, &cluster); ok {
			return done
		}
		metrics.ObserveProviderFallback("synthesis")
	}

	rule := ruleFor(dominantPattern(cluster.Members))
	cluster.RootCause = rule.rootCause
	cluster.Confidence = rule.confidence
	cluster.Recommendations = append([]string(nil), rule.recommendations...)
	return cluster
}

func (s *Synthesizer) synthesizeWithProvider(ctx context.Context, cluster *models.FailureCluster) (models.FailureCluster, bool) {
	response, err := s.completer.Complete(ctx, synthesisSystemPrompt, clusterPrompt(*cluster), 1024, 0.3)
	if err != nil {
		s.logger.Warn("synthesis provider failed, using rule fallback", slog.Any("error", err))
		return models.FailureCluster{}, false
	}

	var analysis providerAnalysis
	if jsonErr := json.Unmarshal([]byte(stripFences(response)), &analysis); jsonErr != nil || analysis.RootCause == "" {
		// The provider answered but not with usable JSON; degrade to the
		// truncated text rather than discarding the response.
		s.logger.Warn("synthesis response not parseable, degrading", slog.Any("error", jsonErr))
		cluster.RootCause = truncateText(response, 200)
		cluster.Confidence = degradedConfidence
		cluster.Recommendations = []string{"Review the cluster details manually"}
		return *cluster, true
	}

	cluster.RootCause = analysis.RootCause
	cluster.Confidence = clampConfidence(analysis.Confidence)
	cluster.Recommendations = analysis.Recommendations
	if len(cluster.Recommendations) == 0 {
		cluster.Recommendations = []string{"Review the cluster details manually"}
	}
	return *cluster, true
}

func clusterPrompt(cluster models.FailureCluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cluster of %d related test failures:\n", len(cluster.Members))
	for i, member := range cluster.Members {
		if i >= 10 {
			fmt.Fprintf(&b, "... and %d more\n", len(cluster.Members)-i)
			break
		}
		fmt.Fprintf(&b, "- test=%q error=%q environment=%q duration=%s\n",
			member.TestName, truncateText(member.ErrorText, 150), member.Environment, member.Duration)
	}
	return b.String()
}

// BuildInsights aggregates cluster analyses into one report summary: average
// confidence, top-3 patterns by cluster size, and the five most frequent
// recommendations across clusters.
func BuildInsights(clusters []models.FailureCluster, failedTests int) models.ReportInsights {
	if len(clusters) == 0 {
		return AllPassed()
	}

	total := 0.0
	recFrequency := make(map[string]int)
	recOrder := make([]string, 0)
	patterns := make([]string, 0)
	patternSeen := make(map[string]struct{})

	// Clusters arrive sorted by descending size, so pattern collection
	// naturally prefers the biggest clusters.
	for _, cluster := range clusters {
		total += cluster.Confidence
		for _, rec := range cluster.Recommendations {
			if _, ok := recFrequency[rec]; !ok {
				recOrder = append(recOrder, rec)
			}
			recFrequency[rec]++
		}
		for _, pattern := range cluster.Patterns {
			if _, ok := patternSeen[pattern]; ok {
				continue
			}
			patternSeen[pattern] = struct{}{}
			patterns = append(patterns, pattern)
		}
	}
	if len(patterns) > 3 {
		patterns = patterns[:3]
	}

	sort.SliceStable(recOrder, func(i, j int) bool {
		return recFrequency[recOrder[i]] > recFrequency[recOrder[j]]
	})
	if len(recOrder) > 5 {
		recOrder = recOrder[:5]
	}

	summary := fmt.Sprintf("%d failed tests form %d failure clusters; largest cluster has %d members (%s)",
		failedTests, len(clusters), len(clusters[0].Members), clusters[0].RootCause)

	return models.ReportInsights{
		Summary:         summary,
		TopPatterns:     patterns,
		Confidence:      total / float64(len(clusters)),
		Recommendations: recOrder,
	}
}

// AllPassed is the canned insight for a report with zero failed tests. No
// provider call is made on this path.
func AllPassed() models.ReportInsights {
	return models.ReportInsights{
		Summary:         "All tests passed; no failure analysis required",
		TopPatterns:     nil,
		Confidence:      100,
		Recommendations: nil,
	}
}

func extractPatterns(members []models.FailureFeature) []string {
	seen := make(map[string]struct{})
	patterns := make([]string, 0)
	for _, member := range members {
		pattern := patternOf(member.ErrorText)
		if _, ok := seen[pattern]; ok {
			continue
		}
		seen[pattern] = struct{}{}
		patterns = append(patterns, pattern)
	}
	return patterns
}

func dominantPattern(members []models.FailureFeature) string {
	counts := make(map[string]int)
	best, bestCount := fallbackRule.pattern, 0
	for _, member := range members {
		pattern := patternOf(member.ErrorText)
		counts[pattern]++
		if counts[pattern] > bestCount {
			best, bestCount = pattern, counts[pattern]
		}
	}
	return best
}

func patternOf(errorText string) string {
	lower := strings.ToLower(errorText)
	for _, rule := range ruleTable {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.pattern
			}
		}
	}
	return fallbackRule.pattern
}

func ruleFor(pattern string) rootCauseRule {
	for _, rule := range ruleTable {
		if rule.pattern == pattern {
			return rule
		}
	}
	return fallbackRule
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	return strings.TrimSpace(trimmed)
}

func truncateText(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}

func clampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
