package api

import (
	"time"

	"github.com/reportstack/triage-engine/internal/models"
)

type classificationResponse struct {
	TestCaseID   string    `json:"test_case_id"`
	PrimaryClass string    `json:"primary_class"`
	SubClass     string    `json:"sub_class,omitempty"`
	Confidence   float64   `json:"confidence"`
	IsManual     bool      `json:"is_manual"`
	ClassifiedAt time.Time `json:"classified_at"`
}

func toClassificationResponse(c models.Classification) classificationResponse {
	return classificationResponse{
		TestCaseID:   c.TestCaseID,
		PrimaryClass: string(c.PrimaryClass),
		SubClass:     c.SubClass,
		Confidence:   c.Confidence,
		IsManual:     c.IsManual,
		ClassifiedAt: c.ClassifiedAt,
	}
}

type failureResponse struct {
	ID             string                 `json:"id"`
	TestName       string                 `json:"test_name"`
	ErrorMessage   string                 `json:"error_message"`
	RunID          string                 `json:"run_id,omitempty"`
	Environment    string                 `json:"environment,omitempty"`
	DurationMs     int64                  `json:"duration_ms"`
	Timestamp      time.Time              `json:"timestamp"`
	SignatureHash  string                 `json:"signature_hash,omitempty"`
	Classification classificationResponse `json:"classification"`
}

func toFailureResponse(cf models.ClassifiedFailure) failureResponse {
	return failureResponse{
		ID:             cf.Record.ID,
		TestName:       cf.Record.TestName,
		ErrorMessage:   cf.Record.ErrorMessage,
		RunID:          cf.Record.RunID,
		Environment:    cf.Record.Environment,
		DurationMs:     cf.Record.Duration.Milliseconds(),
		Timestamp:      cf.Record.Timestamp,
		SignatureHash:  cf.SignatureHash,
		Classification: toClassificationResponse(cf.Classification),
	}
}

type summaryResponse struct {
	ProjectID     string         `json:"project_id"`
	Total         int            `json:"total"`
	ByClass       map[string]int `json:"by_class"`
	BySubClass    map[string]int `json:"by_sub_class"`
	ManualCount   int            `json:"manual_count"`
	AvgConfidence float64        `json:"avg_confidence"`
}

func toSummaryResponse(s models.ClassSummary) summaryResponse {
	byClass := make(map[string]int, len(s.ByClass))
	for class, count := range s.ByClass {
		byClass[string(class)] = count
	}
	return summaryResponse{
		ProjectID:     s.ProjectID,
		Total:         s.Total,
		ByClass:       byClass,
		BySubClass:    s.BySubClass,
		ManualCount:   s.ManualCount,
		AvgConfidence: s.AvgConfidence,
	}
}

type groupResponse struct {
	ID                  string    `json:"id"`
	SignatureHash       string    `json:"signature_hash"`
	PrimaryClass        string    `json:"primary_class"`
	SubClass            string    `json:"sub_class,omitempty"`
	RepresentativeError string    `json:"representative_error"`
	FirstSeen           time.Time `json:"first_seen"`
	LastSeen            time.Time `json:"last_seen"`
	OccurrenceCount     int       `json:"occurrence_count"`
	MemberIDs           []string  `json:"member_ids"`
}

func toGroupResponse(g models.DefectGroup) groupResponse {
	return groupResponse{
		ID:                  g.ID,
		SignatureHash:       g.SignatureHash,
		PrimaryClass:        string(g.PrimaryClass),
		SubClass:            g.SubClass,
		RepresentativeError: g.RepresentativeError,
		FirstSeen:           g.FirstSeen,
		LastSeen:            g.LastSeen,
		OccurrenceCount:     g.OccurrenceCount,
		MemberIDs:           g.MemberIDs,
	}
}

type clusterResponse struct {
	ID              string   `json:"id"`
	MemberIDs       []string `json:"member_ids"`
	Patterns        []string `json:"patterns,omitempty"`
	RootCause       string   `json:"root_cause"`
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations,omitempty"`
}

type analysisResponse struct {
	ReportID  string            `json:"report_id"`
	Clusters  []clusterResponse `json:"clusters"`
	Insights  insightsResponse  `json:"insights"`
	CreatedAt time.Time         `json:"created_at"`
}

type insightsResponse struct {
	Summary         string   `json:"summary"`
	TopPatterns     []string `json:"top_patterns,omitempty"`
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations,omitempty"`
}

func toAnalysisResponse(a models.ReportAnalysis) analysisResponse {
	clusters := make([]clusterResponse, 0, len(a.Clusters))
	for _, cluster := range a.Clusters {
		memberIDs := make([]string, 0, len(cluster.Members))
		for _, member := range cluster.Members {
			memberIDs = append(memberIDs, member.RecordID)
		}
		clusters = append(clusters, clusterResponse{
			ID:              cluster.ID,
			MemberIDs:       memberIDs,
			Patterns:        cluster.Patterns,
			RootCause:       cluster.RootCause,
			Confidence:      cluster.Confidence,
			Recommendations: cluster.Recommendations,
		})
	}
	return analysisResponse{
		ReportID: a.ReportID,
		Clusters: clusters,
		Insights: insightsResponse{
			Summary:         a.Insights.Summary,
			TopPatterns:     a.Insights.TopPatterns,
			Confidence:      a.Insights.Confidence,
			Recommendations: a.Insights.Recommendations,
		},
		CreatedAt: a.CreatedAt,
	}
}
