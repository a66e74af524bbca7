package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reportstack/triage-engine/internal/models"
	"github.com/reportstack/triage-engine/internal/store"
)

type fakeService struct {
	analysis   models.ReportAnalysis
	analysisErr error
	summary    models.ClassSummary
	failures   []models.ClassifiedFailure
	groups     []models.DefectGroup
	runs       []models.RunFailures
	verdict    models.Classification
	verdictErr error
	dedup      []models.GroupSummary
	cleared    int

	lastFilter models.FailureFilter
}

func (f *fakeService) AnalyzeReport(_ context.Context, _ string) (models.ReportAnalysis, error) {
	return f.analysis, f.analysisErr
}

func (f *fakeService) GetSummary(_ context.Context, filter models.FailureFilter) (models.ClassSummary, error) {
	f.lastFilter = filter
	return f.summary, nil
}

func (f *fakeService) GetTestCaseFailures(_ context.Context, filter models.FailureFilter) ([]models.ClassifiedFailure, error) {
	f.lastFilter = filter
	return f.failures, nil
}

func (f *fakeService) GetFailureGroups(_ context.Context, _ string) ([]models.DefectGroup, error) {
	return f.groups, nil
}

func (f *fakeService) GetSuiteRunFailures(_ context.Context, filter models.FailureFilter) ([]models.RunFailures, error) {
	f.lastFilter = filter
	return f.runs, nil
}

func (f *fakeService) GetClassification(_ context.Context, testCaseID string) (models.Classification, error) {
	if f.verdictErr != nil {
		return models.Classification{}, f.verdictErr
	}
	f.verdict.TestCaseID = testCaseID
	return f.verdict, nil
}

func (f *fakeService) Reclassify(_ context.Context, testCaseID string, class models.PrimaryClass, subClass string) (models.Classification, error) {
	if f.verdictErr != nil {
		return models.Classification{}, f.verdictErr
	}
	return models.Classification{
		TestCaseID:   testCaseID,
		PrimaryClass: class,
		SubClass:     subClass,
		Confidence:   1.0,
		IsManual:     true,
	}, nil
}

func (f *fakeService) Deduplicate(_ context.Context, filter models.FailureFilter) ([]models.GroupSummary, error) {
	f.lastFilter = filter
	return f.dedup, nil
}

func (f *fakeService) ClearCache(_ context.Context) error {
	f.cleared++
	return nil
}

func newTestServer(service *fakeService) *httptest.Server {
	mux := http.NewServeMux()
	NewHandlers(service, nil).Register(mux)
	return httptest.NewServer(mux)
}

func TestAnalyzeReportEndpoint(t *testing.T) {
	service := &fakeService{analysis: models.ReportAnalysis{
		ReportID: "rep-1",
		Insights: models.ReportInsights{Summary: "all good", Confidence: 100},
	}}
	server := newTestServer(service)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/reports/rep-1/analyze", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body analysisResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "rep-1", body.ReportID)
	require.Equal(t, float64(100), body.Insights.Confidence)
}

func TestAnalyzeReportNotFound(t *testing.T) {
	service := &fakeService{analysisErr: fmt.Errorf("report rep-9: %w", store.ErrNotFound)}
	server := newTestServer(service)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/reports/rep-9/analyze", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSummaryEndpointParsesFilter(t *testing.T) {
	service := &fakeService{summary: models.ClassSummary{ProjectID: "proj-1", Total: 5}}
	server := newTestServer(service)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/projects/proj-1/summary?window=48h&test=checkout&runs=run-1,run-2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, "proj-1", service.lastFilter.ProjectID)
	require.Equal(t, 48*time.Hour, service.lastFilter.Window)
	require.Equal(t, "checkout", service.lastFilter.TestSearch)
	require.Equal(t, []string{"run-1", "run-2"}, service.lastFilter.RunIDs)
}

func TestSummaryEndpointRejectsBadWindow(t *testing.T) {
	server := newTestServer(&fakeService{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/projects/proj-1/summary?window=sideways")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFailuresEndpoint(t *testing.T) {
	service := &fakeService{failures: []models.ClassifiedFailure{
		{
			Record:        models.FailureRecord{ID: "f-1", TestName: "checkout", Duration: 1500 * time.Millisecond},
			SignatureHash: "aabbccddeeff0011",
			Classification: models.Classification{
				TestCaseID:   "f-1",
				PrimaryClass: models.ClassEnvironmentIssue,
				Confidence:   0.85,
			},
		},
	}}
	server := newTestServer(service)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/projects/proj-1/failures")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Failures []failureResponse `json:"failures"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Failures, 1)
	require.Equal(t, "aabbccddeeff0011", body.Failures[0].SignatureHash)
	require.Equal(t, int64(1500), body.Failures[0].DurationMs)
	require.Equal(t, "EnvironmentIssue", body.Failures[0].Classification.PrimaryClass)
}

func TestGetClassificationEndpoint(t *testing.T) {
	service := &fakeService{verdict: models.Classification{
		PrimaryClass: models.ClassAutomationScriptError,
		Confidence:   0.8,
	}}
	server := newTestServer(service)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/testcases/tc-1/classification")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body classificationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "tc-1", body.TestCaseID)
	require.Equal(t, "AutomationScriptError", body.PrimaryClass)
}

func TestGetClassificationNotFound(t *testing.T) {
	service := &fakeService{verdictErr: fmt.Errorf("classification tc-9: %w", store.ErrNotFound)}
	server := newTestServer(service)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/testcases/tc-9/classification")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReclassifyEndpoint(t *testing.T) {
	server := newTestServer(&fakeService{})
	defer server.Close()

	payload := bytes.NewBufferString(`{"class":"TestDataIssue","sub_class":"Missing_Fixture"}`)
	resp, err := http.Post(server.URL+"/api/v1/testcases/tc-1/reclassify", "application/json", payload)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body classificationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "tc-1", body.TestCaseID)
	require.True(t, body.IsManual)
	require.Equal(t, 1.0, body.Confidence)
}

func TestReclassifyEndpointRejectsUnknownClass(t *testing.T) {
	server := newTestServer(&fakeService{})
	defer server.Close()

	payload := bytes.NewBufferString(`{"class":"Bogus"}`)
	resp, err := http.Post(server.URL+"/api/v1/testcases/tc-1/reclassify", "application/json", payload)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReclassifyEndpointUnknownTestCase(t *testing.T) {
	service := &fakeService{verdictErr: fmt.Errorf("failure tc-9: %w", store.ErrNotFound)}
	server := newTestServer(service)
	defer server.Close()

	payload := bytes.NewBufferString(`{"class":"TestDataIssue"}`)
	resp, err := http.Post(server.URL+"/api/v1/testcases/tc-9/reclassify", "application/json", payload)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeduplicateEndpoint(t *testing.T) {
	service := &fakeService{dedup: []models.GroupSummary{
		{GroupID: "g-1", SignatureHash: "aabbccddeeff0011", MemberCount: 3},
	}}
	server := newTestServer(service)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/projects/proj-1/deduplicate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Groups []struct {
			GroupID     string `json:"group_id"`
			MemberCount int    `json:"member_count"`
		} `json:"groups"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Groups, 1)
	require.Equal(t, 3, body.Groups[0].MemberCount)
}

func TestClearCacheEndpoint(t *testing.T) {
	service := &fakeService{}
	server := newTestServer(service)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/cache/clear", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, service.cleared)
}
