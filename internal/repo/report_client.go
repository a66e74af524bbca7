// Package repo talks to the reporting backend that owns test reports.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/reportstack/triage-engine/internal/models"
)

// Report is a test report header with its failed cases.
type Report struct {
	ReportID  string
	ProjectID string
	RunID     string
	TotalTests int
	Failures  []models.FailureRecord
}

// ReportClient fetches reports and their failed test cases over the reporting
// backend's JSON API.
type ReportClient struct {
	baseURL      string
	failuresPath string
	httpClient   *http.Client
}

// NewReportClient constructs a client for the configured reporting backend.
// failuresPath must contain a "{id}" placeholder for the report ID.
func NewReportClient(baseURL, failuresPath string, timeout time.Duration) *ReportClient {
	return &ReportClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		failuresPath: failuresPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchReport retrieves one report with its failed test cases.
func (c *ReportClient) FetchReport(ctx context.Context, reportID string) (Report, error) {
	if c == nil {
		return Report{}, fmt.Errorf("report client not initialised")
	}
	if c.baseURL == "" {
		return Report{}, fmt.Errorf("reporting backend base URL not configured")
	}

	var response struct {
		ReportID   string `json:"report_id"`
		ProjectID  string `json:"project_id"`
		RunID      string `json:"run_id"`
		TotalTests int    `json:"total_tests"`
		Failures   []struct {
			ID           string    `json:"id"`
			TestName     string    `json:"test_name"`
			ErrorMessage string    `json:"error_message"`
			StackTrace   string    `json:"stack_trace"`
			DurationMs   float64   `json:"duration_ms"`
			Environment  string    `json:"environment"`
			RunID        string    `json:"run_id"`
			Timestamp    time.Time `json:"timestamp"`
		} `json:"failures"`
	}

	endpoint := c.failuresURL(reportID)
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return Report{}, fmt.Errorf("reporting backend request failed: %w", err)
	}

	report := Report{
		ReportID:   firstNonEmpty(response.ReportID, reportID),
		ProjectID:  response.ProjectID,
		RunID:      response.RunID,
		TotalTests: response.TotalTests,
		Failures:   make([]models.FailureRecord, 0, len(response.Failures)),
	}
	for _, failure := range response.Failures {
		report.Failures = append(report.Failures, models.FailureRecord{
			ID:           failure.ID,
			TestName:     failure.TestName,
			ErrorMessage: failure.ErrorMessage,
			StackTrace:   failure.StackTrace,
			Duration:     time.Duration(failure.DurationMs * float64(time.Millisecond)),
			Environment:  failure.Environment,
			RunID:        firstNonEmpty(failure.RunID, response.RunID),
			Timestamp:    failure.Timestamp,
		})
	}
	return report, nil
}

func (c *ReportClient) failuresURL(reportID string) string {
	p := strings.ReplaceAll(c.failuresPath, "{id}", url.PathEscape(reportID))
	return c.resolvePath(p)
}

func (c *ReportClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *ReportClient) getJSON(ctx context.Context, endpoint string, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("report not found: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reporting backend returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
