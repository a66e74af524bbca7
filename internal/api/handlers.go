package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reportstack/triage-engine/internal/models"
	"github.com/reportstack/triage-engine/internal/store"
	"github.com/reportstack/triage-engine/internal/utils"
)

// TriageService is the service surface the handlers expose over HTTP.
type TriageService interface {
	AnalyzeReport(ctx context.Context, reportID string) (models.ReportAnalysis, error)
	GetSummary(ctx context.Context, filter models.FailureFilter) (models.ClassSummary, error)
	GetTestCaseFailures(ctx context.Context, filter models.FailureFilter) ([]models.ClassifiedFailure, error)
	GetFailureGroups(ctx context.Context, projectID string) ([]models.DefectGroup, error)
	GetSuiteRunFailures(ctx context.Context, filter models.FailureFilter) ([]models.RunFailures, error)
	GetClassification(ctx context.Context, testCaseID string) (models.Classification, error)
	Reclassify(ctx context.Context, testCaseID string, class models.PrimaryClass, subClass string) (models.Classification, error)
	Deduplicate(ctx context.Context, filter models.FailureFilter) ([]models.GroupSummary, error)
	ClearCache(ctx context.Context) error
}

// Handlers binds the triage service to HTTP routes.
type Handlers struct {
	service TriageService
	logger  *slog.Logger
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(service TriageService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// Register attaches all API routes to the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/reports/{id}/analyze", h.analyzeReport)
	mux.HandleFunc("GET /api/v1/projects/{id}/summary", h.getSummary)
	mux.HandleFunc("GET /api/v1/projects/{id}/failures", h.getFailures)
	mux.HandleFunc("GET /api/v1/projects/{id}/groups", h.getGroups)
	mux.HandleFunc("GET /api/v1/projects/{id}/runs/failures", h.getRunFailures)
	mux.HandleFunc("POST /api/v1/projects/{id}/deduplicate", h.deduplicate)
	mux.HandleFunc("GET /api/v1/testcases/{id}/classification", h.getClassification)
	mux.HandleFunc("POST /api/v1/testcases/{id}/reclassify", h.reclassify)
	mux.HandleFunc("POST /api/v1/cache/clear", h.clearCache)
}

func (h *Handlers) analyzeReport(w http.ResponseWriter, r *http.Request) {
	reportID := r.PathValue("id")

	analysis, err := h.service.AnalyzeReport(r.Context(), reportID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAnalysisResponse(analysis))
}

func (h *Handlers) getSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		h.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.service.GetSummary(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func (h *Handlers) getFailures(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		h.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	failures, err := h.service.GetTestCaseFailures(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]failureResponse, 0, len(failures))
	for _, cf := range failures {
		out = append(out, toFailureResponse(cf))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"failures": out})
}

func (h *Handlers) getGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.GetFailureGroups(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]groupResponse, 0, len(groups))
	for _, group := range groups {
		out = append(out, toGroupResponse(group))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"groups": out})
}

func (h *Handlers) getRunFailures(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		h.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.service.GetSuiteRunFailures(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	type runResponse struct {
		RunID    string            `json:"run_id"`
		Failures []failureResponse `json:"failures"`
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		rr := runResponse{RunID: run.RunID, Failures: make([]failureResponse, 0, len(run.Failures))}
		for _, cf := range run.Failures {
			rr.Failures = append(rr.Failures, toFailureResponse(cf))
		}
		out = append(out, rr)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": out})
}

func (h *Handlers) deduplicate(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		h.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	summaries, err := h.service.Deduplicate(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	type summaryResponse struct {
		GroupID       string `json:"group_id"`
		SignatureHash string `json:"signature_hash"`
		MemberCount   int    `json:"member_count"`
	}
	out := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, summaryResponse{
			GroupID:       s.GroupID,
			SignatureHash: s.SignatureHash,
			MemberCount:   s.MemberCount,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"groups": out})
}

func (h *Handlers) getClassification(w http.ResponseWriter, r *http.Request) {
	verdict, err := h.service.GetClassification(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toClassificationResponse(verdict))
}

func (h *Handlers) reclassify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Class    string `json:"class"`
		SubClass string `json:"sub_class"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	class, ok := models.ParsePrimaryClass(body.Class)
	if !ok {
		h.writeStatus(w, http.StatusBadRequest, "unknown class "+body.Class)
		return
	}

	verdict, err := h.service.Reclassify(r.Context(), r.PathValue("id"), class, body.SubClass)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toClassificationResponse(verdict))
}

func (h *Handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCache(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeStatus(w, http.StatusOK, "cache cleared")
}

// filterFromRequest builds a FailureFilter from the path project ID and the
// window/start/end/test/runs query parameters.
func filterFromRequest(r *http.Request) (models.FailureFilter, error) {
	filter := models.FailureFilter{
		ProjectID:  r.PathValue("id"),
		TestSearch: r.URL.Query().Get("test"),
	}

	if v := r.URL.Query().Get("window"); v != "" {
		window, err := time.ParseDuration(v)
		if err != nil || window <= 0 {
			return models.FailureFilter{}, errors.New("invalid window " + v)
		}
		filter.Window = window
	}
	if v := r.URL.Query().Get("start"); v != "" {
		start, err := utils.ParseRFC3339(v)
		if err != nil {
			return models.FailureFilter{}, errors.New("invalid start " + v)
		}
		filter.Start = start
	}
	if v := r.URL.Query().Get("end"); v != "" {
		end, err := utils.ParseRFC3339(v)
		if err != nil {
			return models.FailureFilter{}, errors.New("invalid end " + v)
		}
		filter.End = end
	}
	if v := r.URL.Query().Get("runs"); v != "" {
		for _, runID := range strings.Split(v, ",") {
			if runID = strings.TrimSpace(runID); runID != "" {
				filter.RunIDs = append(filter.RunIDs, runID)
			}
		}
	}
	return filter, nil
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeStatus(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("request failed", slog.Any("error", err))
		h.writeStatus(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handlers) writeStatus(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, map[string]string{"message": message})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response failed", slog.Any("error", err))
	}
}
