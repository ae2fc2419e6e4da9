package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shiftleft/compliance/internal/findings"
	"github.com/shiftleft/compliance/internal/fixsuggest"
	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/queue"
	"github.com/shiftleft/compliance/internal/reports"
	"github.com/shiftleft/compliance/internal/scheduler"
)

// workerTimeout is how long a dispatch worker may go without a heartbeat
// before it stops counting as active.
const workerTimeout = 30 * time.Second

// respondServiceError maps the findings error taxonomy onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *findings.ValidationError
		notFound   *findings.NotFoundError
		conflict   *findings.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, &apiError{Code: "validation_error", Message: err.Error(), Field: validation.Field})
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func parseFindingID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "findingID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid finding ID")
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

type ingestResponse struct {
	ActionTaken findings.Action `json:"action_taken"`
	Finding     *models.Finding `json:"finding"`
}

func (s *Server) ingestFinding(w http.ResponseWriter, r *http.Request) {
	var rec findings.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	finding, action, err := s.deps.Findings.Ingest(r.Context(), rec)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if action == findings.ActionCreated {
		status = http.StatusCreated
		s.dispatch(r.Context(), finding)
	}
	respondJSON(w, status, ingestResponse{ActionTaken: action, Finding: finding})
}

// dispatch enqueues side effects for a new finding. The finding is already
// stored, so a queue failure is logged rather than returned.
func (s *Server) dispatch(ctx context.Context, f *models.Finding) {
	if s.deps.Dispatcher == nil {
		return
	}
	event, err := s.deps.Dispatcher.Enqueue(ctx, f)
	if err != nil {
		s.logger.Error("failed to enqueue dispatch event",
			"finding_id", f.ID,
			"error", err)
		return
	}
	s.logger.Debug("dispatch event enqueued",
		"finding_id", f.ID,
		"event_id", event.ID)
}

func (s *Server) listFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := findings.Filter{
		RiskLevel: q.Get("risk_level"),
		Source:    q.Get("source"),
		ControlID: q.Get("control_id"),
	}

	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "resolved must be true or false")
			return
		}
		filter.Resolved = &resolved
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	list, total, err := s.deps.Findings.List(r.Context(), filter)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Finding{}
	}

	respondJSONWithMeta(w, http.StatusOK, list, &apiMeta{
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (s *Server) getFinding(w http.ResponseWriter, r *http.Request) {
	id, err := parseFindingID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	finding, err := s.deps.Findings.Get(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, finding)
}

type assignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

func (s *Server) assignFinding(w http.ResponseWriter, r *http.Request) {
	id, err := parseFindingID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	finding, err := s.deps.Findings.Assign(r.Context(), id, req.AssigneeID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, finding)
}

type suggestFixRequest struct {
	CodeSnippet string `json:"code_snippet"`
}

func (s *Server) suggestFix(w http.ResponseWriter, r *http.Request) {
	if s.deps.Suggester == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "Fix suggestions are not enabled")
		return
	}

	id, err := parseFindingID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var req suggestFixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	finding, err := s.deps.Findings.Get(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	suggestReq, err := fixsuggest.BuildRequest(finding, req.CodeSnippet)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.suggestTimeout)
	defer cancel()

	suggestion, err := s.deps.Suggester.Suggest(ctx, suggestReq)
	if err != nil {
		s.logger.Error("fix suggestion failed",
			"finding_id", id,
			"error", err)
		respondError(w, http.StatusBadGateway, "suggestion_failed", "Failed to generate fix suggestion")
		return
	}
	respondJSON(w, http.StatusOK, suggestion)
}

func (s *Server) triageQueue(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	list, err := s.deps.Findings.ListTriage(r.Context(), limit)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Finding{}
	}
	respondJSONWithMeta(w, http.StatusOK, list, &apiMeta{Total: len(list), Limit: findings.QueueLimit(limit)})
}

func (s *Server) assignedQueue(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	list, err := s.deps.Findings.ListAssigned(r.Context(), chi.URLParam(r, "assigneeID"), limit)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Finding{}
	}
	respondJSONWithMeta(w, http.StatusOK, list, &apiMeta{Total: len(list), Limit: findings.QueueLimit(limit)})
}

func (s *Server) dispatchStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "Dispatch queue is not enabled")
		return
	}
	stats, err := s.deps.Dispatcher.Stats(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	workers, err := s.deps.Dispatcher.ActiveWorkers(r.Context(), workerTimeout)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if workers == nil {
		workers = []string{}
	}
	respondJSON(w, http.StatusOK, dispatchStatsResponse{Stats: stats, ActiveWorkers: workers})
}

type dispatchStatsResponse struct {
	*queue.Stats
	ActiveWorkers []string `json:"active_workers"`
}

func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Analytics.Summary(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) getTrends(w http.ResponseWriter, r *http.Request) {
	var risk *models.RiskLevel
	if v := r.URL.Query().Get("risk_level"); v != "" {
		parsed, ok := models.ParseRiskLevel(v)
		if !ok {
			writeError(w, http.StatusBadRequest, &apiError{
				Code:    "validation_error",
				Message: "risk_level must be one of high, medium, low",
				Field:   "risk_level",
			})
			return
		}
		risk = &parsed
	}

	points, err := s.deps.Analytics.DailyTrend(r.Context(), risk)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

func (s *Server) listControls(w http.ResponseWriter, r *http.Request) {
	controls, err := s.deps.Findings.ListControls(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if controls == nil {
		controls = []models.Control{}
	}
	respondJSON(w, http.StatusOK, controls)
}

func (s *Server) controlStats(w http.ResponseWriter, r *http.Request) {
	score, err := s.deps.Analytics.ComplianceScore(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, score)
}

func (s *Server) getControl(w http.ResponseWriter, r *http.Request) {
	control, err := s.deps.Findings.GetControl(r.Context(), chi.URLParam(r, "controlID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, control)
}

func (s *Server) analyticsReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "Reports are not enabled")
		return
	}

	format, err := reports.ParseFormat(strings.ToLower(r.URL.Query().Get("format")))
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	report, err := s.deps.Reports.Analytics(r.Context(), format, r.URL.Query().Get("title"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", report.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(report.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Data)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "Scheduler is not enabled")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Jobs.Jobs())
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "Scheduler is not enabled")
		return
	}

	exec, err := s.deps.Jobs.RunJobNow(r.Context(), chi.URLParam(r, "jobName"))
	if err != nil {
		s.respondJobError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "Scheduler is not enabled")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	execs, err := s.deps.Jobs.Executions(r.Context(), chi.URLParam(r, "jobName"), limit)
	if err != nil {
		s.respondJobError(w, r, err)
		return
	}
	respondJSONWithMeta(w, http.StatusOK, execs, &apiMeta{Total: len(execs)})
}

func (s *Server) respondJobError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, scheduler.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	s.logger.Error("job request failed", "path", r.URL.Path, "error", err)
	respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

type resolveResponse struct {
	JiraKey  string `json:"jira_key"`
	Resolved bool   `json:"resolved"`
}

func (s *Server) resolveByJiraKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "jiraKey")

	ok, err := s.deps.Findings.Resolve(r.Context(), key)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resolveResponse{JiraKey: key, Resolved: ok})
}

func (s *Server) recordLinks(w http.ResponseWriter, r *http.Request) {
	id, err := parseFindingID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var links models.Links
	if err := json.NewDecoder(r.Body).Decode(&links); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	finding, err := s.deps.Findings.RecordLinks(r.Context(), id, links)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, finding)
}
