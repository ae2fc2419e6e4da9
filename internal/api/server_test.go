package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shiftleft/compliance/internal/analytics"
	"github.com/shiftleft/compliance/internal/auth"
	"github.com/shiftleft/compliance/internal/config"
	"github.com/shiftleft/compliance/internal/findings"
	"github.com/shiftleft/compliance/internal/fixsuggest"
	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/queue"
	"github.com/shiftleft/compliance/internal/reports"
	"github.com/shiftleft/compliance/internal/scheduler"
	"github.com/shiftleft/compliance/internal/store"
)

// fakeFindings keeps findings in a slice and mimics the service's error
// taxonomy for the handful of cases the handlers branch on.
type fakeFindings struct {
	items     map[int64]*models.Finding
	nextID    int64
	lastLimit int
	listErr   error
}

func newFakeFindings() *fakeFindings {
	return &fakeFindings{items: make(map[int64]*models.Finding)}
}

func (f *fakeFindings) add(fd models.Finding) *models.Finding {
	f.nextID++
	fd.ID = f.nextID
	f.items[fd.ID] = &fd
	return &fd
}

func (f *fakeFindings) Ingest(_ context.Context, rec findings.Record) (*models.Finding, findings.Action, error) {
	c, err := rec.Validate()
	if err != nil {
		return nil, "", err
	}
	for _, existing := range f.items {
		if !existing.Resolved && models.Deref(existing.ControlID) == c.ControlID && existing.RiskLevel == c.RiskLevel {
			return existing, findings.ActionDuplicate, nil
		}
	}
	return f.add(models.Finding{
		Summary:   c.Summary,
		RiskLevel: c.RiskLevel,
		Source:    c.Source,
		ControlID: models.StringPtr(c.ControlID),
	}), findings.ActionCreated, nil
}

func (f *fakeFindings) Get(_ context.Context, id int64) (*models.Finding, error) {
	fd, ok := f.items[id]
	if !ok {
		return nil, &findings.NotFoundError{Kind: "finding", Key: "x"}
	}
	return fd, nil
}

func (f *fakeFindings) List(_ context.Context, filter findings.Filter) ([]models.Finding, int, error) {
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	var out []models.Finding
	for _, fd := range f.items {
		if filter.Resolved != nil && fd.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, *fd)
	}
	return out, len(out), nil
}

func (f *fakeFindings) Assign(ctx context.Context, id int64, assigneeID string) (*models.Finding, error) {
	if strings.TrimSpace(assigneeID) == "" {
		return nil, &findings.ValidationError{Field: "assignee_id", Reason: "must not be empty"}
	}
	fd, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fd.Resolved {
		return nil, &findings.ConflictError{ID: id, Err: findings.ErrFindingResolved}
	}
	fd.AssigneeID = &assigneeID
	return fd, nil
}

func (f *fakeFindings) RecordLinks(ctx context.Context, id int64, links models.Links) (*models.Finding, error) {
	fd, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if links.JiraKey != "" {
		fd.JiraKey = &links.JiraKey
	}
	return fd, nil
}

func (f *fakeFindings) Resolve(_ context.Context, jiraKey string) (bool, error) {
	matched := false
	for _, fd := range f.items {
		if models.Deref(fd.JiraKey) == jiraKey {
			fd.Resolved = true
			matched = true
		}
	}
	if !matched {
		return false, &findings.NotFoundError{Kind: "jira_key", Key: jiraKey}
	}
	return true, nil
}

func (f *fakeFindings) ListTriage(_ context.Context, limit int) ([]models.Finding, error) {
	f.lastLimit = findings.QueueLimit(limit)
	return nil, nil
}

func (f *fakeFindings) ListAssigned(_ context.Context, assigneeID string, limit int) ([]models.Finding, error) {
	f.lastLimit = findings.QueueLimit(limit)
	var out []models.Finding
	for _, fd := range f.items {
		if models.Deref(fd.AssigneeID) == assigneeID {
			out = append(out, *fd)
		}
	}
	return out, nil
}

func (f *fakeFindings) GetControl(_ context.Context, controlID string) (*models.Control, error) {
	if controlID != "AC-2" {
		return nil, &findings.NotFoundError{Kind: "control", Key: controlID}
	}
	return &models.Control{ControlID: "AC-2", Framework: "SOC2", Status: models.ControlFailing}, nil
}

func (f *fakeFindings) ListControls(ctx context.Context) ([]models.Control, error) {
	c, _ := f.GetControl(ctx, "AC-2")
	return []models.Control{*c}, nil
}

type fakeAnalytics struct{}

func (fakeAnalytics) Summary(context.Context) (*analytics.Summary, error) {
	return &analytics.Summary{TotalFindings: 2, OpenFindings: 1, ResolvedFindings: 1, ResolutionRate: 50}, nil
}

func (fakeAnalytics) ComplianceScore(context.Context) (*analytics.ComplianceScore, error) {
	return &analytics.ComplianceScore{Score: 66.7, TotalControls: 3, Passing: 2, Failing: 1}, nil
}

func (fakeAnalytics) DailyTrend(_ context.Context, risk *models.RiskLevel) ([]store.TrendPoint, error) {
	if risk != nil && *risk == models.RiskLow {
		return []store.TrendPoint{}, nil
	}
	return []store.TrendPoint{{Day: "2024-03-01", Count: 2}}, nil
}

type fakeDispatcher struct {
	enqueued []int64
	err      error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, f *models.Finding) (*queue.DispatchEvent, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.enqueued = append(d.enqueued, f.ID)
	return &queue.DispatchEvent{Finding: *f}, nil
}

func (d *fakeDispatcher) Stats(context.Context) (*queue.Stats, error) {
	return &queue.Stats{Pending: int64(len(d.enqueued))}, nil
}

func (d *fakeDispatcher) ActiveWorkers(context.Context, time.Duration) ([]string, error) {
	return []string{"worker-1"}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type suggesterFunc func(ctx context.Context, req fixsuggest.Request) (*fixsuggest.Suggestion, error)

func (f suggesterFunc) Suggest(ctx context.Context, req fixsuggest.Request) (*fixsuggest.Suggestion, error) {
	return f(ctx, req)
}

type fakeReports struct{}

func (fakeReports) Analytics(_ context.Context, format reports.ReportFormat, _ string) (*reports.Report, error) {
	return &reports.Report{Format: format, Data: []byte("Metric,Value\n"), Filename: "analytics.csv", MimeType: "text/csv"}, nil
}

type fakeJobs struct{}

func (fakeJobs) Jobs() []scheduler.Job {
	return []scheduler.Job{{Name: "reconcile-controls", Schedule: "@every 5m", JobType: scheduler.JobTypeReconcileControls}}
}

func (fakeJobs) RunJobNow(_ context.Context, name string) (*scheduler.JobExecution, error) {
	switch name {
	case "reconcile-controls":
		return &scheduler.JobExecution{JobName: name, Status: scheduler.StatusCompleted}, nil
	case "broken":
		return nil, errors.New("store unavailable")
	}
	return nil, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name)
}

func (fakeJobs) Executions(_ context.Context, name string, limit int) ([]*scheduler.JobExecution, error) {
	if name != "reconcile-controls" {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name)
	}
	execs := []*scheduler.JobExecution{
		{ID: "2", JobName: name, Status: scheduler.StatusCompleted},
		{ID: "1", JobName: name, Status: scheduler.StatusFailed},
	}
	if limit > 0 && limit < len(execs) {
		execs = execs[:limit]
	}
	return execs, nil
}

type testEnv struct {
	server     *Server
	findings   *fakeFindings
	dispatcher *fakeDispatcher
	auth       *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		findings:   newFakeFindings(),
		dispatcher: &fakeDispatcher{},
		auth:       auth.NewService(auth.Config{JWTSecret: "test-secret"}),
	}
	env.server = NewServer(config.ServerConfig{CORSAllowOrigin: "https://dashboard.example"}, Deps{
		Findings:   env.findings,
		Analytics:  fakeAnalytics{},
		DB:         pingFunc(func(context.Context) error { return nil }),
		Reports:    fakeReports{},
		Dispatcher: env.dispatcher,
		Jobs:       fakeJobs{},
		Suggester: suggesterFunc(func(_ context.Context, req fixsuggest.Request) (*fixsuggest.Suggestion, error) {
			return &fixsuggest.Suggestion{Explanation: "use MFA", OriginalCode: req.CodeSnippet, FixedCode: "mfa: true"}, nil
		}),
		Auth: env.auth,
	}, WithSuggestTimeout(time.Second))
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, header ...string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	var resp apiResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (env *testEnv) bearer(t *testing.T, scopes ...string) []string {
	t.Helper()
	tok, _, err := env.auth.IssueToken("jira", scopes...)
	require.NoError(t, err)
	return []string{"Authorization", "Bearer " + tok}
}

func dataMap(t *testing.T, resp apiResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
	require.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = env.do(t, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env.server.deps.DB = pingFunc(func(context.Context) error { return errors.New("down") })
	rec, resp = env.do(t, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "db_unavailable", resp.Error.Code)

	rec, _ = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestFinding(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"summary": "Admin without MFA", "risk_level": "high", "source": "code", "control_id": "AC-2"}
	producer := env.bearer(t, auth.ScopeIngest)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/findings", body, producer...)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "created", dataMap(t, resp)["action_taken"])
	require.Equal(t, []int64{1}, env.dispatcher.enqueued)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/findings", body, producer...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "duplicate", dataMap(t, resp)["action_taken"])
	require.Len(t, env.dispatcher.enqueued, 1, "duplicates have no side effects")
}

func TestIngestFinding_RequiresIngestScope(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"summary": "Admin without MFA", "risk_level": "high", "source": "code"}

	rec, _ := env.do(t, http.MethodPost, "/api/v1/findings", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/findings", body, env.bearer(t, auth.ScopeLinks)...)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, env.findings.items)
}

func TestIngestFinding_Invalid(t *testing.T) {
	env := newTestEnv(t)

	producer := env.bearer(t, auth.ScopeIngest)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/findings", map[string]string{"summary": "x", "risk_level": "critical", "source": "code"}, producer...)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_error", resp.Error.Code)
	require.Equal(t, "risk_level", resp.Error.Field)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/findings", map[string]string{"summary": "x", "risk_level": "low"}, producer...)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "source", resp.Error.Field)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/findings", strings.NewReader("{"))
	req.Header.Set(producer[0], producer[1])
	raw := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
	require.Empty(t, env.dispatcher.enqueued)
}

func TestIngestFinding_DispatchFailureStillCreates(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.err = errors.New("redis down")

	rec, _ := env.do(t, http.MethodPost, "/api/v1/findings", map[string]string{"summary": "x", "risk_level": "low", "source": "screenshot"},
		env.bearer(t, auth.ScopeIngest)...)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetAndListFindings(t *testing.T) {
	env := newTestEnv(t)
	env.findings.add(models.Finding{Summary: "a", RiskLevel: models.RiskHigh})
	env.findings.add(models.Finding{Summary: "b", RiskLevel: models.RiskLow, Resolved: true})

	rec, resp := env.do(t, http.MethodGet, "/api/v1/findings/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "a", dataMap(t, resp)["summary"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/findings/99", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/findings/abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/findings?resolved=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, resp.Meta.Total)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/findings?resolved=maybe", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env.findings.listErr = &findings.StoreError{Op: "list findings", Err: errors.New("connection reset")}
	rec, resp = env.do(t, http.MethodGet, "/api/v1/findings", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, resp.Error.Message, "connection reset")
}

func TestAssignFinding(t *testing.T) {
	env := newTestEnv(t)
	env.findings.add(models.Finding{Summary: "open", RiskLevel: models.RiskHigh})
	env.findings.add(models.Finding{Summary: "done", RiskLevel: models.RiskHigh, Resolved: true})

	rec, _ := env.do(t, http.MethodPut, "/api/v1/findings/1/assignee", assignRequest{AssigneeID: "alice"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	bot := env.bearer(t, auth.ScopeAssign)
	rec, resp := env.do(t, http.MethodPut, "/api/v1/findings/1/assignee", assignRequest{AssigneeID: "alice"}, bot...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", dataMap(t, resp)["assignee_id"])

	rec, _ = env.do(t, http.MethodPut, "/api/v1/findings/2/assignee", assignRequest{AssigneeID: "alice"}, bot...)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = env.do(t, http.MethodPut, "/api/v1/findings/1/assignee", assignRequest{}, bot...)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/queues/assigned/alice?limit=900", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, resp.Meta.Total)
	require.Equal(t, findings.MaxQueueLimit, env.findings.lastLimit)
}

func TestTriageQueue(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/queues/triage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []interface{}{}, resp.Data)
	require.Equal(t, findings.DefaultQueueLimit, env.findings.lastLimit)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/queues/triage?limit=ten", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/queues/dispatch/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []interface{}{"worker-1"}, dataMap(t, resp)["active_workers"])
	require.Contains(t, dataMap(t, resp), "pending")
}

func TestSuggestFix(t *testing.T) {
	env := newTestEnv(t)
	env.findings.add(models.Finding{Summary: "hardcoded secret", RiskLevel: models.RiskHigh, Source: models.SourceCode})
	env.findings.add(models.Finding{Summary: "screenshot", RiskLevel: models.RiskLow, Source: models.SourceScreenshot})

	rec, resp := env.do(t, http.MethodPost, "/api/v1/findings/1/suggest-fix", suggestFixRequest{CodeSnippet: "key = 'abc'"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "key = 'abc'", dataMap(t, resp)["original_code"])

	rec, resp = env.do(t, http.MethodPost, "/api/v1/findings/1/suggest-fix", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, dataMap(t, resp)["original_code"], "No code diff available.")

	rec, _ = env.do(t, http.MethodPost, "/api/v1/findings/2/suggest-fix", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env.server.deps.Suggester = nil
	rec, _ = env.do(t, http.MethodPost, "/api/v1/findings/1/suggest-fix", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnalyticsAndControls(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 50, dataMap(t, resp)["resolution_rate"])

	rec, resp = env.do(t, http.MethodGet, "/api/v1/analytics/trends?risk_level=high", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data, 1)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/analytics/trends?risk_level=critical", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/api/v1/controls/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 66.7, dataMap(t, resp)["compliance_score"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/controls", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/controls/AC-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/controls/XX-9", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsReport(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/reports/analytics?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "analytics.csv")
	require.Equal(t, "Metric,Value\n", rec.Body.String())

	rec, _ = env.do(t, http.MethodGet, "/api/v1/reports/analytics?format=docx", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data, 1)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/jobs/reconcile-controls/run", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/jobs/reconcile-controls/run", nil, env.bearer(t, auth.ScopeIngest)...)
	require.Equal(t, http.StatusForbidden, rec.Code)

	operator := env.bearer(t, auth.ScopeJobs)
	rec, _ = env.do(t, http.MethodPost, "/api/v1/jobs/reconcile-controls/run", nil, operator...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/jobs/unknown/run", nil, operator...)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/v1/jobs/broken/run", nil, operator...)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, resp.Error.Message, "store unavailable")
}

func TestJobExecutions(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/jobs/reconcile-controls/executions?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data, 1)
	require.Equal(t, 1, resp.Meta.Total)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/jobs/unknown/executions", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/jobs/reconcile-controls/executions?limit=x", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntegrations(t *testing.T) {
	env := newTestEnv(t)
	env.findings.add(models.Finding{Summary: "a", RiskLevel: models.RiskHigh})

	rec, _ := env.do(t, http.MethodPut, "/api/v1/integrations/findings/1/links", models.Links{JiraKey: "SEC-1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPut, "/api/v1/integrations/findings/1/links", models.Links{JiraKey: "SEC-1"},
		env.bearer(t, auth.ScopeResolve)...)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp := env.do(t, http.MethodPut, "/api/v1/integrations/findings/1/links", models.Links{JiraKey: "SEC-1"},
		env.bearer(t, auth.ScopeLinks)...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "SEC-1", dataMap(t, resp)["jira_key"])
	require.Equal(t, false, dataMap(t, resp)["resolved"])

	resolve := env.bearer(t, auth.ScopeResolve)
	rec, _ = env.do(t, http.MethodPost, "/api/v1/integrations/resolve/SEC-1", nil, resolve...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/integrations/resolve/SEC-1", nil, resolve...)
	require.Equal(t, http.StatusOK, rec.Code, "resolving twice is a no-op")

	rec, _ = env.do(t, http.MethodPost, "/api/v1/integrations/resolve/SEC-404", nil, resolve...)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
