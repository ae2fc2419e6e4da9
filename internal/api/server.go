package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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

// FindingService is the findings lifecycle surface used by the handlers.
// *findings.Service implements it.
type FindingService interface {
	Ingest(ctx context.Context, rec findings.Record) (*models.Finding, findings.Action, error)
	Get(ctx context.Context, id int64) (*models.Finding, error)
	List(ctx context.Context, f findings.Filter) ([]models.Finding, int, error)
	Assign(ctx context.Context, id int64, assigneeID string) (*models.Finding, error)
	RecordLinks(ctx context.Context, id int64, links models.Links) (*models.Finding, error)
	Resolve(ctx context.Context, jiraKey string) (bool, error)
	ListTriage(ctx context.Context, limit int) ([]models.Finding, error)
	ListAssigned(ctx context.Context, assigneeID string, limit int) ([]models.Finding, error)
	GetControl(ctx context.Context, controlID string) (*models.Control, error)
	ListControls(ctx context.Context) ([]models.Control, error)
}

var _ FindingService = (*findings.Service)(nil)

type AnalyticsService interface {
	Summary(ctx context.Context) (*analytics.Summary, error)
	ComplianceScore(ctx context.Context) (*analytics.ComplianceScore, error)
	DailyTrend(ctx context.Context, risk *models.RiskLevel) ([]store.TrendPoint, error)
}

var _ AnalyticsService = (*analytics.Aggregator)(nil)

type ReportGenerator interface {
	Analytics(ctx context.Context, format reports.ReportFormat, title string) (*reports.Report, error)
}

// Dispatcher announces newly created findings to side-effect handlers.
type Dispatcher interface {
	Enqueue(ctx context.Context, f *models.Finding) (*queue.DispatchEvent, error)
	Stats(ctx context.Context) (*queue.Stats, error)
	ActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error)
}

var _ Dispatcher = (*queue.Queue)(nil)

type JobRunner interface {
	Jobs() []scheduler.Job
	RunJobNow(ctx context.Context, name string) (*scheduler.JobExecution, error)
	Executions(ctx context.Context, name string, limit int) ([]*scheduler.JobExecution, error)
}

var _ JobRunner = (*scheduler.Scheduler)(nil)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Findings, Analytics and DB
// are required. The rest are optional and their routes answer 503 when nil.
type Deps struct {
	Findings   FindingService
	Analytics  AnalyticsService
	DB         Pinger
	Reports    ReportGenerator
	Dispatcher Dispatcher
	Suggester  fixsuggest.Suggester
	Jobs       JobRunner
	Auth       *auth.Service
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger

	suggestTimeout time.Duration
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithSuggestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.suggestTimeout = d
		}
	}
}

func NewServer(cfg config.ServerConfig, deps Deps, opts ...ServerOption) *Server {
	s := &Server{
		cfg:            cfg,
		deps:           deps,
		router:         chi.NewRouter(),
		logger:         slog.Default(),
		suggestTimeout: 60 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.deps.Auth == nil {
		s.deps.Auth = auth.NewService(auth.Config{})
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(90 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/findings", func(r chi.Router) {
			r.With(s.deps.Auth.Middleware, auth.RequireScope(auth.ScopeIngest)).Post("/", s.ingestFinding)
			r.Get("/", s.listFindings)
			r.Get("/{findingID}", s.getFinding)
			r.With(s.deps.Auth.Middleware, auth.RequireScope(auth.ScopeAssign)).Put("/{findingID}/assignee", s.assignFinding)
			r.Post("/{findingID}/suggest-fix", s.suggestFix)
		})

		r.Route("/queues", func(r chi.Router) {
			r.Get("/triage", s.triageQueue)
			r.Get("/assigned/{assigneeID}", s.assignedQueue)
			r.Get("/dispatch/stats", s.dispatchStats)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/", s.getAnalytics)
			r.Get("/trends", s.getTrends)
		})

		r.Route("/controls", func(r chi.Router) {
			r.Get("/", s.listControls)
			r.Get("/stats", s.controlStats)
			r.Get("/{controlID}", s.getControl)
		})

		r.Get("/reports/analytics", s.analyticsReport)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Get("/{jobName}/executions", s.listExecutions)
			r.With(s.deps.Auth.Middleware, auth.RequireScope(auth.ScopeJobs)).Post("/{jobName}/run", s.runJob)
		})

		r.Route("/integrations", func(r chi.Router) {
			r.Use(s.deps.Auth.Middleware)
			r.With(auth.RequireScope(auth.ScopeResolve)).Post("/resolve/{jiraKey}", s.resolveByJiraKey)
			r.With(auth.RequireScope(auth.ScopeLinks)).Put("/findings/{findingID}/links", s.recordLinks)
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	respondJSONWithMeta(w, status, data, nil)
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, &apiError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, status int, apiErr *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error:   apiErr,
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.DB.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
