package findings

import (
	"context"
	"log/slog"
	"time"

	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/store"
)

// Repository is the persistence surface the lifecycle needs. *store.Store
// implements it.
type Repository interface {
	InsertFinding(ctx context.Context, f *models.Finding) (*models.Finding, bool, error)
	FindOpenByDedupKey(ctx context.Context, key string) (*models.Finding, error)
	GetFinding(ctx context.Context, id int64) (*models.Finding, error)
	ListFindings(ctx context.Context, filters store.ListFindingFilters) ([]models.Finding, int, error)
	ListOpenFindings(ctx context.Context, filters store.OpenFindingFilters) ([]models.Finding, error)
	ResolveByJiraKey(ctx context.Context, jiraKey string, at time.Time) (matched, changed int64, err error)
	AssignFinding(ctx context.Context, id int64, assigneeID string, at time.Time) (bool, error)
	UpdateFindingLinks(ctx context.Context, id int64, links models.Links, at time.Time) (bool, error)
	GetControl(ctx context.Context, controlID string) (*models.Control, error)
	ListControls(ctx context.Context) ([]models.Control, error)
	ReconcileControlStatus(ctx context.Context) (int64, error)
}

var _ Repository = (*store.Store)(nil)

// Service implements ingestion, queueing, resolution and the other
// finding lifecycle operations on top of a Repository.
type Service struct {
	repo   Repository
	gate   *Gate
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithMatcher(m Matcher) Option {
	return func(s *Service) {
		if m != nil {
			s.gate = NewGate(s.repo, m)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for creation and resolution
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		gate:   NewGate(repo, ControlMatcher{}),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// reconcileControls refreshes control pass/fail status after a write that
// opened or closed findings. The write has already committed, so a failure
// is logged and left to the scheduled reconcile job.
func (s *Service) reconcileControls(ctx context.Context) {
	changed, err := s.repo.ReconcileControlStatus(ctx)
	if err != nil {
		s.logger.Warn("reconciling control status", "error", err)
		return
	}
	if changed > 0 {
		s.logger.Info("control status changed", "count", changed)
	}
}
