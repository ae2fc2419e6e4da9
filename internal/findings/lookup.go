package findings

import (
	"context"
	"strings"

	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/store"
)

type Filter struct {
	Resolved  *bool
	RiskLevel string
	Source    string
	ControlID string
	Limit     int
	Offset    int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// List returns findings newest first along with the total matching count.
func (s *Service) List(ctx context.Context, f Filter) ([]models.Finding, int, error) {
	filters := store.ListFindingFilters{
		Resolved: f.Resolved,
		Limit:    f.Limit,
		Offset:   f.Offset,
	}
	if f.RiskLevel != "" {
		risk, ok := models.ParseRiskLevel(f.RiskLevel)
		if !ok {
			return nil, 0, invalid("risk_level", "must be one of high, medium, low")
		}
		filters.RiskLevel = &risk
	}
	if f.Source != "" {
		source, ok := models.ParseSource(f.Source)
		if !ok {
			return nil, 0, invalid("source", "must be one of code, screenshot")
		}
		filters.Source = &source
	}
	if id := strings.TrimSpace(f.ControlID); id != "" {
		filters.ControlID = &id
	}
	if filters.Limit <= 0 {
		filters.Limit = defaultListLimit
	}
	if filters.Limit > maxListLimit {
		filters.Limit = maxListLimit
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}

	findings, total, err := s.repo.ListFindings(ctx, filters)
	if err != nil {
		return nil, 0, &StoreError{Op: "list findings", Err: err}
	}
	return findings, total, nil
}

func (s *Service) GetControl(ctx context.Context, controlID string) (*models.Control, error) {
	controlID = strings.TrimSpace(controlID)
	if controlID == "" {
		return nil, invalid("control_id", "must not be empty")
	}
	control, err := s.repo.GetControl(ctx, controlID)
	if err != nil {
		return nil, &StoreError{Op: "get control", Err: err}
	}
	if control == nil {
		return nil, &NotFoundError{Kind: "control", Key: controlID}
	}
	return control, nil
}

func (s *Service) ListControls(ctx context.Context) ([]models.Control, error) {
	controls, err := s.repo.ListControls(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list controls", Err: err}
	}
	return controls, nil
}
