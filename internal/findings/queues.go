package findings

import (
	"context"
	"strings"

	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/store"
)

const (
	DefaultQueueLimit = 5
	MaxQueueLimit     = 500
)

// QueueLimit applies the default page size to non-positive limits and caps
// large ones.
func QueueLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultQueueLimit
	case limit > MaxQueueLimit:
		return MaxQueueLimit
	}
	return limit
}

// ListTriage returns open, unassigned findings, highest risk first and newest
// first within a risk level.
func (s *Service) ListTriage(ctx context.Context, limit int) ([]models.Finding, error) {
	findings, err := s.repo.ListOpenFindings(ctx, store.OpenFindingFilters{Limit: QueueLimit(limit)})
	if err != nil {
		return nil, &StoreError{Op: "list triage queue", Err: err}
	}
	return findings, nil
}

// ListAssigned returns the open findings assigned to assigneeID in triage
// order.
func (s *Service) ListAssigned(ctx context.Context, assigneeID string, limit int) ([]models.Finding, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return nil, invalid("assignee_id", "must not be empty")
	}

	findings, err := s.repo.ListOpenFindings(ctx, store.OpenFindingFilters{
		AssigneeID: &assigneeID,
		Limit:      QueueLimit(limit),
	})
	if err != nil {
		return nil, &StoreError{Op: "list assigned queue", Err: err}
	}
	return findings, nil
}
