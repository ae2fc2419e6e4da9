package findings

import (
	"context"
	"strconv"
	"strings"

	"github.com/shiftleft/compliance/internal/models"
)

// Assign moves an open finding into assigneeID's queue and returns the
// updated finding.
func (s *Service) Assign(ctx context.Context, id int64, assigneeID string) (*models.Finding, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return nil, invalid("assignee_id", "must not be empty")
	}

	ok, err := s.repo.AssignFinding(ctx, id, assigneeID, s.clock())
	if err != nil {
		return nil, &StoreError{Op: "assign finding", Err: err}
	}

	finding, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The row exists, so the update was refused because it is resolved.
		return nil, &ConflictError{ID: id, Err: ErrFindingResolved}
	}

	s.logger.Info("finding assigned",
		"finding_id", id,
		"assignee_id", assigneeID)
	return finding, nil
}

// Get returns the finding with id or a NotFoundError.
func (s *Service) Get(ctx context.Context, id int64) (*models.Finding, error) {
	finding, err := s.repo.GetFinding(ctx, id)
	if err != nil {
		return nil, &StoreError{Op: "get finding", Err: err}
	}
	if finding == nil {
		return nil, &NotFoundError{Kind: "finding", Key: strconv.FormatInt(id, 10)}
	}
	return finding, nil
}
