package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shiftleft/compliance/internal/models"
)

func (s *Store) GetControl(ctx context.Context, controlID string) (*models.Control, error) {
	var control models.Control
	query := `SELECT id, control_id, framework, title, description, status FROM controls WHERE control_id = $1`
	err := s.db.GetContext(ctx, &control, query, controlID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &control, nil
}

func (s *Store) ListControls(ctx context.Context) ([]models.Control, error) {
	query := `SELECT id, control_id, framework, title, description, status FROM controls ORDER BY framework, control_id`
	controls := []models.Control{}
	err := s.db.SelectContext(ctx, &controls, query)
	return controls, err
}

// UpsertControls seeds the control catalogue. Status is only set on insert;
// existing rows keep the status computed by reconciliation.
func (s *Store) UpsertControls(ctx context.Context, controls []models.Control) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		INSERT INTO controls (control_id, framework, title, description, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (control_id) DO UPDATE SET
			framework = EXCLUDED.framework,
			title = EXCLUDED.title,
			description = EXCLUDED.description
	`
	for _, c := range controls {
		status := c.Status
		if status == "" {
			status = models.ControlPassing
		}
		if _, err := tx.ExecContext(ctx, query, c.ControlID, c.Framework, c.Title, c.Description, status); err != nil {
			return 0, fmt.Errorf("upserting control %s: %w", c.ControlID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing controls: %w", err)
	}
	return len(controls), nil
}

// ReconcileControlStatus marks a control failing when it has at least one
// open finding and passing otherwise. It returns the number of controls whose
// status changed.
func (s *Store) ReconcileControlStatus(ctx context.Context) (int64, error) {
	query := `
		UPDATE controls c SET status = computed.status
		FROM (
			SELECT ctl.control_id,
				CASE WHEN EXISTS (
					SELECT 1 FROM findings f WHERE f.control_id = ctl.control_id AND f.resolved = FALSE
				) THEN 'failing' ELSE 'passing' END AS status
			FROM controls ctl
		) computed
		WHERE c.control_id = computed.control_id AND c.status <> computed.status
	`
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("reconciling control status: %w", err)
	}
	return res.RowsAffected()
}
