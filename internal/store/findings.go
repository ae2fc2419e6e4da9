package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shiftleft/compliance/internal/models"
)

const findingColumns = `id, created_at, updated_at, summary, description, risk_level, source,
	control_id, resolved, resolved_at, assignee_id, jira_key, github_link, slack_link, dedup_key`

// riskRankSQL mirrors models.RiskRank so that queue ordering happens in the
// database.
const riskRankSQL = `CASE risk_level WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END`

// InsertFinding stores f unless an open finding with the same dedup key
// already exists. It returns the stored finding and true, or the blocking open
// finding and false. The conflict check and the insert are one statement
// backed by the partial unique index on open dedup keys.
func (s *Store) InsertFinding(ctx context.Context, f *models.Finding) (*models.Finding, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	f.UpdatedAt = f.Timestamp

	query := `
		INSERT INTO findings (
			created_at, updated_at, summary, description, risk_level, source, control_id, resolved, dedup_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (dedup_key) WHERE resolved = FALSE DO NOTHING
		RETURNING ` + findingColumns

	var stored models.Finding
	err = tx.GetContext(ctx, &stored, query,
		f.Timestamp, f.UpdatedAt, f.Summary, f.Description, f.RiskLevel, f.Source, f.ControlID, f.DedupKey,
	)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("committing finding: %w", err)
		}
		return &stored, true, nil
	case errors.Is(err, sql.ErrNoRows):
		// Conflict: fall through and read the open finding that blocked us.
	case isForeignKeyViolation(err):
		return nil, false, ErrUnknownControl
	default:
		return nil, false, fmt.Errorf("inserting finding: %w", err)
	}

	var existing models.Finding
	err = tx.GetContext(ctx, &existing,
		`SELECT `+findingColumns+` FROM findings WHERE dedup_key = $1 AND resolved = FALSE`, f.DedupKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrDedupRace
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading open duplicate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing duplicate lookup: %w", err)
	}
	return &existing, false, nil
}

// FindOpenByDedupKey returns the open finding holding key, or nil.
func (s *Store) FindOpenByDedupKey(ctx context.Context, key string) (*models.Finding, error) {
	var finding models.Finding
	query := `SELECT ` + findingColumns + ` FROM findings WHERE dedup_key = $1 AND resolved = FALSE`
	err := s.db.GetContext(ctx, &finding, query, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &finding, nil
}

func (s *Store) GetFinding(ctx context.Context, id int64) (*models.Finding, error) {
	var finding models.Finding
	query := `SELECT ` + findingColumns + ` FROM findings WHERE id = $1`
	err := s.db.GetContext(ctx, &finding, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &finding, nil
}

type ListFindingFilters struct {
	Resolved  *bool
	RiskLevel *models.RiskLevel
	Source    *models.Source
	ControlID *string
	Limit     int
	Offset    int
}

func (s *Store) ListFindings(ctx context.Context, filters ListFindingFilters) ([]models.Finding, int, error) {
	baseQuery := `FROM findings WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.Resolved != nil {
		baseQuery += fmt.Sprintf(" AND resolved = $%d", argIdx)
		args = append(args, *filters.Resolved)
		argIdx++
	}
	if filters.RiskLevel != nil {
		baseQuery += fmt.Sprintf(" AND risk_level = $%d", argIdx)
		args = append(args, *filters.RiskLevel)
		argIdx++
	}
	if filters.Source != nil {
		baseQuery += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, *filters.Source)
		argIdx++
	}
	if filters.ControlID != nil {
		baseQuery += fmt.Sprintf(" AND control_id = $%d", argIdx)
		args = append(args, *filters.ControlID)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT " + findingColumns + " " + baseQuery + " ORDER BY id DESC"
	if filters.Limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		selectQuery += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	findings := []models.Finding{}
	if err := s.db.SelectContext(ctx, &findings, selectQuery, args...); err != nil {
		return nil, 0, err
	}
	return findings, total, nil
}

// OpenFindingFilters selects a queue of open findings. A nil AssigneeID
// selects the unassigned triage queue.
type OpenFindingFilters struct {
	AssigneeID *string
	Limit      int
}

// ListOpenFindings returns open findings ordered by risk rank, then newest
// first, with id as the final tiebreak.
func (s *Store) ListOpenFindings(ctx context.Context, filters OpenFindingFilters) ([]models.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM findings WHERE resolved = FALSE`
	args := make([]interface{}, 0, 2)

	if filters.AssigneeID == nil {
		query += " AND assignee_id IS NULL"
	} else {
		args = append(args, *filters.AssigneeID)
		query += fmt.Sprintf(" AND assignee_id = $%d", len(args))
	}

	query += " ORDER BY " + riskRankSQL + " ASC, created_at DESC, id DESC"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	findings := []models.Finding{}
	if err := s.db.SelectContext(ctx, &findings, query, args...); err != nil {
		return nil, err
	}
	return findings, nil
}

// ResolveByJiraKey marks every open finding carrying jiraKey as resolved.
// matched counts all findings with the key, changed only those that were
// still open. resolved_at keeps the time of the first resolution.
func (s *Store) ResolveByJiraKey(ctx context.Context, jiraKey string, at time.Time) (matched, changed int64, err error) {
	query := `
		WITH matched AS (
			SELECT id FROM findings WHERE jira_key = $1
		), updated AS (
			UPDATE findings SET resolved = TRUE, resolved_at = $2, updated_at = $2
			WHERE jira_key = $1 AND resolved = FALSE
			RETURNING id
		)
		SELECT (SELECT COUNT(*) FROM matched), (SELECT COUNT(*) FROM updated)
	`
	row := s.db.QueryRowxContext(ctx, query, jiraKey, at)
	if err := row.Scan(&matched, &changed); err != nil {
		return 0, 0, fmt.Errorf("resolving findings: %w", err)
	}
	return matched, changed, nil
}

// AssignFinding sets the assignee of an open finding. It reports false when
// no open finding with id exists.
func (s *Store) AssignFinding(ctx context.Context, id int64, assigneeID string, at time.Time) (bool, error) {
	query := `UPDATE findings SET assignee_id = $1, updated_at = $2 WHERE id = $3 AND resolved = FALSE`
	res, err := s.db.ExecContext(ctx, query, assigneeID, at, id)
	if err != nil {
		return false, fmt.Errorf("assigning finding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateFindingLinks records integration identifiers. Empty values leave the
// stored column untouched.
func (s *Store) UpdateFindingLinks(ctx context.Context, id int64, links models.Links, at time.Time) (bool, error) {
	query := `
		UPDATE findings SET
			jira_key = COALESCE($1, jira_key),
			github_link = COALESCE($2, github_link),
			slack_link = COALESCE($3, slack_link),
			updated_at = $4
		WHERE id = $5
	`
	res, err := s.db.ExecContext(ctx, query,
		models.StringPtr(links.JiraKey), models.StringPtr(links.GitHubLink), models.StringPtr(links.SlackLink), at, id,
	)
	if err != nil {
		return false, fmt.Errorf("updating finding links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
