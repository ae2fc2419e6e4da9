package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shiftleft/compliance/internal/models"
)

type BucketCount struct {
	Key   string `db:"key" json:"key"`
	Count int    `db:"count" json:"count"`
}

type ControlViolation struct {
	ControlID string           `db:"control_id" json:"control_id"`
	RiskLevel models.RiskLevel `db:"risk_level" json:"risk_level"`
	Count     int              `db:"count" json:"count"`
}

type TrendPoint struct {
	Day   string `db:"day" json:"date"`
	Count int    `db:"count" json:"count"`
}

type FindingTotals struct {
	Total    int `db:"total"`
	Resolved int `db:"resolved"`
	Open     int `db:"open"`
}

type ControlTotals struct {
	Total   int `db:"total"`
	Passing int `db:"passing"`
	Failing int `db:"failing"`
}

// FindingSnapshot is a consistent view of the findings aggregates.
type FindingSnapshot struct {
	Totals        FindingTotals
	Risk          []BucketCount
	Sources       []BucketCount
	TopViolations []ControlViolation
}

// FindingSnapshot reads the totals, distributions and top violating controls
// inside one read-only repeatable read transaction, so the distributions
// always add up to the totals.
func (s *Store) FindingSnapshot(ctx context.Context, topLimit int) (*FindingSnapshot, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("beginning analytics snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	snap := &FindingSnapshot{}
	if err := findingTotals(ctx, tx, &snap.Totals); err != nil {
		return nil, err
	}
	if snap.Risk, err = riskDistribution(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Sources, err = sourceDistribution(ctx, tx); err != nil {
		return nil, err
	}
	if snap.TopViolations, err = topViolatingControls(ctx, tx, topLimit); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing analytics snapshot: %w", err)
	}
	return snap, nil
}

func riskDistribution(ctx context.Context, q sqlx.QueryerContext) ([]BucketCount, error) {
	query := `SELECT risk_level AS key, COUNT(*) AS count FROM findings GROUP BY risk_level ORDER BY count DESC, key`
	buckets := []BucketCount{}
	if err := sqlx.SelectContext(ctx, q, &buckets, query); err != nil {
		return nil, fmt.Errorf("getting risk distribution: %w", err)
	}
	return buckets, nil
}

// sourceDistribution counts rows stored before source was recorded as code.
func sourceDistribution(ctx context.Context, q sqlx.QueryerContext) ([]BucketCount, error) {
	query := `
		SELECT COALESCE(source, 'code') AS key, COUNT(*) AS count
		FROM findings
		GROUP BY COALESCE(source, 'code')
		ORDER BY count DESC, key
	`
	buckets := []BucketCount{}
	if err := sqlx.SelectContext(ctx, q, &buckets, query); err != nil {
		return nil, fmt.Errorf("getting source distribution: %w", err)
	}
	return buckets, nil
}

// topViolatingControls groups open findings with a control by control and
// risk level, most frequent first.
func topViolatingControls(ctx context.Context, q sqlx.QueryerContext, limit int) ([]ControlViolation, error) {
	query := `
		SELECT control_id, risk_level, COUNT(*) AS count
		FROM findings
		WHERE control_id IS NOT NULL AND resolved = FALSE
		GROUP BY control_id, risk_level
		ORDER BY count DESC, control_id, risk_level
		LIMIT $1
	`
	violations := []ControlViolation{}
	if err := sqlx.SelectContext(ctx, q, &violations, query, limit); err != nil {
		return nil, fmt.Errorf("getting top violating controls: %w", err)
	}
	return violations, nil
}

func findingTotals(ctx context.Context, q sqlx.QueryerContext, totals *FindingTotals) error {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE resolved) AS resolved,
			COUNT(*) FILTER (WHERE NOT resolved) AS open
		FROM findings
	`
	if err := sqlx.GetContext(ctx, q, totals, query); err != nil {
		return fmt.Errorf("getting finding totals: %w", err)
	}
	return nil
}

func (s *Store) ControlTotals(ctx context.Context) (*ControlTotals, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'passing') AS passing,
			COUNT(*) FILTER (WHERE status = 'failing') AS failing
		FROM controls
	`
	totals := &ControlTotals{}
	if err := s.db.GetContext(ctx, totals, query); err != nil {
		return nil, fmt.Errorf("getting control totals: %w", err)
	}
	return totals, nil
}

// DailyTrend counts findings per UTC calendar day, oldest first. A nil risk
// counts every finding.
func (s *Store) DailyTrend(ctx context.Context, risk *models.RiskLevel) ([]TrendPoint, error) {
	query := `SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*) AS count FROM findings`
	args := make([]interface{}, 0, 1)
	if risk != nil {
		query += " WHERE risk_level = $1"
		args = append(args, *risk)
	}
	query += " GROUP BY day ORDER BY day ASC"

	points := []TrendPoint{}
	if err := s.db.SelectContext(ctx, &points, query, args...); err != nil {
		return nil, fmt.Errorf("getting daily trend: %w", err)
	}
	return points, nil
}
