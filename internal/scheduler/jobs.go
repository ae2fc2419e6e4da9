package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/shiftleft/compliance/internal/analytics"
	"github.com/shiftleft/compliance/internal/notifications"
)

type controlReconciler interface {
	ReconcileControlStatus(ctx context.Context) (int64, error)
}

type digestSender interface {
	NotifyDailyDigest(ctx context.Context, stats notifications.DigestStats) error
}

// Jobs holds the handlers for the built-in job types.
type Jobs struct {
	Controls  controlReconciler
	Analytics *analytics.Aggregator
	Notifier  digestSender
	Now       func() time.Time
}

// Register wires the available handlers into s.
func (j *Jobs) Register(s *Scheduler) {
	if j.Controls != nil {
		s.RegisterHandler(JobTypeReconcileControls, j.reconcile)
	}
	if j.Analytics != nil && j.Notifier != nil {
		s.RegisterHandler(JobTypeDailyDigest, j.digest)
	}
}

func (j *Jobs) reconcile(ctx context.Context, _ *Job) (string, error) {
	changed, err := j.Controls.ReconcileControlStatus(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d controls changed status", changed), nil
}

func (j *Jobs) digest(ctx context.Context, _ *Job) (string, error) {
	stats, err := j.DigestStats(ctx)
	if err != nil {
		return "", err
	}
	if err := j.Notifier.NotifyDailyDigest(ctx, *stats); err != nil {
		return "", fmt.Errorf("sending digest: %w", err)
	}
	return fmt.Sprintf("digest sent for %s", stats.Period), nil
}

// DigestStats gathers the figures for the digest covering the current UTC
// day.
func (j *Jobs) DigestStats(ctx context.Context) (*notifications.DigestStats, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	today := now().UTC().Format("2006-01-02")

	summary, err := j.Analytics.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting summary: %w", err)
	}
	score, err := j.Analytics.ComplianceScore(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting compliance score: %w", err)
	}
	trend, err := j.Analytics.DailyTrend(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("getting trend: %w", err)
	}

	stats := &notifications.DigestStats{
		Period:           today,
		OpenFindings:     summary.OpenFindings,
		ResolvedFindings: summary.ResolvedFindings,
		ResolutionRate:   summary.ResolutionRate,
		ComplianceScore:  score.Score,
		FailingControls:  score.Failing,
	}
	for _, p := range trend {
		if p.Day == today {
			stats.NewFindings = p.Count
		}
	}
	seen := make(map[string]bool)
	for _, v := range summary.TopViolations {
		if !seen[v.ControlID] && len(stats.TopControls) < 5 {
			seen[v.ControlID] = true
			stats.TopControls = append(stats.TopControls, v.ControlID)
		}
	}
	return stats, nil
}
