package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/store"
)

const topViolationsLimit = 10

// Source provides the aggregate queries. *store.Store implements it.
type Source interface {
	FindingSnapshot(ctx context.Context, topLimit int) (*store.FindingSnapshot, error)
	ControlTotals(ctx context.Context) (*store.ControlTotals, error)
	DailyTrend(ctx context.Context, risk *models.RiskLevel) ([]store.TrendPoint, error)
}

var _ Source = (*store.Store)(nil)

type Summary struct {
	TotalFindings      int                      `json:"total_findings"`
	OpenFindings       int                      `json:"open_findings"`
	ResolvedFindings   int                      `json:"resolved_findings"`
	ResolutionRate     int                      `json:"resolution_rate"`
	RiskDistribution   []store.BucketCount      `json:"risk_distribution"`
	SourceDistribution []store.BucketCount      `json:"source_distribution"`
	TopViolations      []store.ControlViolation `json:"top_violations"`
	GeneratedAt        time.Time                `json:"generated_at"`
}

type ComplianceScore struct {
	Score         float64 `json:"compliance_score"`
	TotalControls int     `json:"total_controls"`
	Passing       int     `json:"passing"`
	Failing       int     `json:"failing"`
}

type Aggregator struct {
	src Source
	now func() time.Time
}

func New(src Source) *Aggregator {
	return &Aggregator{src: src, now: time.Now}
}

func (a *Aggregator) Summary(ctx context.Context) (*Summary, error) {
	snap, err := a.src.FindingSnapshot(ctx, topViolationsLimit)
	if err != nil {
		return nil, err
	}
	totals := snap.Totals
	top := snap.TopViolations
	if top == nil {
		top = []store.ControlViolation{}
	}

	return &Summary{
		TotalFindings:      totals.Total,
		OpenFindings:       totals.Open,
		ResolvedFindings:   totals.Resolved,
		ResolutionRate:     ResolutionRate(totals.Resolved, totals.Total),
		RiskDistribution:   fillBuckets(snap.Risk, string(models.RiskHigh), string(models.RiskMedium), string(models.RiskLow)),
		SourceDistribution: fillBuckets(snap.Sources, string(models.SourceCode), string(models.SourceScreenshot)),
		TopViolations:      top,
		GeneratedAt:        a.now().UTC(),
	}, nil
}

func (a *Aggregator) ComplianceScore(ctx context.Context) (*ComplianceScore, error) {
	totals, err := a.src.ControlTotals(ctx)
	if err != nil {
		return nil, err
	}
	return &ComplianceScore{
		Score:         Score(totals.Passing, totals.Total),
		TotalControls: totals.Total,
		Passing:       totals.Passing,
		Failing:       totals.Failing,
	}, nil
}

// DailyTrend returns finding counts per UTC day in ascending order. A nil
// risk counts every finding.
func (a *Aggregator) DailyTrend(ctx context.Context, risk *models.RiskLevel) ([]store.TrendPoint, error) {
	if risk != nil && !risk.Valid() {
		return nil, fmt.Errorf("unknown risk level %q", *risk)
	}
	points, err := a.src.DailyTrend(ctx, risk)
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []store.TrendPoint{}
	}
	return points, nil
}

// ResolutionRate is resolved/total as a whole percentage, 0 when there are
// no findings.
func ResolutionRate(resolved, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(resolved) / float64(total) * 100))
}

// Score is passing/total as a percentage rounded to one decimal place, 0 when
// there are no controls.
func Score(passing, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(passing)/float64(total)*1000) / 10
}

// fillBuckets returns the known keys first, in order, with zero counts for
// missing ones, followed by any other keys as they came.
func fillBuckets(buckets []store.BucketCount, known ...string) []store.BucketCount {
	counts := make(map[string]int, len(buckets))
	for _, b := range buckets {
		counts[b.Key] += b.Count
	}

	out := make([]store.BucketCount, 0, len(known)+len(buckets))
	seen := make(map[string]bool, len(known))
	for _, k := range known {
		out = append(out, store.BucketCount{Key: k, Count: counts[k]})
		seen[k] = true
	}
	for _, b := range buckets {
		if !seen[b.Key] {
			out = append(out, b)
			seen[b.Key] = true
		}
	}
	return out
}
