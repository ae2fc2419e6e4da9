package findings

import (
	"context"
	"strings"
	"unicode"

	"github.com/shiftleft/compliance/internal/models"
)

// Candidate is a validated finding that has not been stored yet.
type Candidate struct {
	Summary   string
	RiskLevel models.RiskLevel
	Source    models.Source
	ControlID string
}

// A Matcher reduces a candidate to the fingerprint used for duplicate
// detection. Two findings are duplicates when their fingerprints are equal.
type Matcher interface {
	Fingerprint(c Candidate) string
}

// MatcherFunc adapts a plain function to Matcher.
type MatcherFunc func(c Candidate) string

func (f MatcherFunc) Fingerprint(c Candidate) string {
	return f(c)
}

// ControlMatcher treats findings against the same control as duplicates.
// Findings without a control fall back to their normalized summary.
type ControlMatcher struct{}

func (ControlMatcher) Fingerprint(c Candidate) string {
	if c.ControlID != "" {
		return "control:" + c.ControlID
	}
	return "summary:" + NormalizeSummary(c.Summary)
}

// SummaryMatcher treats findings with the same normalized summary and risk
// level as duplicates.
type SummaryMatcher struct{}

func (SummaryMatcher) Fingerprint(c Candidate) string {
	return "summary:" + string(c.RiskLevel) + ":" + NormalizeSummary(c.Summary)
}

const (
	StrategyControl = "control"
	StrategySummary = "summary"
)

// MatcherForStrategy returns the matcher configured by name. Unknown names
// return false.
func MatcherForStrategy(name string) (Matcher, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyControl:
		return ControlMatcher{}, true
	case StrategySummary:
		return SummaryMatcher{}, true
	}
	return nil, false
}

// NormalizeSummary lower-cases s, turns punctuation into spaces and collapses
// runs of whitespace.
func NormalizeSummary(s string) string {
	folded := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(folded), " ")
}

type dedupLookup interface {
	FindOpenByDedupKey(ctx context.Context, key string) (*models.Finding, error)
}

// Gate answers whether a candidate duplicates an open finding. The answer is
// advisory; Ingest relies on the store's atomic insert instead.
type Gate struct {
	repo    dedupLookup
	matcher Matcher
}

func NewGate(repo dedupLookup, matcher Matcher) *Gate {
	if matcher == nil {
		matcher = ControlMatcher{}
	}
	return &Gate{repo: repo, matcher: matcher}
}

func (g *Gate) Fingerprint(c Candidate) string {
	return g.matcher.Fingerprint(c)
}

// IsDuplicate returns the open finding that c duplicates, if any. Resolved
// findings never match.
func (g *Gate) IsDuplicate(ctx context.Context, c Candidate) (bool, *models.Finding, error) {
	key := g.Fingerprint(c)
	if key == "" {
		return false, nil, nil
	}

	existing, err := g.repo.FindOpenByDedupKey(ctx, key)
	if err != nil {
		return false, nil, &StoreError{Op: "find open duplicate", Err: err}
	}
	if existing == nil {
		return false, nil, nil
	}
	return true, existing, nil
}
