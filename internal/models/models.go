package models

import (
	"strings"
	"time"
)

type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// RiskRank orders risk levels for prioritisation. Lower is more urgent;
// unknown values sort after every known level.
func RiskRank(r RiskLevel) int {
	switch r {
	case RiskHigh:
		return 1
	case RiskMedium:
		return 2
	case RiskLow:
		return 3
	default:
		return 4
	}
}

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskHigh, RiskMedium, RiskLow:
		return true
	}
	return false
}

func ParseRiskLevel(s string) (RiskLevel, bool) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

type Source string

const (
	SourceCode       Source = "code"
	SourceScreenshot Source = "screenshot"
)

func (s Source) Valid() bool {
	return s == SourceCode || s == SourceScreenshot
}

func ParseSource(s string) (Source, bool) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	return src, src.Valid()
}

type ControlStatus string

const (
	ControlPassing ControlStatus = "passing"
	ControlFailing ControlStatus = "failing"
)

// Finding is one row of the audit log. RiskLevel, Source and ControlID are
// fixed at creation; Resolved only ever moves from false to true.
type Finding struct {
	ID          int64      `json:"id" db:"id"`
	Timestamp   time.Time  `json:"timestamp" db:"created_at"`
	Summary     string     `json:"summary" db:"summary"`
	Description string     `json:"description,omitempty" db:"description"`
	RiskLevel   RiskLevel  `json:"risk_level" db:"risk_level"`
	Source      Source     `json:"source" db:"source"`
	ControlID   *string    `json:"control_id" db:"control_id"`
	Resolved    bool       `json:"resolved" db:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	AssigneeID  *string    `json:"assignee_id" db:"assignee_id"`
	JiraKey     *string    `json:"jira_key" db:"jira_key"`
	GitHubLink  *string    `json:"github_link" db:"github_link"`
	SlackLink   *string    `json:"slack_link" db:"slack_link"`
	DedupKey    string     `json:"-" db:"dedup_key"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

type Control struct {
	ID          int64         `json:"id" db:"id"`
	ControlID   string        `json:"control_id" db:"control_id"`
	Framework   string        `json:"framework" db:"framework"`
	Title       string        `json:"title" db:"title"`
	Description string        `json:"description" db:"description"`
	Status      ControlStatus `json:"status" db:"status"`
}

// Links are the correlation identifiers written back by integrations after
// a finding has been ingested.
type Links struct {
	JiraKey    string `json:"jira_key,omitempty"`
	GitHubLink string `json:"github_link,omitempty"`
	SlackLink  string `json:"slack_link,omitempty"`
}

func (l Links) Empty() bool {
	return l.JiraKey == "" && l.GitHubLink == "" && l.SlackLink == ""
}

func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
