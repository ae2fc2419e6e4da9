package findings

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/store"
)

// Action tells the producer what ingestion did with its record.
type Action string

const (
	ActionCreated   Action = "created"
	ActionDuplicate Action = "duplicate"
)

const maxInsertAttempts = 2

// Record is a finding as submitted by a producer.
type Record struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	RiskLevel   string `json:"risk_level"`
	Source      string `json:"source"`
	ControlID   string `json:"control_id,omitempty"`
}

// Validate normalizes r into a Candidate.
func (r Record) Validate() (Candidate, error) {
	summary := strings.TrimSpace(r.Summary)
	if summary == "" {
		return Candidate{}, invalid("summary", "must not be empty")
	}

	risk, ok := models.ParseRiskLevel(r.RiskLevel)
	if !ok {
		return Candidate{}, invalid("risk_level", "must be one of high, medium, low")
	}

	source, ok := models.ParseSource(r.Source)
	if !ok {
		return Candidate{}, invalid("source", "must be one of code, screenshot")
	}

	return Candidate{
		Summary:   summary,
		RiskLevel: risk,
		Source:    source,
		ControlID: strings.TrimSpace(r.ControlID),
	}, nil
}

// Check reports whether rec would be rejected as a duplicate without
// storing anything.
func (s *Service) Check(ctx context.Context, rec Record) (bool, *models.Finding, error) {
	c, err := rec.Validate()
	if err != nil {
		return false, nil, err
	}
	return s.gate.IsDuplicate(ctx, c)
}

// Ingest validates rec and stores it unless an open finding with the same
// fingerprint exists, in which case that finding is returned unchanged.
func (s *Service) Ingest(ctx context.Context, rec Record) (*models.Finding, Action, error) {
	c, err := rec.Validate()
	if err != nil {
		totalIngested.WithLabelValues(metricsLabelActionInvalid, metricsLabelSourceUnknown).Inc()
		return nil, "", err
	}

	key := s.gate.Fingerprint(c)
	if key == "" {
		// Nothing to match on: the finding can never be a duplicate.
		key = "unique:" + uuid.NewString()
	}

	finding := &models.Finding{
		Timestamp:   s.clock(),
		Summary:     c.Summary,
		Description: strings.TrimSpace(rec.Description),
		RiskLevel:   c.RiskLevel,
		Source:      c.Source,
		ControlID:   models.StringPtr(c.ControlID),
		DedupKey:    key,
	}

	var (
		stored  *models.Finding
		created bool
	)
	for attempt := 1; ; attempt++ {
		stored, created, err = s.repo.InsertFinding(ctx, finding)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrUnknownControl) {
			totalIngested.WithLabelValues(metricsLabelActionInvalid, string(c.Source)).Inc()
			return nil, "", invalid("control_id", "unknown control "+c.ControlID)
		}
		if attempt >= maxInsertAttempts || ctx.Err() != nil {
			totalIngested.WithLabelValues(metricsLabelActionFailed, string(c.Source)).Inc()
			return nil, "", &StoreError{Op: "insert finding", Err: err}
		}
		s.logger.Warn("retrying finding insert",
			"attempt", attempt,
			"dedup_key", key,
			"error", err)
	}

	if !created {
		totalIngested.WithLabelValues(string(ActionDuplicate), string(c.Source)).Inc()
		s.logger.Info("duplicate finding",
			"existing_id", stored.ID,
			"dedup_key", key)
		return stored, ActionDuplicate, nil
	}

	totalIngested.WithLabelValues(string(ActionCreated), string(c.Source)).Inc()
	s.logger.Info("finding created",
		"finding_id", stored.ID,
		"risk_level", stored.RiskLevel,
		"source", stored.Source)
	if stored.ControlID != nil {
		s.reconcileControls(ctx)
	}
	return stored, ActionCreated, nil
}
