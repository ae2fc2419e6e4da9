package findings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/store"
)

// memRepo is an in-memory Repository with the same dedup and ordering rules
// as the Postgres store.
type memRepo struct {
	mu         sync.Mutex
	nextID     int64
	findings   []*models.Finding
	controls   map[string]models.Control
	insertErrs []error
	inserts    int
	reconciles int
}

func newMemRepo(controlIDs ...string) *memRepo {
	r := &memRepo{controls: make(map[string]models.Control)}
	for i, id := range controlIDs {
		r.controls[id] = models.Control{ID: int64(i + 1), ControlID: id, Framework: "SOC2", Status: models.ControlPassing}
	}
	return r
}

func (r *memRepo) failInserts(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertErrs = append(r.insertErrs, errs...)
}

func (r *memRepo) InsertFinding(_ context.Context, f *models.Finding) (*models.Finding, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inserts++
	if len(r.insertErrs) > 0 {
		err := r.insertErrs[0]
		r.insertErrs = r.insertErrs[1:]
		return nil, false, err
	}

	if f.ControlID != nil {
		if _, ok := r.controls[*f.ControlID]; !ok {
			return nil, false, store.ErrUnknownControl
		}
	}
	for _, existing := range r.findings {
		if !existing.Resolved && existing.DedupKey == f.DedupKey {
			cp := *existing
			return &cp, false, nil
		}
	}

	r.nextID++
	stored := *f
	stored.ID = r.nextID
	stored.UpdatedAt = stored.Timestamp
	r.findings = append(r.findings, &stored)
	cp := stored
	return &cp, true, nil
}

func (r *memRepo) FindOpenByDedupKey(_ context.Context, key string) (*models.Finding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.findings {
		if !f.Resolved && f.DedupKey == key {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) GetFinding(_ context.Context, id int64) (*models.Finding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f := r.byID(id); f != nil {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) byID(id int64) *models.Finding {
	for _, f := range r.findings {
		if f.ID == id {
			return f
		}
	}
	return nil
}

func (r *memRepo) ListFindings(_ context.Context, filters store.ListFindingFilters) ([]models.Finding, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []models.Finding
	for i := len(r.findings) - 1; i >= 0; i-- {
		f := r.findings[i]
		if filters.Resolved != nil && f.Resolved != *filters.Resolved {
			continue
		}
		if filters.RiskLevel != nil && f.RiskLevel != *filters.RiskLevel {
			continue
		}
		if filters.Source != nil && f.Source != *filters.Source {
			continue
		}
		if filters.ControlID != nil && models.Deref(f.ControlID) != *filters.ControlID {
			continue
		}
		matched = append(matched, *f)
	}

	total := len(matched)
	if filters.Offset < len(matched) {
		matched = matched[filters.Offset:]
	} else {
		matched = nil
	}
	if filters.Limit > 0 && len(matched) > filters.Limit {
		matched = matched[:filters.Limit]
	}
	return matched, total, nil
}

func (r *memRepo) ListOpenFindings(_ context.Context, filters store.OpenFindingFilters) ([]models.Finding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var open []models.Finding
	for _, f := range r.findings {
		if f.Resolved {
			continue
		}
		if filters.AssigneeID == nil && f.AssigneeID != nil {
			continue
		}
		if filters.AssigneeID != nil && models.Deref(f.AssigneeID) != *filters.AssigneeID {
			continue
		}
		open = append(open, *f)
	}

	sort.SliceStable(open, func(i, j int) bool {
		ri, rj := models.RiskRank(open[i].RiskLevel), models.RiskRank(open[j].RiskLevel)
		if ri != rj {
			return ri < rj
		}
		if !open[i].Timestamp.Equal(open[j].Timestamp) {
			return open[i].Timestamp.After(open[j].Timestamp)
		}
		return open[i].ID > open[j].ID
	})

	if filters.Limit > 0 && len(open) > filters.Limit {
		open = open[:filters.Limit]
	}
	return open, nil
}

func (r *memRepo) ResolveByJiraKey(_ context.Context, jiraKey string, at time.Time) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched, changed int64
	for _, f := range r.findings {
		if models.Deref(f.JiraKey) != jiraKey {
			continue
		}
		matched++
		if !f.Resolved {
			changed++
			f.Resolved = true
			resolvedAt := at
			f.ResolvedAt = &resolvedAt
			f.UpdatedAt = at
		}
	}
	return matched, changed, nil
}

func (r *memRepo) AssignFinding(_ context.Context, id int64, assigneeID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.byID(id)
	if f == nil || f.Resolved {
		return false, nil
	}
	f.AssigneeID = &assigneeID
	f.UpdatedAt = at
	return true, nil
}

func (r *memRepo) UpdateFindingLinks(_ context.Context, id int64, links models.Links, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.byID(id)
	if f == nil {
		return false, nil
	}
	if links.JiraKey != "" {
		f.JiraKey = models.StringPtr(links.JiraKey)
	}
	if links.GitHubLink != "" {
		f.GitHubLink = models.StringPtr(links.GitHubLink)
	}
	if links.SlackLink != "" {
		f.SlackLink = models.StringPtr(links.SlackLink)
	}
	f.UpdatedAt = at
	return true, nil
}

func (r *memRepo) GetControl(_ context.Context, controlID string) (*models.Control, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controls[controlID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memRepo) ListControls(_ context.Context) ([]models.Control, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	controls := make([]models.Control, 0, len(r.controls))
	for _, c := range r.controls {
		controls = append(controls, c)
	}
	sort.Slice(controls, func(i, j int) bool { return controls[i].ControlID < controls[j].ControlID })
	return controls, nil
}

func (r *memRepo) ReconcileControlStatus(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reconciles++
	failing := make(map[string]bool)
	for _, f := range r.findings {
		if !f.Resolved && f.ControlID != nil {
			failing[*f.ControlID] = true
		}
	}

	var changed int64
	for id, c := range r.controls {
		status := models.ControlPassing
		if failing[id] {
			status = models.ControlFailing
		}
		if c.Status != status {
			c.Status = status
			r.controls[id] = c
			changed++
		}
	}
	return changed, nil
}

// count returns the number of stored findings.
func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.findings)
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}
