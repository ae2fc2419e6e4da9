package findings

import (
	"context"
	"strings"
)

// Resolve marks every finding linked to jiraKey as resolved. It returns true
// when at least one finding carries the key, including findings that were
// already resolved. A key that matches nothing yields a NotFoundError.
func (s *Service) Resolve(ctx context.Context, jiraKey string) (bool, error) {
	jiraKey = strings.TrimSpace(jiraKey)
	if jiraKey == "" {
		return false, invalid("jira_key", "must not be empty")
	}

	matched, changed, err := s.repo.ResolveByJiraKey(ctx, jiraKey, s.clock())
	if err != nil {
		return false, &StoreError{Op: "resolve findings", Err: err}
	}

	if matched == 0 {
		totalResolved.WithLabelValues(metricsLabelStatusNotFound).Inc()
		return false, &NotFoundError{Kind: "jira_key", Key: jiraKey}
	}

	if changed == 0 {
		totalResolved.WithLabelValues(metricsLabelStatusNoop).Inc()
	} else {
		totalResolved.WithLabelValues(metricsLabelStatusChanged).Inc()
		s.logger.Info("findings resolved",
			"jira_key", jiraKey,
			"count", changed)
		s.reconcileControls(ctx)
	}
	return true, nil
}
