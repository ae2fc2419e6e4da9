package findings

import (
	"context"
	"strconv"
	"strings"

	"github.com/shiftleft/compliance/internal/models"
)

// RecordLinks stores the identifiers an integration created for a finding.
// Empty fields keep their current value. Resolution state is never touched.
func (s *Service) RecordLinks(ctx context.Context, id int64, links models.Links) (*models.Finding, error) {
	links = models.Links{
		JiraKey:    strings.TrimSpace(links.JiraKey),
		GitHubLink: strings.TrimSpace(links.GitHubLink),
		SlackLink:  strings.TrimSpace(links.SlackLink),
	}
	if links.Empty() {
		return nil, invalid("links", "at least one of jira_key, github_link, slack_link is required")
	}

	ok, err := s.repo.UpdateFindingLinks(ctx, id, links, s.clock())
	if err != nil {
		return nil, &StoreError{Op: "record links", Err: err}
	}
	if !ok {
		return nil, &NotFoundError{Kind: "finding", Key: strconv.FormatInt(id, 10)}
	}
	return s.Get(ctx, id)
}
