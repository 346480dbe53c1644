// Package search narrows the issue mirror by free text, through Meilisearch
// when it is up and a plain substring scan when it is not.
package search

import (
	"log"
	"strings"

	"planboard/api/internal/jira"
)

// Service is the facade that tries Meilisearch first and falls back to an
// in-memory scan of the mirror.
type Service struct {
	meili *Meili
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// Search returns the subset of issues matching the free-text query, in
// mirror order.
func (s *Service) Search(text string, issues []jira.Issue) []jira.Issue {
	text = strings.TrimSpace(text)
	if text == "" {
		return issues
	}

	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.SearchIDs(text, len(issues))
		if err == nil {
			return filterByIDs(issues, ids)
		}
		log.Printf("search: meilisearch error, falling back to substring scan: %v", err)
	}

	return substringScan(text, issues)
}

// IndexIssues pushes the mirror into the index, fire-and-forget.
func (s *Service) IndexIssues(issues []jira.Issue) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexIssues(issues); err != nil {
			log.Printf("search: index issues: %v", err)
		}
	}()
}

func filterByIDs(issues []jira.Issue, ids []string) []jira.Issue {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	matched := make([]jira.Issue, 0, len(ids))
	for _, issue := range issues {
		if wanted[issue.ID] {
			matched = append(matched, issue)
		}
	}
	return matched
}

func substringScan(text string, issues []jira.Issue) []jira.Issue {
	needle := strings.ToLower(text)
	matched := make([]jira.Issue, 0)
	for _, issue := range issues {
		if strings.Contains(strings.ToLower(issue.Summary), needle) ||
			strings.Contains(strings.ToLower(issue.Key), needle) ||
			labelsContain(issue.Labels, needle) {
			matched = append(matched, issue)
		}
	}
	return matched
}

func labelsContain(labels []string, needle string) bool {
	for _, label := range labels {
		if strings.Contains(strings.ToLower(label), needle) {
			return true
		}
	}
	return false
}
