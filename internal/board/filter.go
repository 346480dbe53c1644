package board

import (
	"strings"

	"planboard/api/internal/jira"
)

// Filter is the render-time predicate over the issue mirror. Empty fields
// match everything; populated fields intersect.
type Filter struct {
	SearchText string   `json:"searchText,omitempty"`
	Assignee   string   `json:"assignee,omitempty"`
	Project    string   `json:"project,omitempty"`
	IssueType  string   `json:"issueType,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

func (f Filter) IsZero() bool {
	return f.SearchText == "" && f.Assignee == "" && f.Project == "" &&
		f.IssueType == "" && f.Priority == "" && len(f.Labels) == 0
}

// Apply filters issues by simple intersection of the populated predicates.
func (f Filter) Apply(issues []jira.Issue) []jira.Issue {
	if f.IsZero() {
		return issues
	}
	matched := make([]jira.Issue, 0, len(issues))
	for _, issue := range issues {
		if f.matches(issue) {
			matched = append(matched, issue)
		}
	}
	return matched
}

func (f Filter) matches(issue jira.Issue) bool {
	if f.SearchText != "" {
		needle := strings.ToLower(f.SearchText)
		if !strings.Contains(strings.ToLower(issue.Summary), needle) &&
			!strings.Contains(strings.ToLower(issue.Key), needle) {
			return false
		}
	}
	if f.Assignee != "" {
		if issue.Assignee == nil || issue.Assignee.ID != f.Assignee {
			return false
		}
	}
	if f.Project != "" && issue.Project.Key != f.Project {
		return false
	}
	if f.IssueType != "" && issue.IssueTyp.ID != f.IssueType {
		return false
	}
	if f.Priority != "" {
		if issue.Priority == nil || issue.Priority.ID != f.Priority {
			return false
		}
	}
	for _, label := range f.Labels {
		if !containsString(issue.Labels, label) {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
