// Package jira talks to a remote Jira-compatible tracker and normalizes its
// responses into the canonical records the rest of the service works with.
package jira

import (
	"encoding/json"
	"fmt"
)

// Project is the canonical shape of a remote project. Replaced wholesale on
// every re-fetch, never merged.
type Project struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Status is a remote workflow state. Deduplicated globally by ID when
// aggregated across projects.
type Status struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	StatusCategory string `json:"statusCategory"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type IssueType struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
}

type Priority struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
}

// IssueProject is the trimmed project reference embedded in an issue.
type IssueProject struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Issue is the canonical issue record. Assignee, Priority, Reporter and
// Parent are nil when the remote field is absent - an explicit marker, the
// fields are always serialized.
type Issue struct {
	ID       string        `json:"id"`
	Key      string        `json:"key"`
	Summary  string        `json:"summary"`
	Status   Status        `json:"status"`
	Assignee *User         `json:"assignee"`
	IssueTyp IssueType     `json:"issueType"`
	Priority *Priority     `json:"priority"`
	Reporter *User         `json:"reporter"`
	Labels   []string      `json:"labels"`
	Created  string        `json:"created"`
	Updated  string        `json:"updated"`
	Project  IssueProject  `json:"project"`
	Parent   *IssueProject `json:"parent"`
}

// Raw wire shapes. Jira nests everything under fields; optional objects
// simply vanish, so pointers throughout.

type rawAvatarURLs struct {
	Large string `json:"48x48"`
}

type rawUser struct {
	AccountID   string         `json:"accountId"`
	DisplayName string         `json:"displayName"`
	AvatarURLs  *rawAvatarURLs `json:"avatarUrls"`
}

type rawStatusCategory struct {
	Name string `json:"name"`
}

type rawStatus struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	StatusCategory *rawStatusCategory `json:"statusCategory"`
}

type rawNamedEntity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl"`
}

type rawIssueProject struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type rawParent struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields *struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

type rawIssueFields struct {
	Summary   string           `json:"summary"`
	Status    *rawStatus       `json:"status"`
	Assignee  *rawUser         `json:"assignee"`
	IssueType *rawNamedEntity  `json:"issuetype"`
	Priority  *rawNamedEntity  `json:"priority"`
	Reporter  *rawUser         `json:"reporter"`
	Labels    []string         `json:"labels"`
	Created   string           `json:"created"`
	Updated   string           `json:"updated"`
	Project   *rawIssueProject `json:"project"`
	Parent    *rawParent       `json:"parent"`
}

type rawIssue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Fields rawIssueFields `json:"fields"`
}

type rawSearchResponse struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []rawIssue `json:"issues"`
}

type rawProject struct {
	ID         string            `json:"id"`
	Key        string            `json:"key"`
	Name       string            `json:"name"`
	AvatarURLs map[string]string `json:"avatarUrls"`
}

// projectStatuses is the per-issue-type grouping returned by the
// project/{key}/statuses endpoint.
type rawProjectStatuses struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Statuses []rawStatus `json:"statuses"`
}

// normalizeIssue maps the nested wire shape onto the canonical flat record.
// Required fields missing from the payload fail loudly instead of
// propagating zero values into the mirror.
func normalizeIssue(raw rawIssue) (Issue, error) {
	if raw.ID == "" || raw.Key == "" {
		return Issue{}, fmt.Errorf("%w: issue without id or key", ErrMalformedResponse)
	}
	if raw.Fields.Status == nil || raw.Fields.Status.StatusCategory == nil {
		return Issue{}, fmt.Errorf("%w: issue %s has no status", ErrMalformedResponse, raw.Key)
	}
	if raw.Fields.IssueType == nil {
		return Issue{}, fmt.Errorf("%w: issue %s has no issuetype", ErrMalformedResponse, raw.Key)
	}
	if raw.Fields.Project == nil {
		return Issue{}, fmt.Errorf("%w: issue %s has no project", ErrMalformedResponse, raw.Key)
	}

	issue := Issue{
		ID:      raw.ID,
		Key:     raw.Key,
		Summary: raw.Fields.Summary,
		Status: Status{
			ID:             raw.Fields.Status.ID,
			Name:           raw.Fields.Status.Name,
			StatusCategory: raw.Fields.Status.StatusCategory.Name,
		},
		IssueTyp: IssueType{
			ID:      raw.Fields.IssueType.ID,
			Name:    raw.Fields.IssueType.Name,
			IconURL: raw.Fields.IssueType.IconURL,
		},
		Labels:  raw.Fields.Labels,
		Created: raw.Fields.Created,
		Updated: raw.Fields.Updated,
		Project: IssueProject{
			ID:   raw.Fields.Project.ID,
			Key:  raw.Fields.Project.Key,
			Name: raw.Fields.Project.Name,
		},
	}
	if issue.Labels == nil {
		issue.Labels = []string{}
	}
	if raw.Fields.Assignee != nil {
		issue.Assignee = normalizeUser(raw.Fields.Assignee)
	}
	if raw.Fields.Reporter != nil {
		issue.Reporter = normalizeUser(raw.Fields.Reporter)
	}
	if raw.Fields.Priority != nil {
		issue.Priority = &Priority{
			ID:      raw.Fields.Priority.ID,
			Name:    raw.Fields.Priority.Name,
			IconURL: raw.Fields.Priority.IconURL,
		}
	}
	if raw.Fields.Parent != nil {
		parent := IssueProject{ID: raw.Fields.Parent.ID, Key: raw.Fields.Parent.Key}
		if raw.Fields.Parent.Fields != nil {
			parent.Name = raw.Fields.Parent.Fields.Summary
		}
		issue.Parent = &parent
	}
	return issue, nil
}

func normalizeUser(raw *rawUser) *User {
	user := &User{ID: raw.AccountID, Name: raw.DisplayName}
	if raw.AvatarURLs != nil {
		user.AvatarURL = raw.AvatarURLs.Large
	}
	return user
}

func normalizeProject(raw rawProject) Project {
	return Project{
		ID:        raw.ID,
		Key:       raw.Key,
		Name:      raw.Name,
		AvatarURL: raw.AvatarURLs["48x48"],
	}
}

// flattenStatuses deduplicates by status id across the per-issue-type
// grouping the statuses endpoint returns.
func flattenStatuses(groups []rawProjectStatuses) ([]Status, error) {
	seen := make(map[string]bool)
	statuses := make([]Status, 0)
	for _, group := range groups {
		for _, raw := range group.Statuses {
			if raw.ID == "" || raw.StatusCategory == nil {
				return nil, fmt.Errorf("%w: status without id or category", ErrMalformedResponse)
			}
			if seen[raw.ID] {
				continue
			}
			seen[raw.ID] = true
			statuses = append(statuses, Status{
				ID:             raw.ID,
				Name:           raw.Name,
				StatusCategory: raw.StatusCategory.Name,
			})
		}
	}
	return statuses, nil
}

func decodeJSON(data []byte, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
