// Package board owns the locally-managed Kanban schema and the issue mirror.
package board

import (
	"sort"

	"planboard/api/internal/jira"
)

// Column is a locally-owned board lane. The default mapping is one status
// per column, but manually edited columns may hold zero or several.
type Column struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	StatusIDs []string `json:"statusIds"`
}

// categoryRank orders columns backlog-like -> in-progress-like -> done-like.
// Unrecognized categories sink to the bottom in first-seen order.
var categoryRank = map[string]int{
	"To Do":       1,
	"In Progress": 2,
	"Done":        3,
}

const unknownCategoryRank = 99

// BuildColumns derives the board schema from the statuses of the selected
// projects: dedupe by status id, one column per status, sorted by category
// rank. The sort is stable, so equal ranks keep first-seen order and the
// result is deterministic for a given input sequence.
func BuildColumns(statuses []jira.Status) []Column {
	unique := dedupeStatuses(statuses)

	columns := make([]Column, 0, len(unique))
	for _, status := range unique {
		columns = append(columns, Column{
			ID:        status.ID,
			Name:      status.Name,
			StatusIDs: []string{status.ID},
		})
	}

	rank := make(map[string]int, len(unique))
	for _, status := range unique {
		rank[status.ID] = rankFor(status.StatusCategory)
	}
	sort.SliceStable(columns, func(i, j int) bool {
		return rank[columns[i].ID] < rank[columns[j].ID]
	})
	return columns
}

// MergeNewStatuses appends columns for statuses not yet covered by any
// existing column's status set. Existing columns - renames, custom status
// unions, ordering - are left untouched.
func MergeNewStatuses(existing []Column, statuses []jira.Status) ([]Column, int) {
	covered := make(map[string]bool)
	for _, column := range existing {
		for _, id := range column.StatusIDs {
			covered[id] = true
		}
	}

	uncovered := make([]jira.Status, 0)
	for _, status := range dedupeStatuses(statuses) {
		if !covered[status.ID] {
			uncovered = append(uncovered, status)
		}
	}
	if len(uncovered) == 0 {
		return existing, 0
	}

	merged := append(append([]Column{}, existing...), BuildColumns(uncovered)...)
	return merged, len(uncovered)
}

func dedupeStatuses(statuses []jira.Status) []jira.Status {
	seen := make(map[string]bool, len(statuses))
	unique := make([]jira.Status, 0, len(statuses))
	for _, status := range statuses {
		if seen[status.ID] {
			continue
		}
		seen[status.ID] = true
		unique = append(unique, status)
	}
	return unique
}

func rankFor(category string) int {
	if rank, ok := categoryRank[category]; ok {
		return rank
	}
	return unknownCategoryRank
}
