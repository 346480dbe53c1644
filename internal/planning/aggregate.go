package planning

import (
	"strings"

	"planboard/api/internal/jira"
	"planboard/api/internal/store"
)

// Roll-ups are pure functions over the booking mirror, recomputed on every
// read so they reflect the latest optimistic merge immediately.

// Predicate selects which bookings participate in a total.
type Predicate func(store.Booking) bool

// ByProjectKey matches bookings whose task key carries the project prefix,
// e.g. "PROJ" matches "PROJ-17".
func ByProjectKey(projectKey string) Predicate {
	return func(b store.Booking) bool {
		return strings.HasPrefix(b.TaskID, projectKey+"-")
	}
}

// ByTaskKeys matches an explicit task-key set, the epic-group case.
func ByTaskKeys(taskKeys []string) Predicate {
	keys := make(map[string]bool, len(taskKeys))
	for _, key := range taskKeys {
		keys[key] = true
	}
	return func(b store.Booking) bool {
		return keys[b.TaskID]
	}
}

// TotalHours sums the hours of bookings matching the predicate on one
// calendar date (string-exact, YYYY-MM-DD).
func TotalHours(bookings []store.Booking, predicate Predicate, date string) float64 {
	total := 0.0
	for _, b := range bookings {
		if b.Date == date && predicate(b) {
			total += b.Hours
		}
	}
	return total
}

// Summary groups booked hours by user, project (task-key prefix) or date.
func Summary(bookings []store.Booking, groupBy string) map[string]float64 {
	summary := make(map[string]float64)
	for _, b := range bookings {
		var key string
		switch groupBy {
		case "user":
			key = b.UserID
		case "project":
			key = projectPrefix(b.TaskID)
		case "date":
			key = b.Date
		default:
			key = b.TaskID
		}
		summary[key] += b.Hours
	}
	return summary
}

func projectPrefix(taskKey string) string {
	if i := strings.Index(taskKey, "-"); i > 0 {
		return taskKey[:i]
	}
	return taskKey
}

// EpicGroup is a best-effort bucket of issues under a parent reference.
type EpicGroup struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Issues []jira.Issue `json:"issues"`
}

// GroupByEpic buckets issues by their parent reference. No true epic
// hierarchy is fetched from the tracker; issues without a parent land in
// the ungrouped slice, which is the default bucket.
func GroupByEpic(issues []jira.Issue) (epics []EpicGroup, ungrouped []jira.Issue) {
	index := make(map[string]int)
	for _, issue := range issues {
		if issue.Parent == nil || issue.Parent.ID == "" {
			ungrouped = append(ungrouped, issue)
			continue
		}
		i, ok := index[issue.Parent.ID]
		if !ok {
			name := issue.Parent.Name
			if name == "" {
				name = issue.Parent.Key
			}
			epics = append(epics, EpicGroup{ID: issue.Parent.ID, Name: name})
			i = len(epics) - 1
			index[issue.Parent.ID] = i
		}
		epics[i].Issues = append(epics[i].Issues, issue)
	}
	return epics, ungrouped
}
