package board

import (
	"errors"
	"sync"
	"time"

	"planboard/api/internal/jira"
)

// ErrSyncInProgress rejects a sync requested while another is in flight.
// Overlapping merges would interleave and corrupt the mirror.
var ErrSyncInProgress = errors.New("a sync is already in progress")

// Mirror is the local copy of all fetched issues plus the delta-sync cursor.
// Merges are additive: an issue absent from a delta batch is retained, since
// the remote query only returns issues updated since the cursor.
type Mirror struct {
	mu      sync.RWMutex
	issues  map[string]jira.Issue
	order   []string
	cursor  *time.Time
	syncing bool
}

func NewMirror() *Mirror {
	return &Mirror{issues: make(map[string]jira.Issue)}
}

// BeginSync moves the mirror into the syncing state and hands back the
// cursor the delta fetch should use (nil on first sync). The caller must
// finish with CompleteSync or AbortSync.
func (m *Mirror) BeginSync() (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncing {
		return nil, ErrSyncInProgress
	}
	m.syncing = true
	if m.cursor == nil {
		return nil, nil
	}
	cursor := *m.cursor
	return &cursor, nil
}

// CompleteSync merges the delta batch by issue id - replace if present,
// insert if absent - and only then advances the cursor. Merge application is
// commutative within a batch and idempotent under re-application.
func (m *Mirror) CompleteSync(delta []jira.Issue, syncedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, issue := range delta {
		if _, exists := m.issues[issue.ID]; !exists {
			m.order = append(m.order, issue.ID)
		}
		m.issues[issue.ID] = issue
	}
	// Guard against a stale clock handing the cursor backwards.
	if m.cursor == nil || syncedAt.After(*m.cursor) {
		cursor := syncedAt
		m.cursor = &cursor
	}
	m.syncing = false
}

// AbortSync returns to idle leaving mirror and cursor untouched.
func (m *Mirror) AbortSync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncing = false
}

// Issues returns the mirrored issues in first-fetched order.
func (m *Mirror) Issues() []jira.Issue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issues := make([]jira.Issue, 0, len(m.order))
	for _, id := range m.order {
		issues = append(issues, m.issues[id])
	}
	return issues
}

// Cursor returns the last successful sync time, nil before the first sync.
func (m *Mirror) Cursor() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cursor == nil {
		return nil
	}
	cursor := *m.cursor
	return &cursor
}

// Restore rehydrates the mirror from a persisted snapshot.
func (m *Mirror) Restore(issues []jira.Issue, cursor *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = make(map[string]jira.Issue, len(issues))
	m.order = make([]string, 0, len(issues))
	for _, issue := range issues {
		if _, exists := m.issues[issue.ID]; !exists {
			m.order = append(m.order, issue.ID)
		}
		m.issues[issue.ID] = issue
	}
	if cursor != nil {
		restored := *cursor
		m.cursor = &restored
	} else {
		m.cursor = nil
	}
}

// Unmapped lists issues whose status is not accepted by any column; they
// need workflow reconfiguration before they can render. Derived at read
// time, never persisted.
func Unmapped(issues []jira.Issue, columns []Column) []jira.Issue {
	mapped := make(map[string]bool)
	for _, column := range columns {
		for _, id := range column.StatusIDs {
			mapped[id] = true
		}
	}
	unmapped := make([]jira.Issue, 0)
	for _, issue := range issues {
		if !mapped[issue.Status.ID] {
			unmapped = append(unmapped, issue)
		}
	}
	return unmapped
}
