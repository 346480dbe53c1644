package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"planboard/api/internal/jira"
)

const idxIssues = "planboard_issues"

// IssueRecord is the flattened issue document pushed to the search index.
type IssueRecord struct {
	ID       string   `json:"id"`
	Key      string   `json:"key"`
	Summary  string   `json:"summary"`
	Labels   []string `json:"labels"`
	Project  string   `json:"project"`
	Assignee string   `json:"assignee"`
}

// Meili indexes the issue mirror in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates the client and configures the issue index. The caller
// proceeds without search acceleration if the instance is down; the health
// loop reconfigures once it recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxIssues,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxIssues, err)
	}

	index := m.client.Index(idxIssues)
	filterable := []interface{}{"project", "assignee"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs: %v", err)
	}
	searchable := []string{"key", "summary", "labels"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexIssues bulk-indexes the given issues.
func (m *Meili) IndexIssues(issues []jira.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	records := make([]IssueRecord, 0, len(issues))
	for _, issue := range issues {
		records = append(records, toRecord(issue))
	}
	_, err := m.client.Index(idxIssues).AddDocuments(records, nil)
	return err
}

// SearchIDs returns the ids of issues matching the free-text query.
func (m *Meili) SearchIDs(text string, limit int) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 200
	}

	resp, err := m.client.Index(idxIssues).Search(text, &meili.SearchRequest{
		Limit: int64(limit),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id := decodeString(hit, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func toRecord(issue jira.Issue) IssueRecord {
	record := IssueRecord{
		ID:      issue.ID,
		Key:     issue.Key,
		Summary: issue.Summary,
		Labels:  issue.Labels,
		Project: issue.Project.Key,
	}
	if issue.Assignee != nil {
		record.Assignee = issue.Assignee.ID
	}
	return record
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
