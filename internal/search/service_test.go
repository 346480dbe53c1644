package search

import (
	"testing"

	"planboard/api/internal/jira"
)

func issue(id, key, summary string, labels ...string) jira.Issue {
	if labels == nil {
		labels = []string{}
	}
	return jira.Issue{ID: id, Key: key, Summary: summary, Labels: labels}
}

func TestSearchFallbackScansSummaryKeyAndLabels(t *testing.T) {
	svc := NewService(nil)
	issues := []jira.Issue{
		issue("1", "PROJ-1", "Fix login redirect"),
		issue("2", "PROJ-2", "Add billing export"),
		issue("3", "LOGIN-9", "Unrelated summary"),
		issue("4", "PROJ-4", "Tune cache", "login-flow"),
	}

	got := svc.Search("login", issues)
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d: %+v", len(got), got)
	}
	// Mirror order is preserved.
	if got[0].ID != "1" || got[1].ID != "3" || got[2].ID != "4" {
		t.Fatalf("order broken: %+v", got)
	}
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	svc := NewService(nil)
	issues := []jira.Issue{issue("1", "PROJ-1", "Fix LOGIN redirect")}
	if got := svc.Search("Login", issues); len(got) != 1 {
		t.Fatalf("expected case-insensitive match, got %+v", got)
	}
}

func TestSearchEmptyQueryReturnsEverything(t *testing.T) {
	svc := NewService(nil)
	issues := []jira.Issue{issue("1", "PROJ-1", "one"), issue("2", "PROJ-2", "two")}
	if got := svc.Search("   ", issues); len(got) != 2 {
		t.Fatalf("blank query must match all, got %d", len(got))
	}
}

func TestFilterByIDsKeepsMirrorOrder(t *testing.T) {
	issues := []jira.Issue{
		issue("1", "PROJ-1", "one"),
		issue("2", "PROJ-2", "two"),
		issue("3", "PROJ-3", "three"),
	}
	// Engine relevance order differs from mirror order on purpose.
	got := filterByIDs(issues, []string{"3", "1"})
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("expected mirror order, got %+v", got)
	}
}
