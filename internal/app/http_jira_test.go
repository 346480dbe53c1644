package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"planboard/api/internal/config"
	"planboard/api/internal/jira"
)

func envCfg() config.Config {
	return config.Config{
		JiraBaseURL:  "https://env.example.com",
		JiraEmail:    "env@example.com",
		JiraAPIToken: "env-token",
	}
}

func TestJiraProjectsMissingCredentials(t *testing.T) {
	server := newTestServer(newFakePlanStore(), &fakeGateway{}, config.Config{})

	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/jira/projects", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["code"] != "MISSING_CREDENTIALS" {
		t.Fatalf("expected MISSING_CREDENTIALS, got %v", response["code"])
	}
	details, _ := response["details"].(map[string]any)
	if details["tier"] != jira.SourceEnvironment {
		t.Fatalf("expected environment tier in details, got %v", details)
	}
}

func TestJiraProjectsUsesPayloadCredentials(t *testing.T) {
	var seen jira.Credentials
	fg := &fakeGateway{
		projectsFn: func(creds jira.Credentials) ([]jira.Project, error) {
			seen = creds
			return []jira.Project{{ID: "p1", Key: "PROJ", Name: "Project"}}, nil
		},
	}
	server := newTestServer(newFakePlanStore(), fg, envCfg())

	body := `{"baseUrl":"https://manual.example.com/","email":"m@example.com","apiToken":"m-token"}`
	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/jira/projects", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen.BaseURL != "https://manual.example.com" {
		t.Fatalf("payload credentials not used (or slash kept): %+v", seen)
	}
	response := decodeResponse(t, rr)
	if response["credentialSource"] != jira.SourceRequest {
		t.Fatalf("credentialSource = %v", response["credentialSource"])
	}
	projects, _ := response["projects"].([]any)
	if len(projects) != 1 {
		t.Fatalf("projects = %v", response["projects"])
	}
}

func TestJiraStatusesRequiresProjectKey(t *testing.T) {
	server := newTestServer(newFakePlanStore(), &fakeGateway{}, envCfg())

	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/jira/statuses", strings.NewReader(`{}`)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "VALIDATION_FAILED" {
		t.Fatalf("code = %v", response["code"])
	}
}

func TestJiraIssuesRemoteFailureSurfaced(t *testing.T) {
	fg := &fakeGateway{
		searchFn: func(creds jira.Credentials, keys []string, since *time.Time) ([]jira.Issue, error) {
			return nil, &jira.RemoteError{StatusCode: 500, Body: "boom"}
		},
	}
	server := newTestServer(newFakePlanStore(), fg, envCfg())

	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/jira/issues", strings.NewReader(`{"projectKeys":["PROJ"]}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["code"] != "REMOTE_FETCH_FAILED" {
		t.Fatalf("code = %v", response["code"])
	}
	details, _ := response["details"].(map[string]any)
	if details["status"] != float64(500) {
		t.Fatalf("expected remote status in details, got %v", details)
	}
}

func TestJiraIssuesMalformedResponse(t *testing.T) {
	fg := &fakeGateway{
		searchFn: func(creds jira.Credentials, keys []string, since *time.Time) ([]jira.Issue, error) {
			return nil, fmt.Errorf("decode: %w", jira.ErrMalformedResponse)
		},
	}
	server := newTestServer(newFakePlanStore(), fg, envCfg())

	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/jira/issues", strings.NewReader(`{"projectKeys":["PROJ"]}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "MALFORMED_REMOTE_RESPONSE" {
		t.Fatalf("code = %v", response["code"])
	}
}

func TestJiraIssuesRequiresProjectKeys(t *testing.T) {
	server := newTestServer(newFakePlanStore(), &fakeGateway{}, envCfg())

	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/jira/issues", strings.NewReader(`{}`)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestJiraIssuesPassesLastUpdated(t *testing.T) {
	fg := &fakeGateway{}
	server := newTestServer(newFakePlanStore(), fg, envCfg())

	body := `{"projectKeys":["PROJ"],"lastUpdated":"2026-03-14T09:26:53Z"}`
	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/jira/issues", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if fg.lastSince == nil || fg.lastSince.Format(time.RFC3339) != "2026-03-14T09:26:53Z" {
		t.Fatalf("lastUpdated not forwarded: %v", fg.lastSince)
	}
}

func TestTestConnectionEndpoint(t *testing.T) {
	server := newTestServer(newFakePlanStore(), &fakeGateway{}, envCfg())

	rr := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/jira/test-connection", strings.NewReader(`{}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["ok"] != true {
		t.Fatalf("ok = %v", response["ok"])
	}
	info, _ := response["serverInfo"].(map[string]any)
	if info["version"] != "9.4.0" {
		t.Fatalf("serverInfo = %v", response["serverInfo"])
	}
}
