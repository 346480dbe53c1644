package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// The tracker has shipped two coexisting REST surfaces; v2 is tried first
// and v3 is the fallback when v2 looks absent.
var apiSurfaces = []string{"/rest/api/2", "/rest/api/3"}

const searchMaxResults = 100

// searchFields is the fixed field projection for issue search.
var searchFields = []string{
	"summary", "status", "assignee", "issuetype", "priority",
	"reporter", "labels", "created", "updated", "project", "parent",
}

var ErrMalformedResponse = errors.New("malformed remote response")

// RemoteError is a non-success answer from the tracker after the version
// fallback was exhausted. Never retried automatically.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote fetch failed: status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Gateway is the stateless client for the remote tracker. Credentials are
// supplied per call, not held.
type Gateway struct {
	httpClient *http.Client
}

func NewGateway() *Gateway {
	return &Gateway{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewGatewayWithClient is for tests that need to point at a fake server.
func NewGatewayWithClient(client *http.Client) *Gateway {
	return &Gateway{httpClient: client}
}

// ListProjects returns every project visible to the credentials.
func (g *Gateway) ListProjects(ctx context.Context, creds Credentials) ([]Project, error) {
	body, err := g.call(ctx, creds, http.MethodGet, "/project", nil)
	if err != nil {
		return nil, err
	}
	var raws []rawProject
	if err := decodeJSON(body, &raws); err != nil {
		return nil, err
	}
	projects := make([]Project, 0, len(raws))
	for _, raw := range raws {
		projects = append(projects, normalizeProject(raw))
	}
	return projects, nil
}

// ListStatuses returns the distinct workflow statuses of one project.
func (g *Gateway) ListStatuses(ctx context.Context, creds Credentials, projectKey string) ([]Status, error) {
	body, err := g.call(ctx, creds, http.MethodGet, "/project/"+projectKey+"/statuses", nil)
	if err != nil {
		return nil, err
	}
	var groups []rawProjectStatuses
	if err := decodeJSON(body, &groups); err != nil {
		return nil, err
	}
	return flattenStatuses(groups)
}

// SearchIssues runs a JQL search over the given projects. A non-nil since
// narrows the search to issues updated at or after that instant.
func (g *Gateway) SearchIssues(ctx context.Context, creds Credentials, projectKeys []string, since *time.Time) ([]Issue, error) {
	request := map[string]any{
		"jql":        buildJQL(projectKeys, since),
		"maxResults": searchMaxResults,
		"fields":     searchFields,
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	body, err := g.call(ctx, creds, http.MethodPost, "/search", payload)
	if err != nil {
		return nil, err
	}

	var response rawSearchResponse
	if err := decodeJSON(body, &response); err != nil {
		return nil, err
	}
	issues := make([]Issue, 0, len(response.Issues))
	for _, raw := range response.Issues {
		issue, err := normalizeIssue(raw)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// ServerInfo is the trimmed answer of a connection test.
type ServerInfo struct {
	BaseURL       string `json:"baseUrl"`
	Version       string `json:"version"`
	ServerTitle   string `json:"serverTitle"`
	DeploymentTyp string `json:"deploymentType"`
}

// TestConnection verifies the credentials against the serverInfo endpoint.
func (g *Gateway) TestConnection(ctx context.Context, creds Credentials) (ServerInfo, error) {
	body, err := g.call(ctx, creds, http.MethodGet, "/serverInfo", nil)
	if err != nil {
		return ServerInfo{}, err
	}
	var info struct {
		BaseURL        string `json:"baseUrl"`
		Version        string `json:"version"`
		ServerTitle    string `json:"serverTitle"`
		DeploymentType string `json:"deploymentType"`
	}
	if err := decodeJSON(body, &info); err != nil {
		return ServerInfo{}, err
	}
	return ServerInfo{
		BaseURL:       info.BaseURL,
		Version:       info.Version,
		ServerTitle:   info.ServerTitle,
		DeploymentTyp: info.DeploymentType,
	}, nil
}

// call walks the ordered surface list. The first success wins; a 404-class
// status or an HTML error page moves on to the next surface. Any other
// failure surfaces immediately.
func (g *Gateway) call(ctx context.Context, creds Credentials, method, path string, payload []byte) ([]byte, error) {
	var lastErr error
	for _, surface := range apiSurfaces {
		body, retriable, err := g.callSurface(ctx, creds, method, creds.BaseURL+surface+path, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retriable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (g *Gateway) callSurface(ctx context.Context, creds Credentials, method, url string, payload []byte) (body []byte, retriable bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+basicToken(creds))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("remote call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}

	// An HTML page in place of JSON usually means a misconfigured base URL
	// or an API surface this deployment doesn't serve.
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil, true, fmt.Errorf("%w: got HTML from %s", ErrMalformedResponse, url)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, true, &RemoteError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, &RemoteError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, false, nil
}

func basicToken(creds Credentials) string {
	return base64.StdEncoding.EncodeToString([]byte(creds.Email + ":" + creds.APIToken))
}

// buildJQL combines an OR of the project keys with an optional updated-since
// clause. Jira's JQL date literal is minute precision with no timezone.
func buildJQL(projectKeys []string, since *time.Time) string {
	clauses := make([]string, 0, len(projectKeys))
	for _, key := range projectKeys {
		clauses = append(clauses, "project="+key)
	}
	jql := "(" + strings.Join(clauses, " OR ") + ")"
	if since != nil {
		jql += fmt.Sprintf(" AND updated >= '%s'", since.Format("2006-01-02 15:04"))
	}
	return jql
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
