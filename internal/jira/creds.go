package jira

import (
	"encoding/json"
	"fmt"
	"strings"

	"planboard/api/internal/config"
)

// Credentials is the resolved triple for remote calls. Source records which
// tier supplied it.
type Credentials struct {
	BaseURL  string `json:"baseUrl"`
	Email    string `json:"email"`
	APIToken string `json:"apiToken"`
	Source   string `json:"-"`
}

const (
	SourceRequest     = "request"
	SourceRequestCred = "request.credentials"
	SourceEnvironment = "environment"
)

// MissingCredentialsError names the absent fields and the last tier that was
// attempted, so the caller can prompt for exactly what is missing.
type MissingCredentialsError struct {
	Missing []string
	Tier    string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing credentials (%s) after trying %s tier", strings.Join(e.Missing, ", "), e.Tier)
}

type credentialPayload struct {
	BaseURL     string             `json:"baseUrl"`
	Email       string             `json:"email"`
	APIToken    string             `json:"apiToken"`
	Credentials *credentialPayload `json:"credentials"`
}

func (p *credentialPayload) complete() bool {
	return p != nil && p.BaseURL != "" && p.Email != "" && p.APIToken != ""
}

// ResolveCredentials picks the credential triple for a remote call from the
// first complete tier: the payload's own fields, its nested credentials
// object, then process configuration. A malformed body never fails the
// resolution, it just falls through to the environment tier.
func ResolveCredentials(body []byte, cfg config.Config) (Credentials, error) {
	var payload credentialPayload
	if len(body) > 0 {
		// Decode errors intentionally ignored; treat the body as empty.
		_ = json.Unmarshal(body, &payload)
	}

	tiers := []struct {
		source string
		creds  *credentialPayload
	}{
		{SourceRequest, &payload},
		{SourceRequestCred, payload.Credentials},
		{SourceEnvironment, &credentialPayload{
			BaseURL:  cfg.JiraBaseURL,
			Email:    cfg.JiraEmail,
			APIToken: cfg.JiraAPIToken,
		}},
	}

	lastTier := SourceEnvironment
	for _, tier := range tiers {
		if tier.creds.complete() {
			return Credentials{
				BaseURL:  normalizeBaseURL(tier.creds.BaseURL),
				Email:    tier.creds.Email,
				APIToken: tier.creds.APIToken,
				Source:   tier.source,
			}, nil
		}
	}

	env := tiers[len(tiers)-1].creds
	missing := make([]string, 0, 3)
	if env.BaseURL == "" {
		missing = append(missing, "baseUrl")
	}
	if env.Email == "" {
		missing = append(missing, "email")
	}
	if env.APIToken == "" {
		missing = append(missing, "apiToken")
	}
	return Credentials{}, &MissingCredentialsError{Missing: missing, Tier: lastTier}
}

// normalizeBaseURL strips exactly one trailing slash.
func normalizeBaseURL(baseURL string) string {
	if strings.HasSuffix(baseURL, "/") {
		return baseURL[:len(baseURL)-1]
	}
	return baseURL
}
