package devops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const rootUrl = "https://dev.azure.com"

type Organization struct {
	Id   string
	Name string
}

type Project struct {
	Id   string
	Name string
}

// Client is a minimal Azure DevOps REST client. Requests are authorized
// with Basic auth built from an empty username and a personal access
// token. Responses other than 200/201 are fatal and surfaced raw; a
// rejected token needs operator intervention, so nothing is retried.
type Client struct {
	organization Organization
	project      Project
	baseUrl      string
	authHeader   string
	httpClient   *http.Client
}

func NewClient(organization Organization, project Project, accessToken string) *Client {
	return &Client{
		organization: organization,
		project:      project,
		baseUrl:      rootUrl,
		authHeader:   "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+accessToken)),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// request describes one REST invocation. ApiPath is relative to _apis and
// may contain slashes; ProjectApi selects the project-scoped URL form.
type request struct {
	Method          string
	ApiPath         string
	ApiVersion      string
	ProjectApi      bool
	QueryParameters map[string]string
	Body            any
}

func (c *Client) url(r request) string {
	var b strings.Builder
	b.WriteString(c.baseUrl)
	b.WriteString("/")
	b.WriteString(url.PathEscape(c.organization.Name))
	if r.ProjectApi {
		b.WriteString("/")
		b.WriteString(url.PathEscape(c.project.Name))
	}
	b.WriteString("/_apis/")
	b.WriteString(r.ApiPath)
	b.WriteString("?api-version=")
	b.WriteString(url.QueryEscape(r.ApiVersion))

	keys := make([]string, 0, len(r.QueryParameters))
	for key := range r.QueryParameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteString("&")
		b.WriteString(url.QueryEscape(key))
		b.WriteString("=")
		b.WriteString(url.QueryEscape(r.QueryParameters[key]))
	}
	return b.String()
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	var body io.Reader
	if r.Body != nil {
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.url(r), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call azure devops: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("azure devops returned unexpected status code: %d with body %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to unmarshal response body: %w", err)
		}
	}
	return nil
}
