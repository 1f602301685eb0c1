// Package repohost is a read-only client for the source-control hosting API
// consumed by the repository validator. Only the lookups the validator needs
// are exposed; every call is bounded by the client timeout.
package repohost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotFound = errors.New("repository resource not found")

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	Status int
	URL    string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("repohost: %s returned %d", e.URL, e.Status)
}

type Repository struct {
	FullName      string    `json:"full_name"`
	Private       bool      `json:"private"`
	Fork          bool      `json:"fork"`
	DefaultBranch string    `json:"default_branch"`
	CreatedAt     time.Time `json:"created_at"`
}

type Commit struct {
	AuthorLogin string
	AuthoredAt  time.Time
}

// Client is what the repository validator depends on. The HTTP implementation
// talks to a GitHub-compatible REST API; tests substitute a fake.
type Client interface {
	Repository(ctx context.Context, owner, name string) (Repository, error)
	Commits(ctx context.Context, owner, name string) ([]Commit, error)
	Tree(ctx context.Context, owner, name, branch string) ([]string, error)
	Readme(ctx context.Context, owner, name string) (string, error)
}

type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) get(ctx context.Context, path, accept string) ([]byte, error) {
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if accept == "" {
		accept = "application/vnd.github+json"
	}
	req.Header.Set("Accept", accept)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("repohost: %s: %w", u, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, StatusError{Status: res.StatusCode, URL: u}
	}
	return io.ReadAll(res.Body)
}

func (c *HTTPClient) Repository(ctx context.Context, owner, name string) (Repository, error) {
	var r Repository
	data, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name)), "")
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("repohost: decode repository: %w", err)
	}
	return r, nil
}

func (c *HTTPClient) Commits(ctx context.Context, owner, name string) ([]Commit, error) {
	data, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/commits?per_page=100", url.PathEscape(owner), url.PathEscape(name)), "")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Commit struct {
			Author struct {
				Date time.Time `json:"date"`
			} `json:"author"`
		} `json:"commit"`
		Author *struct {
			Login string `json:"login"`
		} `json:"author"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("repohost: decode commits: %w", err)
	}
	commits := make([]Commit, 0, len(raw))
	for _, rc := range raw {
		c := Commit{AuthoredAt: rc.Commit.Author.Date}
		if rc.Author != nil {
			c.AuthorLogin = rc.Author.Login
		}
		commits = append(commits, c)
	}
	return commits, nil
}

func (c *HTTPClient) Tree(ctx context.Context, owner, name, branch string) ([]string, error) {
	if branch == "" {
		branch = "HEAD"
	}
	data, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", url.PathEscape(owner), url.PathEscape(name), url.PathEscape(branch)), "")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Tree []struct {
			Path string `json:"path"`
		} `json:"tree"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("repohost: decode tree: %w", err)
	}
	paths := make([]string, 0, len(raw.Tree))
	for _, e := range raw.Tree {
		paths = append(paths, e.Path)
	}
	return paths, nil
}

func (c *HTTPClient) Readme(ctx context.Context, owner, name string) (string, error) {
	data, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/readme", url.PathEscape(owner), url.PathEscape(name)), "application/vnd.github.raw+json")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseRepoURL extracts owner and name from a repository URL or owner/name shorthand.
func ParseRepoURL(raw string) (owner, name string, err error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".git")
	if strings.Contains(s, "://") {
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", fmt.Errorf("invalid repository url: %w", perr)
		}
		s = strings.Trim(u.Path, "/")
	} else {
		s = strings.Trim(s, "/")
	}
	parts := strings.Split(s, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url must contain owner and name: %q", raw)
	}
	return parts[0], parts[1], nil
}
