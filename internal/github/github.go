// Package github is a small client for the parts of the GitHub REST API the
// audit needs: repositories, organization listings, trees, file content and
// archives. Repository lookups and archives are memoized for the lifetime of
// the client.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/git-pkgs/addinaudit/client"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/memo"
)

const (
	DefaultURL = "https://api.github.com"
	apiVersion = "2022-11-28"
	perPage    = 100

	// Attempts made on a rate limited request before giving up.
	maxAttempts = 3
)

// Repository is the subset of the repository resource the audit reads.
type Repository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Archived      bool   `json:"archived"`
	Fork          bool   `json:"fork"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// TreeEntry is one file or directory of a git tree.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// Tree is a recursive listing of a repository.
type Tree struct {
	SHA       string      `json:"sha"`
	Entries   []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// Client talks to the GitHub API.
type Client struct {
	baseURL string
	token   string
	http    *client.Client

	repos    *memo.Cache[string, *Repository]
	orgs     *memo.Cache[string, []Repository]
	archives *memo.Cache[string, []byte]
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the HTTP client. Its retry policy is used as is.
func WithHTTPClient(h *client.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// NewHTTPClient returns the HTTP client used by default: rate limited
// requests are tried three times in total, server errors are not retried.
func NewHTTPClient(opts ...client.Option) *client.Client {
	base := []client.Option{
		client.WithMaxRetries(maxAttempts - 1),
		client.WithServerErrorRetry(false),
	}
	return client.NewClient(append(base, opts...)...)
}

// New creates a client for the API at baseURL (DefaultURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		repos:    memo.New[string, *Repository](),
		orgs:     memo.New[string, []Repository](),
		archives: memo.New[string, []byte](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient()
	}
	return c
}

func (c *Client) header(accept string) http.Header {
	h := http.Header{
		"Accept":               {accept},
		"X-Github-Api-Version": {apiVersion},
	}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) get(ctx context.Context, u, accept string) (*client.Response, error) {
	return c.http.Get(ctx, u, c.header(accept))
}

func repoKey(owner, name string) string {
	return strings.ToLower(owner + "/" + name)
}

func (c *Client) repoURL(owner, name string) string {
	return fmt.Sprintf("%s/repos/%s/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(name))
}

func notFound(owner, name string) error {
	if name == "" {
		return &core.NotFoundError{Ecosystem: "github", Name: owner}
	}
	return &core.NotFoundError{Ecosystem: "github", Name: owner + "/" + name}
}

// GetRepository returns a repository. Renamed repositories resolve to their
// new name. A missing repository is reported with core.ErrNotFound.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	return c.repos.Get(ctx, repoKey(owner, name), func(ctx context.Context) (*Repository, error) {
		var repo Repository
		resp, err := c.get(ctx, c.repoURL(owner, name), "application/vnd.github+json")
		if err != nil {
			if errors.Is(err, client.ErrNotFound) {
				return nil, notFound(owner, name)
			}
			return nil, err
		}
		if err := decode(resp, &repo); err != nil {
			return nil, err
		}
		return &repo, nil
	})
}

// ListOrgRepositories pages through every repository of org.
func (c *Client) ListOrgRepositories(ctx context.Context, org string) ([]Repository, error) {
	return c.orgs.Get(ctx, strings.ToLower(org), func(ctx context.Context) ([]Repository, error) {
		var all []Repository
		for page := 1; ; page++ {
			u := fmt.Sprintf("%s/orgs/%s/repos?per_page=%d&page=%d", c.baseURL, url.PathEscape(org), perPage, page)
			resp, err := c.get(ctx, u, "application/vnd.github+json")
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return nil, notFound(org, "")
				}
				return nil, err
			}
			var batch []Repository
			if err := decode(resp, &batch); err != nil {
				return nil, err
			}
			all = append(all, batch...)
			if len(batch) < perPage {
				return all, nil
			}
		}
	})
}

// FindOrgRepository looks for a repository of org named name,
// case-insensitively.
func (c *Client) FindOrgRepository(ctx context.Context, org, name string) (*Repository, bool, error) {
	repos, err := c.ListOrgRepositories(ctx, org)
	if err != nil {
		return nil, false, err
	}
	for i := range repos {
		if strings.EqualFold(repos[i].Name, name) {
			return &repos[i], true, nil
		}
	}
	return nil, false, nil
}

// GetTree lists every file of the repository at ref.
func (c *Client) GetTree(ctx context.Context, owner, name, ref string) (*Tree, error) {
	u := fmt.Sprintf("%s/git/trees/%s?recursive=1", c.repoURL(owner, name), url.PathEscape(ref))
	resp, err := c.get(ctx, u, "application/vnd.github+json")
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, notFound(owner, name)
		}
		return nil, err
	}
	var tree Tree
	if err := decode(resp, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// GetContents returns the raw content of the file at path on the default
// branch.
func (c *Client) GetContents(ctx context.Context, owner, name, path string) ([]byte, error) {
	var escaped []string
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		escaped = append(escaped, url.PathEscape(seg))
	}
	u := fmt.Sprintf("%s/contents/%s", c.repoURL(owner, name), strings.Join(escaped, "/"))
	resp, err := c.get(ctx, u, "application/vnd.github.raw+json")
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, fmt.Errorf("%s/%s: %s: %w", owner, name, path, core.ErrNotFound)
		}
		return nil, err
	}
	return resp.Body, nil
}

// GetArchive downloads the zip archive of the default branch.
func (c *Client) GetArchive(ctx context.Context, owner, name string) ([]byte, error) {
	return c.archives.Get(ctx, repoKey(owner, name), func(ctx context.Context) ([]byte, error) {
		resp, err := c.get(ctx, c.repoURL(owner, name)+"/zipball", "application/vnd.github+json")
		if err != nil {
			if errors.Is(err, client.ErrNotFound) {
				return nil, notFound(owner, name)
			}
			return nil, err
		}
		return resp.Body, nil
	})
}

func decode(resp *client.Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
