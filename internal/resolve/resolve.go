// Package resolve works out the canonical source repository of a package
// from its declared project URL.
package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/git-pkgs/addinaudit/client"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/github"
	"github.com/git-pkgs/addinaudit/internal/memo"
)

const githubHost = "github.com"

// DefaultTrustedHosts are the hosts whose URLs may be replaced by the
// organization's own repository. Custom domains are left alone.
var DefaultTrustedHosts = []string{githubHost, "bitbucket.org"}

// Repositories is the part of the hosting API the resolver uses.
type Repositories interface {
	GetRepository(ctx context.Context, owner, name string) (*github.Repository, error)
	FindOrgRepository(ctx context.Context, org, name string) (*github.Repository, bool, error)
}

// Resolver resolves repositories. It is safe for concurrent use.
type Resolver struct {
	repos        Repositories
	probe        *Prober
	org          string
	trustedHosts []string
	logger       *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTrustedHosts replaces DefaultTrustedHosts.
func WithTrustedHosts(hosts ...string) Option {
	return func(r *Resolver) {
		r.trustedHosts = hosts
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a resolver preferring repositories owned by org.
func New(repos Repositories, probe *Prober, org string, opts ...Option) *Resolver {
	r := &Resolver{
		repos:        repos,
		probe:        probe,
		org:          org,
		trustedHosts: DefaultTrustedHosts,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve sets RepositoryURL, RepositoryOwner and RepositoryName on pkg.
// A URL that turns out not to exist is cleared rather than kept. Lookup
// failures other than not-found are recorded as notes and leave the declared
// URL in place.
func (r *Resolver) Resolve(ctx context.Context, pkg *core.PackageVersion) {
	declared := pkg.ProjectURL
	if declared == "" && pkg.DeclaredRepo != nil {
		declared = pkg.DeclaredRepo.URL
	}
	u := parse(declared)

	var matched *github.Repository
	if r.org != "" && (u == nil || r.trusted(u.Host)) {
		repo, ok, err := r.repos.FindOrgRepository(ctx, r.org, pkg.Name)
		switch {
		case err != nil:
			pkg.AddTransientNote("listing %s repositories: %v", r.org, err)
		case ok:
			matched = repo
			u = parse(repo.HTMLURL)
		}
	}

	pkg.RepositoryURL, pkg.RepositoryOwner, pkg.RepositoryName = "", "", ""
	if u == nil {
		return
	}

	owner, name, isGitHub := splitGitHub(u)
	switch {
	case matched != nil:
		owner, name = matched.Owner.Login, matched.Name
		if owner == "" {
			owner = r.org
		}
	case isGitHub:
		repo, err := r.repos.GetRepository(ctx, owner, name)
		switch {
		case errors.Is(err, core.ErrNotFound):
			r.logger.Debug("repository not found", zap.String("package", pkg.Name), zap.String("url", u.String()))
			return
		case err != nil:
			pkg.AddTransientNote("validating %s: %v", u, err)
		default:
			if canonical := parse(repo.HTMLURL); canonical != nil {
				u = canonical
				owner, name, _ = splitGitHub(u)
			}
		}
	default:
		exists, err := r.probe.Exists(ctx, u.String())
		if err != nil {
			pkg.AddTransientNote("checking %s: %v", u, err)
		} else if !exists {
			return
		}
	}

	pkg.RepositoryURL = normalize(u)
	if isGitHub || matched != nil {
		pkg.RepositoryOwner, pkg.RepositoryName = owner, name
	}
}

func (r *Resolver) trusted(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, h := range r.trustedHosts {
		if strings.EqualFold(host, h) {
			return true
		}
	}
	return false
}

// parse accepts URLs with or without a scheme. Empty or unparsable input
// yields nil.
func parse(raw string) *url.URL {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}

// splitGitHub extracts owner and name from the first two path segments of a
// GitHub URL.
func splitGitHub(u *url.URL) (owner, name string, ok bool) {
	if strings.TrimPrefix(strings.ToLower(u.Host), "www.") != githubHost {
		return "", "", false
	}
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

// normalize forces https, drops the www prefix of GitHub, reduces GitHub
// URLs to owner/name and strips a trailing slash or .git suffix.
func normalize(u *url.URL) string {
	if owner, name, ok := splitGitHub(u); ok {
		return "https://" + githubHost + "/" + owner + "/" + name
	}
	out := *u
	out.Scheme = "https"
	out.Path = strings.TrimSuffix(strings.TrimSuffix(out.Path, "/"), ".git")
	out.RawPath = ""
	out.Fragment = ""
	return out.String()
}

// Prober checks that URLs exist with HEAD requests. Results are memoized per
// URL for the lifetime of the prober.
type Prober struct {
	http  *client.Client
	cache *memo.Cache[string, int]
}

// NewProber wraps c, which should retry rate limited responses.
func NewProber(c *client.Client) *Prober {
	return &Prober{http: c, cache: memo.New[string, int]()}
}

// Status returns the final HTTP status of a HEAD request to rawURL.
func (p *Prober) Status(ctx context.Context, rawURL string) (int, error) {
	return p.cache.Get(ctx, rawURL, func(ctx context.Context) (int, error) {
		status, err := p.http.Head(ctx, rawURL)
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr.StatusCode, nil
		}
		return status, err
	})
}

// Exists reports whether rawURL answers with anything but 404 or 410.
func (p *Prober) Exists(ctx context.Context, rawURL string) (bool, error) {
	status, err := p.Status(ctx, rawURL)
	if err != nil {
		return false, err
	}
	return status != http.StatusNotFound && status != http.StatusGone, nil
}
