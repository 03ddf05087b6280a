// Package nuget provides a registry client for nuget.org: registration
// metadata, paged search and idempotent package downloads.
package nuget

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/git-pkgs/addinaudit/fetch"
	"github.com/git-pkgs/addinaudit/internal/core"
)

const (
	DefaultURL        = "https://api.nuget.org/v3"
	DefaultSearchURL  = "https://azuresearch-usnc.nuget.org/query"
	DefaultSymbolsURL = "https://globalcdn.nuget.org/symbol-packages"
	GalleryURL        = "https://www.nuget.org/packages"
	ecosystem         = core.Ecosystem
	defaultPageSize   = 100
)

type Registry struct {
	baseURL       string
	searchURL     string
	flatContainer string
	symbolsURL    string
	pageSize      int
	client        *core.Client
	fetcher       fetch.ArchiveFetcher
	resolver      *fetch.Resolver
	urls          *URLs
}

// Option configures a Registry.
type Option func(*Registry)

// WithSearchURL overrides the search query endpoint.
func WithSearchURL(u string) Option {
	return func(r *Registry) {
		r.searchURL = strings.TrimSuffix(u, "/")
	}
}

// WithFlatContainerURL overrides the package content endpoint.
func WithFlatContainerURL(u string) Option {
	return func(r *Registry) {
		r.flatContainer = strings.TrimSuffix(u, "/")
	}
}

// WithSymbolsURL overrides the symbol package endpoint.
func WithSymbolsURL(u string) Option {
	return func(r *Registry) {
		r.symbolsURL = strings.TrimSuffix(u, "/")
	}
}

// WithPageSize sets how many search results are requested per page.
func WithPageSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithFetcher sets the artifact fetcher used for downloads.
func WithFetcher(f fetch.ArchiveFetcher) Option {
	return func(r *Registry) {
		r.fetcher = f
	}
}

func New(baseURL string, client *core.Client, opts ...Option) *Registry {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if client == nil {
		client = core.DefaultClient()
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	r := &Registry{
		baseURL:  baseURL,
		pageSize: defaultPageSize,
		client:   client,
	}
	if baseURL == DefaultURL {
		r.searchURL = DefaultSearchURL
		r.flatContainer = DefaultURL + "-flatcontainer"
		r.symbolsURL = DefaultSymbolsURL
	} else {
		r.searchURL = baseURL + "/query"
		r.flatContainer = baseURL + "/flatcontainer"
		r.symbolsURL = baseURL + "/symbol-packages"
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.fetcher == nil {
		r.fetcher = fetch.NewHostBreaker(fetch.NewFetcher())
	}
	r.urls = &URLs{flatContainer: r.flatContainer, symbolsURL: r.symbolsURL}
	r.resolver = fetch.NewResolver()
	r.resolver.RegisterRegistry(r)
	return r
}

func (r *Registry) Ecosystem() string {
	return ecosystem
}

func (r *Registry) URLs() core.URLBuilder {
	return r.urls
}

type registrationResponse struct {
	Count int                `json:"count"`
	Items []registrationPage `json:"items"`
}

type registrationPage struct {
	ID    string             `json:"@id"`
	Count int                `json:"count"`
	Lower string             `json:"lower"`
	Upper string             `json:"upper"`
	Items []registrationLeaf `json:"items"`
}

type registrationLeaf struct {
	CatalogEntry   catalogEntry `json:"catalogEntry"`
	PackageContent string       `json:"packageContent"`
}

type catalogEntry struct {
	ID          string           `json:"id"`
	Version     string           `json:"version"`
	Listed      *bool            `json:"listed"`
	Published   string           `json:"published"`
	Deprecation *deprecationInfo `json:"deprecation,omitempty"`
}

type deprecationInfo struct {
	Message string   `json:"message"`
	Reasons []string `json:"reasons"`
}

// fetchRegistration loads every catalog entry of a package, following
// registration pages that are not inlined in the index.
func (r *Registry) fetchRegistration(ctx context.Context, name string) ([]registrationLeaf, error) {
	indexURL := fmt.Sprintf("%s/registration5-gz-semver2/%s/index.json", r.baseURL, url.PathEscape(strings.ToLower(name)))

	var resp registrationResponse
	if err := r.client.GetJSON(ctx, indexURL, &resp); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, &core.NotFoundError{Ecosystem: ecosystem, Name: name}
		}
		return nil, err
	}

	var leaves []registrationLeaf
	for _, page := range resp.Items {
		if page.Items == nil && page.ID != "" {
			var full registrationPage
			if err := r.client.GetJSON(ctx, page.ID, &full); err != nil {
				return nil, fmt.Errorf("fetching registration page %s: %w", page.ID, err)
			}
			page = full
		}
		leaves = append(leaves, page.Items...)
	}

	if len(leaves) == 0 {
		return nil, &core.NotFoundError{Ecosystem: ecosystem, Name: name}
	}
	return leaves, nil
}

// Release is the registry's record of one published version.
type Release struct {
	Version            string
	Published          time.Time
	Listed             bool
	Deprecated         bool
	DeprecationMessage string
	PackageContent     string
}

// FetchReleases returns every published version of name in registration
// order.
func (r *Registry) FetchReleases(ctx context.Context, name string) ([]Release, error) {
	leaves, err := r.fetchRegistration(ctx, name)
	if err != nil {
		return nil, err
	}

	releases := make([]Release, 0, len(leaves))
	for _, leaf := range leaves {
		entry := leaf.CatalogEntry
		rel := Release{
			Version:        entry.Version,
			Listed:         entry.Listed == nil || *entry.Listed,
			PackageContent: leaf.PackageContent,
		}
		if entry.Published != "" {
			rel.Published, _ = time.Parse(time.RFC3339, entry.Published)
		}
		// Unlisted packages carry the 1900-01-01 publish date.
		if rel.Published.Year() <= 1900 {
			rel.Published = time.Time{}
		}
		if entry.Deprecation != nil {
			rel.Deprecated = true
			rel.DeprecationMessage = entry.Deprecation.Message
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

type URLs struct {
	flatContainer string
	symbolsURL    string
}

func (u *URLs) Registry(name, version string) string {
	if version != "" {
		return fmt.Sprintf("%s/%s/%s", GalleryURL, name, version)
	}
	return fmt.Sprintf("%s/%s", GalleryURL, name)
}

func (u *URLs) Download(name, version string) string {
	if version == "" {
		return ""
	}
	lower := strings.ToLower(name)
	v := strings.ToLower(version)
	return fmt.Sprintf("%s/%s/%s/%s.%s.nupkg", u.flatContainer, lower, v, lower, v)
}

func (u *URLs) Symbols(name, version string) string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s.%s.snupkg", u.symbolsURL, strings.ToLower(name), strings.ToLower(version))
}

func (u *URLs) PURL(name, version string) string {
	return core.PURL(name, version)
}
