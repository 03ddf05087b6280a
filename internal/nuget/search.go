package nuget

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/git-pkgs/addinaudit/internal/core"
)

// Summary is one package as returned by the search endpoint.
type Summary struct {
	Name        string
	Version     string
	Description string
	Authors     []string
	Owners      []string
	Tags        []string
	IconURL     string
	ProjectURL  string
	LicenseURL  string
	Versions    []string
	Downloads   int64
	Verified    bool
	Deprecated  bool
}

// Key identifies the summary by (name, version).
func (s Summary) Key() core.Key {
	return core.NewKey(s.Name, s.Version)
}

type searchResponse struct {
	TotalHits int            `json:"totalHits"`
	Data      []searchResult `json:"data"`
}

type searchResult struct {
	ID             string           `json:"id"`
	Version        string           `json:"version"`
	Description    string           `json:"description"`
	Summary        string           `json:"summary"`
	IconURL        string           `json:"iconUrl"`
	LicenseURL     string           `json:"licenseUrl"`
	ProjectURL     string           `json:"projectUrl"`
	Tags           stringList       `json:"tags"`
	Authors        stringList       `json:"authors"`
	Owners         stringList       `json:"owners"`
	TotalDownloads int64            `json:"totalDownloads"`
	Verified       bool             `json:"verified"`
	Versions       []searchVersion  `json:"versions"`
	Deprecation    *deprecationInfo `json:"deprecation,omitempty"`
}

type searchVersion struct {
	Version   string `json:"version"`
	Downloads int64  `json:"downloads"`
	ID        string `json:"@id"`
}

// stringList decodes a JSON string or array of strings. The search service
// returns either shape for authors and owners.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*s = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	var out []string
	for _, part := range strings.Split(one, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*s = out
	return nil
}

// SearchAll pages through the search endpoint and returns every package whose
// name starts with prefix. Pages may overlap, so results are grouped on
// (name, version) and the first representative of each identity is kept.
func (r *Registry) SearchAll(ctx context.Context, prefix string, includePrerelease bool) ([]Summary, error) {
	seen := make(map[core.Key]bool)
	var summaries []Summary

	for skip := 0; ; skip += r.pageSize {
		page, err := r.searchPage(ctx, prefix, includePrerelease, skip)
		if err != nil {
			return nil, err
		}

		for _, res := range page.Data {
			if !strings.HasPrefix(strings.ToLower(res.ID), strings.ToLower(prefix)) {
				continue
			}
			s := toSummary(res)
			if seen[s.Key()] {
				continue
			}
			seen[s.Key()] = true
			summaries = append(summaries, s)
		}

		if len(page.Data) == 0 || len(page.Data) < r.pageSize || skip+r.pageSize >= page.TotalHits {
			break
		}
	}

	return summaries, nil
}

// Search looks up packages by exact name, returning at most one summary.
func (r *Registry) Search(ctx context.Context, name string, includePrerelease bool) (*Summary, error) {
	q := url.Values{}
	q.Set("q", "packageid:"+name)
	q.Set("prerelease", strconv.FormatBool(includePrerelease))
	q.Set("semVerLevel", "2.0.0")

	var resp searchResponse
	if err := r.client.GetJSON(ctx, r.searchURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	for _, res := range resp.Data {
		if strings.EqualFold(res.ID, name) {
			s := toSummary(res)
			return &s, nil
		}
	}
	return nil, &core.NotFoundError{Ecosystem: ecosystem, Name: name}
}

func (r *Registry) searchPage(ctx context.Context, prefix string, includePrerelease bool, skip int) (*searchResponse, error) {
	q := url.Values{}
	q.Set("q", prefix)
	q.Set("skip", strconv.Itoa(skip))
	q.Set("take", strconv.Itoa(r.pageSize))
	q.Set("prerelease", strconv.FormatBool(includePrerelease))
	q.Set("semVerLevel", "2.0.0")

	var resp searchResponse
	if err := r.client.GetJSON(ctx, r.searchURL+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("searching %q at offset %d: %w", prefix, skip, err)
	}
	return &resp, nil
}

func toSummary(res searchResult) Summary {
	versions := make([]string, 0, len(res.Versions))
	for _, v := range res.Versions {
		versions = append(versions, v.Version)
	}
	description := res.Description
	if description == "" {
		description = res.Summary
	}
	return Summary{
		Name:        res.ID,
		Version:     res.Version,
		Description: description,
		Authors:     res.Authors,
		Owners:      res.Owners,
		Tags:        res.Tags,
		IconURL:     res.IconURL,
		ProjectURL:  res.ProjectURL,
		LicenseURL:  res.LicenseURL,
		Versions:    versions,
		Downloads:   res.TotalDownloads,
		Verified:    res.Verified,
		Deprecated:  res.Deprecation != nil,
	}
}
