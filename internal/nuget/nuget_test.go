package nuget

import (
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/git-pkgs/addinaudit/internal/core"
)

const cakeGitRegistration = `{
  "count": 1,
  "items": [{
    "count": 3,
    "lower": "2.0.0",
    "upper": "4.0.0",
    "items": [
      {"catalogEntry": {"id": "Cake.Git", "version": "2.0.0", "published": "2022-03-01T10:00:00Z"},
       "packageContent": "https://api.nuget.org/v3-flatcontainer/cake.git/2.0.0/cake.git.2.0.0.nupkg"},
      {"catalogEntry": {"id": "Cake.Git", "version": "3.0.0", "published": "1900-01-01T00:00:00Z", "listed": false}},
      {"catalogEntry": {"id": "Cake.Git", "version": "4.0.0", "published": "2024-01-15T08:30:00Z", "listed": true,
        "deprecation": {"message": "Use Cake.Git.Next", "reasons": ["Legacy"]}}}
    ]
  }]
}`

func TestFetchReleases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/registration5-gz-semver2/cake.git/index.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(cakeGitRegistration))
	}))
	defer server.Close()

	reg := New(server.URL, core.DefaultClient())
	releases, err := reg.FetchReleases(context.Background(), "Cake.Git")
	if err != nil {
		t.Fatalf("FetchReleases failed: %v", err)
	}
	if len(releases) != 3 {
		t.Fatalf("expected 3 releases, got %d", len(releases))
	}

	first := releases[0]
	if !first.Listed {
		t.Error("a release without a listed field should count as listed")
	}
	if want := time.Date(2022, 3, 1, 10, 0, 0, 0, time.UTC); !first.Published.Equal(want) {
		t.Errorf("Published = %v, want %v", first.Published, want)
	}
	if first.PackageContent == "" {
		t.Error("PackageContent should be carried over")
	}

	unlisted := releases[1]
	if unlisted.Listed {
		t.Error("3.0.0 should be unlisted")
	}
	if !unlisted.Published.IsZero() {
		t.Errorf("placeholder publish date should be dropped, got %v", unlisted.Published)
	}

	deprecated := releases[2]
	if !deprecated.Deprecated || deprecated.DeprecationMessage != "Use Cake.Git.Next" {
		t.Errorf("deprecation = %v %q", deprecated.Deprecated, deprecated.DeprecationMessage)
	}
	if releases[0].Deprecated {
		t.Error("2.0.0 is not deprecated")
	}
}

func TestFetchReleasesFollowsPages(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/registration5-gz-semver2/cake.recipe/index.json":
			_, _ = w.Write([]byte(`{"count": 2, "items": [
				{"@id": "` + server.URL + `/registration5-gz-semver2/cake.recipe/page/1.0.0/2.0.0.json", "count": 2, "lower": "1.0.0", "upper": "2.0.0"},
				{"count": 1, "lower": "3.0.0", "upper": "3.0.0", "items": [{"catalogEntry": {"id": "Cake.Recipe", "version": "3.0.0"}}]}
			]}`))
		case "/registration5-gz-semver2/cake.recipe/page/1.0.0/2.0.0.json":
			_, _ = w.Write([]byte(`{"count": 2, "items": [
				{"catalogEntry": {"id": "Cake.Recipe", "version": "1.0.0"}},
				{"catalogEntry": {"id": "Cake.Recipe", "version": "2.0.0"}}
			]}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	reg := New(server.URL, core.DefaultClient())
	releases, err := reg.FetchReleases(context.Background(), "Cake.Recipe")
	if err != nil {
		t.Fatalf("FetchReleases failed: %v", err)
	}

	var got []string
	for _, rel := range releases {
		got = append(got, rel.Version)
	}
	want := []string{"1.0.0", "2.0.0", "3.0.0"}
	if len(got) != len(want) {
		t.Fatalf("versions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("versions = %v, want %v", got, want)
			break
		}
	}
}

func TestFetchReleasesSemVer2Only(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/registration5-gz-semver2/cake.preview/index.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"count": 1, "items": [{"count": 2, "items": [
			{"catalogEntry": {"id": "Cake.Preview", "version": "1.0.0-beta.1", "published": "2025-02-01T00:00:00Z"}},
			{"catalogEntry": {"id": "Cake.Preview", "version": "1.0.0+build.7", "published": "2025-03-01T00:00:00Z"}}
		]}]}`))
		_ = gz.Close()
	}))
	defer server.Close()

	reg := New(server.URL, core.DefaultClient())
	releases, err := reg.FetchReleases(context.Background(), "Cake.Preview")
	if err != nil {
		t.Fatalf("FetchReleases failed: %v", err)
	}
	if len(releases) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(releases))
	}
	if releases[0].Version != "1.0.0-beta.1" || releases[0].Published.IsZero() {
		t.Errorf("first release = %+v", releases[0])
	}
	if releases[1].Version != "1.0.0+build.7" {
		t.Errorf("second release = %q", releases[1].Version)
	}
}

func TestFetchReleasesNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	reg := New(server.URL, core.DefaultClient())
	_, err := reg.FetchReleases(context.Background(), "Cake.Missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	var nf *core.NotFoundError
	if !errors.As(err, &nf) || nf.Name != "Cake.Missing" {
		t.Errorf("error = %#v, want NotFoundError for Cake.Missing", err)
	}
}

func TestURLBuilder(t *testing.T) {
	reg := New("https://api.nuget.org/v3", nil)
	urls := reg.URLs()

	tests := []struct {
		name     string
		fn       func() string
		expected string
	}{
		{"registry", func() string { return urls.Registry("Cake.Git", "3.0.0") }, "https://www.nuget.org/packages/Cake.Git/3.0.0"},
		{"download", func() string { return urls.Download("Cake.Git", "3.0.0") }, "https://api.nuget.org/v3-flatcontainer/cake.git/3.0.0/cake.git.3.0.0.nupkg"},
		{"symbols", func() string { return urls.Symbols("Cake.Git", "3.0.0") }, "https://globalcdn.nuget.org/symbol-packages/cake.git.3.0.0.snupkg"},
		{"purl", func() string { return urls.PURL("Cake.Git", "3.0.0") }, "pkg:nuget/Cake.Git@3.0.0"},
		{"no version", func() string { return urls.Download("Cake.Git", "") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn()
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCustomFeedLayout(t *testing.T) {
	reg := New("https://feed.example.com/v3/", nil, WithSymbolsURL("https://symbols.example.com/"))
	if got := reg.URLs().Download("Cake.Git", "3.0.0"); got != "https://feed.example.com/v3/flatcontainer/cake.git/3.0.0/cake.git.3.0.0.nupkg" {
		t.Errorf("Download = %q", got)
	}
	if got := reg.URLs().Symbols("Cake.Git", "3.0.0"); got != "https://symbols.example.com/cake.git.3.0.0.snupkg" {
		t.Errorf("Symbols = %q", got)
	}
	if reg.Ecosystem() != "nuget" {
		t.Errorf("Ecosystem = %q", reg.Ecosystem())
	}
}
