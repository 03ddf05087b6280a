package addinaudit_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/git-pkgs/addinaudit"
	"github.com/git-pkgs/addinaudit/internal/clr/clrtest"
	"github.com/git-pkgs/addinaudit/internal/inspect/inspecttest"
)

func addinArchive(name, version string) []byte {
	b := clrtest.New(name).
		Reference("netstandard", 2, 0, 0, 0).
		Reference("Cake.Core", 3, 0, 0, 0).
		Reference("Cake.Common", 3, 0, 0, 0)
	b.Type(name, "ExampleAliases").Method("Example", clrtest.MethodAlias())

	p := inspecttest.New(name, version)
	p.File("lib/netstandard2.0/"+name+".dll", b.Bytes())
	return p.Bytes()
}

// fakeFeed serves the search, registration and flat container endpoints of a
// feed holding one package, and the organization listing of a hosting API.
type fakeFeed struct {
	name, version string
	archive       []byte
	downloads     atomic.Int32
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lower := strings.ToLower(f.name)
	switch {
	case r.URL.Path == "/query":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalHits": 1,
			"data": []map[string]any{{
				"id":       f.name,
				"version":  f.version,
				"authors":  []string{"Cake Contributions"},
				"owners":   []string{"cake-contrib"},
				"tags":     []string{"cake", "cake-addin"},
				"versions": []map[string]any{{"version": f.version}},
			}},
		})
	case r.URL.Path == "/registration5-gz-semver2/"+lower+"/index.json":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count": 1,
			"items": []map[string]any{{
				"count": 1,
				"items": []map[string]any{{
					"catalogEntry": map[string]any{
						"id":        f.name,
						"version":   f.version,
						"published": "2025-05-01T00:00:00Z",
					},
				}},
			}},
		})
	case r.URL.Path == fmt.Sprintf("/flatcontainer/%s/%s/%s.%s.nupkg", lower, f.version, lower, f.version):
		f.downloads.Add(1)
		_, _ = w.Write(f.archive)
	case r.URL.Path == "/orgs/cake-contrib/repos":
		if r.URL.Query().Get("page") != "1" {
			_, _ = w.Write([]byte("[]"))
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"name":           f.name,
			"full_name":      "cake-contrib/" + f.name,
			"html_url":       "https://github.com/cake-contrib/" + f.name,
			"default_branch": "main",
			"owner":          map[string]any{"login": "cake-contrib"},
		}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestRun(t *testing.T) {
	feed := &fakeFeed{name: "Cake.Example", version: "1.0.0", archive: addinArchive("Cake.Example", "1.0.0")}
	server := httptest.NewServer(feed)
	defer server.Close()

	cfg := addinaudit.DefaultConfig()
	cfg.Registry.URL = server.URL
	cfg.Hosting.URL = server.URL
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Steps.CheckRecipe = false

	summary, err := addinaudit.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Total != 1 {
		t.Fatalf("Total = %d, want 1", summary.Total)
	}

	var pkg *addinaudit.PackageVersion
	if len(summary.Clean) == 1 {
		pkg = summary.Clean[0]
	} else {
		pkg = summary.Exceptions[0]
		t.Errorf("unexpected notes: %v", pkg.Compliance.Notes)
	}
	if pkg.Type != addinaudit.TypeAddin {
		t.Errorf("Type = %v, want Addin", pkg.Type)
	}
	if pkg.RepositoryURL != "https://github.com/cake-contrib/Cake.Example" {
		t.Errorf("RepositoryURL = %q", pkg.RepositoryURL)
	}
	if got := pkg.Compliance.CoreReference.Version.String(); got != "3.0.0" {
		t.Errorf("Cake.Core reference = %q, want 3.0.0", got)
	}
	if pkg.PublishedAt.IsZero() {
		t.Error("PublishedAt should come from the registration")
	}

	if _, err := os.Stat(cfg.HistoryFile()); err != nil {
		t.Errorf("history file not written: %v", err)
	}
	snapshots, _ := filepath.Glob(filepath.Join(cfg.SnapshotDir(), "*"))
	if len(snapshots) == 0 {
		t.Error("no snapshots written")
	}

	// A second run finds nothing new and downloads nothing.
	summary, err = addinaudit.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if summary.Total != 1 {
		t.Errorf("second run Total = %d, want 1", summary.Total)
	}
	if got := feed.downloads.Load(); got != 1 {
		t.Errorf("archive downloaded %d times, want 1", got)
	}
}

func TestRunNoPackages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalHits": 0, "data": []}`))
	}))
	defer server.Close()

	cfg := addinaudit.DefaultConfig()
	cfg.Registry.URL = server.URL
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Steps.CheckRecipe = false

	_, err := addinaudit.Run(context.Background(), cfg, nil)
	if !errors.Is(err, addinaudit.ErrNoPackages) {
		t.Fatalf("error = %v, want ErrNoPackages", err)
	}
	var stepErr *addinaudit.StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "discover" {
		t.Errorf("error = %#v, want StepError from discover", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := addinaudit.DefaultConfig()
	cfg.Registry.Concurrency = 0
	if _, err := addinaudit.Run(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cake.example.1.0.0.nupkg")
	if err := os.WriteFile(path, addinArchive("Cake.Example", "1.0.0"), 0o644); err != nil {
		t.Fatal(err)
	}

	pkg, err := addinaudit.Inspect(context.Background(), path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if pkg.Name != "Cake.Example" || pkg.Version != "1.0.0" {
		t.Errorf("identity = %s %s", pkg.Name, pkg.Version)
	}
	if pkg.Type != addinaudit.TypeAddin {
		t.Errorf("Type = %v, want Addin", pkg.Type)
	}
	if pkg.Compliance.Icon != addinaudit.IconUnspecified {
		t.Errorf("Icon = %v, want unspecified", pkg.Compliance.Icon)
	}
}

func TestVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "2.0.0-beta", 1},
		{"1.2.3.4", "1.2.3", 1},
		{"1.0.0+build.5", "1.0.0", 0},
	}
	for _, tt := range tests {
		a, err := addinaudit.ParseVersion(tt.a)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tt.a, err)
		}
		b, err := addinaudit.ParseVersion(tt.b)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tt.b, err)
		}
		if got := addinaudit.CompareVersions(a, b); got != tt.want {
			t.Errorf("CompareVersions(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}

	if _, err := addinaudit.ParseVersion("not-a-version"); err == nil {
		t.Error("ParseVersion accepted garbage")
	}
}

func TestPackageURL(t *testing.T) {
	if got := addinaudit.PackageURL("Cake.Git", "3.0.0"); got != "pkg:nuget/Cake.Git@3.0.0" {
		t.Errorf("PackageURL = %q", got)
	}

	for _, s := range []string{"pkg:nuget/Cake.Git", "pkg:nuget/Cake.Git@3.0.0"} {
		if _, err := addinaudit.ParsePURL(s); err != nil {
			t.Errorf("ParsePURL(%q): %v", s, err)
		}
	}
	if _, err := addinaudit.ParsePURL("nuget/Cake.Git"); err == nil {
		t.Error("ParsePURL accepted a string without the pkg scheme")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "registry:\n  prefix: Cake.Example\nhosting:\n  organization: example-org\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := addinaudit.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Registry.Prefix != "Cake.Example" || cfg.Hosting.Organization != "example-org" {
		t.Errorf("loaded %+v %+v", cfg.Registry, cfg.Hosting)
	}
	if cfg.Registry.Concurrency != addinaudit.DefaultConfig().Registry.Concurrency {
		t.Error("unset keys should keep their defaults")
	}
}
