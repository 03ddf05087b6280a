// Package config loads the run configuration of the audit pipeline.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/git-pkgs/addinaudit/internal/analyze"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/github"
	"github.com/git-pkgs/addinaudit/internal/inspect"
	"github.com/git-pkgs/addinaudit/internal/nuget"
	"github.com/git-pkgs/addinaudit/internal/resolve"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

// Config holds every setting of a run.
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Hosting  HostingConfig  `yaml:"hosting"`
	Paths    PathsConfig    `yaml:"paths"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Steps    StepsConfig    `yaml:"steps"`
	Log      LogConfig      `yaml:"log"`
}

// RegistryConfig configures discovery and downloads.
type RegistryConfig struct {
	// URL is the registry service root.
	// Default: https://api.nuget.org/v3
	URL string `yaml:"url"`

	// SearchURL and SymbolsURL override the endpoints derived from URL.
	SearchURL  string `yaml:"search_url,omitempty"`
	SymbolsURL string `yaml:"symbols_url,omitempty"`

	// Prefix selects the packages to audit by name.
	// Default: "Cake."
	Prefix string `yaml:"prefix"`

	// Include lists packages audited even though they do not match Prefix.
	Include []string `yaml:"include,omitempty"`

	// Exclude lists package names to skip. A trailing * matches any suffix.
	// Matching ignores case.
	Exclude []string `yaml:"exclude,omitempty"`

	IncludePrerelease bool `yaml:"include_prerelease"`

	// AllVersions audits every published version instead of the latest.
	// Default: false
	AllVersions bool `yaml:"all_versions"`

	// Concurrency bounds in-flight registry calls and downloads.
	// Default: 15, Range: 1-100
	Concurrency int `yaml:"concurrency"`

	// PageSize is the number of search results per request.
	// Default: 100, Range: 1-1000
	PageSize int `yaml:"page_size"`
}

// HostingConfig configures the source hosting API.
type HostingConfig struct {
	URL string `yaml:"url"`

	// Token authenticates API calls. Usually supplied through the
	// environment rather than the file.
	Token string `yaml:"token,omitempty"`

	// Organization is the account packages are expected to move to.
	// Default: cake-contrib
	Organization string `yaml:"organization"`

	// Concurrency bounds in-flight hosting calls.
	// Default: 5, Range: 1-50
	Concurrency int `yaml:"concurrency"`

	// RecipeCheckDelay is the pause between calls of the recipe check.
	// Default: 1s, Range: 0-1m
	RecipeCheckDelay time.Duration `yaml:"recipe_check_delay"`

	// TrustedHosts are hosts whose project URLs may be replaced by the
	// organization's repository of the same name.
	TrustedHosts []string `yaml:"trusted_hosts"`
}

// PathsConfig locates the working files. Relative paths are resolved
// against WorkDir.
type PathsConfig struct {
	WorkDir      string `yaml:"work_dir"`
	PackageCache string `yaml:"package_cache"`
	Snapshots    string `yaml:"snapshots"`
	History      string `yaml:"history"`
}

// AnalysisConfig holds the conventions packages are measured against.
type AnalysisConfig struct {
	CoreLibrary       string   `yaml:"core_library"`
	CommonLibrary     string   `yaml:"common_library"`
	ModuleSuffix      string   `yaml:"module_suffix"`
	AliasAttributes   []string `yaml:"alias_attributes"`
	CategoryAttribute string   `yaml:"category_attribute"`

	// CakeVersions is the release history of the host tool. The highest
	// version is the yardstick for "up to date".
	CakeVersions []core.CakeVersion `yaml:"cake_versions"`

	Icons IconConfig `yaml:"icons"`

	// Recipe is the name of the standard build recipe package.
	Recipe       string   `yaml:"recipe"`
	BuildScripts []string `yaml:"build_scripts"`
}

// IconConfig overrides the reference images. Empty paths keep the
// built-in images.
type IconConfig struct {
	Standard       string `yaml:"standard,omitempty"`
	AddinFancy     string `yaml:"addin_fancy,omitempty"`
	ModuleFancy    string `yaml:"module_fancy,omitempty"`
	RecipeFancy    string `yaml:"recipe_fancy,omitempty"`
	RecommendedURL string `yaml:"recommended_url"`
	LegacyURL      string `yaml:"legacy_url"`
}

// StepsConfig toggles optional steps.
type StepsConfig struct {
	// ClearCache empties the package cache and snapshots before the run.
	ClearCache bool `yaml:"clear_cache"`
	// CheckRecipe inspects each repository's build script.
	// Default: true
	CheckRecipe bool `yaml:"check_recipe"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultCakeVersions returns the host tool releases audited against.
func DefaultCakeVersions() []core.CakeVersion {
	return []core.CakeVersion{
		{Version: semver.MustParse("1.0.0"), RequiredFramework: "netstandard2.0", OptionalFramework: "net461"},
		{Version: semver.MustParse("2.0.0"), RequiredFramework: "netcoreapp3.1", OptionalFramework: "net6.0"},
		{Version: semver.MustParse("3.0.0"), RequiredFramework: "net6.0", OptionalFramework: "net7.0"},
		{Version: semver.MustParse("4.0.0"), RequiredFramework: "net6.0", OptionalFramework: "net8.0"},
		{Version: semver.MustParse("5.0.0"), RequiredFramework: "net8.0", OptionalFramework: "net9.0"},
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	opts := inspect.DefaultOptions()
	return &Config{
		Registry: RegistryConfig{
			URL:         nuget.DefaultURL,
			Prefix:      "Cake.",
			Concurrency: core.DefaultConcurrency,
			PageSize:    100,
		},
		Hosting: HostingConfig{
			URL:              github.DefaultURL,
			Organization:     "cake-contrib",
			Concurrency:      5,
			RecipeCheckDelay: time.Second,
			TrustedHosts:     append([]string(nil), resolve.DefaultTrustedHosts...),
		},
		Paths: PathsConfig{
			WorkDir:      "work",
			PackageCache: "packages",
			Snapshots:    "snapshots",
			History:      "history.json",
		},
		Analysis: AnalysisConfig{
			CoreLibrary:       opts.CoreLibrary,
			CommonLibrary:     opts.CommonLibrary,
			ModuleSuffix:      opts.ModuleSuffix,
			AliasAttributes:   opts.AliasAttributes,
			CategoryAttribute: opts.CategoryAttribute,
			CakeVersions:      DefaultCakeVersions(),
			Icons: IconConfig{
				RecommendedURL: inspect.RecommendedIconURL,
				LegacyURL:      inspect.LegacyIconURL,
			},
			Recipe:       "Cake.Recipe",
			BuildScripts: append([]string(nil), analyze.DefaultBuildScripts...),
		},
		Steps: StepsConfig{
			CheckRecipe: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and consistency.
func (c *Config) Validate() error {
	if c.Registry.URL == "" {
		return fmt.Errorf("registry.url must be set")
	}
	if c.Registry.Prefix == "" && len(c.Registry.Include) == 0 {
		return fmt.Errorf("registry.prefix or registry.include must be set")
	}
	if c.Registry.Concurrency < 1 || c.Registry.Concurrency > 100 {
		return fmt.Errorf("registry.concurrency must be between 1 and 100 (got %d)", c.Registry.Concurrency)
	}
	if c.Registry.PageSize < 1 || c.Registry.PageSize > 1000 {
		return fmt.Errorf("registry.page_size must be between 1 and 1000 (got %d)", c.Registry.PageSize)
	}

	if c.Hosting.URL == "" {
		return fmt.Errorf("hosting.url must be set")
	}
	if c.Hosting.Organization == "" {
		return fmt.Errorf("hosting.organization must be set")
	}
	if c.Hosting.Concurrency < 1 || c.Hosting.Concurrency > 50 {
		return fmt.Errorf("hosting.concurrency must be between 1 and 50 (got %d)", c.Hosting.Concurrency)
	}
	if c.Hosting.RecipeCheckDelay < 0 || c.Hosting.RecipeCheckDelay > time.Minute {
		return fmt.Errorf("hosting.recipe_check_delay must be between 0 and 1m (got %s)", c.Hosting.RecipeCheckDelay)
	}

	if c.Paths.PackageCache == "" || c.Paths.Snapshots == "" {
		return fmt.Errorf("paths.package_cache and paths.snapshots must be set")
	}

	a := c.Analysis
	if a.CoreLibrary == "" {
		return fmt.Errorf("analysis.core_library must be set")
	}
	if len(a.AliasAttributes) == 0 {
		return fmt.Errorf("analysis.alias_attributes must not be empty")
	}
	if len(a.CakeVersions) == 0 {
		return fmt.Errorf("analysis.cake_versions must not be empty")
	}
	seen := make(map[string]bool)
	for i, cv := range a.CakeVersions {
		if cv.Version.IsUnknown() {
			return fmt.Errorf("analysis.cake_versions[%d] has no version", i)
		}
		if cv.RequiredFramework == "" {
			return fmt.Errorf("analysis.cake_versions[%d] (%s) has no required_framework", i, cv.Version)
		}
		if seen[cv.Version.String()] {
			return fmt.Errorf("analysis.cake_versions lists %s twice", cv.Version)
		}
		seen[cv.Version.String()] = true
	}
	if c.Steps.CheckRecipe && a.Recipe == "" {
		return fmt.Errorf("analysis.recipe must be set when steps.check_recipe is enabled")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json (got %q)", c.Log.Format)
	}
	return nil
}

// Path resolves p against the work directory.
func (p PathsConfig) Path(name string) string {
	if name == "" || filepath.IsAbs(name) || p.WorkDir == "" {
		return name
	}
	return filepath.Join(p.WorkDir, name)
}

// PackageCacheDir is the download directory.
func (c *Config) PackageCacheDir() string { return c.Paths.Path(c.Paths.PackageCache) }

// SnapshotDir is the per-version snapshot directory.
func (c *Config) SnapshotDir() string { return c.Paths.Path(c.Paths.Snapshots) }

// HistoryFile is the aggregate results file, or "" when disabled.
func (c *Config) HistoryFile() string { return c.Paths.Path(c.Paths.History) }

// InspectOptions returns the inspector settings.
func (c *Config) InspectOptions() inspect.Options {
	return inspect.Options{
		CoreLibrary:       c.Analysis.CoreLibrary,
		CommonLibrary:     c.Analysis.CommonLibrary,
		ModuleSuffix:      c.Analysis.ModuleSuffix,
		AliasAttributes:   c.Analysis.AliasAttributes,
		CategoryAttribute: c.Analysis.CategoryAttribute,
	}
}

// AnalyzeOptions returns the analyzer settings, reading any icon overrides
// from disk.
func (c *Config) AnalyzeOptions() (analyze.Options, error) {
	ic := c.Analysis.Icons
	icons, err := inspect.LoadIcons(ic.Standard, map[core.PackageType]string{
		core.TypeAddin:  ic.AddinFancy,
		core.TypeModule: ic.ModuleFancy,
		core.TypeRecipe: ic.RecipeFancy,
	})
	if err != nil {
		return analyze.Options{}, err
	}
	if ic.RecommendedURL != "" {
		icons.RecommendedURL = ic.RecommendedURL
	}
	if ic.LegacyURL != "" {
		icons.LegacyURL = ic.LegacyURL
	}
	return analyze.Options{
		CoreLibrary:   c.Analysis.CoreLibrary,
		CommonLibrary: c.Analysis.CommonLibrary,
		CakeVersions:  c.Analysis.CakeVersions,
		Icons:         icons,
		Organization:  c.Hosting.Organization,
	}, nil
}
