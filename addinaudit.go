// Package addinaudit discovers Cake addins published on NuGet and audits
// each version against the contribution guidelines.
//
// A run searches the registry, downloads every new package version,
// inspects its manifest and compiled assemblies without executing them,
// resolves its source repository and records a compliance verdict. Verdicts
// are saved per version, so repeated runs only analyze new releases.
//
// Basic usage:
//
//	cfg := addinaudit.DefaultConfig()
//	cfg.Paths.WorkDir = "/var/lib/addinaudit"
//
//	summary, err := addinaudit.Run(context.Background(), cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(len(summary.Clean), "clean,", len(summary.Exceptions), "exceptions")
//
// A single local archive can be inspected without network access:
//
//	pkg, err := addinaudit.Inspect(context.Background(), "cake.git.3.0.0.nupkg")
package addinaudit

import (
	"context"

	"github.com/git-pkgs/purl"
	"go.uber.org/zap"

	"github.com/git-pkgs/addinaudit/client"
	"github.com/git-pkgs/addinaudit/internal/analyze"
	"github.com/git-pkgs/addinaudit/internal/config"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/inspect"
	"github.com/git-pkgs/addinaudit/internal/pipeline"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

// Re-export types from internal/core
type (
	// PackageVersion is one published version of a package and everything
	// learned about it.
	PackageVersion = core.PackageVersion

	// ComplianceResult is the verdict for one PackageVersion.
	ComplianceResult = core.ComplianceResult

	// PackageType is the Addin, Module or Recipe classification.
	PackageType = core.PackageType

	// CakeVersion is one release of the host tool used as a yardstick.
	CakeVersion = core.CakeVersion

	// IconCompliance grades the package icon.
	IconCompliance = core.IconCompliance

	// Reference is the evidence of a dependency on a library.
	Reference = core.Reference
)

// Re-export pipeline and configuration types
type (
	// Config holds every setting of a run.
	Config = config.Config

	// Summary partitions results into clean packages and exceptions.
	Summary = pipeline.Summary

	// Version is a parsed package version.
	Version = semver.Version
)

// Re-export types from client
type (
	// Client is an HTTP client with retry logic.
	Client = client.Client

	// RateLimiter controls request pacing.
	RateLimiter = client.RateLimiter
)

// Re-export constants
const (
	TypeUnknown = core.TypeUnknown
	TypeAddin   = core.TypeAddin
	TypeModule  = core.TypeModule
	TypeRecipe  = core.TypeRecipe

	IconUnspecified              = core.IconUnspecified
	IconCustom                   = core.IconCustom
	IconRecommendedEmbedded      = core.IconRecommendedEmbedded
	IconRecommendedEmbeddedFancy = core.IconRecommendedEmbeddedFancy
	IconRecommendedLinked        = core.IconRecommendedLinked
	IconLegacyLinked             = core.IconLegacyLinked
)

// Re-export errors
var (
	ErrNotFound   = client.ErrNotFound
	ErrNoPackages = pipeline.ErrNoPackages
)

// Error types
type (
	HTTPError      = client.HTTPError
	NotFoundError  = client.NotFoundError
	RateLimitError = client.RateLimitError
	StepError      = pipeline.StepError
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Run validates cfg and runs the whole pipeline. A nil logger discards
// output.
func Run(ctx context.Context, cfg *Config, logger *zap.Logger) (*Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pc, err := pipeline.Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := pipeline.New(pipeline.DefaultSteps(), logger).Run(ctx, pc); err != nil {
		return nil, err
	}
	return pc.Summary, nil
}

// Inspect inspects a local package archive and analyzes it with the default
// configuration. Repository and recipe checks are not performed.
func Inspect(ctx context.Context, path string) (*PackageVersion, error) {
	cfg := config.Default()
	pkg, err := inspect.New(cfg.InspectOptions(), nil).InspectFile(ctx, path)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.AnalyzeOptions()
	if err != nil {
		return nil, err
	}
	analyze.Analyze(pkg, opts)
	return pkg, nil
}

// ParseVersion parses a package version. Up to four numeric components are
// accepted.
func ParseVersion(s string) (Version, error) {
	return semver.Parse(s)
}

// CompareVersions returns -1, 0 or 1. Build labels are ignored.
func CompareVersions(a, b Version) int {
	return semver.Compare(a, b)
}

// DefaultClient returns a client with sensible defaults.
func DefaultClient() *Client {
	return client.DefaultClient()
}

// PackageURL returns the pkg:nuget PURL of a package version.
func PackageURL(name, version string) string {
	return core.PURL(name, version)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components.
// Supports both package PURLs (pkg:nuget/Cake.Git) and version PURLs
// (pkg:nuget/Cake.Git@3.0.0).
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}
