package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/git-pkgs/addinaudit/client"
	"github.com/git-pkgs/addinaudit/fetch"
	"github.com/git-pkgs/addinaudit/internal/analyze"
	"github.com/git-pkgs/addinaudit/internal/config"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/github"
	"github.com/git-pkgs/addinaudit/internal/inspect"
	"github.com/git-pkgs/addinaudit/internal/nuget"
	"github.com/git-pkgs/addinaudit/internal/resolve"
	"github.com/git-pkgs/addinaudit/internal/snapshot"
)

// Registry is the package registry as used by the steps.
type Registry interface {
	SearchAll(ctx context.Context, prefix string, includePrerelease bool) ([]nuget.Summary, error)
	Search(ctx context.Context, name string, includePrerelease bool) (*nuget.Summary, error)
	FetchReleases(ctx context.Context, name string) ([]nuget.Release, error)
	Download(ctx context.Context, dir, name, version string) (*nuget.DownloadResult, error)
	DownloadSymbols(ctx context.Context, dir, name, version string) (*nuget.DownloadResult, error)
}

// Inspector fills in the archive-derived fields of a package.
type Inspector interface {
	Inspect(ctx context.Context, pkg *core.PackageVersion) error
}

// Resolver sets the canonical repository of a package.
type Resolver interface {
	Resolve(ctx context.Context, pkg *core.PackageVersion)
}

// RecipeChecker sets the recipe usage of a package.
type RecipeChecker interface {
	Check(ctx context.Context, pkg *core.PackageVersion) error
}

// Stats counts the expensive operations of a run.
type Stats struct {
	Downloads   atomic.Int64
	Inspections atomic.Int64
}

// Context is the state shared by the steps of one run.
type Context struct {
	Config   *config.Config
	Logger   *zap.Logger
	RunID    string
	Now      func() time.Time
	Analysis analyze.Options

	Registry  Registry
	Inspector Inspector
	Resolver  Resolver
	Recipes   RecipeChecker
	Store     *snapshot.Store

	// Index holds every version analyzed so far, this run included.
	Index *snapshot.Index
	// Packages are the versions processed by this run.
	Packages []*core.PackageVersion
	Summary  *Summary
	Stats    Stats
}

// Build wires the production collaborators for cfg.
func Build(cfg *config.Config, logger *zap.Logger) (*Context, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	analysis, err := cfg.AnalyzeOptions()
	if err != nil {
		return nil, err
	}

	var regOpts []nuget.Option
	if cfg.Registry.SearchURL != "" {
		regOpts = append(regOpts, nuget.WithSearchURL(cfg.Registry.SearchURL))
	}
	if cfg.Registry.SymbolsURL != "" {
		regOpts = append(regOpts, nuget.WithSymbolsURL(cfg.Registry.SymbolsURL))
	}
	regOpts = append(regOpts,
		nuget.WithPageSize(cfg.Registry.PageSize),
		nuget.WithFetcher(fetch.NewHostBreaker(fetch.NewFetcher(fetch.WithLogger(logger.Named("fetch"))))),
	)
	registry := nuget.New(cfg.Registry.URL, client.DefaultClient(), regOpts...)

	hosting := github.New(cfg.Hosting.URL, github.WithToken(cfg.Hosting.Token))
	prober := resolve.NewProber(client.NewClient(client.WithMaxRetries(2), client.WithServerErrorRetry(false)))
	resolver := resolve.New(hosting, prober, cfg.Hosting.Organization,
		resolve.WithTrustedHosts(cfg.Hosting.TrustedHosts...),
		resolve.WithLogger(logger))

	return &Context{
		Config:    cfg,
		Logger:    logger,
		RunID:     uuid.NewString(),
		Now:       time.Now,
		Analysis:  analysis,
		Registry:  registry,
		Inspector: inspect.New(cfg.InspectOptions(), logger),
		Resolver:  resolver,
		Recipes: analyze.NewRecipeChecker(hosting, cfg.Analysis.Recipe,
			cfg.Hosting.RecipeCheckDelay, cfg.Analysis.BuildScripts, logger),
		Store: snapshot.New(cfg.SnapshotDir(), cfg.HistoryFile()),
	}, nil
}

func (pc *Context) log() *zap.Logger {
	if pc.Logger == nil {
		return zap.NewNop()
	}
	return pc.Logger
}

func (pc *Context) now() time.Time {
	if pc.Now == nil {
		return time.Now()
	}
	return pc.Now()
}
