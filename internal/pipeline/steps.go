package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/git-pkgs/addinaudit/internal/analyze"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/nuget"
	"github.com/git-pkgs/addinaudit/internal/semver"
	"github.com/git-pkgs/addinaudit/internal/snapshot"
)

type cleanup struct{}

func (cleanup) Name() string        { return "cleanup" }
func (cleanup) Description() string { return "Clearing the package cache and snapshots" }

func (cleanup) Precondition(pc *Context) bool {
	return pc.Config.Steps.ClearCache
}

func (cleanup) Execute(_ context.Context, pc *Context) error {
	if err := os.RemoveAll(pc.Config.PackageCacheDir()); err != nil {
		return fmt.Errorf("clearing package cache: %w", err)
	}
	if err := pc.Store.Clear(); err != nil {
		return fmt.Errorf("clearing snapshots: %w", err)
	}
	if h := pc.Config.HistoryFile(); h != "" {
		if err := os.Remove(h); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clearing history: %w", err)
		}
	}
	return nil
}

type loadSnapshots struct{}

func (loadSnapshots) Name() string               { return "load" }
func (loadSnapshots) Description() string        { return "Loading previous results" }
func (loadSnapshots) Precondition(*Context) bool { return true }

func (loadSnapshots) Execute(_ context.Context, pc *Context) error {
	idx, err := pc.Store.Load()
	if err != nil {
		return err
	}
	pc.Index = idx
	pc.log().Info("previous results loaded", zap.Int("versions", idx.Len()))
	return nil
}

type discover struct{}

func (discover) Name() string               { return "discover" }
func (discover) Description() string        { return "Discovering packages" }
func (discover) Precondition(*Context) bool { return true }

func (discover) Execute(ctx context.Context, pc *Context) error {
	rc := pc.Config.Registry

	var summaries []nuget.Summary
	if rc.Prefix != "" {
		found, err := pc.Registry.SearchAll(ctx, rc.Prefix, rc.IncludePrerelease)
		if err != nil {
			return err
		}
		summaries = append(summaries, found...)
	}
	for _, name := range rc.Include {
		s, err := pc.Registry.Search(ctx, name, rc.IncludePrerelease)
		if errors.Is(err, core.ErrNotFound) {
			pc.log().Warn("included package not found", zap.String("package", name))
			continue
		}
		if err != nil {
			return err
		}
		summaries = append(summaries, *s)
	}
	if len(summaries) == 0 {
		return ErrNoPackages
	}
	if pc.Index == nil {
		pc.Index = snapshot.NewIndex()
	}

	seen := make(map[core.Key]bool)
	var pkgs []*core.PackageVersion
	excluded, known := 0, 0
	for _, s := range summaries {
		if matchesAny(rc.Exclude, s.Name) {
			excluded++
			continue
		}
		versions := []string{s.Version}
		if rc.AllVersions && len(s.Versions) > 0 {
			versions = s.Versions
		}
		for _, v := range versions {
			k := core.NewKey(s.Name, v)
			if seen[k] {
				continue
			}
			seen[k] = true
			if pc.Index.Has(s.Name, v) {
				known++
				continue
			}
			pkgs = append(pkgs, fromSummary(s, v))
		}
	}

	sort.Slice(pkgs, func(i, j int) bool {
		a, b := pkgs[i].Key(), pkgs[j].Key()
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return semver.ParseOrUnknown(a.Version).LessThan(semver.ParseOrUnknown(b.Version))
	})
	pc.Packages = pkgs

	pc.log().Info("packages discovered",
		zap.Int("found", len(summaries)),
		zap.Int("excluded", excluded),
		zap.Int("already_analyzed", known),
		zap.Int("new", len(pkgs)))
	return nil
}

func fromSummary(s nuget.Summary, version string) *core.PackageVersion {
	pkg := core.NewPackageVersion(s.Name, version)
	pkg.Owners = s.Owners
	pkg.Maintainer = strings.Join(s.Authors, ", ")
	pkg.RegistryURL = nuget.GalleryURL + "/" + s.Name + "/" + version
	pkg.Prerelease = semver.ParseOrUnknown(version).IsPrerelease()

	// Search results describe the latest version. Older versions get their
	// metadata from their own manifest during inspection.
	if strings.EqualFold(version, s.Version) {
		pkg.Description = s.Description
		pkg.Tags = s.Tags
		pkg.IconURL = s.IconURL
		pkg.ProjectURL = s.ProjectURL
		pkg.LicenseURL = s.LicenseURL
		pkg.Deprecated = s.Deprecated
	}
	return pkg
}

// matchesAny reports whether name matches one of the patterns, ignoring
// case. A trailing * matches any suffix.
func matchesAny(patterns []string, name string) bool {
	name = strings.ToLower(name)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
		} else if p == name {
			return true
		}
	}
	return false
}

type fetchMetadata struct{}

func (fetchMetadata) Name() string        { return "metadata" }
func (fetchMetadata) Description() string { return "Fetching registry metadata" }

func (fetchMetadata) Precondition(pc *Context) bool {
	return len(pc.Packages) > 0
}

func (fetchMetadata) Execute(ctx context.Context, pc *Context) error {
	byName := make(map[string][]*core.PackageVersion)
	var names []string
	for _, p := range pc.Packages {
		k := p.Key().Name
		if _, ok := byName[k]; !ok {
			names = append(names, p.Name)
		}
		byName[k] = append(byName[k], p)
	}

	core.ForEach(ctx, names, pc.Config.Registry.Concurrency, func(ctx context.Context, name string) (struct{}, error) {
		pkgs := byName[strings.ToLower(name)]
		releases, err := pc.Registry.FetchReleases(ctx, name)
		if err != nil {
			if ctx.Err() == nil {
				for _, p := range pkgs {
					if errors.Is(err, core.ErrNotFound) {
						p.AddNote("fetching registry metadata: %v", err)
					} else {
						p.AddTransientNote("fetching registry metadata: %v", err)
					}
				}
			}
			return struct{}{}, err
		}

		byVersion := make(map[string]nuget.Release, len(releases))
		for _, rel := range releases {
			byVersion[strings.ToLower(rel.Version)] = rel
		}
		for _, p := range pkgs {
			rel, ok := byVersion[p.Key().Version]
			if !ok {
				continue
			}
			p.PublishedAt = rel.Published
			p.Deprecated = rel.Deprecated
		}
		return struct{}{}, nil
	})
	return ctx.Err()
}

type download struct{}

func (download) Name() string        { return "download" }
func (download) Description() string { return "Downloading packages" }

func (download) Precondition(pc *Context) bool {
	return len(pc.Packages) > 0
}

func (download) Execute(ctx context.Context, pc *Context) error {
	dir := pc.Config.PackageCacheDir()
	results := core.ForEach(ctx, pc.Packages, pc.Config.Registry.Concurrency, func(ctx context.Context, pkg *core.PackageVersion) (nuget.DownloadStatus, error) {
		res, err := pc.Registry.Download(ctx, dir, pkg.Name, pkg.Version)
		switch {
		case ctx.Err() != nil:
			return nuget.Cancelled, ctx.Err()
		case errors.Is(err, core.ErrNotFound):
			pkg.AddNote("package archive not found")
			return nuget.NotFound, err
		case err != nil:
			pkg.AddTransientNote("downloading package: %v", err)
			return "", err
		}
		pkg.ArchivePath = res.Path
		if res.Status == nuget.Succeeded {
			pc.Stats.Downloads.Add(1)
		}

		sym, err := pc.Registry.DownloadSymbols(ctx, dir, pkg.Name, pkg.Version)
		switch {
		case err == nil:
			pkg.SymbolsPath = sym.Path
		case errors.Is(err, core.ErrNotFound):
		default:
			pc.log().Debug("symbols package unavailable", zap.String("package", pkg.Key().String()), zap.Error(err))
		}
		return res.Status, nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	// Older versions are pruned only once every archive of this run is in
	// place, so versions processed together never evict each other.
	fresh := make(map[string]bool)
	for _, r := range results {
		if r.Value == nuget.Succeeded {
			fresh[r.Item.Key().Name] = true
		}
	}
	keep := make(map[string][]string)
	names := make(map[string]string)
	for _, p := range pc.Packages {
		k := p.Key().Name
		if !fresh[k] {
			continue
		}
		names[k] = p.Name
		for _, path := range []string{p.ArchivePath, p.SymbolsPath} {
			if path != "" {
				keep[k] = append(keep[k], path)
			}
		}
	}
	for k, name := range names {
		removed, err := nuget.Prune(dir, name, keep[k])
		if err != nil {
			pc.log().Warn("pruning package cache", zap.String("package", name), zap.Error(err))
			continue
		}
		if removed > 0 {
			pc.log().Debug("pruned older archives", zap.String("package", name), zap.Int("removed", removed))
		}
	}
	return nil
}

type inspectPackages struct{}

func (inspectPackages) Name() string        { return "inspect" }
func (inspectPackages) Description() string { return "Inspecting package content" }

func (inspectPackages) Precondition(pc *Context) bool {
	return len(pc.Packages) > 0
}

func (inspectPackages) Execute(ctx context.Context, pc *Context) error {
	var ready []*core.PackageVersion
	for _, p := range pc.Packages {
		if p.ArchivePath != "" {
			ready = append(ready, p)
		}
	}
	core.ForEach(ctx, ready, pc.Config.Registry.Concurrency, func(ctx context.Context, pkg *core.PackageVersion) (struct{}, error) {
		pc.Stats.Inspections.Add(1)
		if err := pc.Inspector.Inspect(ctx, pkg); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				pkg.AddTransientNote("inspecting package: %v", err)
			} else {
				pkg.AddNote("inspecting package: %v", err)
			}
			pc.log().Warn("inspection failed", zap.String("package", pkg.Key().String()), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return ctx.Err()
}

type resolveRepositories struct{}

func (resolveRepositories) Name() string        { return "resolve" }
func (resolveRepositories) Description() string { return "Resolving source repositories" }

func (resolveRepositories) Precondition(pc *Context) bool {
	return len(pc.Packages) > 0 && pc.Resolver != nil
}

func (resolveRepositories) Execute(ctx context.Context, pc *Context) error {
	core.ForEach(ctx, pc.Packages, pc.Config.Hosting.Concurrency, func(ctx context.Context, pkg *core.PackageVersion) (struct{}, error) {
		pc.Resolver.Resolve(ctx, pkg)
		return struct{}{}, nil
	})
	return ctx.Err()
}

type analyzePackages struct{}

func (analyzePackages) Name() string        { return "analyze" }
func (analyzePackages) Description() string { return "Analyzing compliance" }

func (analyzePackages) Precondition(pc *Context) bool {
	return len(pc.Packages) > 0
}

func (analyzePackages) Execute(_ context.Context, pc *Context) error {
	for _, pkg := range pc.Packages {
		analyze.Analyze(pkg, pc.Analysis)
	}
	return nil
}

type checkRecipe struct{}

func (checkRecipe) Name() string        { return "recipe" }
func (checkRecipe) Description() string { return "Checking build recipe usage" }

func (checkRecipe) Precondition(pc *Context) bool {
	return pc.Config.Steps.CheckRecipe && pc.Recipes != nil && len(pc.Packages) > 0
}

func (checkRecipe) Execute(ctx context.Context, pc *Context) error {
	var candidates []*core.PackageVersion
	for _, p := range pc.Packages {
		if p.RepositoryOwner != "" && p.RepositoryName != "" {
			candidates = append(candidates, p)
		}
	}
	results := core.ForEach(ctx, candidates, pc.Config.Hosting.Concurrency, func(ctx context.Context, pkg *core.PackageVersion) (struct{}, error) {
		if err := pc.Recipes.Check(ctx, pkg); err != nil {
			if ctx.Err() == nil {
				pkg.AddTransientNote("checking recipe usage: %v", err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if errs := core.Errors(results); len(errs) > 0 && len(errs) == len(candidates) {
		return fmt.Errorf("every recipe check failed: %w", errs[0])
	}
	return nil
}

type persist struct{}

func (persist) Name() string               { return "persist" }
func (persist) Description() string        { return "Saving results" }
func (persist) Precondition(*Context) bool { return true }

// Execute saves every version whose archive was inspected. Versions without
// an archive or marked for retry are kept for this run's summary but not
// saved, so the next run tries them again.
func (persist) Execute(_ context.Context, pc *Context) error {
	if pc.Index == nil {
		pc.Index = snapshot.NewIndex()
	}
	var retry []*core.PackageVersion
	for _, pkg := range pc.Packages {
		if pkg.ArchivePath == "" || pkg.Retry {
			retry = append(retry, pkg)
			continue
		}
		if err := pc.Store.Save(pkg); err != nil {
			return err
		}
		pc.Index.Add(pkg)
	}
	if err := pc.Store.WriteHistory(pc.Index, pc.RunID, pc.now()); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	for _, pkg := range retry {
		pc.Index.Add(pkg)
	}
	pc.log().Info("results saved",
		zap.Int("saved", len(pc.Packages)-len(retry)),
		zap.Int("retry_next_run", len(retry)),
		zap.String("run_id", pc.RunID))
	return nil
}

type summarize struct{}

func (summarize) Name() string               { return "summary" }
func (summarize) Description() string        { return "Summarizing results" }
func (summarize) Precondition(*Context) bool { return true }

func (summarize) Execute(_ context.Context, pc *Context) error {
	if pc.Index == nil {
		pc.Index = snapshot.NewIndex()
	}
	s := Summarize(pc.Index.LatestVersions())
	pc.Summary = &s
	pc.log().Info("summary",
		zap.Int("packages", s.Total),
		zap.Int("clean", len(s.Clean)),
		zap.Int("exceptions", len(s.Exceptions)),
		zap.Int("up_to_date", s.UpToDate),
		zap.Int64("downloads", pc.Stats.Downloads.Load()),
		zap.Int64("inspections", pc.Stats.Inspections.Load()))
	return nil
}
