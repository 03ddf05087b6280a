package analyze

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/github"
	"github.com/git-pkgs/addinaudit/internal/inspect"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

// Hosting is the part of the hosting API the recipe check reads.
type Hosting interface {
	GetRepository(ctx context.Context, owner, name string) (*github.Repository, error)
	GetTree(ctx context.Context, owner, name, ref string) (*github.Tree, error)
	GetContents(ctx context.Context, owner, name, path string) ([]byte, error)
	GetArchive(ctx context.Context, owner, name string) ([]byte, error)
}

// DefaultBuildScripts are the file names searched for a recipe directive,
// in order of preference.
var DefaultBuildScripts = []string{"recipe.cake", "build.cake", "setup.cake"}

// loadDirective matches `#load nuget:?package=Cake.Recipe&version=1.0.0` and
// captures everything after "nuget:".
var loadDirective = regexp.MustCompile(`(?m)^\s*#(?:load|l)\s+"?nuget:([^"\s]*)"?`)

// Recipe is what a build script says about the standard recipe.
type Recipe struct {
	Version    semver.Version
	Prerelease bool
}

// ParseRecipe scans a build script for a load directive referencing the
// named recipe package.
func ParseRecipe(script, recipe string) (Recipe, bool) {
	for _, m := range loadDirective.FindAllStringSubmatch(script, -1) {
		ref := m[1]
		i := strings.IndexByte(ref, '?')
		if i < 0 {
			continue
		}
		q, err := url.ParseQuery(ref[i+1:])
		if err != nil || !strings.EqualFold(q.Get("package"), recipe) {
			continue
		}
		return Recipe{
			Version:    semver.ParseOrUnknown(q.Get("version")),
			Prerelease: q.Has("prerelease"),
		}, true
	}
	return Recipe{}, false
}

// RecipeChecker checks whether a package's repository builds with the
// standard recipe. Calls to the hosting API are paced by a fixed delay that
// is independent of the client's retry backoff.
type RecipeChecker struct {
	hosting Hosting
	limiter *rate.Limiter
	recipe  string
	scripts []string
	logger  *zap.Logger
}

// NewRecipeChecker creates a checker for the recipe package name. A delay of
// zero disables pacing.
func NewRecipeChecker(hosting Hosting, recipe string, delay time.Duration, scripts []string, logger *zap.Logger) *RecipeChecker {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	if len(scripts) == 0 {
		scripts = DefaultBuildScripts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecipeChecker{
		hosting: hosting,
		limiter: rate.NewLimiter(limit, 1),
		recipe:  recipe,
		scripts: scripts,
		logger:  logger,
	}
}

// Check sets the recipe fields of pkg. A package without a known repository,
// or whose repository or build script cannot be found, is skipped.
func (r *RecipeChecker) Check(ctx context.Context, pkg *core.PackageVersion) error {
	owner, name := pkg.RepositoryOwner, pkg.RepositoryName
	if owner == "" || name == "" {
		return nil
	}

	script, err := r.buildScript(ctx, owner, name)
	if errors.Is(err, core.ErrNotFound) {
		r.logger.Debug("no build script", zap.String("package", pkg.Name), zap.String("repository", owner+"/"+name))
		return nil
	}
	if err != nil {
		return err
	}

	recipe, ok := ParseRecipe(string(script), r.recipe)
	pkg.Compliance.UsesRecipe = ok
	pkg.Compliance.RecipeVersion = semver.Unknown
	pkg.Compliance.RecipePrerelease = false
	if ok {
		pkg.Compliance.RecipeVersion = recipe.Version
		pkg.Compliance.RecipePrerelease = recipe.Prerelease
	}
	return nil
}

func (r *RecipeChecker) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// buildScript locates and reads the preferred build script. A truncated tree
// listing falls back to the repository archive.
func (r *RecipeChecker) buildScript(ctx context.Context, owner, name string) ([]byte, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	repo, err := r.hosting.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	branch := repo.DefaultBranch
	if branch == "" {
		branch = "HEAD"
	}

	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	tree, err := r.hosting.GetTree(ctx, owner, name, branch)
	if err != nil {
		return nil, err
	}

	if tree.Truncated {
		return r.fromArchive(ctx, owner, name)
	}

	paths := make([]string, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.Type == "blob" {
			paths = append(paths, e.Path)
		}
	}
	p, ok := r.pick(paths, "")
	if !ok {
		return nil, fmt.Errorf("%s/%s: build script: %w", owner, name, core.ErrNotFound)
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.hosting.GetContents(ctx, owner, name, p)
}

func (r *RecipeChecker) fromArchive(ctx context.Context, owner, name string) ([]byte, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	data, err := r.hosting.GetArchive(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	a, err := inspect.OpenArchive(data)
	if err != nil {
		return nil, err
	}

	// Archives nest everything under a single "owner-name-sha/" directory.
	prefix := ""
	if paths := a.Paths(); len(paths) > 0 {
		if i := strings.IndexByte(paths[0], '/'); i >= 0 {
			prefix = paths[0][:i+1]
		}
	}
	p, ok := r.pick(a.Paths(), prefix)
	if !ok {
		return nil, fmt.Errorf("%s/%s: build script: %w", owner, name, core.ErrNotFound)
	}
	return a.ReadFile(p)
}

// pick returns the first configured script name found, preferring the
// repository root over nested directories.
func (r *RecipeChecker) pick(paths []string, root string) (string, bool) {
	for _, script := range r.scripts {
		var nested string
		for _, p := range paths {
			if !strings.EqualFold(path.Base(p), script) {
				continue
			}
			if strings.EqualFold(p, root+script) {
				return p, true
			}
			if nested == "" {
				nested = p
			}
		}
		if nested != "" {
			return nested, true
		}
	}
	return "", false
}
