// Package inspect examines downloaded package archives without executing any
// of their code: file roles, manifest, primary binary, references, alias
// markers, debug symbols and icons.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/git-pkgs/addinaudit/internal/clr"
	"github.com/git-pkgs/addinaudit/internal/core"
)

// ErrNoManifest is returned for an archive without a .nuspec at its root.
var ErrNoManifest = errors.New("archive has no nuspec manifest")

// Options names the host tool's libraries and markers.
type Options struct {
	CoreLibrary       string
	CommonLibrary     string
	ModuleSuffix      string
	AliasAttributes   []string
	CategoryAttribute string
}

// DefaultOptions returns the Cake conventions.
func DefaultOptions() Options {
	return Options{
		CoreLibrary:   "Cake.Core",
		CommonLibrary: "Cake.Common",
		ModuleSuffix:  ".Module",
		AliasAttributes: []string{
			"Cake.Core.Annotations.CakeMethodAliasAttribute",
			"Cake.Core.Annotations.CakePropertyAliasAttribute",
		},
		CategoryAttribute: "Cake.Core.Annotations.CakeAliasCategoryAttribute",
	}
}

// Inspector inspects package archives. It holds no per-package state and is
// safe for concurrent use.
type Inspector struct {
	opts   Options
	logger *zap.Logger
}

// New creates an Inspector. A nil logger discards output.
func New(opts Options, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{opts: opts, logger: logger}
}

// Inspect reads pkg.ArchivePath, and pkg.SymbolsPath when set, and fills in
// the inspection fields of pkg. Problems that still allow a verdict are
// recorded as notes; the returned error means the archive itself could not
// be inspected.
func (in *Inspector) Inspect(ctx context.Context, pkg *core.PackageVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pkg.ArchivePath == "" {
		return fmt.Errorf("%s: package was not downloaded", pkg.Key())
	}
	data, err := os.ReadFile(pkg.ArchivePath)
	if err != nil {
		return err
	}

	var symbols []byte
	if pkg.SymbolsPath != "" {
		symbols, err = os.ReadFile(pkg.SymbolsPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			pkg.AddTransientNote("reading symbols package: %v", err)
		}
	}
	return in.InspectArchive(pkg, data, symbols)
}

// InspectFile inspects a local nupkg, taking the identity from its manifest.
func (in *Inspector) InspectFile(ctx context.Context, file string) (*core.PackageVersion, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	a, err := OpenArchive(data)
	if err != nil {
		return nil, err
	}
	spec, err := readNuspec(a)
	if err != nil {
		return nil, err
	}

	pkg := core.NewPackageVersion(spec.Metadata.ID, spec.Metadata.Version)
	pkg.ArchivePath = file
	snupkg := strings.TrimSuffix(file, path.Ext(file)) + ".snupkg"
	if _, err := os.Stat(snupkg); err == nil {
		pkg.SymbolsPath = snupkg
	}
	if err := in.Inspect(ctx, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

func readNuspec(a *Archive) (*Nuspec, error) {
	p, ok := a.Nuspec()
	if !ok {
		return nil, ErrNoManifest
	}
	raw, err := a.ReadFile(p)
	if err != nil {
		return nil, err
	}
	spec, err := ParseNuspec(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	return spec, nil
}

// loaded is one reflected copy of the primary binary.
type loaded struct {
	path string
	asm  *clr.Assembly
}

// InspectArchive inspects an in-memory package and optional symbols package.
func (in *Inspector) InspectArchive(pkg *core.PackageVersion, data, symbols []byte) error {
	a, err := OpenArchive(data)
	if err != nil {
		return err
	}
	spec, err := readNuspec(a)
	if err != nil {
		return err
	}

	declaredSource := core.SourceRegistry
	if len(pkg.Dependencies) == 0 {
		declaredSource = core.SourceManifest
	}
	spec.Apply(pkg)

	icon := spec.Metadata.Icon
	pkg.Files = a.Files(icon)
	pkg.Frameworks = a.Frameworks()
	if icon != "" {
		if b, err := a.ReadFile(icon); err == nil {
			pkg.EmbeddedIcon = b
		} else {
			pkg.AddNote("reading icon %s: %v", icon, err)
		}
	}

	var binaries []string
	for _, f := range pkg.Files {
		if f.Role == core.RoleBinary {
			binaries = append(binaries, f.Path)
		}
	}

	primary := in.selectPrimary(pkg, a, binaries)
	evidence := dependencyEvidence(pkg.Dependencies, declaredSource)
	for _, l := range primary {
		evidence = append(evidence, assemblyEvidence(l.asm)...)
	}
	pkg.References = MergeReferences(evidence)

	hasMarkers := false
	if len(primary) > 0 {
		pkg.PrimaryBinary = primary[0].path
		pkg.AliasMethods, pkg.AliasCategories = in.aliases(primary)
		hasMarkers = len(pkg.AliasMethods) > 0
		pkg.Symbols = in.symbols(pkg, a, primary, symbols)
		for _, l := range primary {
			if a.Has(sibling(l.path, ".xml")) {
				pkg.HasXMLDocumentation = true
				break
			}
		}
	}

	pkg.Type = Classify(pkg.Name, len(binaries) > 0, hasMarkers, in.opts.ModuleSuffix)
	if pkg.Type == core.TypeUnknown {
		pkg.AddNote("%v", core.ErrNoDecoratedMethod)
	}

	in.logger.Debug("inspected package",
		zap.String("package", pkg.Key().String()),
		zap.Stringer("type", pkg.Type),
		zap.String("primary", pkg.PrimaryBinary),
		zap.Int("files", len(pkg.Files)),
		zap.Int("references", len(pkg.References)),
	)
	return nil
}

// selectPrimary picks the binary most likely to be the package's entry
// point and returns every loaded copy of it, one per target framework. The
// choice is an exact match on the package name, else the only binary, else
// the binary carrying alias markers. Load failures are noted only for the
// chosen binary.
func (in *Inspector) selectPrimary(pkg *core.PackageVersion, a *Archive, binaries []string) []loaded {
	groups := make(map[string][]string)
	var names []string
	for _, b := range binaries {
		key := strings.ToLower(baseName(b))
		if _, ok := groups[key]; !ok {
			names = append(names, key)
		}
		groups[key] = append(groups[key], b)
	}
	sort.Strings(names)

	choose := func(copies []loaded, failures []string) []loaded {
		pkg.Compliance.Notes = append(pkg.Compliance.Notes, failures...)
		return copies
	}
	if g, ok := groups[strings.ToLower(pkg.Name)]; ok {
		return choose(in.load(a, g))
	}
	if len(names) == 1 {
		return choose(in.load(a, groups[names[0]]))
	}
	for _, n := range names {
		copies, failures := in.load(a, groups[n])
		for _, l := range copies {
			if in.hasMarkers(l.asm) {
				return choose(copies, failures)
			}
		}
	}
	return nil
}

// load reflects over each path, returning the loaded copies and a note for
// every path that could not be read or parsed.
func (in *Inspector) load(a *Archive, paths []string) (out []loaded, failures []string) {
	for _, p := range paths {
		data, err := a.ReadFile(p)
		if err != nil {
			failures = append(failures, fmt.Sprintf("reading %s: %v", p, err))
			continue
		}
		asm, err := clr.Load(data)
		if err != nil {
			failures = append(failures, fmt.Sprintf("loading %s: %v", p, err))
			continue
		}
		out = append(out, loaded{path: p, asm: asm})
	}
	return out, failures
}

func (in *Inspector) isAlias(t clr.TypeName) bool {
	for _, name := range in.opts.AliasAttributes {
		if t.FullName() == name {
			return true
		}
	}
	return false
}

func (in *Inspector) hasMarkers(asm *clr.Assembly) bool {
	for _, attr := range asm.Attributes {
		if in.isAlias(attr.Type) {
			return true
		}
	}
	return false
}

// aliases collects decorated members and type level categories across every
// copy of the primary binary.
func (in *Inspector) aliases(primary []loaded) (methods, categories []string) {
	seenMethod := make(map[string]bool)
	seenCategory := make(map[string]bool)
	for _, l := range primary {
		for _, attr := range l.asm.Attributes {
			switch {
			case in.isAlias(attr.Type):
				name := attr.Target.Type.FullName() + "." + attr.Target.Member
				if !seenMethod[name] {
					seenMethod[name] = true
					methods = append(methods, name)
				}
			case attr.Type.FullName() == in.opts.CategoryAttribute && attr.Target.Kind == clr.TargetType:
				if len(attr.Args) == 0 {
					continue
				}
				if c, ok := attr.Args[0].(string); ok && !seenCategory[c] {
					seenCategory[c] = true
					categories = append(categories, c)
				}
			}
		}
	}
	sort.Strings(methods)
	sort.Strings(categories)
	return methods, categories
}
