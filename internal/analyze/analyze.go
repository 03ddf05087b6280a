// Package analyze turns an inspected and resolved package into its
// compliance verdict.
package analyze

import (
	"slices"
	"strings"

	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/inspect"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

// Options are the yardsticks a package is measured against.
type Options struct {
	CoreLibrary   string
	CommonLibrary string
	// Releases of the host tool. The highest version decides UpToDate.
	CakeVersions []core.CakeVersion
	Icons        inspect.IconSet
	Organization string
}

// Analyze fills pkg.Compliance from fields set by earlier steps. It does no
// I/O and leaves the recipe fields and notes alone.
func Analyze(pkg *core.PackageVersion, opts Options) {
	c := &pkg.Compliance
	c.CoreReference = libraryReference(pkg.References, opts.CoreLibrary)
	c.CommonReference = libraryReference(pkg.References, opts.CommonLibrary)
	c.Icon = opts.Icons.Grade(pkg)
	c.OwnershipTransferred = ownedBy(pkg.Owners, opts.Organization)
	c.LicenseDeclared = pkg.LicenseExpression != "" || pkg.LicenseFile != "" || pkg.LicenseURL != ""
	c.RepositoryInfoProvided = pkg.DeclaredRepo != nil && pkg.DeclaredRepo.URL != ""

	c.Compatibility = c.Compatibility[:0]
	for _, cv := range opts.CakeVersions {
		c.Compatibility = append(c.Compatibility, Compatibility(pkg, c, cv))
	}

	c.UpToDate = false
	if latest, ok := Latest(opts.CakeVersions); ok {
		c.UpToDate = Compatibility(pkg, c, latest).Compatible()
	}
}

// Compatibility measures the references and frameworks of pkg against one
// release. The common library is optional: a package that does not
// reference it is not held back by it.
func Compatibility(pkg *core.PackageVersion, c *core.ComplianceResult, cv core.CakeVersion) core.Compatibility {
	return core.Compatibility{
		CakeVersion:       cv.Version.String(),
		CoreUpToDate:      c.CoreReference.Version.IsUpToDate(cv.Version),
		CommonUpToDate:    !c.CommonReference.Referenced() || c.CommonReference.Version.IsUpToDate(cv.Version),
		RequiredFramework: hasFramework(pkg.Frameworks, cv.RequiredFramework),
		OptionalFramework: cv.OptionalFramework != "" && hasFramework(pkg.Frameworks, cv.OptionalFramework),
	}
}

// Latest returns the release with the highest version.
func Latest(versions []core.CakeVersion) (core.CakeVersion, bool) {
	if len(versions) == 0 {
		return core.CakeVersion{}, false
	}
	return slices.MaxFunc(versions, func(a, b core.CakeVersion) int {
		return semver.Compare(a.Version, b.Version)
	}), true
}

func libraryReference(refs []core.Reference, name string) core.LibraryReference {
	r, ok := inspect.FindReference(refs, name)
	if !ok {
		return core.LibraryReference{Version: semver.Unknown}
	}
	return core.LibraryReference{Version: r.Version, Private: r.Private}
}

func ownedBy(owners []string, org string) bool {
	if org == "" {
		return false
	}
	for _, o := range owners {
		if strings.EqualFold(o, org) {
			return true
		}
	}
	return false
}

func hasFramework(frameworks []string, want string) bool {
	if want == "" {
		return true
	}
	for _, f := range frameworks {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}
