package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/inspect"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

func cakeVersions() []core.CakeVersion {
	return []core.CakeVersion{
		{Version: semver.MustParse("3.0.0"), RequiredFramework: "net6.0", OptionalFramework: "net7.0"},
		{Version: semver.MustParse("4.0.0"), RequiredFramework: "net6.0", OptionalFramework: "net8.0"},
		{Version: semver.MustParse("2.0.0"), RequiredFramework: "netcoreapp3.1", OptionalFramework: "net5.0"},
	}
}

func testOptions() Options {
	return Options{
		CoreLibrary:   "Cake.Core",
		CommonLibrary: "Cake.Common",
		CakeVersions:  cakeVersions(),
		Icons:         inspect.DefaultIcons(),
		Organization:  "cake-contrib",
	}
}

func TestAnalyzeUpToDateAddin(t *testing.T) {
	pkg := core.NewPackageVersion("Cake.Example", "1.0.0")
	pkg.Type = core.TypeAddin
	pkg.Frameworks = []string{"net6.0", "net8.0"}
	pkg.Owners = []string{"Cake-Contrib", "someone"}
	pkg.LicenseExpression = "MIT"
	pkg.DeclaredRepo = &core.RepositoryInfo{Type: "git", URL: "https://github.com/cake-contrib/Cake.Example"}
	pkg.IconURL = inspect.LegacyIconURL
	pkg.References = []core.Reference{
		{Name: "Cake.Core", Version: semver.MustParse("4.0.0"), Private: true},
		{Name: "Cake.Common", Version: semver.MustParse("4.0.0"), Private: true},
	}

	Analyze(pkg, testOptions())
	c := pkg.Compliance

	assert.Equal(t, "4.0.0", c.CoreReference.Version.String())
	assert.True(t, c.CoreReference.Private)
	assert.True(t, c.CommonReference.Private)
	assert.Equal(t, core.IconLegacyLinked, c.Icon)
	assert.True(t, c.OwnershipTransferred)
	assert.True(t, c.LicenseDeclared)
	assert.True(t, c.RepositoryInfoProvided)
	assert.True(t, c.UpToDate)

	require.Len(t, c.Compatibility, 3)
	byVersion := make(map[string]core.Compatibility)
	for _, cc := range c.Compatibility {
		byVersion[cc.CakeVersion] = cc
	}
	assert.True(t, byVersion["4.0.0"].Compatible())
	assert.True(t, byVersion["4.0.0"].OptionalFramework)
	assert.False(t, byVersion["3.0.0"].OptionalFramework)
	assert.False(t, byVersion["2.0.0"].RequiredFramework)
}

func TestAnalyzeOutdatedReferences(t *testing.T) {
	pkg := core.NewPackageVersion("Cake.Old", "1.0.0")
	pkg.Frameworks = []string{"net6.0"}
	pkg.References = []core.Reference{
		{Name: "Cake.Core", Version: semver.MustParse("3.0.0"), Private: true},
		{Name: "Cake.Common", Version: semver.MustParse("3.0.0"), Private: false},
	}

	Analyze(pkg, testOptions())
	c := pkg.Compliance

	assert.False(t, c.UpToDate)
	assert.False(t, c.CommonReference.Private)
	assert.False(t, c.OwnershipTransferred)
	assert.False(t, c.LicenseDeclared)
	assert.False(t, c.RepositoryInfoProvided)
	assert.Equal(t, core.IconUnspecified, c.Icon)

	for _, cc := range c.Compatibility {
		if cc.CakeVersion == "3.0.0" {
			assert.True(t, cc.Compatible())
		}
	}
}

func TestAnalyzeUnknownReferences(t *testing.T) {
	pkg := core.NewPackageVersion("Cake.Recipe.Thing", "1.0.0")
	pkg.Type = core.TypeRecipe
	pkg.Frameworks = []string{"net6.0"}

	Analyze(pkg, testOptions())
	c := pkg.Compliance

	assert.False(t, c.CoreReference.Referenced())
	assert.True(t, c.CoreReference.Version.IsUnknown())
	assert.False(t, c.UpToDate)
	for _, cc := range c.Compatibility {
		assert.False(t, cc.CoreUpToDate, cc.CakeVersion)
		// Not referencing the common library does not hold a package back.
		assert.True(t, cc.CommonUpToDate, cc.CakeVersion)
	}
}

func TestAnalyzeKeepsNotes(t *testing.T) {
	pkg := core.NewPackageVersion("Cake.Plain", "1.0.0")
	pkg.AddNote("does not contain any decorated method")

	Analyze(pkg, testOptions())
	assert.Equal(t, []string{"does not contain any decorated method"}, pkg.Compliance.Notes)
}

func TestAnalyzeIsRepeatable(t *testing.T) {
	pkg := core.NewPackageVersion("Cake.Example", "1.0.0")
	pkg.Frameworks = []string{"net6.0"}
	opts := testOptions()

	Analyze(pkg, opts)
	first := pkg.Compliance
	first.Compatibility = append([]core.Compatibility(nil), first.Compatibility...)
	Analyze(pkg, opts)
	assert.Equal(t, first, pkg.Compliance)
}

func TestLatest(t *testing.T) {
	latest, ok := Latest(cakeVersions())
	require.True(t, ok)
	assert.Equal(t, "4.0.0", latest.Version.String())

	_, ok = Latest(nil)
	assert.False(t, ok)
}
