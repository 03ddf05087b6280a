package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

func analyzed(name, version string) *core.PackageVersion {
	pkg := core.NewPackageVersion(name, version)
	pkg.Type = core.TypeAddin
	pkg.Owners = []string{"cake-contrib"}
	pkg.References = []core.Reference{
		{Name: "Cake.Core", Version: semver.MustParse("3.0.0"), Private: true, Sources: core.SourceAssembly},
	}
	pkg.Compliance.CoreReference = core.LibraryReference{Version: semver.MustParse("3.0.0"), Private: true}
	pkg.Compliance.Icon = core.IconRecommendedEmbedded
	pkg.ArchivePath = "/tmp/not-persisted.nupkg"
	return pkg
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "snapshots"), "")

	require.NoError(t, store.Save(analyzed("Cake.Git", "3.0.0")))
	require.NoError(t, store.Save(analyzed("Cake.Git", "2.0.0")))
	require.NoError(t, store.Save(analyzed("Cake.Json", "7.0.1")))

	_, err := os.Stat(filepath.Join(dir, "snapshots", "cake.git.3.0.0.json"))
	require.NoError(t, err)

	idx, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())
	assert.True(t, idx.Has("CAKE.GIT", "3.0.0"))
	assert.False(t, idx.Has("Cake.Git", "4.0.0"))

	got, ok := idx.Get("cake.git", "3.0.0")
	require.True(t, ok)
	assert.Equal(t, core.TypeAddin, got.Type)
	assert.Equal(t, "3.0.0", got.Compliance.CoreReference.Version.String())
	assert.True(t, got.Compliance.RecipeVersion.IsUnknown())
	assert.Equal(t, core.IconRecommendedEmbedded, got.Compliance.Icon)
	assert.Equal(t, core.SourceAssembly, got.References[0].Sources)
	assert.Empty(t, got.ArchivePath)

	versions := idx.Versions("Cake.Git")
	require.Len(t, versions, 2)
	assert.Equal(t, "2.0.0", versions[0].Version)
	latest, ok := idx.Latest("Cake.Git")
	require.True(t, ok)
	assert.Equal(t, "3.0.0", latest.Version)

	heads := idx.LatestVersions()
	require.Len(t, heads, 2)
	assert.Equal(t, "Cake.Git", heads[0].Name)
	assert.Equal(t, "3.0.0", heads[0].Version)
	assert.Equal(t, "Cake.Json", heads[1].Name)
}

func TestSaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, "")
	pkg := analyzed("Cake.Git", "3.0.0")

	require.NoError(t, store.Save(pkg))
	first, err := os.ReadFile(filepath.Join(dir, FileName("Cake.Git", "3.0.0")))
	require.NoError(t, err)

	// A round trip through Load must not change what would be written.
	idx, err := store.Load()
	require.NoError(t, err)
	reloaded, _ := idx.Get("Cake.Git", "3.0.0")
	require.NoError(t, store.Save(reloaded))
	second, err := os.ReadFile(filepath.Join(dir, FileName("Cake.Git", "3.0.0")))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), `"purl": "pkg:nuget/Cake.Git@3.0.0"`)
}

func TestHistoryMerge(t *testing.T) {
	dir := t.TempDir()
	history := filepath.Join(dir, "history", "results.json")
	store := New(filepath.Join(dir, "snapshots"), history)

	old := NewIndex()
	stale := analyzed("Cake.Git", "3.0.0")
	stale.Compliance.Notes = []string{"stale"}
	old.Add(stale)
	old.Add(analyzed("Cake.Git", "2.0.0"))
	old.Add(analyzed("Cake.Yaml", "6.0.0"))
	require.NoError(t, store.WriteHistory(old, "run-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	h, err := ReadHistory(history)
	require.NoError(t, err)
	assert.Equal(t, "run-1", h.RunID)
	require.Len(t, h.Packages, 3)
	assert.Equal(t, "Cake.Git", h.Packages[0].Name)
	assert.Equal(t, "2.0.0", h.Packages[0].Version)

	// A fresh snapshot of 3.0.0 replaces the stale one; 2.0.0 stays.
	require.NoError(t, store.Save(analyzed("Cake.Git", "3.0.0")))

	idx, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())
	fresh, ok := idx.Get("Cake.Git", "3.0.0")
	require.True(t, ok)
	assert.Empty(t, fresh.Compliance.Notes)
	assert.True(t, idx.Has("Cake.Git", "2.0.0"))
	assert.True(t, idx.Has("Cake.Yaml", "6.0.0"))
}

func TestLoadMissing(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "nope"), filepath.Join(dir, "nope.json"))
	idx, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.1.0.0.json"), []byte("{"), 0o644))
	_, err := New(dir, "").Load()
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, "")
	require.NoError(t, store.Save(analyzed("Cake.Git", "3.0.0")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644))

	require.NoError(t, store.Clear())
	idx, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	_, err = os.Stat(filepath.Join(dir, "keep.txt"))
	assert.NoError(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "cake.git@3.0.0-beta.1.json", FileName("Cake.Git", "3.0.0-Beta.1"))
	assert.Equal(t, "a_b@1.0.0.json", FileName("a/b", "1.0.0"))
	assert.Equal(t, "a_b@1.0.0.json", FileName("a@b", "1.0.0"))
}

func TestFileNameKeepsIdentitiesApart(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, "")

	require.NoError(t, store.Save(analyzed("Cake.Tool", "1.0.0")))
	require.NoError(t, store.Save(analyzed("Cake", "Tool.1.0.0")))
	assert.NotEqual(t, FileName("Cake.Tool", "1.0.0"), FileName("Cake", "Tool.1.0.0"))

	idx, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.True(t, idx.Has("Cake.Tool", "1.0.0"))
	assert.True(t, idx.Has("Cake", "Tool.1.0.0"))
}
