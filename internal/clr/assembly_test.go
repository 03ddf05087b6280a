package clr_test

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/addinaudit/internal/clr"
	"github.com/git-pkgs/addinaudit/internal/clr/clrtest"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

func addinImage() []byte {
	b := clrtest.New("Cake.Example").
		Version(2, 1, 0, 0).
		Reference("netstandard", 2, 0, 0, 0).
		Reference("Cake.Core", 3, 0, 0, 0).
		Reference("Cake.Common", 3, 1, 0, 0).
		TargetFramework(".NETStandard,Version=v2.0")
	b.Type("Cake.Example", "ExampleAliases", clrtest.AliasCategory("Example")).
		Method("RunExample", clrtest.MethodAlias()).
		Method("ExampleSettings", clrtest.PropertyAlias()).
		Method("helper")
	b.Type("Cake.Example", "ExampleRunner").
		Method("Run")
	return b.Bytes()
}

func TestLoadAssembly(t *testing.T) {
	asm, err := clr.Load(addinImage())
	require.NoError(t, err)

	assert.Equal(t, "Cake.Example", asm.Name)
	assert.Equal(t, "2.1.0", asm.Version.String())
	assert.Equal(t, ".NETStandard,Version=v2.0", asm.TargetFramework)
	assert.Equal(t, "netstandard2.0", asm.FrameworkMoniker())

	require.Len(t, asm.References, 3)
	core, ok := asm.Reference("cake.core")
	require.True(t, ok)
	assert.True(t, core.Version.Equal(semver.MustParse("3.0.0")))
	common, ok := asm.Reference("Cake.Common")
	require.True(t, ok)
	assert.Equal(t, "3.1.0", common.Version.String())
	_, ok = asm.Reference("Cake.Git")
	assert.False(t, ok)
}

func TestLoadTypesAndMethods(t *testing.T) {
	asm, err := clr.Load(addinImage())
	require.NoError(t, err)

	// <Module> plus the two declared types.
	require.Len(t, asm.Types, 3)
	assert.Equal(t, "<Module>", asm.Types[0].Name)
	assert.Empty(t, asm.Types[0].Methods)

	aliases := asm.Types[1]
	assert.Equal(t, "Cake.Example.ExampleAliases", aliases.FullName())
	require.Len(t, aliases.Methods, 3)
	assert.Equal(t, "RunExample", aliases.Methods[0].Name)
	assert.True(t, aliases.Methods[0].Static)

	runner := asm.Types[2]
	require.Len(t, runner.Methods, 1)
	assert.Equal(t, "Run", runner.Methods[0].Name)
}

func TestCustomAttributes(t *testing.T) {
	asm, err := clr.Load(addinImage())
	require.NoError(t, err)

	methods := asm.AttributesNamed("CakeMethodAliasAttribute")
	require.Len(t, methods, 1)
	assert.Equal(t, clr.TargetMethod, methods[0].Target.Kind)
	assert.Equal(t, "RunExample", methods[0].Target.Member)
	assert.Equal(t, "Cake.Example.ExampleAliases", methods[0].Target.Type.FullName())
	assert.Equal(t, "Cake.Core.Annotations", methods[0].Type.Namespace)

	props := asm.AttributesNamed("Cake.Core.Annotations.CakePropertyAliasAttribute")
	require.Len(t, props, 1)
	assert.Equal(t, "ExampleSettings", props[0].Target.Member)

	categories := asm.AttributesNamed("CakeAliasCategoryAttribute")
	require.Len(t, categories, 1)
	assert.Equal(t, clr.TargetType, categories[0].Target.Kind)
	assert.Equal(t, []any{"Example"}, categories[0].Args)
}

func TestLoadWithoutMarkers(t *testing.T) {
	b := clrtest.New("Plain.Library").Reference("netstandard", 2, 0, 0, 0)
	b.Type("Plain.Library", "Thing").Method("DoIt")

	asm, err := clr.Load(b.Bytes())
	require.NoError(t, err)
	assert.Empty(t, asm.AttributesNamed("CakeMethodAliasAttribute"))
	assert.Empty(t, asm.TargetFramework)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Cake.Example.dll")
	require.NoError(t, os.WriteFile(path, addinImage(), 0o644))

	asm, err := clr.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Cake.Example", asm.Name)
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := clr.Load([]byte("definitely not a PE file"))
	assert.True(t, errors.Is(err, clr.ErrFormat), "err = %v", err)
}

func TestFrameworkMoniker(t *testing.T) {
	tests := map[string]string{
		".NETStandard,Version=v2.0":    "netstandard2.0",
		".NETCoreApp,Version=v3.1":     "netcoreapp3.1",
		".NETCoreApp,Version=v6.0":     "net6.0",
		".NETCoreApp,Version=v10.0":    "net10.0",
		".NETFramework,Version=v4.6.1": "net461",
		"garbage":                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, clr.FrameworkMoniker(in), in)
	}
}

func TestCodeView(t *testing.T) {
	id := uuid.MustParse("6f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0")
	data := clrtest.New("Cake.Example").CodeView(id, "/src/obj/Cake.Example.pdb").Bytes()

	asm, err := clr.Load(data)
	require.NoError(t, err)

	cv, ok := asm.Image().CodeView()
	require.True(t, ok)
	assert.Equal(t, id, cv.ID)
	assert.Equal(t, uint32(1), cv.Age)
	assert.Equal(t, "/src/obj/Cake.Example.pdb", cv.Path)

	_, ok, err = asm.Image().EmbeddedPDB()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmbeddedPDB(t *testing.T) {
	pdb := clrtest.PortablePDB(true)
	data := clrtest.New("Cake.Example").
		CodeView(uuid.New(), "Cake.Example.pdb").
		EmbeddedPDB(pdb).
		Bytes()

	img, err := clr.Parse(data)
	require.NoError(t, err)

	got, ok, err := img.EmbeddedPDB()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pdb, got)

	info, err := clr.ReadPDB(got)
	require.NoError(t, err)
	assert.Equal(t, clr.PDBPortable, info.Format)
	assert.True(t, info.SourceLink)
}

func TestEmbeddedPDBRejectsOversizedHeader(t *testing.T) {
	raw := binary.LittleEndian.AppendUint32(nil, 0x4244504D)
	raw = binary.LittleEndian.AppendUint32(raw, 0xFFFFFFF0)
	raw = append(raw, 0x03, 0x00)

	img, err := clr.Parse(clrtest.New("Cake.Example").RawEmbeddedPDB(raw).Bytes())
	require.NoError(t, err)

	_, ok, err := img.EmbeddedPDB()
	assert.False(t, ok)
	assert.ErrorIs(t, err, clr.ErrFormat)
}

func TestEmbeddedPDBTruncated(t *testing.T) {
	full, err := clr.CompressEmbeddedPDB(clrtest.PortablePDB(false))
	require.NoError(t, err)

	img, err := clr.Parse(clrtest.New("Cake.Example").RawEmbeddedPDB(full[:len(full)/2]).Bytes())
	require.NoError(t, err)

	_, ok, err := img.EmbeddedPDB()
	assert.False(t, ok)
	assert.Error(t, err)
}
