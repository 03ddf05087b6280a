package inspect_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/addinaudit/internal/clr/clrtest"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/inspect"
	"github.com/git-pkgs/addinaudit/internal/inspect/inspecttest"
)

func addinDLL(name string) *clrtest.Builder {
	b := clrtest.New(name).
		Version(1, 0, 0, 0).
		Reference("netstandard", 2, 0, 0, 0).
		Reference("Cake.Core", 3, 0, 0, 0).
		Reference("Cake.Common", 3, 0, 0, 0).
		TargetFramework(".NETStandard,Version=v2.0")
	b.Type(name, "ExampleAliases", clrtest.AliasCategory("Example")).
		Method("Example", clrtest.MethodAlias())
	return b
}

func inspectBytes(t *testing.T, pkg *core.PackageVersion, nupkg, snupkg []byte) {
	t.Helper()
	in := inspect.New(inspect.DefaultOptions(), nil)
	require.NoError(t, in.InspectArchive(pkg, nupkg, snupkg))
}

func TestInspectAddin(t *testing.T) {
	p := inspecttest.New("Addin.Example", "1.0.0")
	p.ProjectURL = "https://github.com/cake-contrib/Addin.Example"
	p.License = "MIT"
	p.Dependencies = []inspecttest.Dependency{{ID: "Cake.Common", Version: "[2.0.0, )", TargetFramework: ".NETStandard2.0"}}
	p.File("lib/netstandard2.0/Addin.Example.dll", addinDLL("Addin.Example").Bytes())
	p.File("lib/netstandard2.0/Addin.Example.xml", []byte("<doc/>"))

	pkg := core.NewPackageVersion("Addin.Example", "1.0.0")
	inspectBytes(t, pkg, p.Bytes(), nil)

	assert.Equal(t, core.TypeAddin, pkg.Type)
	assert.Empty(t, pkg.Compliance.Notes)
	assert.Equal(t, "lib/netstandard2.0/Addin.Example.dll", pkg.PrimaryBinary)
	assert.Equal(t, []string{"netstandard2.0"}, pkg.Frameworks)
	assert.Equal(t, []string{"Addin.Example.ExampleAliases.Example"}, pkg.AliasMethods)
	assert.Equal(t, []string{"Example"}, pkg.AliasCategories)
	assert.True(t, pkg.HasXMLDocumentation)
	assert.Equal(t, "MIT", pkg.LicenseExpression)
	assert.Equal(t, "https://github.com/cake-contrib/Addin.Example", pkg.ProjectURL)
	assert.Empty(t, pkg.EmbeddedIcon)
	assert.False(t, pkg.Symbols.Available())

	coreRef, ok := inspect.FindReference(pkg.References, "Cake.Core")
	require.True(t, ok)
	assert.Equal(t, "3.0.0", coreRef.Version.String())
	assert.True(t, coreRef.Private)
	assert.Equal(t, core.SourceAssembly, coreRef.Sources)

	common, ok := inspect.FindReference(pkg.References, "cake.common")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", common.Version.String())
	assert.False(t, common.Private)
	assert.True(t, common.Sources.Has(core.SourceManifest|core.SourceAssembly))

	roles := make(map[string]core.FileRole)
	for _, f := range pkg.Files {
		roles[f.Path] = f.Role
	}
	assert.Equal(t, core.RoleBinary, roles["lib/netstandard2.0/Addin.Example.dll"])
	assert.Equal(t, core.RoleDocumentation, roles["lib/netstandard2.0/Addin.Example.xml"])
	assert.Equal(t, core.RoleMetadata, roles["Addin.Example.nuspec"])
}

func TestInspectRecipe(t *testing.T) {
	p := inspecttest.New("Cake.Addin.Example", "1.0.0")
	p.File("content/recipe.cake", []byte("// recipe"))

	pkg := core.NewPackageVersion("Cake.Addin.Example", "1.0.0")
	inspectBytes(t, pkg, p.Bytes(), nil)

	assert.Equal(t, core.TypeRecipe, pkg.Type)
	assert.Empty(t, pkg.PrimaryBinary)
	assert.Empty(t, pkg.Compliance.Notes)
}

func TestInspectModule(t *testing.T) {
	p := inspecttest.New("Cake.Example.Module", "1.0.0")
	b := clrtest.New("Cake.Example.Module").Reference("Cake.Core", 3, 0, 0, 0)
	b.Type("Cake.Example.Module", "ExampleModule").Method("Register")
	p.File("lib/netstandard2.0/Cake.Example.Module.dll", b.Bytes())

	pkg := core.NewPackageVersion("Cake.Example.Module", "1.0.0")
	inspectBytes(t, pkg, p.Bytes(), nil)

	assert.Equal(t, core.TypeModule, pkg.Type)
	assert.Empty(t, pkg.Compliance.Notes)
}

func TestInspectUnknown(t *testing.T) {
	p := inspecttest.New("Cake.Plain", "1.0.0")
	b := clrtest.New("Cake.Plain").Reference("Cake.Core", 3, 0, 0, 0)
	b.Type("Cake.Plain", "Thing").Method("DoIt")
	p.File("lib/netstandard2.0/Cake.Plain.dll", b.Bytes())

	pkg := core.NewPackageVersion("Cake.Plain", "1.0.0")
	inspectBytes(t, pkg, p.Bytes(), nil)

	assert.Equal(t, core.TypeUnknown, pkg.Type)
	assert.Equal(t, []string{"does not contain any decorated method"}, pkg.Compliance.Notes)
}

func TestPrimaryBinarySelection(t *testing.T) {
	helper := clrtest.New("Helper.Library")
	helper.Type("Helper.Library", "Util").Method("Help")

	t.Run("single binary", func(t *testing.T) {
		p := inspecttest.New("Cake.Different", "1.0.0")
		p.File("lib/net6.0/Cake.Renamed.dll", addinDLL("Cake.Renamed").Bytes())

		pkg := core.NewPackageVersion("Cake.Different", "1.0.0")
		inspectBytes(t, pkg, p.Bytes(), nil)
		assert.Equal(t, "lib/net6.0/Cake.Renamed.dll", pkg.PrimaryBinary)
		assert.Equal(t, core.TypeAddin, pkg.Type)
	})

	t.Run("marker wins among several", func(t *testing.T) {
		p := inspecttest.New("Cake.Different", "1.0.0")
		p.File("lib/net6.0/Helper.Library.dll", helper.Bytes())
		p.File("lib/net6.0/Cake.Renamed.dll", addinDLL("Cake.Renamed").Bytes())

		pkg := core.NewPackageVersion("Cake.Different", "1.0.0")
		inspectBytes(t, pkg, p.Bytes(), nil)
		assert.Equal(t, "lib/net6.0/Cake.Renamed.dll", pkg.PrimaryBinary)
		assert.Equal(t, core.TypeAddin, pkg.Type)
	})

	t.Run("native library alongside", func(t *testing.T) {
		p := inspecttest.New("Cake.Different", "1.0.0")
		p.File("lib/net6.0/Cake.Renamed.dll", addinDLL("Cake.Renamed").Bytes())
		p.File("lib/net6.0/Bindings.Native.dll", []byte("MZ native code"))

		pkg := core.NewPackageVersion("Cake.Different", "1.0.0")
		inspectBytes(t, pkg, p.Bytes(), nil)
		assert.Equal(t, "lib/net6.0/Cake.Renamed.dll", pkg.PrimaryBinary)
		assert.Equal(t, core.TypeAddin, pkg.Type)
		assert.Empty(t, pkg.Compliance.Notes)
	})

	t.Run("exact name wins", func(t *testing.T) {
		p := inspecttest.New("Helper.Library", "1.0.0")
		p.File("lib/net6.0/Helper.Library.dll", helper.Bytes())
		p.File("lib/net6.0/Cake.Renamed.dll", addinDLL("Cake.Renamed").Bytes())

		pkg := core.NewPackageVersion("Helper.Library", "1.0.0")
		inspectBytes(t, pkg, p.Bytes(), nil)
		assert.Equal(t, "lib/net6.0/Helper.Library.dll", pkg.PrimaryBinary)
		assert.Equal(t, core.TypeUnknown, pkg.Type)
	})
}

func TestInspectBrokenBinary(t *testing.T) {
	p := inspecttest.New("Cake.Broken", "1.0.0")
	p.File("lib/netstandard2.0/Cake.Broken.dll", []byte("MZ but not really"))

	pkg := core.NewPackageVersion("Cake.Broken", "1.0.0")
	inspectBytes(t, pkg, p.Bytes(), nil)

	assert.Equal(t, core.TypeUnknown, pkg.Type)
	require.Len(t, pkg.Compliance.Notes, 2)
	assert.Contains(t, pkg.Compliance.Notes[0], "loading lib/netstandard2.0/Cake.Broken.dll")
}

func TestSymbolTiers(t *testing.T) {
	dll := "lib/netstandard2.0/Addin.Example.dll"
	pdb := "lib/netstandard2.0/Addin.Example.pdb"

	tests := []struct {
		name   string
		files  map[string][]byte
		snupkg []byte
		want   core.SymbolStatus
	}{
		{
			name: "none",
			files: map[string][]byte{
				dll: addinDLL("Addin.Example").Bytes(),
			},
			want: core.SymbolStatus{},
		},
		{
			name: "pdb in package",
			files: map[string][]byte{
				dll: addinDLL("Addin.Example").Bytes(),
				pdb: clrtest.PortablePDB(true),
			},
			want: core.SymbolStatus{Source: core.SymbolsInPackage, SourceLink: true},
		},
		{
			name: "windows pdb in package",
			files: map[string][]byte{
				dll: addinDLL("Addin.Example").Bytes(),
				pdb: clrtest.WindowsPDB(false),
			},
			want: core.SymbolStatus{Source: core.SymbolsInPackage},
		},
		{
			name: "embedded",
			files: map[string][]byte{
				dll: addinDLL("Addin.Example").
					CodeView(uuid.New(), "Addin.Example.pdb").
					EmbeddedPDB(clrtest.PortablePDB(true)).
					Bytes(),
			},
			want: core.SymbolStatus{Source: core.SymbolsEmbedded, SourceLink: true},
		},
		{
			name: "package pdb before symbols package",
			files: map[string][]byte{
				dll: addinDLL("Addin.Example").Bytes(),
				pdb: clrtest.PortablePDB(false),
			},
			snupkg: inspecttest.Zip(map[string][]byte{pdb: clrtest.PortablePDB(true)}),
			want:   core.SymbolStatus{Source: core.SymbolsInPackage},
		},
		{
			name: "symbols package",
			files: map[string][]byte{
				dll: addinDLL("Addin.Example").Bytes(),
			},
			snupkg: inspecttest.Zip(map[string][]byte{pdb: clrtest.PortablePDB(true)}),
			want:   core.SymbolStatus{Source: core.SymbolsInSymbolPackage, SourceLink: true},
		},
		{
			name: "symbols package at another path",
			files: map[string][]byte{
				dll: addinDLL("Addin.Example").Bytes(),
			},
			snupkg: inspecttest.Zip(map[string][]byte{"lib/net6.0/Addin.Example.pdb": clrtest.PortablePDB(false)}),
			want:   core.SymbolStatus{Source: core.SymbolsInSymbolPackage},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := inspecttest.New("Addin.Example", "1.0.0")
			for name, data := range tt.files {
				p.File(name, data)
			}
			pkg := core.NewPackageVersion("Addin.Example", "1.0.0")
			inspectBytes(t, pkg, p.Bytes(), tt.snupkg)
			assert.Equal(t, tt.want, pkg.Symbols)
			assert.Empty(t, pkg.Compliance.Notes)
		})
	}
}

func TestEmbeddedIcon(t *testing.T) {
	icons := inspect.DefaultIcons()
	p := inspecttest.New("Addin.Example", "1.0.0")
	p.Icon = "images/icon.png"
	p.File("images/icon.png", icons.Standard)
	p.File("lib/netstandard2.0/Addin.Example.dll", addinDLL("Addin.Example").Bytes())

	pkg := core.NewPackageVersion("Addin.Example", "1.0.0")
	inspectBytes(t, pkg, p.Bytes(), nil)

	assert.Equal(t, icons.Standard, pkg.EmbeddedIcon)
	for _, f := range pkg.Files {
		if f.Path == "images/icon.png" {
			assert.Equal(t, core.RoleIcon, f.Role)
		}
	}
	assert.Equal(t, core.IconRecommendedEmbedded, icons.Grade(pkg))
}

func TestInspectFile(t *testing.T) {
	dir := t.TempDir()
	p := inspecttest.New("Addin.Example", "1.2.3")
	p.File("lib/netstandard2.0/Addin.Example.dll", addinDLL("Addin.Example").Bytes())
	file := filepath.Join(dir, "addin.example.1.2.3.nupkg")
	require.NoError(t, os.WriteFile(file, p.Bytes(), 0o644))
	snupkg := inspecttest.Zip(map[string][]byte{"lib/netstandard2.0/Addin.Example.pdb": clrtest.PortablePDB(true)})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "addin.example.1.2.3.snupkg"), snupkg, 0o644))

	in := inspect.New(inspect.DefaultOptions(), nil)
	pkg, err := in.InspectFile(t.Context(), file)
	require.NoError(t, err)
	assert.Equal(t, "Addin.Example", pkg.Name)
	assert.Equal(t, "1.2.3", pkg.Version)
	assert.Equal(t, core.TypeAddin, pkg.Type)
	assert.Equal(t, core.SymbolsInSymbolPackage, pkg.Symbols.Source)
}

func TestInspectNoManifest(t *testing.T) {
	data := inspecttest.Zip(map[string][]byte{"lib/x.dll": []byte("x")})
	in := inspect.New(inspect.DefaultOptions(), nil)
	err := in.InspectArchive(core.NewPackageVersion("x", "1.0.0"), data, nil)
	assert.ErrorIs(t, err, inspect.ErrNoManifest)
}

func TestInspectRequiresDownload(t *testing.T) {
	in := inspect.New(inspect.DefaultOptions(), nil)
	err := in.Inspect(t.Context(), core.NewPackageVersion("x", "1.0.0"))
	assert.Error(t, err)
}
