package inspect

import (
	"path"
	"strings"

	"github.com/git-pkgs/addinaudit/internal/clr"
	"github.com/git-pkgs/addinaudit/internal/core"
)

// symbols checks for debug symbols in order: a pdb next to the primary
// binary in the package, a pdb embedded in the binary, then a pdb in the
// separate symbols package. The first tier with symbols wins and decides
// whether Source Link is present.
func (in *Inspector) symbols(pkg *core.PackageVersion, a *Archive, primary []loaded, snupkg []byte) core.SymbolStatus {
	for _, l := range primary {
		p := sibling(l.path, ".pdb")
		if !a.Has(p) {
			continue
		}
		return core.SymbolStatus{Source: core.SymbolsInPackage, SourceLink: in.sourceLink(pkg, a, p)}
	}

	for _, l := range primary {
		data, ok, err := l.asm.Image().EmbeddedPDB()
		if err != nil {
			pkg.AddNote("reading embedded pdb of %s: %v", l.path, err)
			continue
		}
		if !ok {
			continue
		}
		info, err := clr.ReadPDB(data)
		if err != nil {
			pkg.AddNote("reading embedded pdb of %s: %v", l.path, err)
		}
		return core.SymbolStatus{Source: core.SymbolsEmbedded, SourceLink: err == nil && info.SourceLink}
	}

	if len(snupkg) == 0 {
		return core.SymbolStatus{}
	}
	sa, err := OpenArchive(snupkg)
	if err != nil {
		pkg.AddNote("opening symbols package: %v", err)
		return core.SymbolStatus{}
	}
	for _, l := range primary {
		if p, ok := findPDB(sa, l.path); ok {
			return core.SymbolStatus{Source: core.SymbolsInSymbolPackage, SourceLink: in.sourceLink(pkg, sa, p)}
		}
	}
	return core.SymbolStatus{}
}

// findPDB looks for the pdb of binary in a symbols package, first at the
// mirrored path and then anywhere with the same file name.
func findPDB(a *Archive, binary string) (string, bool) {
	if p := sibling(binary, ".pdb"); a.Has(p) {
		return p, true
	}
	want := strings.ToLower(baseName(binary) + ".pdb")
	for _, p := range a.Paths() {
		if strings.ToLower(path.Base(p)) == want {
			return p, true
		}
	}
	return "", false
}

func (in *Inspector) sourceLink(pkg *core.PackageVersion, a *Archive, p string) bool {
	data, err := a.ReadFile(p)
	if err != nil {
		pkg.AddNote("reading %s: %v", p, err)
		return false
	}
	info, err := clr.ReadPDB(data)
	if err != nil {
		pkg.AddNote("reading %s: %v", p, err)
		return false
	}
	return info.SourceLink
}
