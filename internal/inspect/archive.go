package inspect

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/git-pkgs/addinaudit/internal/core"
)

// maxEntrySize bounds how much of a single archive entry is read into memory.
const maxEntrySize = 64 << 20

// Archive is an opened nupkg or snupkg.
type Archive struct {
	zr    *zip.Reader
	files map[string]*zip.File
	paths []string
}

// OpenArchive reads a package archive from memory.
func OpenArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	a := &Archive{zr: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		p := normalizePath(f.Name)
		a.files[strings.ToLower(p)] = f
		a.paths = append(a.paths, p)
	}
	sort.Strings(a.paths)
	return a, nil
}

// Paths returns every file in the archive, sorted.
func (a *Archive) Paths() []string {
	return a.paths
}

// Has reports whether the archive contains p (case-insensitive).
func (a *Archive) Has(p string) bool {
	_, ok := a.files[strings.ToLower(normalizePath(p))]
	return ok
}

// ReadFile returns the content of p (case-insensitive).
func (a *Archive) ReadFile(p string) ([]byte, error) {
	f, ok := a.files[strings.ToLower(normalizePath(p))]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, core.ErrNotFound)
	}
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("%s: entry too large (%d bytes)", p, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// Nuspec returns the path of the manifest at the archive root.
func (a *Archive) Nuspec() (string, bool) {
	for _, p := range a.paths {
		if !strings.Contains(p, "/") && strings.EqualFold(path.Ext(p), ".nuspec") {
			return p, true
		}
	}
	return "", false
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return strings.TrimPrefix(p, "/")
}

// Role classifies an archive entry. icon is the manifest's icon path.
func Role(p, icon string) core.FileRole {
	lower := strings.ToLower(p)
	if icon != "" && lower == strings.ToLower(normalizePath(icon)) {
		return core.RoleIcon
	}
	switch {
	case strings.HasPrefix(lower, "_rels/"), strings.HasPrefix(lower, "package/"),
		lower == "[content_types].xml", strings.HasSuffix(lower, ".psmdcp"), lower == ".signature.p7s":
		return core.RoleOther
	}
	dir := strings.SplitN(lower, "/", 2)[0]
	switch path.Ext(lower) {
	case ".nuspec":
		return core.RoleMetadata
	case ".dll", ".exe":
		if dir == "lib" || dir == "tools" {
			return core.RoleBinary
		}
	case ".xml":
		if dir == "lib" {
			return core.RoleDocumentation
		}
	case ".pdb":
		return core.RoleSymbols
	case ".png", ".jpg", ".jpeg", ".ico", ".svg":
		return core.RoleIcon
	case ".json", ".config", ".props", ".targets":
		return core.RoleConfiguration
	}
	return core.RoleOther
}

// Files lists the archive entries with their roles.
func (a *Archive) Files(icon string) []core.File {
	files := make([]core.File, 0, len(a.paths))
	for _, p := range a.paths {
		files = append(files, core.File{Path: p, Role: Role(p, icon)})
	}
	return files
}

// Frameworks returns the distinct target framework folders under lib/.
func (a *Archive) Frameworks() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range a.paths {
		parts := strings.Split(p, "/")
		if len(parts) < 3 || !strings.EqualFold(parts[0], "lib") {
			continue
		}
		fw := strings.ToLower(parts[1])
		if !seen[fw] {
			seen[fw] = true
			out = append(out, fw)
		}
	}
	sort.Strings(out)
	return out
}

// sibling returns the archive path next to p with its extension swapped.
func sibling(p, ext string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + ext
}

// baseName is the file name of p without directory and extension.
func baseName(p string) string {
	b := path.Base(p)
	return strings.TrimSuffix(b, path.Ext(b))
}
