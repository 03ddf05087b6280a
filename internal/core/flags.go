package core

import (
	"fmt"
	"strings"
)

// PackageType is a set of package classifications. A classified package
// holds exactly one; filters may hold several.
type PackageType uint8

const (
	TypeUnknown PackageType = 0
	TypeAddin   PackageType = 1 << iota
	TypeModule
	TypeRecipe

	TypeAll = TypeAddin | TypeModule | TypeRecipe
)

var packageTypeNames = []struct {
	flag PackageType
	name string
}{
	{TypeAddin, "Addin"},
	{TypeModule, "Module"},
	{TypeRecipe, "Recipe"},
}

// Has reports whether every type in o is in t.
func (t PackageType) Has(o PackageType) bool {
	return o != TypeUnknown && t&o == o
}

func (t PackageType) String() string {
	if t == TypeUnknown {
		return "Unknown"
	}
	var names []string
	for _, n := range packageTypeNames {
		if t.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// ParsePackageType parses names joined with "|" or ",".
func ParsePackageType(s string) (PackageType, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "unknown") {
		return TypeUnknown, nil
	}
	var t PackageType
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		found := false
		for _, n := range packageTypeNames {
			if strings.EqualFold(part, n.name) {
				t |= n.flag
				found = true
				break
			}
		}
		if !found {
			return TypeUnknown, fmt.Errorf("unknown package type %q", part)
		}
	}
	return t, nil
}

func (t PackageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PackageType) UnmarshalText(text []byte) error {
	parsed, err := ParsePackageType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MetadataSource is a set of places a piece of evidence came from.
type MetadataSource uint8

const (
	SourceRegistry MetadataSource = 1 << iota
	SourceManifest
	SourceAssembly
	SourceSymbols
)

var metadataSourceNames = []struct {
	flag MetadataSource
	name string
}{
	{SourceRegistry, "registry"},
	{SourceManifest, "manifest"},
	{SourceAssembly, "assembly"},
	{SourceSymbols, "symbols"},
}

// Has reports whether every source in o is in s.
func (s MetadataSource) Has(o MetadataSource) bool {
	return o != 0 && s&o == o
}

func (s MetadataSource) String() string {
	var names []string
	for _, n := range metadataSourceNames {
		if s.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

func (s MetadataSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MetadataSource) UnmarshalText(text []byte) error {
	var out MetadataSource
	for _, part := range strings.Split(string(text), "|") {
		if part == "" {
			continue
		}
		found := false
		for _, n := range metadataSourceNames {
			if part == n.name {
				out |= n.flag
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown metadata source %q", part)
		}
	}
	*s = out
	return nil
}
