package fetch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/git-pkgs/addinaudit/client"
)

var (
	ErrUnsupportedEcosystem = errors.New("unsupported ecosystem")
	ErrNoDownloadURL        = errors.New("no download URL available")
)

// Registry provides URL information for artifact resolution.
type Registry interface {
	Ecosystem() string
	URLs() client.URLBuilder
}

// Kind selects which artifact of a package version to resolve.
type Kind int

const (
	// KindPackage is the package archive itself (.nupkg).
	KindPackage Kind = iota
	// KindSymbols is the companion symbol archive (.snupkg).
	KindSymbols
)

func (k Kind) String() string {
	if k == KindSymbols {
		return "symbols"
	}
	return "package"
}

// Resolver determines download URLs for package artifacts.
type Resolver struct {
	registries map[string]Registry
}

// NewResolver creates a new URL resolver.
func NewResolver() *Resolver {
	return &Resolver{
		registries: make(map[string]Registry),
	}
}

// RegisterRegistry adds a registry for URL resolution.
func (r *Resolver) RegisterRegistry(reg Registry) {
	r.registries[reg.Ecosystem()] = reg
}

// ArtifactInfo contains information about a downloadable artifact.
type ArtifactInfo struct {
	URL      string
	Filename string
	Kind     Kind
}

// Resolve returns the download URL and filename for a package artifact.
func (r *Resolver) Resolve(ecosystem, name, version string, kind Kind) (*ArtifactInfo, error) {
	reg, ok := r.registries[ecosystem]
	if !ok {
		return r.resolveWithoutRegistry(ecosystem, name, version, kind)
	}

	var url string
	switch kind {
	case KindSymbols:
		url = reg.URLs().Symbols(name, version)
	default:
		url = reg.URLs().Download(name, version)
	}
	if url == "" {
		return nil, fmt.Errorf("%w: %s %s@%s", ErrNoDownloadURL, kind, name, version)
	}

	return &ArtifactInfo{
		URL:      url,
		Filename: ArtifactFilename(name, version, kind),
		Kind:     kind,
	}, nil
}

// resolveWithoutRegistry handles the public gallery layout when no registry
// client is configured.
func (r *Resolver) resolveWithoutRegistry(ecosystem, name, version string, kind Kind) (*ArtifactInfo, error) {
	if ecosystem != "nuget" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEcosystem, ecosystem)
	}

	// Package IDs and versions are case-insensitive, use lowercase
	lowername := strings.ToLower(name)
	lowerversion := strings.ToLower(version)

	var url string
	switch kind {
	case KindSymbols:
		url = fmt.Sprintf("https://globalcdn.nuget.org/symbol-packages/%s.%s.snupkg", lowername, lowerversion)
	default:
		url = fmt.Sprintf("https://api.nuget.org/v3-flatcontainer/%s/%s/%s.%s.nupkg", lowername, lowerversion, lowername, lowerversion)
	}

	return &ArtifactInfo{
		URL:      url,
		Filename: ArtifactFilename(name, version, kind),
		Kind:     kind,
	}, nil
}

// ArtifactFilename is the cache filename of an artifact:
// lower(name).lower(version).nupkg or .snupkg.
func ArtifactFilename(name, version string, kind Kind) string {
	ext := ".nupkg"
	if kind == KindSymbols {
		ext = ".snupkg"
	}
	return strings.ToLower(name) + "." + strings.ToLower(version) + ext
}
