// Package core provides the shared data model of the audit pipeline.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/git-pkgs/addinaudit/internal/semver"
)

// PackageVersion is one immutable published version of one package. It is
// created by discovery and enriched by every later step.
type PackageVersion struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Maintainer  string    `json:"maintainer,omitempty"`
	Owners      []string  `json:"owners,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	RegistryURL string    `json:"registry_url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Deprecated  bool      `json:"deprecated,omitempty"`
	Prerelease  bool      `json:"prerelease,omitempty"`

	IconURL      string `json:"icon_url,omitempty"`
	EmbeddedIcon []byte `json:"embedded_icon,omitempty"`

	Frameworks   []string     `json:"frameworks,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`

	ProjectURL      string          `json:"project_url,omitempty"`
	RepositoryURL   string          `json:"repository_url,omitempty"`
	RepositoryOwner string          `json:"repository_owner,omitempty"`
	RepositoryName  string          `json:"repository_name,omitempty"`
	DeclaredRepo    *RepositoryInfo `json:"declared_repository,omitempty"`

	LicenseExpression string `json:"license_expression,omitempty"`
	LicenseFile       string `json:"license_file,omitempty"`
	LicenseURL        string `json:"license_url,omitempty"`

	Type                PackageType  `json:"type"`
	Files               []File       `json:"files,omitempty"`
	PrimaryBinary       string       `json:"primary_binary,omitempty"`
	References          []Reference  `json:"references,omitempty"`
	AliasMethods        []string     `json:"alias_methods,omitempty"`
	AliasCategories     []string     `json:"alias_categories,omitempty"`
	Symbols             SymbolStatus `json:"symbols"`
	HasXMLDocumentation bool         `json:"has_xml_documentation,omitempty"`

	Compliance ComplianceResult `json:"compliance"`

	// Local paths of the downloaded archives. Never persisted.
	ArchivePath string `json:"-"`
	SymbolsPath string `json:"-"`

	// Retry marks a version whose result depends on a failure that may not
	// recur, so it is reported but not saved.
	Retry bool `json:"-"`
}

// NewPackageVersion returns a version with an empty compliance record and an
// Unknown classification.
func NewPackageVersion(name, version string) *PackageVersion {
	return &PackageVersion{
		Name:    name,
		Version: version,
		Type:    TypeUnknown,
		Compliance: ComplianceResult{
			CoreReference:   LibraryReference{Version: semver.Unknown},
			CommonReference: LibraryReference{Version: semver.Unknown},
			Icon:            IconUnspecified,
			RecipeVersion:   semver.Unknown,
		},
	}
}

// Key identifies the version in caches and snapshots.
func (p *PackageVersion) Key() Key {
	return NewKey(p.Name, p.Version)
}

// AddNote records a recoverable failure against the package.
func (p *PackageVersion) AddNote(format string, args ...any) {
	p.Compliance.Notes = append(p.Compliance.Notes, fmt.Sprintf(format, args...))
}

// AddTransientNote records a failure that a later run may not see, such as a
// network error, and marks the version for retry.
func (p *PackageVersion) AddTransientNote(format string, args ...any) {
	p.AddNote(format, args...)
	p.Retry = true
}

// HasNotes reports whether any failure was recorded.
func (p *PackageVersion) HasNotes() bool {
	return len(p.Compliance.Notes) > 0
}

// PURL returns the package URL of this version.
func (p *PackageVersion) PURL() string {
	return PURL(p.Name, p.Version)
}

// Key is a case-insensitive (name, version) identity.
type Key struct {
	Name    string
	Version string
}

// NewKey normalizes name and version for comparison.
func NewKey(name, version string) Key {
	return Key{Name: strings.ToLower(name), Version: strings.ToLower(version)}
}

func (k Key) String() string {
	return k.Name + "@" + k.Version
}

// RepositoryInfo is the repository element declared in the package metadata.
type RepositoryInfo struct {
	Type   string `json:"type,omitempty"`
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// Dependency represents a declared package dependency.
type Dependency struct {
	Name            string `json:"name"`
	Requirements    string `json:"requirements,omitempty"`
	TargetFramework string `json:"target_framework,omitempty"`
	Exclude         string `json:"exclude,omitempty"`
	Scope           Scope  `json:"scope,omitempty"`
	Optional        bool   `json:"optional,omitempty"`
}

// Scope indicates when a dependency is required.
type Scope string

const (
	Runtime     Scope = "runtime"
	Development Scope = "development"
	Build       Scope = "build"
)

// Reference is one piece of evidence that the package depends on a library,
// either from the declared dependencies or from the compiled binary.
type Reference struct {
	Name    string         `json:"name"`
	Version semver.Version `json:"version"`
	Private bool           `json:"private"`
	Sources MetadataSource `json:"sources"`
}

// File is one entry of a package archive.
type File struct {
	Path string   `json:"path"`
	Role FileRole `json:"role"`
}

// FileRole classifies archive entries.
type FileRole string

const (
	RoleBinary        FileRole = "binary"
	RoleDocumentation FileRole = "documentation"
	RoleIcon          FileRole = "icon"
	RoleSymbols       FileRole = "symbols"
	RoleConfiguration FileRole = "configuration"
	RoleMetadata      FileRole = "metadata"
	RoleOther         FileRole = "other"
)

// SymbolSource tells where debug symbols were found.
type SymbolSource string

const (
	SymbolsNone            SymbolSource = ""
	SymbolsInPackage       SymbolSource = "package"
	SymbolsEmbedded        SymbolSource = "embedded"
	SymbolsInSymbolPackage SymbolSource = "symbols-package"
)

// SymbolStatus is the outcome of the symbol availability check.
type SymbolStatus struct {
	Source     SymbolSource `json:"source,omitempty"`
	SourceLink bool         `json:"source_link,omitempty"`
}

// Available reports whether any tier found symbols.
func (s SymbolStatus) Available() bool {
	return s.Source != SymbolsNone
}

// IconCompliance grades the package icon.
type IconCompliance string

const (
	IconUnspecified              IconCompliance = "unspecified"
	IconCustom                   IconCompliance = "custom"
	IconRecommendedEmbedded      IconCompliance = "recommended-embedded"
	IconRecommendedEmbeddedFancy IconCompliance = "recommended-embedded-fancy"
	IconRecommendedLinked        IconCompliance = "recommended-linked"
	IconLegacyLinked             IconCompliance = "legacy-linked"
)

// CakeVersion is one release of the host build tool used as a compliance
// yardstick.
type CakeVersion struct {
	Version           semver.Version `json:"version" yaml:"version"`
	RequiredFramework string         `json:"required_framework" yaml:"required_framework"`
	OptionalFramework string         `json:"optional_framework,omitempty" yaml:"optional_framework,omitempty"`
}

// LibraryReference is the merged reference to one of the host libraries.
type LibraryReference struct {
	Version semver.Version `json:"version"`
	Private bool           `json:"private"`
}

// Referenced reports whether any evidence of the library was found.
func (r LibraryReference) Referenced() bool {
	return !r.Version.IsUnknown()
}

// Compatibility records how a package measures against one CakeVersion.
type Compatibility struct {
	CakeVersion       string `json:"cake_version"`
	CoreUpToDate      bool   `json:"core_up_to_date"`
	CommonUpToDate    bool   `json:"common_up_to_date"`
	RequiredFramework bool   `json:"required_framework"`
	OptionalFramework bool   `json:"optional_framework"`
}

// Compatible reports whether every reference and the required framework are
// in line with the Cake version.
func (c Compatibility) Compatible() bool {
	return c.CoreUpToDate && c.CommonUpToDate && c.RequiredFramework
}

// ComplianceResult is the verdict for one PackageVersion.
type ComplianceResult struct {
	CoreReference          LibraryReference `json:"core_reference"`
	CommonReference        LibraryReference `json:"common_reference"`
	Icon                   IconCompliance   `json:"icon"`
	OwnershipTransferred   bool             `json:"ownership_transferred"`
	LicenseDeclared        bool             `json:"license_declared"`
	RepositoryInfoProvided bool             `json:"repository_info_provided"`
	UsesRecipe             bool             `json:"uses_recipe"`
	RecipeVersion          semver.Version   `json:"recipe_version"`
	RecipePrerelease       bool             `json:"recipe_prerelease,omitempty"`
	Compatibility          []Compatibility  `json:"compatibility,omitempty"`
	UpToDate               bool             `json:"up_to_date"`
	Notes                  []string         `json:"notes,omitempty"`
}
