package inspect

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

// Nuspec is the package manifest found at the root of a nupkg.
type Nuspec struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		ID                       string             `xml:"id"`
		Version                  string             `xml:"version"`
		Title                    string             `xml:"title"`
		Authors                  string             `xml:"authors"`
		Owners                   string             `xml:"owners"`
		Description              string             `xml:"description"`
		Tags                     string             `xml:"tags"`
		ProjectURL               string             `xml:"projectUrl"`
		IconURL                  string             `xml:"iconUrl"`
		Icon                     string             `xml:"icon"`
		License                  nuspecLicense      `xml:"license"`
		LicenseURL               string             `xml:"licenseUrl"`
		Repository               *nuspecRepository  `xml:"repository"`
		RequireLicenseAcceptance bool               `xml:"requireLicenseAcceptance"`
		Dependencies             nuspecDependencies `xml:"dependencies"`
	} `xml:"metadata"`
}

type nuspecLicense struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type nuspecRepository struct {
	Type   string `xml:"type,attr"`
	URL    string `xml:"url,attr"`
	Branch string `xml:"branch,attr"`
	Commit string `xml:"commit,attr"`
}

type nuspecDependencies struct {
	Dependencies []nuspecDependency `xml:"dependency"`
	Groups       []struct {
		TargetFramework string             `xml:"targetFramework,attr"`
		Dependencies    []nuspecDependency `xml:"dependency"`
	} `xml:"group"`
}

type nuspecDependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
	Exclude string `xml:"exclude,attr"`
	Include string `xml:"include,attr"`
}

// ParseNuspec decodes a manifest. The repository element is read with a
// lenient token scan when the strict decode does not surface it.
func ParseNuspec(data []byte) (*Nuspec, error) {
	var n Nuspec
	err := xml.Unmarshal(data, &n)
	if n.Metadata.Repository == nil {
		n.Metadata.Repository = scanRepository(data)
	}
	if err != nil && n.Metadata.ID == "" {
		return nil, err
	}
	return &n, nil
}

// scanRepository walks the raw tokens for a <repository> element in any
// namespace and returns its attributes.
func scanRepository(data []byte) *nuspecRepository {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	for {
		tok, err := d.Token()
		if err != nil {
			return nil
		}
		se, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(se.Name.Local, "repository") {
			continue
		}
		r := &nuspecRepository{}
		for _, a := range se.Attr {
			switch strings.ToLower(a.Name.Local) {
			case "type":
				r.Type = a.Value
			case "url":
				r.URL = a.Value
			case "branch":
				r.Branch = a.Value
			case "commit":
				r.Commit = a.Value
			}
		}
		return r
	}
}

// Repository returns the declared repository, or nil.
func (n *Nuspec) Repository() *core.RepositoryInfo {
	r := n.Metadata.Repository
	if r == nil || (r.URL == "" && r.Type == "") {
		return nil
	}
	return &core.RepositoryInfo{
		Type:   r.Type,
		URL:    strings.TrimSpace(r.URL),
		Branch: r.Branch,
		Commit: r.Commit,
	}
}

// Dependencies flattens ungrouped and per-framework dependencies.
func (n *Nuspec) Dependencies() []core.Dependency {
	var deps []core.Dependency
	add := func(fw string, d nuspecDependency) {
		deps = append(deps, core.Dependency{
			Name:            d.ID,
			Requirements:    d.Version,
			TargetFramework: fw,
			Exclude:         d.Exclude,
			Scope:           core.Runtime,
		})
	}
	for _, d := range n.Metadata.Dependencies.Dependencies {
		add("", d)
	}
	for _, g := range n.Metadata.Dependencies.Groups {
		for _, d := range g.Dependencies {
			add(g.TargetFramework, d)
		}
	}
	return deps
}

// Tags splits the space separated tag list.
func (n *Nuspec) Tags() []string {
	return strings.Fields(n.Metadata.Tags)
}

// Apply copies manifest fields onto pkg without overwriting values the
// registry already supplied.
func (n *Nuspec) Apply(pkg *core.PackageVersion) {
	m := n.Metadata
	setIfEmpty(&pkg.Description, m.Description)
	setIfEmpty(&pkg.Maintainer, m.Authors)
	setIfEmpty(&pkg.ProjectURL, strings.TrimSpace(m.ProjectURL))
	setIfEmpty(&pkg.IconURL, strings.TrimSpace(m.IconURL))
	setIfEmpty(&pkg.LicenseURL, strings.TrimSpace(m.LicenseURL))
	if len(pkg.Tags) == 0 {
		pkg.Tags = n.Tags()
	}
	if len(pkg.Owners) == 0 && m.Owners != "" {
		for _, o := range strings.Split(m.Owners, ",") {
			if o = strings.TrimSpace(o); o != "" {
				pkg.Owners = append(pkg.Owners, o)
			}
		}
	}
	switch strings.ToLower(m.License.Type) {
	case "expression":
		pkg.LicenseExpression = strings.TrimSpace(m.License.Value)
	case "file":
		pkg.LicenseFile = strings.TrimSpace(m.License.Value)
	}
	if len(pkg.Dependencies) == 0 {
		pkg.Dependencies = n.Dependencies()
	}
	pkg.DeclaredRepo = n.Repository()
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// lowerBound extracts the minimum version of a NuGet version range such as
// "3.0.0", "[3.0.0, 4.0.0)" or "(,4.0]". Open lower bounds yield Unknown.
func lowerBound(requirement string) semver.Version {
	r := strings.TrimSpace(requirement)
	r = strings.TrimLeft(r, "[(")
	r = strings.TrimRight(r, "])")
	if i := strings.IndexByte(r, ','); i >= 0 {
		r = r[:i]
	}
	return semver.ParseOrUnknown(r)
}
