package core

import (
	"fmt"

	packageurl "github.com/package-url/packageurl-go"
)

// Ecosystem is the PURL type of every package this tool audits.
const Ecosystem = "nuget"

// PURL returns the package URL for a package version. An empty version yields
// a package PURL.
func PURL(name, version string) string {
	return packageurl.NewPackageURL(Ecosystem, "", name, version, nil, "").ToString()
}

// ParsePURL extracts the package name and version from a nuget PURL.
func ParsePURL(purl string) (name, version string, err error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return "", "", err
	}
	if p.Type != packageurl.TypeNuget {
		return "", "", fmt.Errorf("unsupported PURL type %q, want %q", p.Type, Ecosystem)
	}
	return p.Name, p.Version, nil
}
