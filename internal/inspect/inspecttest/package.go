// Package inspecttest builds nupkg and snupkg archives for tests.
package inspecttest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zip"
)

// Dependency is a declared dependency written into the manifest.
type Dependency struct {
	ID              string
	Version         string
	TargetFramework string
}

// Package describes the archive to build.
type Package struct {
	ID           string
	Version      string
	Authors      string
	Description  string
	Tags         string
	ProjectURL   string
	IconURL      string
	Icon         string
	License      string
	Repository   string
	Dependencies []Dependency

	files map[string][]byte
}

// New starts a package with the given identity.
func New(id, version string) *Package {
	return &Package{
		ID:          id,
		Version:     version,
		Authors:     "Example Author",
		Description: "Example package",
		files:       make(map[string][]byte),
	}
}

// File adds an entry to the archive.
func (p *Package) File(name string, data []byte) *Package {
	p.files[name] = data
	return p
}

// Nuspec renders the manifest.
func (p *Package) Nuspec() []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	buf.WriteString(`<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">` + "\n<metadata>\n")
	elem := func(name, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&buf, "<%s>", name)
		_ = xml.EscapeText(&buf, []byte(value))
		fmt.Fprintf(&buf, "</%s>\n", name)
	}
	elem("id", p.ID)
	elem("version", p.Version)
	elem("authors", p.Authors)
	elem("description", p.Description)
	elem("tags", p.Tags)
	elem("projectUrl", p.ProjectURL)
	elem("iconUrl", p.IconURL)
	elem("icon", p.Icon)
	if p.License != "" {
		fmt.Fprintf(&buf, "<license type=\"expression\">%s</license>\n", p.License)
	}
	if p.Repository != "" {
		fmt.Fprintf(&buf, "<repository type=\"git\" url=\"%s\" />\n", p.Repository)
	}
	if len(p.Dependencies) > 0 {
		buf.WriteString("<dependencies>\n")
		groups := make(map[string][]Dependency)
		var fws []string
		for _, d := range p.Dependencies {
			if _, ok := groups[d.TargetFramework]; !ok {
				fws = append(fws, d.TargetFramework)
			}
			groups[d.TargetFramework] = append(groups[d.TargetFramework], d)
		}
		sort.Strings(fws)
		for _, fw := range fws {
			fmt.Fprintf(&buf, "<group targetFramework=\"%s\">\n", fw)
			for _, d := range groups[fw] {
				fmt.Fprintf(&buf, "<dependency id=\"%s\" version=\"%s\" />\n", d.ID, d.Version)
			}
			buf.WriteString("</group>\n")
		}
		buf.WriteString("</dependencies>\n")
	}
	buf.WriteString("</metadata>\n</package>\n")
	return buf.Bytes()
}

// Bytes returns the nupkg with the manifest and every added file.
func (p *Package) Bytes() []byte {
	files := map[string][]byte{p.ID + ".nuspec": p.Nuspec()}
	for k, v := range p.files {
		files[k] = v
	}
	return Zip(files)
}

// Zip writes files into an archive in name order.
func Zip(files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(files[n]); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
