package inspect

import (
	"sort"
	"strings"

	"github.com/git-pkgs/addinaudit/internal/clr"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

// MergeReferences folds evidence about the same library into one reference
// per name (case-insensitive). The merged version is the minimum of the
// known versions, and the reference is private only when every piece of
// evidence says so. Results are sorted by name.
func MergeReferences(evidence []core.Reference) []core.Reference {
	merged := make(map[string]*core.Reference)
	var order []string
	for _, e := range evidence {
		key := strings.ToLower(e.Name)
		m, ok := merged[key]
		if !ok {
			r := e
			merged[key] = &r
			order = append(order, key)
			continue
		}
		m.Version = semver.Min(m.Version, e.Version)
		m.Private = m.Private && e.Private
		m.Sources |= e.Sources
	}

	sort.Strings(order)
	out := make([]core.Reference, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	return out
}

// dependencyEvidence turns declared dependencies into public references.
func dependencyEvidence(deps []core.Dependency, source core.MetadataSource) []core.Reference {
	refs := make([]core.Reference, 0, len(deps))
	for _, d := range deps {
		if d.Name == "" {
			continue
		}
		refs = append(refs, core.Reference{
			Name:    d.Name,
			Version: lowerBound(d.Requirements),
			Sources: source,
		})
	}
	return refs
}

// assemblyEvidence turns compiled references into private references; a
// library that is also declared as a dependency becomes public on merge.
func assemblyEvidence(asm *clr.Assembly) []core.Reference {
	refs := make([]core.Reference, 0, len(asm.References))
	for _, r := range asm.References {
		refs = append(refs, core.Reference{
			Name:    r.Name,
			Version: r.Version,
			Private: true,
			Sources: core.SourceAssembly,
		})
	}
	return refs
}

// FindReference returns the merged reference to name, if any.
func FindReference(refs []core.Reference, name string) (core.Reference, bool) {
	for _, r := range refs {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return core.Reference{}, false
}
