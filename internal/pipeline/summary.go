package pipeline

import (
	"github.com/git-pkgs/addinaudit/internal/core"
)

// Summary partitions results into clean packages and exceptions. The counts
// only cover clean packages.
type Summary struct {
	Total       int
	Clean       []*core.PackageVersion
	Exceptions  []*core.PackageVersion
	ByType      map[core.PackageType]int
	ByIcon      map[core.IconCompliance]int
	UpToDate    int
	Recipe      int
	Transferred int
}

// Summarize builds the summary of pkgs. A package with notes is an
// exception and does not count toward any aggregate.
func Summarize(pkgs []*core.PackageVersion) Summary {
	s := Summary{
		Total:  len(pkgs),
		ByType: make(map[core.PackageType]int),
		ByIcon: make(map[core.IconCompliance]int),
	}
	for _, p := range pkgs {
		if p.HasNotes() {
			s.Exceptions = append(s.Exceptions, p)
			continue
		}
		s.Clean = append(s.Clean, p)
		s.ByType[p.Type]++
		s.ByIcon[p.Compliance.Icon]++
		if p.Compliance.UpToDate {
			s.UpToDate++
		}
		if p.Compliance.UsesRecipe {
			s.Recipe++
		}
		if p.Compliance.OwnershipTransferred {
			s.Transferred++
		}
	}
	return s
}
