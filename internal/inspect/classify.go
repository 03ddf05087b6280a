package inspect

import (
	"strings"

	"github.com/git-pkgs/addinaudit/internal/core"
)

// Classify applies the classification rules in priority order: a package
// without binaries is a Recipe, a name with the module suffix is a Module,
// a primary binary with alias markers is an Addin. Anything else is Unknown.
func Classify(name string, hasBinaries, hasMarkers bool, moduleSuffix string) core.PackageType {
	switch {
	case !hasBinaries:
		return core.TypeRecipe
	case moduleSuffix != "" && strings.HasSuffix(strings.ToLower(name), strings.ToLower(moduleSuffix)):
		return core.TypeModule
	case hasMarkers:
		return core.TypeAddin
	}
	return core.TypeUnknown
}
