package inspect

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/git-pkgs/addinaudit/internal/core"
)

// Canonical icon URLs of the organization.
const (
	RecommendedIconURL = "https://cdn.jsdelivr.net/gh/cake-contrib/graphics/png/cake-contrib-medium.png"
	LegacyIconURL      = "https://cdn.rawgit.com/cake-contrib/graphics/a5cf0f881c390650144b2243ae551d5b9f836196/png/cake-contrib-medium.png"
)

//go:embed icons/*.png
var iconFS embed.FS

// IconSet holds the reference images and URLs an icon is graded against.
type IconSet struct {
	Standard       []byte
	Fancy          map[core.PackageType][]byte
	RecommendedURL string
	LegacyURL      string
}

// DefaultIcons returns the built-in reference images.
func DefaultIcons() IconSet {
	read := func(name string) []byte {
		b, err := iconFS.ReadFile("icons/" + name)
		if err != nil {
			panic(err)
		}
		return b
	}
	return IconSet{
		Standard: read("cake-contrib-medium.png"),
		Fancy: map[core.PackageType][]byte{
			core.TypeAddin:  read("cake-contrib-addin-fancy.png"),
			core.TypeModule: read("cake-contrib-module-fancy.png"),
			core.TypeRecipe: read("cake-contrib-recipe-fancy.png"),
		},
		RecommendedURL: RecommendedIconURL,
		LegacyURL:      LegacyIconURL,
	}
}

// LoadIcons overrides the built-in images with files on disk. Empty paths
// keep the default.
func LoadIcons(standard string, fancy map[core.PackageType]string) (IconSet, error) {
	set := DefaultIcons()
	if standard != "" {
		b, err := os.ReadFile(standard)
		if err != nil {
			return IconSet{}, fmt.Errorf("reading standard icon: %w", err)
		}
		set.Standard = b
	}
	for t, p := range fancy {
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return IconSet{}, fmt.Errorf("reading %s icon: %w", t, err)
		}
		set.Fancy[t] = b
	}
	return set, nil
}

// Grade classifies the icon of pkg. An embedded image identical to the
// standard one outranks a match on the fancy variant for the package's type;
// any other embedded image falls through to the linked URL, and is custom
// when there is none.
func (s IconSet) Grade(pkg *core.PackageVersion) core.IconCompliance {
	if len(pkg.EmbeddedIcon) > 0 {
		if bytes.Equal(pkg.EmbeddedIcon, s.Standard) {
			return core.IconRecommendedEmbedded
		}
		if fancy, ok := s.Fancy[pkg.Type]; ok && bytes.Equal(pkg.EmbeddedIcon, fancy) {
			return core.IconRecommendedEmbeddedFancy
		}
	}

	url := strings.TrimSpace(pkg.IconURL)
	switch {
	case url == "" && len(pkg.EmbeddedIcon) > 0:
		return core.IconCustom
	case url == "":
		return core.IconUnspecified
	case strings.EqualFold(url, s.RecommendedURL):
		return core.IconRecommendedLinked
	case strings.EqualFold(url, s.LegacyURL):
		return core.IconLegacyLinked
	}
	return core.IconCustom
}
