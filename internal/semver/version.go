// Package semver parses and orders the version strings found on packages,
// assembly references and build tool releases.
package semver

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrFormat is returned when a string is not a valid version.
var ErrFormat = errors.New("invalid version format")

var versionPattern = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:\.(\d+))?(?:-([0-9A-Za-z\-\.]+))?(?:\+([0-9A-Za-z\-\.]+))?$`)

// Version is a parsed version. The zero value is the explicit version 0.0.0;
// use Unknown when a version could not be determined.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Revision   int
	Prerelease string
	Build      string

	unknown bool
}

// Unknown is the sentinel used when a reference version cannot be determined.
// It sorts below every parsed version and is never up to date.
var Unknown = Version{unknown: true}

// Parse parses s into a Version. Minor, patch and a fourth revision component
// are optional, so "1", "1.2", "1.2.3" and "1.2.3.4" are all accepted.
func Parse(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Unknown, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	var v Version
	parts := []*int{&v.Major, &v.Minor, &v.Patch, &v.Revision}
	for i, p := range parts {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Unknown, fmt.Errorf("%w: %q: %v", ErrFormat, s, err)
		}
		*p = n
	}
	v.Prerelease = m[5]
	v.Build = m[6]

	if v.Prerelease != "" {
		for _, id := range strings.Split(v.Prerelease, ".") {
			if id == "" {
				return Unknown, fmt.Errorf("%w: %q: empty prerelease identifier", ErrFormat, s)
			}
		}
	}

	return v, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseOrUnknown returns Unknown instead of an error.
func ParseOrUnknown(s string) Version {
	v, err := Parse(s)
	if err != nil {
		return Unknown
	}
	return v
}

// IsUnknown reports whether v is the Unknown sentinel.
func (v Version) IsUnknown() bool {
	return v.unknown
}

// IsPrerelease reports whether v carries a prerelease label.
func (v Version) IsPrerelease() bool {
	return !v.unknown && v.Prerelease != ""
}

func (v Version) String() string {
	if v.unknown {
		return "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Revision > 0 {
		fmt.Fprintf(&b, ".%d", v.Revision)
	}
	if v.Prerelease != "" {
		b.WriteByte('-')
		b.WriteString(v.Prerelease)
	}
	if v.Build != "" {
		b.WriteByte('+')
		b.WriteString(v.Build)
	}
	return b.String()
}

// Compare returns -1, 0 or 1. Build labels are ignored.
func Compare(a, b Version) int {
	switch {
	case a.unknown && b.unknown:
		return 0
	case a.unknown:
		return -1
	case b.unknown:
		return 1
	}

	if c := compareInt(a.Major, b.Major); c != 0 {
		return c
	}
	if c := compareInt(a.Minor, b.Minor); c != 0 {
		return c
	}
	if c := compareInt(a.Patch, b.Patch); c != 0 {
		return c
	}
	if c := compareInt(a.Revision, b.Revision); c != 0 {
		return c
	}
	return comparePrerelease(a.Prerelease, b.Prerelease)
}

// Compare is the method form of Compare.
func (v Version) Compare(o Version) int {
	return Compare(v, o)
}

// Equal reports whether v and o order equally. Build labels are ignored.
func (v Version) Equal(o Version) bool {
	return Compare(v, o) == 0
}

// LessThan reports whether v orders before o.
func (v Version) LessThan(o Version) bool {
	return Compare(v, o) < 0
}

// GreaterThan reports whether v orders after o.
func (v Version) GreaterThan(o Version) bool {
	return Compare(v, o) > 0
}

// IsUpToDate reports whether v is at least target. Unknown is never up to date.
func (v Version) IsUpToDate(target Version) bool {
	if v.unknown || target.unknown {
		return false
	}
	return Compare(v, target) >= 0
}

// Min returns the lower of a and b. Unknown only wins when both are unknown.
func Min(a, b Version) Version {
	if a.unknown {
		return b
	}
	if b.unknown {
		return a
	}
	if Compare(b, a) < 0 {
		return b
	}
	return a
}

// MarshalText encodes Unknown as the empty string.
func (v Version) MarshalText() ([]byte, error) {
	if v.unknown {
		return []byte{}, nil
	}
	return []byte(v.String()), nil
}

// UnmarshalText decodes the empty string as Unknown.
func (v *Version) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*v = Unknown
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// comparePrerelease orders labels identifier by identifier. A missing label
// sorts above any label so releases rank above their prereleases.
func comparePrerelease(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}

	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareIdentifier(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return compareInt(len(as), len(bs))
}

func compareIdentifier(a, b string) int {
	an, aErr := strconv.Atoi(a)
	bn, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return compareInt(an, bn)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
