// Package snapshot persists analyzed package versions so later runs only do
// the expensive work for versions they have not seen.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

const ext = ".json"

// Record is the persisted form of one analyzed version.
type Record struct {
	PackageURL string `json:"purl"`
	core.PackageVersion
}

// History is the aggregate of every known version, written at the end of a
// run.
type History struct {
	RunID       string                `json:"run_id,omitempty"`
	GeneratedAt time.Time             `json:"generated_at"`
	Packages    []core.PackageVersion `json:"packages"`
}

// Store reads and writes snapshots in a directory and the history file.
type Store struct {
	dir     string
	history string
}

// New creates a store. history may be empty.
func New(dir, history string) *Store {
	return &Store{dir: dir, history: history}
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// FileName is the snapshot file name of a version. The @ separator cannot
// occur in either part, so distinct versions never share a file.
func FileName(name, version string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch r {
			case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '@':
				return '_'
			}
			return r
		}, strings.ToLower(s))
	}
	return clean(name) + "@" + clean(version) + ext
}

// Save writes the snapshot of pkg. The output only depends on pkg, so saving
// an unchanged version rewrites identical bytes.
func (s *Store) Save(pkg *core.PackageVersion) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(Record{PackageURL: pkg.PURL(), PackageVersion: *pkg}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", pkg.Key(), err)
	}
	return writeAtomic(filepath.Join(s.dir, FileName(pkg.Name, pkg.Version)), append(data, '\n'))
}

// Load reads every snapshot in the directory and the history file, merged.
// Snapshots take precedence over history entries for the same version. A
// missing directory or history file is not an error.
func (s *Store) Load() (*Index, error) {
	idx := NewIndex()

	if s.history != "" {
		h, err := ReadHistory(s.history)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			for i := range h.Packages {
				idx.Add(&h.Packages[i])
			}
		}
	}

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", e.Name(), err)
		}
		pkg := rec.PackageVersion
		idx.Add(&pkg)
	}
	return idx, nil
}

// ReadHistory decodes a history file.
func ReadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &h, nil
}

// WriteHistory writes every version in idx to the history file.
func (s *Store) WriteHistory(idx *Index, runID string, now time.Time) error {
	if s.history == "" {
		return nil
	}
	h := History{RunID: runID, GeneratedAt: now.UTC()}
	for _, p := range idx.All() {
		h.Packages = append(h.Packages, *p)
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.history), 0o755); err != nil {
		return err
	}
	return writeAtomic(s.history, append(data, '\n'))
}

// Clear removes every snapshot file.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ext {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Index holds, per package name, one entry per distinct version. Keys are
// case-insensitive. It is not safe for concurrent mutation.
type Index struct {
	byName map[string]map[string]*core.PackageVersion
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byName: make(map[string]map[string]*core.PackageVersion)}
}

// Add inserts pkg, replacing an existing entry for the same version and
// leaving other versions of the package alone.
func (x *Index) Add(pkg *core.PackageVersion) {
	k := pkg.Key()
	versions, ok := x.byName[k.Name]
	if !ok {
		versions = make(map[string]*core.PackageVersion)
		x.byName[k.Name] = versions
	}
	versions[k.Version] = pkg
}

// Has reports whether the version is known.
func (x *Index) Has(name, version string) bool {
	_, ok := x.Get(name, version)
	return ok
}

// Get returns a known version.
func (x *Index) Get(name, version string) (*core.PackageVersion, bool) {
	k := core.NewKey(name, version)
	p, ok := x.byName[k.Name][k.Version]
	return p, ok
}

// Versions returns the known versions of name, lowest first.
func (x *Index) Versions(name string) []*core.PackageVersion {
	versions := x.byName[strings.ToLower(name)]
	out := make([]*core.PackageVersion, 0, len(versions))
	for _, p := range versions {
		out = append(out, p)
	}
	sortVersions(out)
	return out
}

// Latest returns the highest known version of name.
func (x *Index) Latest(name string) (*core.PackageVersion, bool) {
	v := x.Versions(name)
	if len(v) == 0 {
		return nil, false
	}
	return v[len(v)-1], true
}

// Len returns the number of versions.
func (x *Index) Len() int {
	n := 0
	for _, v := range x.byName {
		n += len(v)
	}
	return n
}

// All returns every version ordered by name, then version.
func (x *Index) All() []*core.PackageVersion {
	names := make([]string, 0, len(x.byName))
	for n := range x.byName {
		names = append(names, n)
	}
	sort.Strings(names)

	var out []*core.PackageVersion
	for _, n := range names {
		out = append(out, x.Versions(n)...)
	}
	return out
}

// LatestVersions returns the highest version of every package, ordered by
// name.
func (x *Index) LatestVersions() []*core.PackageVersion {
	names := make([]string, 0, len(x.byName))
	for n := range x.byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]*core.PackageVersion, 0, len(names))
	for _, n := range names {
		if p, ok := x.Latest(n); ok {
			out = append(out, p)
		}
	}
	return out
}

func sortVersions(pkgs []*core.PackageVersion) {
	sort.Slice(pkgs, func(i, j int) bool {
		a, b := semver.ParseOrUnknown(pkgs[i].Version), semver.ParseOrUnknown(pkgs[j].Version)
		if c := semver.Compare(a, b); c != 0 {
			return c < 0
		}
		return pkgs[i].Version < pkgs[j].Version
	})
}
