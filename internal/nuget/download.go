package nuget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/git-pkgs/addinaudit/fetch"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/semver"
)

// DownloadStatus distinguishes the outcomes of a download.
type DownloadStatus string

const (
	Succeeded DownloadStatus = "succeeded"
	Cached    DownloadStatus = "cached"
	NotFound  DownloadStatus = "not-found"
	Cancelled DownloadStatus = "cancelled"
)

// DownloadResult describes one artifact placed in the cache directory.
type DownloadResult struct {
	Path   string
	Status DownloadStatus
	Size   int64
}

// Download places the package archive in dir. An archive already cached under
// the same identity is reused without a network call.
func (r *Registry) Download(ctx context.Context, dir, name, version string) (*DownloadResult, error) {
	return r.download(ctx, dir, name, version, fetch.KindPackage)
}

// DownloadSymbols places the symbol archive in dir, with the same caching
// rules as Download.
func (r *Registry) DownloadSymbols(ctx context.Context, dir, name, version string) (*DownloadResult, error) {
	return r.download(ctx, dir, name, version, fetch.KindSymbols)
}

func (r *Registry) download(ctx context.Context, dir, name, version string, kind fetch.Kind) (*DownloadResult, error) {
	info, err := r.resolver.Resolve(ecosystem, name, version, kind)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, info.Filename)
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		return &DownloadResult{Path: path, Status: Cached, Size: fi.Size()}, nil
	}

	if err := ctx.Err(); err != nil {
		return &DownloadResult{Path: path, Status: Cancelled}, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	artifact, err := r.fetcher.Fetch(ctx, info.URL)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return &DownloadResult{Path: path, Status: Cancelled}, ctx.Err()
		case errors.Is(err, fetch.ErrNotFound):
			return &DownloadResult{Path: path, Status: NotFound},
				&core.NotFoundError{Ecosystem: ecosystem, Name: name, Version: version}
		}
		return nil, fmt.Errorf("downloading %s: %w", info.URL, err)
	}
	defer func() { _ = artifact.Body.Close() }()

	size, err := writeAtomic(dir, path, artifact.Body)
	if err != nil {
		if ctx.Err() != nil {
			return &DownloadResult{Path: path, Status: Cancelled}, ctx.Err()
		}
		return nil, err
	}

	return &DownloadResult{Path: path, Status: Succeeded, Size: size}, nil
}

// writeAtomic streams body into a temporary file and renames it into place so
// a partial download never looks cached.
func writeAtomic(dir, path string, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	size, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("renaming %s: %w", path, err)
	}
	return size, nil
}

var archiveExts = []string{".nupkg", ".snupkg"}

// Prune deletes cached archives of name in dir whose filename is not in keep.
// A file only counts as an archive of name when the rest of its filename
// parses as a version, so Cake.Foo never removes Cake.Foo.Bar. It reports the
// number of files removed.
func Prune(dir, name string, keep []string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cache directory: %w", err)
	}

	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[strings.ToLower(filepath.Base(k))] = true
	}

	prefix := strings.ToLower(name) + "."
	removed := 0
	for _, e := range entries {
		lower := strings.ToLower(e.Name())
		if e.IsDir() || kept[lower] || !strings.HasPrefix(lower, prefix) {
			continue
		}
		if !isVersionArchive(strings.TrimPrefix(lower, prefix)) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing stale %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func isVersionArchive(rest string) bool {
	for _, ext := range archiveExts {
		if v, ok := strings.CutSuffix(rest, ext); ok {
			_, err := semver.Parse(v)
			return err == nil
		}
	}
	return false
}
