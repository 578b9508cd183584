// Package archive unpacks uploaded zip bundles into a scratch directory.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

func init() {
	// Bundles produced with Zstandard compression (method 93) are accepted too.
	zip.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
}

// Static errors for archive extraction.
var (
	// ErrUnsafePath is returned for entries that would land outside the destination.
	ErrUnsafePath = errors.New("archive: unsafe entry path")
	// ErrTooLarge is returned when the archive exceeds the configured limits.
	ErrTooLarge = errors.New("archive: too large")
	// ErrNotArchive is returned when the file is not a readable zip archive.
	ErrNotArchive = errors.New("archive: not a zip archive")
)

// Limits bound what Extract is willing to write.
type Limits struct {
	// MaxFiles caps the number of extracted files. Zero means no cap.
	MaxFiles int
	// MaxBytes caps the total uncompressed size. Zero means no cap.
	MaxBytes int64
}

// DefaultLimits returns the limits used for uploads.
func DefaultLimits() Limits {
	return Limits{MaxFiles: 500, MaxBytes: 4 << 30}
}

// IsArchive reports whether path names a zip file.
func IsArchive(p string) bool {
	return strings.EqualFold(filepath.Ext(p), ".zip")
}

// Extract unpacks every regular file of the zip at zipPath into destDir and
// returns the written paths in archive order. Directory structure is
// flattened; clashing base names get a numeric prefix. Hidden files and
// macOS resource forks are ignored.
func Extract(ctx context.Context, zipPath, destDir string, limits Limits) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotArchive, err)
	}
	defer func() { _ = r.Close() }()

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return nil, fmt.Errorf("create %s: %w", destDir, err)
	}

	var (
		paths   []string
		written int64
		seen    = make(map[string]struct{})
	)

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return paths, fmt.Errorf("extract cancelled: %w", err)
		}
		if f.FileInfo().IsDir() || skipEntry(f.Name) {
			continue
		}

		name, err := entryName(f.Name)
		if err != nil {
			return paths, err
		}

		if limits.MaxFiles > 0 && len(paths) >= limits.MaxFiles {
			return paths, fmt.Errorf("%w: more than %d files", ErrTooLarge, limits.MaxFiles)
		}

		name = uniqueName(seen, name, len(paths))

		dst := filepath.Join(destDir, name)
		n, err := extractFile(f, dst, remaining(limits.MaxBytes, written))
		written += n
		if err != nil {
			return paths, err
		}
		paths = append(paths, dst)
	}

	return paths, nil
}

// uniqueName returns name, or name with a numeric prefix if it was already
// used, and records the result in seen.
func uniqueName(seen map[string]struct{}, name string, n int) string {
	candidate := name
	for {
		if _, dup := seen[candidate]; !dup {
			break
		}
		candidate = fmt.Sprintf("%d_%s", n, name)
		n++
	}
	seen[candidate] = struct{}{}
	return candidate
}

func remaining(limit, used int64) int64 {
	if limit <= 0 {
		return -1
	}
	return limit - used
}

// entryName validates a zip entry name and returns its base name.
func entryName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	base := path.Base(clean)
	if base == "." || base == "/" || base == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return base, nil
}

func skipEntry(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}

// extractFile copies one entry to dst. budget < 0 means unlimited.
func extractFile(f *zip.File, dst string, budget int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) // #nosec G304 - dst is a validated base name under destDir
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}

	var src io.Reader = rc
	if budget >= 0 {
		// Read one byte past the budget to detect overflow.
		src = io.LimitReader(rc, budget+1)
	}

	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return n, fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if budget >= 0 && n > budget {
		_ = os.Remove(dst)
		return n, fmt.Errorf("%w: uncompressed size exceeds limit", ErrTooLarge)
	}
	return n, nil
}
