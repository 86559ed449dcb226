// Package dbfs implements dbutils.fs-style filesystem helpers on the local
// machine. Paths may be plain local paths, file:/ paths, or dbfs:/ paths;
// the latter are mapped under a local root directory configured with the
// DBUTILS_DBFS_ROOT environment variable (default "dbfs").
//
// The backing filesystem is an afero.Fs, so everything works unchanged
// against an in-memory filesystem in tests.
package dbfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"
)

// DefaultMaxBytes is how much Head and Tail read when given a zero limit.
const DefaultMaxBytes = 64 * 1024

var (
	// ErrRecurseRequired reports a directory operation attempted without
	// recurse set.
	ErrRecurseRequired = errors.New("dbfs: source is a directory, recurse required")

	// ErrExists reports a Put to an existing file without overwrite set.
	ErrExists = errors.New("dbfs: file exists")
)

// FileInfo describes one entry returned by Ls.
type FileInfo struct {
	// Path is the entry's path in the caller's scheme: entries under the
	// dbfs root are reported as dbfs:/ paths.
	Path string

	Name    string
	Size    int64
	ModTime time.Time
}

// FS provides the dbutils.fs operations.
type FS struct {
	fs afero.Fs
}

// New returns an FS backed by the operating system filesystem.
func New() *FS {
	return &FS{fs: afero.NewOsFs()}
}

// NewWithFs returns an FS backed by the given afero filesystem.
func NewWithFs(fsys afero.Fs) *FS {
	return &FS{fs: fsys}
}

const helpText = `dbfs filesystem helpers:
  Cp(src, dst, recurse)           copy a file, or a directory tree with recurse
  Head(path, maxBytes)            read up to maxBytes from the start of a file
  Ls(path)                        list a directory, or a single file's info
  Mkdirs(path)                    create a directory and any missing parents
  Mv(src, dst, recurse)           move a file, or a directory tree with recurse
  Put(path, contents, overwrite)  write contents to a file
  Rm(path, recurse)               remove a file, or a directory tree with recurse
  Tail(path, maxBytes)            read up to maxBytes from the end of a file

Paths may be plain local paths, file:/ paths, or dbfs:/ paths. dbfs:/ maps
under the directory named by DBUTILS_DBFS_ROOT (default "dbfs").
`

// Help returns a summary of the available operations and path schemes.
func (a *FS) Help() string {
	return helpText
}

// root returns the local directory dbfs:/ maps to, creating it if needed.
// Read from the environment on every call so tests can repoint it.
func (a *FS) root() string {
	dir := os.Getenv("DBUTILS_DBFS_ROOT")
	if dir == "" {
		dir = "dbfs"
	}
	_ = a.fs.MkdirAll(dir, 0o755)
	return filepath.Clean(dir)
}

// resolve maps a dbutils-style path to a backing filesystem path.
func (a *FS) resolve(p string) string {
	switch {
	case strings.HasPrefix(p, "dbfs:/"):
		rel := strings.TrimLeft(strings.TrimPrefix(p, "dbfs:/"), "/")
		return filepath.Join(a.root(), rel)
	case strings.HasPrefix(p, "file:/"):
		return filepath.Clean(strings.TrimPrefix(p, "file:"))
	default:
		return filepath.Clean(p)
	}
}

// toSchemePath reports p as a dbfs:/ path when it lives under the root, and
// unchanged otherwise.
func (a *FS) toSchemePath(p string) string {
	root := a.root()
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return "dbfs:/" + filepath.ToSlash(rel)
}

// Ls lists a directory, sorted by name. Listing a file returns that file's
// info, mirroring the Databricks behavior.
func (a *FS) Ls(p string) ([]FileInfo, error) {
	resolved := a.resolve(p)
	info, err := a.fs.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("dbfs: path not found: %s: %w", p, err)
	}

	if !info.IsDir() {
		return []FileInfo{{
			Path:    p,
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}}, nil
	}

	entries, err := afero.ReadDir(a.fs, resolved)
	if err != nil {
		return nil, fmt.Errorf("dbfs: failed to list %s: %w", p, err)
	}

	items := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		size := entry.Size()
		if entry.IsDir() {
			size = 0
		}
		items = append(items, FileInfo{
			Path:    a.toSchemePath(filepath.Join(resolved, entry.Name())),
			Name:    entry.Name(),
			Size:    size,
			ModTime: entry.ModTime(),
		})
	}
	return items, nil
}

// Mkdirs creates the directory and any missing parents.
func (a *FS) Mkdirs(p string) error {
	if err := a.fs.MkdirAll(a.resolve(p), 0o755); err != nil {
		return fmt.Errorf("dbfs: failed to create %s: %w", p, err)
	}
	return nil
}

// Rm removes a file or directory. Removing a missing path reports false
// with no error. A non-empty directory requires recurse.
func (a *FS) Rm(p string, recurse bool) (bool, error) {
	resolved := a.resolve(p)
	info, err := a.fs.Stat(resolved)
	if err != nil {
		return false, nil
	}

	if info.IsDir() {
		if !recurse {
			entries, err := afero.ReadDir(a.fs, resolved)
			if err != nil {
				return false, fmt.Errorf("dbfs: failed to list %s: %w", p, err)
			}
			if len(entries) > 0 {
				return false, fmt.Errorf("dbfs: rm %s: %w", p, ErrRecurseRequired)
			}
		}
		if err := a.fs.RemoveAll(resolved); err != nil {
			return false, fmt.Errorf("dbfs: failed to remove %s: %w", p, err)
		}
		return true, nil
	}

	if err := a.fs.Remove(resolved); err != nil {
		return false, fmt.Errorf("dbfs: failed to remove %s: %w", p, err)
	}
	return true, nil
}

// Cp copies a file, or a directory tree when recurse is set. Copying a
// directory onto an existing directory merges into it; copying a file into
// an existing directory places it inside.
func (a *FS) Cp(src, dst string, recurse bool) error {
	srcResolved := a.resolve(src)
	dstResolved := a.resolve(dst)

	srcInfo, err := a.fs.Stat(srcResolved)
	if err != nil {
		return fmt.Errorf("dbfs: source not found: %s: %w", src, err)
	}

	if srcInfo.IsDir() {
		if !recurse {
			return fmt.Errorf("dbfs: cp %s: %w", src, ErrRecurseRequired)
		}
		if dstInfo, err := a.fs.Stat(dstResolved); err == nil && !dstInfo.IsDir() {
			return fmt.Errorf("dbfs: cannot copy directory onto file %s", dst)
		}
		return a.copyTree(srcResolved, dstResolved)
	}

	if err := a.fs.MkdirAll(filepath.Dir(dstResolved), 0o755); err != nil {
		return fmt.Errorf("dbfs: failed to create %s: %w", filepath.Dir(dst), err)
	}
	if dstInfo, err := a.fs.Stat(dstResolved); err == nil && dstInfo.IsDir() {
		dstResolved = filepath.Join(dstResolved, filepath.Base(srcResolved))
	}
	return a.copyFile(srcResolved, dstResolved)
}

// Mv moves a file, or a directory tree when recurse is set. Moving into an
// existing directory places the source inside it.
func (a *FS) Mv(src, dst string, recurse bool) error {
	srcResolved := a.resolve(src)
	dstResolved := a.resolve(dst)

	srcInfo, err := a.fs.Stat(srcResolved)
	if err != nil {
		return fmt.Errorf("dbfs: source not found: %s: %w", src, err)
	}
	if srcInfo.IsDir() && !recurse {
		return fmt.Errorf("dbfs: mv %s: %w", src, ErrRecurseRequired)
	}

	if err := a.fs.MkdirAll(filepath.Dir(dstResolved), 0o755); err != nil {
		return fmt.Errorf("dbfs: failed to create %s: %w", filepath.Dir(dst), err)
	}
	if dstInfo, err := a.fs.Stat(dstResolved); err == nil && dstInfo.IsDir() {
		dstResolved = filepath.Join(dstResolved, filepath.Base(srcResolved))
	}
	if err := a.fs.Rename(srcResolved, dstResolved); err != nil {
		return fmt.Errorf("dbfs: failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

// Put writes contents to a file, creating parent directories. An existing
// file is only replaced when overwrite is set.
func (a *FS) Put(p, contents string, overwrite bool) error {
	resolved := a.resolve(p)
	if err := a.fs.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("dbfs: failed to create %s: %w", filepath.Dir(p), err)
	}
	if _, err := a.fs.Stat(resolved); err == nil && !overwrite {
		return fmt.Errorf("dbfs: put %s: %w", p, ErrExists)
	}
	if err := afero.WriteFile(a.fs, resolved, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("dbfs: failed to write %s: %w", p, err)
	}
	return nil
}

// Head returns up to maxBytes from the start of a file, decoded lossily as
// UTF-8. A zero maxBytes means DefaultMaxBytes.
func (a *FS) Head(p string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	f, err := a.fs.Open(a.resolve(p))
	if err != nil {
		return "", fmt.Errorf("dbfs: failed to open %s: %w", p, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return "", fmt.Errorf("dbfs: failed to read %s: %w", p, err)
	}
	return lossyUTF8(data), nil
}

// Tail returns up to maxBytes from the end of a file, decoded lossily as
// UTF-8. A zero maxBytes means DefaultMaxBytes.
func (a *FS) Tail(p string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	resolved := a.resolve(p)
	info, err := a.fs.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("dbfs: failed to stat %s: %w", p, err)
	}
	f, err := a.fs.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("dbfs: failed to open %s: %w", p, err)
	}
	defer f.Close()

	if info.Size() > maxBytes {
		if _, err := f.Seek(info.Size()-maxBytes, io.SeekStart); err != nil {
			return "", fmt.Errorf("dbfs: failed to seek %s: %w", p, err)
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("dbfs: failed to read %s: %w", p, err)
	}
	return lossyUTF8(data), nil
}

func (a *FS) copyTree(src, dst string) error {
	return afero.Walk(a.fs, src, func(walked string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, walked)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return a.fs.MkdirAll(target, 0o755)
		}
		return a.copyFile(walked, target)
	})
}

func (a *FS) copyFile(src, dst string) error {
	in, err := a.fs.Open(src)
	if err != nil {
		return fmt.Errorf("dbfs: failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := a.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("dbfs: failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("dbfs: failed to copy to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("dbfs: failed to close %s: %w", dst, err)
	}
	if info, err := a.fs.Stat(src); err == nil {
		_ = a.fs.Chtimes(dst, time.Now(), info.ModTime())
	}
	return nil
}

// lossyUTF8 decodes data as UTF-8, replacing invalid byte sequences with the
// replacement rune instead of failing.
func lossyUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}
