// Package archive gives the runtime read access to module contents.
//
// Every module is backed by an Archive: a directory on disk, a zip file, or
// any fs.FS (tests use fstest.MapFS). The runtime never writes to archives.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotExist is returned when an entry is not present in an archive.
var ErrNotExist = fs.ErrNotExist

// Archive is read-only access to the files of one module.
type Archive interface {
	// Location identifies the archive (directory path, zip path, or a
	// caller-chosen name for in-memory archives).
	Location() string
	ReadFile(name string) ([]byte, error)
	Exists(name string) bool
	// Entries lists entry paths under dir whose base name matches pattern
	// (path.Match syntax, empty means all). Directories are not listed.
	Entries(dir, pattern string, recurse bool) []string
	Close() error
}

// FS adapts an fs.FS to Archive.
type FS struct {
	location string
	fsys     fs.FS
	closer   io.Closer
}

var _ Archive = (*FS)(nil)

// New wraps fsys. location is reported by Location.
func New(location string, fsys fs.FS) *FS {
	return &FS{location: location, fsys: fsys}
}

// Open opens a module archive from a directory or a .zip/.jar file.
func Open(location string) (*FS, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", location, err)
	}
	if info.IsDir() {
		return New(location, os.DirFS(location)), nil
	}
	switch strings.ToLower(filepath.Ext(location)) {
	case ".zip", ".jar":
	default:
		return nil, fmt.Errorf("open archive %s: unsupported archive type", location)
	}
	zr, err := zip.OpenReader(location)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", location, err)
	}
	return &FS{location: location, fsys: zr, closer: zr}, nil
}

func (a *FS) Location() string { return a.location }

func (a *FS) ReadFile(name string) ([]byte, error) {
	name = clean(name)
	data, err := fs.ReadFile(a.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s!/%s: %w", a.location, name, ErrNotExist)
		}
		return nil, fmt.Errorf("%s!/%s: %w", a.location, name, err)
	}
	return data, nil
}

func (a *FS) Exists(name string) bool {
	info, err := fs.Stat(a.fsys, clean(name))
	return err == nil && !info.IsDir()
}

func (a *FS) Entries(dir, pattern string, recurse bool) []string {
	dir = clean(dir)
	if dir == "" {
		dir = "."
	}
	var out []string
	_ = fs.WalkDir(a.fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && !recurse {
				return fs.SkipDir
			}
			return nil
		}
		if pattern != "" {
			if ok, _ := path.Match(pattern, d.Name()); !ok {
				return nil
			}
		}
		out = append(out, p)
		return nil
	})
	sort.Strings(out)
	return out
}

func (a *FS) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func clean(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	return name
}
