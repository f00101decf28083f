package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// FileSystem is the read-only view of a data directory used by the resource
// manager and the string table loader.
type FileSystem interface {
	// Open opens a file, ignoring case
	Open(name string) (fs.File, error)
	// ReadFile reads a whole file, ignoring case
	ReadFile(name string) ([]byte, error)
	// BasePath is the directory the file system is rooted at, for logging
	BasePath() string
}

// DataFS implements FileSystem on top of any fs.FS.
type DataFS struct {
	fsys     fs.FS
	basePath string
}

// NewRealFS returns a FileSystem rooted at a directory of the host.
func NewRealFS(basePath string) *DataFS {
	return &DataFS{fsys: os.DirFS(basePath), basePath: basePath}
}

// NewFS wraps an fs.FS (embed.FS, fstest.MapFS, ...).
func NewFS(fsys fs.FS, basePath string) *DataFS {
	return &DataFS{fsys: fsys, basePath: basePath}
}

func (d *DataFS) Open(name string) (fs.File, error) {
	actual, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return d.fsys.Open(actual)
}

func (d *DataFS) ReadFile(name string) ([]byte, error) {
	actual, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(d.fsys, actual)
}

func (d *DataFS) BasePath() string {
	return d.basePath
}

func (d *DataFS) resolve(name string) (string, error) {
	// fs.FS paths are slash separated and relative
	clean := path.Clean(strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/"))
	if !fs.ValidPath(clean) {
		return "", fmt.Errorf("invalid data path %q: %w", name, fs.ErrInvalid)
	}

	// exact name first
	if f, err := d.fsys.Open(clean); err == nil {
		f.Close()
		return clean, nil
	}
	return FindFileCaseInsensitiveFS(d.fsys, path.Dir(clean), path.Base(clean))
}

// ReadSection reads n bytes at offset off of the named file.
func ReadSection(fsys FileSystem, name string, off int64, n int) ([]byte, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	switch r := f.(type) {
	case io.ReaderAt:
		if _, err := r.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("failed to read %d bytes at 0x%x of %s: %w", n, off, name, err)
		}
		return buf, nil
	case io.Seeker:
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek to 0x%x in %s: %w", off, name, err)
		}
	default:
		if _, err := io.CopyN(io.Discard, f, off); err != nil {
			return nil, fmt.Errorf("failed to skip to 0x%x in %s: %w", off, name, err)
		}
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, fmt.Errorf("failed to read %d bytes at 0x%x of %s: %w", n, off, name, err)
	}
	return buf, nil
}
