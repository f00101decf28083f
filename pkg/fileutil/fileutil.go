// Package fileutil provides access to the game data directory.
//
// The original release ships its data files in upper case on some platforms
// (MEMLIST.BIN, BANK01, ...) and in lower case on others, so every lookup is
// case-insensitive.
package fileutil

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// FindFileCaseInsensitiveFS searches dir of fsys for filename ignoring case
// and returns the actual path of the match.
//
// Example:
//
//	p, err := FindFileCaseInsensitiveFS(fsys, ".", "memlist.bin")
//	// finds "MEMLIST.BIN", "memlist.bin", "Memlist.Bin", ...
func FindFileCaseInsensitiveFS(fsys fs.FS, dir, filename string) (string, error) {
	searchName := strings.ToLower(filename)

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == searchName {
			return path.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("file not found: %s (searched in %s): %w", filename, dir, fs.ErrNotExist)
}
