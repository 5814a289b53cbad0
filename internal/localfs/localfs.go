// Package localfs backs the UI's local file panel. It reuses the transport
// entry shape so both panels render from the same structure.
package localfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rshell/backend/internal/transport"
)

// ErrForbiddenPath is returned for paths that are empty, relative, or clean
// to something other than what was sent. The UI always sends absolute paths;
// anything else is malformed or hostile.
var ErrForbiddenPath = errors.New("forbidden path")

// normalize validates a UI-supplied path. Cleaning must be a no-op: a path
// that changes under filepath.Clean smuggled "." or ".." segments.
func normalize(path string) (string, error) {
	if path == "" || !filepath.IsAbs(path) {
		return "", ErrForbiddenPath
	}
	if cleaned := filepath.Clean(path); cleaned != path {
		return "", ErrForbiddenPath
	}
	return path, nil
}

// List returns the entries of a local directory, directories first,
// case-insensitive name order. Entries that disappear mid-listing are
// skipped.
func List(path string) ([]transport.Entry, error) {
	dir, err := normalize(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %q: not a directory", dir)
	}

	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", dir, err)
	}

	entries := make([]transport.Entry, 0, len(items))
	for _, item := range items {
		fi, err := os.Lstat(filepath.Join(dir, item.Name()))
		if err != nil {
			continue
		}
		entries = append(entries, transport.Entry{
			Name:    item.Name(),
			Type:    entryTypeOf(fi.Mode()),
			Size:    fi.Size(),
			Mode:    fi.Mode().String(),
			ModTime: fi.ModTime(),
		})
	}
	transport.SortEntries(entries)
	return entries, nil
}

// Home returns the current user's home directory.
func Home() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return home, nil
}

// Mkdir creates a directory, including missing parents.
func Mkdir(path string) error {
	dir, err := normalize(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	return nil
}

// Delete removes a file, or a directory tree when isDir is set.
func Delete(path string, isDir bool) error {
	p, err := normalize(path)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(p); err != nil {
		return fmt.Errorf("delete %q: %w", p, err)
	}
	if isDir {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("delete %q: %w", p, err)
		}
		return nil
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("delete %q: %w", p, err)
	}
	return nil
}

// Rename moves oldPath to newPath. Both must be absolute.
func Rename(oldPath, newPath string) error {
	from, err := normalize(oldPath)
	if err != nil {
		return err
	}
	to, err := normalize(newPath)
	if err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %q: %w", from, err)
	}
	return nil
}

func entryTypeOf(mode os.FileMode) transport.EntryType {
	switch {
	case mode.IsDir():
		return transport.EntryDir
	case mode&os.ModeSymlink != 0:
		return transport.EntrySymlink
	default:
		return transport.EntryFile
	}
}
