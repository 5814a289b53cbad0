package transport

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntryType classifies a directory entry.
type EntryType int

const (
	EntryFile EntryType = iota
	EntryDir
	EntrySymlink
)

func (t EntryType) String() string {
	switch t {
	case EntryDir:
		return "dir"
	case EntrySymlink:
		return "symlink"
	default:
		return "file"
	}
}

// MarshalText makes EntryType render as its string form in JSON responses.
func (t EntryType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText so API JSON decodes back into
// Entry.
func (t *EntryType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "file":
		*t = EntryFile
	case "dir":
		*t = EntryDir
	case "symlink":
		*t = EntrySymlink
	default:
		return fmt.Errorf("unknown entry type %q", string(text))
	}
	return nil
}

// Entry is a single file or directory entry returned by ListDir. The same
// shape is used for local listings so the UI file panels share one model.
type Entry struct {
	Name    string    `json:"name"`
	Type    EntryType `json:"type"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode,omitempty"`
	ModTime time.Time `json:"modified_at"`
}

// SortEntries orders entries directories-first, then case-insensitive by
// name. Listing the same directory twice yields identical ordering.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].Type == EntryDir, entries[j].Type == EntryDir
		if di != dj {
			return di
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}
