package localfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rshell/backend/internal/transport"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListSortedDirectoriesFirst(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "n")
	writeFile(t, filepath.Join(dir, "Apple"), "a")
	if err := os.Mkdir(filepath.Join(dir, "zebra"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "Bravo"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"Bravo", "zebra", "Apple", "notes.txt"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
	if entries[0].Type != transport.EntryDir || entries[2].Type != transport.EntryFile {
		t.Fatalf("entry types: %+v", entries)
	}
}

func TestListSymlinkType(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "target"), "t")
	if err := os.Symlink(filepath.Join(dir, "target"), filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, e := range entries {
		if e.Name == "link" {
			if e.Type != transport.EntrySymlink {
				t.Fatalf("link type: got %v", e.Type)
			}
			return
		}
	}
	t.Fatal("symlink not listed")
}

func TestListRejectsBadPaths(t *testing.T) {
	for _, path := range []string{"", "relative/path", "/tmp/../etc", "/tmp/./x"} {
		if _, err := List(path); !errors.Is(err, ErrForbiddenPath) {
			t.Fatalf("List(%q): got %v, want ErrForbiddenPath", path, err)
		}
	}
}

func TestListNotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	writeFile(t, file, "x")
	if _, err := List(file); err == nil {
		t.Fatal("listing a file must fail")
	}
}

func TestMkdirCreatesParents(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	if err := Mkdir(nested); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	info, err := os.Stat(nested)
	if err != nil || !info.IsDir() {
		t.Fatalf("nested dir missing: %v", err)
	}
}

func TestDeleteFileAndTree(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "doomed.txt")
	writeFile(t, file, "x")
	if err := Delete(file, false); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if _, err := os.Lstat(file); !os.IsNotExist(err) {
		t.Fatal("file survived delete")
	}

	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(tree, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(tree, "sub", "deep.txt"), "x")
	if err := Delete(tree, true); err != nil {
		t.Fatalf("delete tree: %v", err)
	}
	if _, err := os.Lstat(tree); !os.IsNotExist(err) {
		t.Fatal("tree survived delete")
	}
}

func TestDeleteMissingPath(t *testing.T) {
	if err := Delete(filepath.Join(t.TempDir(), "ghost"), false); err == nil {
		t.Fatal("deleting a missing path must fail")
	}
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "old.txt")
	to := filepath.Join(dir, "new.txt")
	writeFile(t, from, "x")
	if err := Rename(from, to); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := os.Stat(to); err != nil {
		t.Fatalf("renamed file missing: %v", err)
	}
	if err := Rename(from, to); err == nil {
		t.Fatal("renaming a missing source must fail")
	}
}

func TestHome(t *testing.T) {
	home, err := Home()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	if !filepath.IsAbs(home) {
		t.Fatalf("home must be absolute, got %q", home)
	}
}
