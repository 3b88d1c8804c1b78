package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func tempVault(t *testing.T, opts Options) (string, *FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir, opts)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return dir, fs
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadAndStat(t *testing.T) {
	dir, s := tempVault(t, Options{})
	write(t, dir, "note.md", "# Hello\nWorld\n")

	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "# Hello\nWorld\n" {
		t.Errorf("content mismatch: got %q", got)
	}
	st, err := s.Stat("note.md")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != 14 || st.MTime == 0 {
		t.Errorf("stat = %+v", st)
	}
}

func TestSafePathRejectsTraversal(t *testing.T) {
	_, s := tempVault(t, Options{})
	if _, err := s.Read("../../etc/passwd"); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if _, err := s.Read("/etc/passwd"); err == nil {
		t.Error("expected absolute path to be rejected")
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	dir, s := tempVault(t, Options{IgnoredFolders: []string{"templates"}})
	write(t, dir, "b.md", "b")
	write(t, dir, "sub/a.md", "a")
	write(t, dir, "sub/img.png", "png")
	write(t, dir, ".obsidian/config.md", "x")
	write(t, dir, "templates/t.md", "t")

	entries, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want 2", entries)
	}
	if entries[0].Path != "b.md" || entries[1].Path != "sub/a.md" {
		t.Errorf("paths = %s, %s", entries[0].Path, entries[1].Path)
	}
}

func TestResolveLink(t *testing.T) {
	dir, s := tempVault(t, Options{})
	write(t, dir, "notes/a.md", "a")
	write(t, dir, "notes/local.png", "x")
	write(t, dir, "attachments/deep/cover.jpg", "x")

	cases := []struct {
		link, want string
	}{
		{"local.png", "notes/local.png"},
		{"attachments/deep/cover.jpg", "attachments/deep/cover.jpg"},
		{"cover.jpg", "attachments/deep/cover.jpg"},
		{"deep/cover.jpg", "attachments/deep/cover.jpg"},
	}
	for _, c := range cases {
		got, ok := s.ResolveLink(c.link, "notes/a.md")
		if !ok || got != c.want {
			t.Errorf("ResolveLink(%q) = %q, %v; want %q", c.link, got, ok, c.want)
		}
	}
	if _, ok := s.ResolveLink("missing.png", "notes/a.md"); ok {
		t.Error("missing link should not resolve")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "settings.yaml")
	if err := WriteFileAtomic(path, []byte("x: 1\n")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "x: 1\n" {
		t.Errorf("content = %q, err = %v", got, err)
	}
}

func TestCapabilityGuards(t *testing.T) {
	_, s := tempVault(t, Options{})
	if _, ok := AsLinkResolver(s); !ok {
		t.Error("FS should resolve links")
	}
	if _, ok := AsFrontmatterSource(s); ok {
		t.Error("FS has no frontmatter cache")
	}
	if _, ok := AsFrontmatterSource(nil); ok {
		t.Error("nil host has no capabilities")
	}
}
