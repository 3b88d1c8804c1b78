package appearance

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/models"
)

type countingSaver struct {
	saves int
	last  Settings
	err   error
}

func (c *countingSaver) Save(s Settings) error {
	c.saves++
	c.last = s
	return c.err
}

type fakeVault struct {
	files   []string
	folders []string
	tags    []string
}

func (f fakeVault) FileExists(p string) bool   { return slices.Contains(f.files, p) }
func (f fakeVault) FolderExists(p string) bool { return slices.Contains(f.folders, p) }
func (f fakeVault) TagExists(t string) bool    { return slices.Contains(f.tags, t) }

func TestStyleSetAndClear(t *testing.T) {
	saver := &countingSaver{}
	l := New(Settings{}, saver, nil)

	if err := l.SetColor(KindTag, "#Work", "#ff0000"); err != nil {
		t.Fatal(err)
	}
	if got := l.Color(KindTag, "work"); got != "#ff0000" {
		t.Errorf("color = %q", got)
	}
	if err := l.SetIcon(KindFolder, "/projects/", "folder-open"); err != nil {
		t.Fatal(err)
	}
	if got := l.Icon(KindFolder, "projects"); got != "folder-open" {
		t.Errorf("icon = %q", got)
	}
	// Same value again is not a change.
	_ = l.SetColor(KindTag, "work", "#ff0000")
	if saver.saves != 2 {
		t.Errorf("saves = %d, want 2", saver.saves)
	}

	_ = l.SetColor(KindTag, "work", "")
	if _, ok := l.Settings().Tags["work"]; ok {
		t.Error("empty style kept")
	}
}

func TestInvalidInput(t *testing.T) {
	l := New(Settings{}, nil, nil)
	if err := l.SetColor(KindFolder, "", "red"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("empty key err = %v", err)
	}
	if err := l.SetSortOverride(KindFolder, "a", "random"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("bad sort err = %v", err)
	}
	if _, err := ParseKind("planet"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("ParseKind err = %v", err)
	}
}

func TestPins(t *testing.T) {
	l := New(Settings{}, nil, nil)
	_ = l.SetPins("b.md", PinContext{Folder: true})
	_ = l.SetPins("a.md", PinContext{Folder: true, Tag: true})

	if got := l.Pinned(InFolder); !slices.Equal(got, []string{"a.md", "b.md"}) {
		t.Errorf("folder pins = %v", got)
	}
	if got := l.Pinned(InTag); !slices.Equal(got, []string{"a.md"}) {
		t.Errorf("tag pins = %v", got)
	}
	_ = l.SetPins("a.md", PinContext{})
	if !l.Pins("a.md").IsZero() {
		t.Error("unpinned file still pinned")
	}
}

func TestApplyEventRenameFolder(t *testing.T) {
	l := New(Settings{}, nil, nil)
	_ = l.SetColor(KindFolder, "proj", "blue")
	_ = l.SetColor(KindFolder, "proj/sub", "green")
	_ = l.SetColor(KindFolder, "project-x", "red")
	_ = l.SetIcon(KindFile, "proj/a.md", "star")
	_ = l.SetPins("proj/a.md", PinContext{Folder: true})
	_ = l.SetSortOverride(KindFolder, "proj/sub", "title-asc")

	l.ApplyEvent(models.FileEvent{Kind: models.EventRename, OldPath: "proj", Path: "work", IsDir: true})

	if l.Color(KindFolder, "work") != "blue" || l.Color(KindFolder, "work/sub") != "green" {
		t.Errorf("folders = %v", l.Settings().Folders)
	}
	if l.Color(KindFolder, "project-x") != "red" {
		t.Error("sibling with shared prefix moved")
	}
	if l.Icon(KindFile, "work/a.md") != "star" || !l.Pins("work/a.md").Folder {
		t.Errorf("file entries not moved: %+v", l.Settings())
	}
	if mode, ok := l.SortOverride(KindFolder, "work/sub"); !ok || mode != "title-asc" {
		t.Errorf("sort = %q %v", mode, ok)
	}
}

func TestApplyEventDelete(t *testing.T) {
	l := New(Settings{}, nil, nil)
	_ = l.SetColor(KindFolder, "old", "blue")
	_ = l.SetIcon(KindFile, "old/a.md", "star")
	_ = l.SetIcon(KindFile, "keep.md", "star")

	l.ApplyEvent(models.FileEvent{Kind: models.EventDelete, Path: "old", IsDir: true})

	s := l.Settings()
	if len(s.Folders) != 0 || len(s.Files) != 1 {
		t.Errorf("after delete: %+v", s)
	}
}

func TestCleanup(t *testing.T) {
	saver := &countingSaver{}
	l := New(Settings{}, saver, nil)
	_ = l.SetColor(KindFolder, "kept", "a")
	_ = l.SetColor(KindFolder, "gone", "b")
	_ = l.SetColor(KindTag, "live", "c")
	_ = l.SetColor(KindTag, "dead", "d")
	_ = l.SetPins("missing.md", PinContext{Tag: true})
	_ = l.SetSortOverride(KindTag, "dead", "modified-asc")
	_ = l.SetColor(KindProperty, "status=done", "e")

	n, err := l.Cleanup(fakeVault{folders: []string{"kept"}, tags: []string{"live"}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("removed = %d, want 4", n)
	}
	s := l.Settings()
	if len(s.Folders) != 1 || len(s.Tags) != 1 || len(s.Pins) != 0 || len(s.Sort) != 0 || len(s.Properties) != 1 {
		t.Errorf("after cleanup: %+v", s)
	}
}

func TestSaveFailureKeepsState(t *testing.T) {
	saver := &countingSaver{err: errors.New("disk full")}
	l := New(Settings{}, saver, nil)
	err := l.SetColor(KindFile, "a.md", "red")
	if !errors.Is(err, apperr.ErrNotSaved) {
		t.Errorf("err = %v", err)
	}
	if l.Color(KindFile, "a.md") != "red" {
		t.Error("state lost on save failure")
	}
}

func TestFileSaverRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appearance.yaml")
	l := New(Settings{}, FileSaver{Path: path}, nil)
	_ = l.SetStyle(KindFolder, "notes", Style{Color: "red", Icon: "book"})
	_ = l.SetPins("notes/a.md", PinContext{Folder: true, Property: true})

	s, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Folders["notes"].Icon != "book" || !s.Pins["notes/a.md"].Property {
		t.Errorf("loaded = %+v", s)
	}

	empty, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || empty.Tags == nil {
		t.Errorf("missing file: %+v %v", empty, err)
	}
}
