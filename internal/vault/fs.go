package vault

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/starford/navigator/internal/models"
)

// Options configure which files the FS exposes.
type Options struct {
	// Extensions lists indexable extensions including the dot. Defaults to .md.
	Extensions []string
	// IgnoredFolders are vault-relative folders skipped by List and the watcher.
	IgnoredFolders []string
}

// FS implements Host backed by the local file system.
type FS struct {
	root    string // absolute path to vault directory
	exts    map[string]struct{}
	ignored []string

	namesMu sync.Mutex
	names   map[string][]string // lower-case base name → vault paths
}

// NewFS creates a new FS rooted at the given directory.
// The directory must already exist.
func NewFS(root string, opts Options) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vault: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault: root is not a directory: %s", abs)
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".md"}
	}
	f := &FS{root: abs, exts: make(map[string]struct{}, len(exts))}
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		f.exts[e] = struct{}{}
	}
	for _, dir := range opts.IgnoredFolders {
		if dir = strings.Trim(filepath.ToSlash(dir), "/"); dir != "" {
			f.ignored = append(f.ignored, dir)
		}
	}
	return f, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("vault: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("vault: path escapes vault root: %s", rel)
	}
	return abs, nil
}

// Rel converts an absolute path under the root to a slash-separated vault path.
func (f *FS) Rel(abs string) (string, bool) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Indexable reports whether a vault path has a tracked extension and lies
// outside hidden and ignored folders.
func (f *FS) Indexable(rel string) bool {
	if _, ok := f.exts[strings.ToLower(path.Ext(rel))]; !ok {
		return false
	}
	return !f.Ignored(path.Dir(rel))
}

// Ignored reports whether a vault folder is hidden or configured as ignored.
func (f *FS) Ignored(dir string) bool {
	if dir == "." || dir == "" {
		return false
	}
	for _, part := range strings.Split(dir, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	for _, ig := range f.ignored {
		if dir == ig || strings.HasPrefix(dir, ig+"/") {
			return true
		}
	}
	return false
}

// Stat returns the fingerprint inputs of a vault file.
func (f *FS) Stat(p string) (models.FileStat, error) {
	abs, err := f.safePath(p)
	if err != nil {
		return models.FileStat{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileStat{}, fmt.Errorf("vault: stat %s: %w", p, err)
	}
	return statOf(info), nil
}

// Exists reports whether a file or folder exists at the vault path.
func (f *FS) Exists(p string) bool {
	abs, err := f.safePath(p)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(p string) ([]byte, error) {
	abs, err := f.safePath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", p, err)
	}
	return data, nil
}

// List walks the vault concurrently and returns every indexable file. It also
// refreshes the base-name table used by ResolveLink.
func (f *FS) List(ctx context.Context) ([]Entry, error) {
	var (
		mu    sync.Mutex
		out   []Entry
		names = make(map[string][]string)
	)
	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, f.root, func(full string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return nil // Skip unreadable entries
		}
		rel, ok := f.Rel(full)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if f.Ignored(rel) {
				return fastwalk.SkipDir
			}
			return nil
		}
		if f.Ignored(path.Dir(rel)) {
			return nil
		}

		base := strings.ToLower(path.Base(rel))
		mu.Lock()
		names[base] = append(names[base], rel)
		mu.Unlock()

		if !f.Indexable(rel) {
			return nil
		}
		info, err := fastwalk.StatDirEntry(full, d)
		if err != nil {
			return nil
		}
		mu.Lock()
		out = append(out, Entry{Path: rel, Stat: statOf(info)})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault: list: %w", err)
	}

	for _, paths := range names {
		slices.Sort(paths)
	}
	f.namesMu.Lock()
	f.names = names
	f.namesMu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// invalidateNames drops the base-name table after files appear or vanish.
func (f *FS) invalidateNames() {
	f.namesMu.Lock()
	f.names = nil
	f.namesMu.Unlock()
}

// ResolveLink maps a link target written in fromPath to a vault path: first
// relative to the note, then from the vault root, then by unique base name.
func (f *FS) ResolveLink(link, fromPath string) (string, bool) {
	link = strings.TrimSpace(filepath.ToSlash(link))
	if link == "" {
		return "", false
	}
	candidates := []string{
		path.Join(path.Dir(fromPath), link),
		path.Clean(strings.TrimPrefix(link, "/")),
	}
	for _, c := range candidates {
		if strings.HasPrefix(c, "..") {
			continue
		}
		if abs, err := f.safePath(c); err == nil {
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				return c, true
			}
		}
	}

	f.namesMu.Lock()
	names := f.names
	f.namesMu.Unlock()
	if names == nil {
		if _, err := f.List(context.Background()); err != nil {
			return "", false
		}
		f.namesMu.Lock()
		names = f.names
		f.namesMu.Unlock()
	}
	matches := names[strings.ToLower(path.Base(link))]
	if len(matches) == 0 {
		return "", false
	}
	// Prefer the match whose path ends with the full link.
	for _, m := range matches {
		if strings.HasSuffix(strings.ToLower(m), strings.ToLower(link)) {
			return m, true
		}
	}
	return matches[0], true
}

// WriteFileAtomic writes data to path: tmp file → fsync → rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".navigator-tmp-*")
	if err != nil {
		return fmt.Errorf("vault: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("vault: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("vault: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("vault: rename: %w", err)
	}
	success = true
	return nil
}

func statOf(info fs.FileInfo) models.FileStat {
	return models.FileStat{Size: info.Size(), MTime: info.ModTime().UnixMilli()}
}
