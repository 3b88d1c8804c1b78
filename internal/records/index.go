// Package records holds the in-memory, path-ordered index of FileRecords that
// backs every synchronous cache read.
package records

import (
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/starford/navigator/internal/models"
)

// Index maps vault paths to records. Readers always receive clones.
type Index struct {
	mu    sync.RWMutex
	files *btree.Map[string, *models.FileRecord]
}

// Move is one path migrated by a prefix rename.
type Move struct {
	From string
	To   string
}

// New returns an empty index.
func New() *Index {
	return &Index{files: btree.NewMap[string, *models.FileRecord](0)}
}

// Load replaces the index contents with recs.
func (x *Index) Load(recs []*models.FileRecord) {
	m := btree.NewMap[string, *models.FileRecord](0)
	for _, r := range recs {
		if r == nil || r.Path == "" {
			continue
		}
		m.Set(r.Path, r.Clone())
	}
	x.mu.Lock()
	x.files = m
	x.mu.Unlock()
}

// Get returns a copy of the record for path, or nil.
func (x *Index) Get(path string) *models.FileRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	r, ok := x.files.Get(path)
	if !ok {
		return nil
	}
	return r.Clone()
}

// Has reports whether path is indexed.
func (x *Index) Has(path string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.files.Get(path)
	return ok
}

// Tags returns a copy of the tags for path. The second result is false when
// the path is unknown or its tags have not been extracted yet.
func (x *Index) Tags(path string) ([]string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	r, ok := x.files.Get(path)
	if !ok || r.Tags == nil {
		return nil, false
	}
	return append([]string{}, r.Tags...), true
}

// Set stores a copy of rec.
func (x *Index) Set(rec *models.FileRecord) {
	c := rec.Clone()
	x.mu.Lock()
	x.files.Set(c.Path, c)
	x.mu.Unlock()
}

// Update runs fn on the live record for path under the write lock. fn returns
// false to signal it made no change. Update returns a copy of the record after
// fn and whether fn reported a change. Unknown paths return (nil, false).
func (x *Index) Update(path string, fn func(r *models.FileRecord) bool) (*models.FileRecord, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.files.Get(path)
	if !ok {
		return nil, false
	}
	changed := fn(r)
	return r.Clone(), changed
}

// Delete removes path and returns the record it held.
func (x *Index) Delete(path string) *models.FileRecord {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.files.Delete(path)
	if !ok {
		return nil
	}
	return r
}

// Rename moves the record at oldPath to newPath, overwriting any record there.
func (x *Index) Rename(oldPath, newPath string) (*models.FileRecord, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.files.Delete(oldPath)
	if !ok {
		return nil, false
	}
	r.Path = newPath
	x.files.Set(newPath, r)
	return r.Clone(), true
}

// RenamePrefix migrates every record under oldDir to newDir.
func (x *Index) RenamePrefix(oldDir, newDir string) []Move {
	from := dirPrefix(oldDir)
	to := dirPrefix(newDir)

	x.mu.Lock()
	defer x.mu.Unlock()
	var moves []Move
	x.files.Ascend(from, func(p string, _ *models.FileRecord) bool {
		if !strings.HasPrefix(p, from) {
			return false
		}
		moves = append(moves, Move{From: p, To: to + strings.TrimPrefix(p, from)})
		return true
	})
	for _, m := range moves {
		r, _ := x.files.Delete(m.From)
		r.Path = m.To
		x.files.Set(m.To, r)
	}
	return moves
}

// DeletePrefix removes every record under dir and returns their paths.
func (x *Index) DeletePrefix(dir string) []string {
	prefix := dirPrefix(dir)

	x.mu.Lock()
	defer x.mu.Unlock()
	var paths []string
	x.files.Ascend(prefix, func(p string, _ *models.FileRecord) bool {
		if !strings.HasPrefix(p, prefix) {
			return false
		}
		paths = append(paths, p)
		return true
	})
	for _, p := range paths {
		x.files.Delete(p)
	}
	return paths
}

// HasPrefix reports whether any record lives under dir.
func (x *Index) HasPrefix(dir string) bool {
	prefix := dirPrefix(dir)
	x.mu.RLock()
	defer x.mu.RUnlock()
	found := false
	x.files.Ascend(prefix, func(p string, _ *models.FileRecord) bool {
		found = strings.HasPrefix(p, prefix)
		return false
	})
	return found
}

// Paths returns indexed paths in order, limited to prefix when non-empty.
func (x *Index) Paths(prefix string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []string
	x.files.Ascend(prefix, func(p string, _ *models.FileRecord) bool {
		if !strings.HasPrefix(p, prefix) {
			return false
		}
		out = append(out, p)
		return true
	})
	return out
}

// Len returns the number of indexed records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.files.Len()
}

// Scan calls fn for every record in path order under the read lock. fn must
// not retain or mutate r, and must not call back into the index.
func (x *Index) Scan(fn func(r *models.FileRecord) bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	x.files.Scan(func(_ string, r *models.FileRecord) bool {
		return fn(r)
	})
}

// WithTag returns paths whose tags include tag or a descendant of it,
// compared case-insensitively.
func (x *Index) WithTag(tag string) []string {
	want := strings.ToLower(strings.TrimPrefix(tag, "#"))
	var out []string
	x.Scan(func(r *models.FileRecord) bool {
		for _, t := range r.Tags {
			lt := strings.ToLower(t)
			if lt == want || strings.HasPrefix(lt, want+"/") {
				out = append(out, r.Path)
				break
			}
		}
		return true
	})
	return out
}

// PropertyValues returns the distinct values recorded for a frontmatter
// property key, with the number of files carrying each.
func (x *Index) PropertyValues(key string) map[string]int {
	out := make(map[string]int)
	x.Scan(func(r *models.FileRecord) bool {
		for _, v := range r.Properties[key] {
			out[v]++
		}
		return true
	})
	return out
}

func dirPrefix(dir string) string {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return ""
	}
	return dir + "/"
}
