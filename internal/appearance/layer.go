package appearance

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/models"
)

// Existence answers whether a sidecar key still names something in the vault.
type Existence interface {
	FileExists(path string) bool
	FolderExists(dir string) bool
	TagExists(tag string) bool
}

// Layer serves sidecar getters synchronously and saves on every change.
type Layer struct {
	mu     sync.RWMutex
	s      Settings
	saver  Saver
	logger *slog.Logger
}

// New wraps loaded settings. saver may be nil for an in-memory layer.
func New(s Settings, saver Saver, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	s = s.clone()
	s.init()
	return &Layer{s: s, saver: saver, logger: logger}
}

// NormalizeTag lower-cases a tag and drops a leading '#'.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

func normalizeKey(kind Kind, key string) string {
	switch kind {
	case KindTag:
		return NormalizeTag(key)
	case KindProperty:
		return strings.ToLower(strings.TrimSpace(key))
	default:
		return strings.Trim(key, "/")
	}
}

func (l *Layer) styles(kind Kind) (map[string]Style, error) {
	switch kind {
	case KindFolder:
		return l.s.Folders, nil
	case KindTag:
		return l.s.Tags, nil
	case KindFile:
		return l.s.Files, nil
	case KindProperty:
		return l.s.Properties, nil
	}
	return nil, fmt.Errorf("appearance: unknown kind %q: %w", kind, apperr.ErrInvalid)
}

// Style returns the decoration of a node, zero when unset.
func (l *Layer) Style(kind Kind, key string) Style {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, err := l.styles(kind)
	if err != nil {
		return Style{}
	}
	return m[normalizeKey(kind, key)]
}

// Color returns the node color.
func (l *Layer) Color(kind Kind, key string) string { return l.Style(kind, key).Color }

// Background returns the node background color.
func (l *Layer) Background(kind Kind, key string) string { return l.Style(kind, key).Background }

// Icon returns the node icon id.
func (l *Layer) Icon(kind Kind, key string) string { return l.Style(kind, key).Icon }

// SetColor sets or, with "", clears the node color.
func (l *Layer) SetColor(kind Kind, key, color string) error {
	return l.updateStyle(kind, key, func(s *Style) { s.Color = color })
}

// SetBackground sets or clears the node background color.
func (l *Layer) SetBackground(kind Kind, key, color string) error {
	return l.updateStyle(kind, key, func(s *Style) { s.Background = color })
}

// SetIcon sets or clears the node icon.
func (l *Layer) SetIcon(kind Kind, key, icon string) error {
	return l.updateStyle(kind, key, func(s *Style) { s.Icon = icon })
}

// SetStyle replaces the whole decoration of a node.
func (l *Layer) SetStyle(kind Kind, key string, style Style) error {
	return l.updateStyle(kind, key, func(s *Style) { *s = style })
}

func (l *Layer) updateStyle(kind Kind, key string, fn func(*Style)) error {
	key = normalizeKey(kind, key)
	if key == "" {
		return fmt.Errorf("appearance: empty key: %w", apperr.ErrInvalid)
	}
	return l.mutate(func() (bool, error) {
		m, err := l.styles(kind)
		if err != nil {
			return false, err
		}
		old := m[key]
		s := old
		fn(&s)
		if s == old {
			return false, nil
		}
		if s.IsZero() {
			delete(m, key)
		} else {
			m[key] = s
		}
		return true, nil
	})
}

// Pins returns the pin contexts of path.
func (l *Layer) Pins(path string) PinContext {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.Pins[path]
}

// Pinned returns, in path order, the files pinned in the given view.
func (l *Layer) Pinned(view func(PinContext) bool) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for p, c := range l.s.Pins {
		if view(c) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// InFolder, InTag and InProperty select a view for Pinned.
func InFolder(c PinContext) bool   { return c.Folder }
func InTag(c PinContext) bool      { return c.Tag }
func InProperty(c PinContext) bool { return c.Property }

// SetPins replaces the pin contexts of path. A zero context unpins it.
func (l *Layer) SetPins(path string, ctx PinContext) error {
	path = strings.Trim(path, "/")
	if path == "" {
		return fmt.Errorf("appearance: empty path: %w", apperr.ErrInvalid)
	}
	return l.mutate(func() (bool, error) {
		if l.s.Pins[path] == ctx {
			return false, nil
		}
		if ctx.IsZero() {
			delete(l.s.Pins, path)
		} else {
			l.s.Pins[path] = ctx
		}
		return true, nil
	})
}

func sortKey(kind Kind, key string) string {
	return string(kind) + ":" + normalizeKey(kind, key)
}

// SortOverride returns the sort mode set for a folder, tag or property node.
func (l *Layer) SortOverride(kind Kind, key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mode, ok := l.s.Sort[sortKey(kind, key)]
	return mode, ok
}

// SetSortOverride sets a sort mode, or clears it when mode is "".
func (l *Layer) SetSortOverride(kind Kind, key, mode string) error {
	if kind == KindFile {
		return fmt.Errorf("appearance: files have no sort order: %w", apperr.ErrInvalid)
	}
	if mode != "" && !slices.Contains(SortModes, mode) {
		return fmt.Errorf("appearance: unknown sort mode %q: %w", mode, apperr.ErrInvalid)
	}
	k := sortKey(kind, key)
	return l.mutate(func() (bool, error) {
		if l.s.Sort[k] == mode {
			return false, nil
		}
		if mode == "" {
			delete(l.s.Sort, k)
		} else {
			l.s.Sort[k] = mode
		}
		return true, nil
	})
}

// Settings returns a copy of the current state.
func (l *Layer) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.clone()
}

// ApplyEvent keeps path-keyed entries in step with a rename or delete. Other
// event kinds are ignored. Folder events also move or drop every entry below
// the folder.
func (l *Layer) ApplyEvent(ev models.FileEvent) {
	var fn func() (bool, error)
	switch ev.Kind {
	case models.EventRename:
		if ev.OldPath == "" || ev.OldPath == ev.Path {
			return
		}
		fn = func() (bool, error) { return l.movePaths(ev.OldPath, ev.Path), nil }
	case models.EventDelete:
		fn = func() (bool, error) { return l.dropPaths(ev.Path), nil }
	default:
		return
	}
	if err := l.mutate(fn); err != nil {
		l.logger.Warn("appearance: apply event failed",
			slog.String("path", ev.Path),
			slog.String("error", err.Error()),
		)
	}
}

// under reports whether p is dir itself or lies below it.
func under(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}

func (l *Layer) movePaths(from, to string) bool {
	changed := moveKeys(l.s.Folders, from, to)
	changed = moveKeys(l.s.Files, from, to) || changed
	changed = moveKeys(l.s.Pins, from, to) || changed

	prefix := string(KindFolder) + ":"
	return moveKeys(l.s.Sort, prefix+from, prefix+to) || changed
}

func moveKeys[V any](m map[string]V, from, to string) bool {
	moved := map[string]V{}
	for k, v := range m {
		if under(k, from) {
			moved[to+strings.TrimPrefix(k, from)] = v
			delete(m, k)
		}
	}
	for k, v := range moved {
		m[k] = v
	}
	return len(moved) > 0
}

func (l *Layer) dropPaths(p string) bool {
	changed := dropKeys(l.s.Folders, func(k string) bool { return under(k, p) })
	changed = dropKeys(l.s.Files, func(k string) bool { return under(k, p) }) || changed
	changed = dropKeys(l.s.Pins, func(k string) bool { return under(k, p) }) || changed
	prefix := string(KindFolder) + ":"
	changed = dropKeys(l.s.Sort, func(k string) bool {
		return strings.HasPrefix(k, prefix) && under(strings.TrimPrefix(k, prefix), p)
	}) || changed
	return changed
}

func dropKeys[V any](m map[string]V, match func(string) bool) bool {
	n := len(m)
	for k := range m {
		if match(k) {
			delete(m, k)
		}
	}
	return len(m) != n
}

// Cleanup removes entries whose folder, file or tag no longer exists and
// returns how many were removed. Property entries are kept.
func (l *Layer) Cleanup(ex Existence) (int, error) {
	removed := 0
	err := l.mutate(func() (bool, error) {
		before := l.count()
		dropKeys(l.s.Folders, func(k string) bool { return !ex.FolderExists(k) })
		dropKeys(l.s.Files, func(k string) bool { return !ex.FileExists(k) })
		dropKeys(l.s.Pins, func(k string) bool { return !ex.FileExists(k) })
		dropKeys(l.s.Tags, func(k string) bool { return !ex.TagExists(k) })
		dropKeys(l.s.Sort, func(k string) bool {
			kind, key, _ := strings.Cut(k, ":")
			switch Kind(kind) {
			case KindFolder:
				return !ex.FolderExists(key)
			case KindTag:
				return !ex.TagExists(key)
			}
			return false
		})
		removed = before - l.count()
		return removed > 0, nil
	})
	if removed > 0 {
		l.logger.Info("appearance: cleanup", slog.Int("removed", removed))
	}
	return removed, err
}

func (l *Layer) count() int {
	return len(l.s.Folders) + len(l.s.Files) + len(l.s.Pins) + len(l.s.Tags) + len(l.s.Sort)
}

// mutate runs fn under the write lock and saves when it reports a change.
// The in-memory state keeps the change even if saving fails.
func (l *Layer) mutate(fn func() (bool, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed, err := fn()
	if err != nil || !changed || l.saver == nil {
		return err
	}
	if err := l.saver.Save(l.s.clone()); err != nil {
		l.logger.Error("appearance: save failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", apperr.ErrNotSaved, err)
	}
	return nil
}
