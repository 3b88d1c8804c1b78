package vault

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/navigator/internal/models"
)

// DefaultRenameWindow is how long a Rename waits for its matching Create.
const DefaultRenameWindow = 200 * time.Millisecond

// Handler receives translated file events in arrival order.
type Handler func(models.FileEvent)

// Watcher translates fsnotify notifications under an FS root into
// models.FileEvents.
type Watcher struct {
	fs           *FS
	logger       *slog.Logger
	renameWindow time.Duration
}

// NewWatcher creates a watcher for f. A zero window uses DefaultRenameWindow.
func NewWatcher(f *FS, logger *slog.Logger, renameWindow time.Duration) *Watcher {
	if renameWindow <= 0 {
		renameWindow = DefaultRenameWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{fs: f, logger: logger, renameWindow: renameWindow}
}

type pendingRename struct {
	rel   string
	isDir bool
	timer *time.Timer
}

// Run watches the vault until ctx is cancelled, calling h for every event.
//
// fsnotify reports a rename as Rename on the old path followed by Create on
// the new one. The pair is joined into one EventRename when the Create
// arrives within the rename window; otherwise the old path is reported
// deleted (it was moved out of the vault).
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dirs := make(map[string]struct{})
	if err := w.addDirsRecursive(fw, w.fs.root, dirs); err != nil {
		return err
	}

	w.logger.Info("watcher: started", slog.String("root", w.fs.root))

	var pending *pendingRename
	expired := make(chan *pendingRename, 1)

	flushPending := func() {
		if pending == nil {
			return
		}
		pending.timer.Stop()
		w.emitDelete(pending, h)
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			w.logger.Info("watcher: stopped")
			return nil

		case p := <-expired:
			if p == pending {
				w.emitDelete(p, h)
				pending = nil
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			rel, ok := w.fs.Rel(ev.Name)
			if !ok {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				info, statErr := os.Stat(ev.Name)
				if statErr != nil {
					continue
				}
				w.fs.invalidateNames()

				if info.IsDir() {
					if w.fs.Ignored(rel) {
						continue
					}
					if addErr := w.addDirsRecursive(fw, ev.Name, dirs); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					}
					if pending != nil && pending.isDir {
						pending.timer.Stop()
						h(models.FileEvent{Kind: models.EventRename, Path: rel, OldPath: pending.rel, IsDir: true})
						pending = nil
						continue
					}
					flushPending()
					w.emitNewDir(ev.Name, h)
					continue
				}

				if pending != nil && !pending.isDir {
					pending.timer.Stop()
					old := pending.rel
					pending = nil
					oldIdx, newIdx := w.fs.Indexable(old), w.fs.Indexable(rel)
					switch {
					case oldIdx && newIdx:
						h(models.FileEvent{Kind: models.EventRename, Path: rel, OldPath: old, Stat: statOf(info)})
						continue
					case oldIdx:
						h(models.FileEvent{Kind: models.EventDelete, Path: old})
					}
				} else {
					flushPending()
				}
				if w.fs.Indexable(rel) {
					h(models.FileEvent{Kind: models.EventCreate, Path: rel, Stat: statOf(info)})
				}

			case ev.Op&fsnotify.Write != 0:
				if !w.fs.Indexable(rel) {
					continue
				}
				info, statErr := os.Stat(ev.Name)
				if statErr != nil {
					continue
				}
				h(models.FileEvent{Kind: models.EventModify, Path: rel, Stat: statOf(info)})

			case ev.Op&fsnotify.Remove != 0:
				w.fs.invalidateNames()
				_, isDir := dirs[ev.Name]
				if isDir {
					w.forgetDir(ev.Name, dirs)
				} else if !w.fs.Indexable(rel) {
					continue
				}
				h(models.FileEvent{Kind: models.EventDelete, Path: rel, IsDir: isDir})

			case ev.Op&fsnotify.Rename != 0:
				w.fs.invalidateNames()
				flushPending()
				_, isDir := dirs[ev.Name]
				if isDir {
					w.forgetDir(ev.Name, dirs)
				}
				p := &pendingRename{rel: rel, isDir: isDir}
				p.timer = time.AfterFunc(w.renameWindow, func() {
					select {
					case expired <- p:
					case <-ctx.Done():
					}
				})
				pending = p
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) emitDelete(p *pendingRename, h Handler) {
	if !p.isDir && !w.fs.Indexable(p.rel) {
		return
	}
	h(models.FileEvent{Kind: models.EventDelete, Path: p.rel, IsDir: p.isDir})
}

// emitNewDir reports indexable files already present in a new directory.
func (w *Watcher) emitNewDir(dir string, h Handler) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, ok := w.fs.Rel(p)
		if !ok || !w.fs.Indexable(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		h(models.FileEvent{Kind: models.EventCreate, Path: rel, Stat: statOf(info)})
		return nil
	})
}

// addDirsRecursive adds root and all its non-ignored subdirectories.
func (w *Watcher) addDirsRecursive(fw *fsnotify.Watcher, root string, dirs map[string]struct{}) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.fs.Rel(p); ok && w.fs.Ignored(rel) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return err
		}
		dirs[p] = struct{}{}
		return nil
	})
}

func (w *Watcher) forgetDir(abs string, dirs map[string]struct{}) {
	prefix := abs + string(os.PathSeparator)
	for d := range dirs {
		if d == abs || strings.HasPrefix(d, prefix) {
			delete(dirs, d)
		}
	}
}
