// Package notify is the in-process registry that tells subscribers which
// derived fields of which files changed.
package notify

import (
	"log/slog"
	"sync"

	"github.com/starford/navigator/internal/models"
)

// FileCallback receives the change for one subscribed path.
type FileCallback func(models.ContentChange)

// BatchCallback receives every change of a publish round.
type BatchCallback func([]models.ContentChange)

// Unsubscribe removes a subscription. Calling it more than once, or after
// the bus is closed, is a no-op.
type Unsubscribe func()

// Bus is a typed observer registry keyed by subscription id.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	files  map[string]map[uint64]FileCallback
	global map[uint64]BatchCallback
	closed bool
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		files:  make(map[string]map[uint64]FileCallback),
		global: make(map[uint64]BatchCallback),
		logger: logger,
	}
}

// OnFileContentChange subscribes cb to changes of path.
func (b *Bus) OnFileContentChange(path string, cb FileCallback) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	subs := b.files[path]
	if subs == nil {
		subs = make(map[uint64]FileCallback)
		b.files[path] = subs
	}
	subs[id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.files[path]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.files, path)
				}
			}
		})
	}
}

// OnContentChange subscribes cb to every published batch.
func (b *Bus) OnContentChange(cb BatchCallback) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.global[id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.global, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers changes. Callbacks run on the caller's goroutine outside
// the registry lock, so they may subscribe or unsubscribe. A panicking
// callback is logged and does not stop delivery to the others.
func (b *Bus) Publish(changes []models.ContentChange) {
	if len(changes) == 0 {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	type delivery struct {
		cb     FileCallback
		change models.ContentChange
	}
	var perFile []delivery
	for _, c := range changes {
		for _, cb := range b.files[c.Path] {
			perFile = append(perFile, delivery{cb: cb, change: c})
		}
		// Subscribers of the old path learn that their file moved away.
		if c.OldPath != "" {
			for _, cb := range b.files[c.OldPath] {
				perFile = append(perFile, delivery{cb: cb, change: c})
			}
		}
	}
	batch := make([]BatchCallback, 0, len(b.global))
	for _, cb := range b.global {
		batch = append(batch, cb)
	}
	b.mu.RUnlock()

	for _, d := range perFile {
		b.safeCall(d.change.Path, func() { d.cb(d.change) })
	}
	for _, cb := range batch {
		b.safeCall("", func() { cb(changes) })
	}
}

func (b *Bus) safeCall(path string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("content change subscriber panicked",
				slog.String("path", path),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

// SubscriberCount returns the number of live per-file and global subscriptions.
func (b *Bus) SubscriberCount() (files, global int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subs := range b.files {
		files += len(subs)
	}
	return files, len(b.global)
}

// Close drops every subscription and ignores further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.files = make(map[string]map[uint64]FileCallback)
	b.global = make(map[uint64]BatchCallback)
}
