package navcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/detect"
	"github.com/starford/navigator/internal/lru"
	"github.com/starford/navigator/internal/metrics"
	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/scheduler"
	"github.com/starford/navigator/internal/store"
)

// HandleEvent applies one host notification. The record index reflects the
// event when HandleEvent returns; regeneration and persistence follow in the
// background. Events must be delivered in the order the host produced them.
func (c *Cache) HandleEvent(ev models.FileEvent) {
	if !c.alive.Load() || ev.Path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		metrics.QueueLength.Set(float64(c.queue.Len()))
		metrics.RecordsTotal.Set(float64(c.records.Len()))
	}()

	switch ev.Kind {
	case models.EventDelete:
		c.handleDelete(ev)
	case models.EventRename:
		c.handleRename(ev)
	default:
		_ = c.handleUpsert(ev)
	}
}

// handleUpsert reports whether regeneration was scheduled. Callers hold c.mu.
func (c *Cache) handleUpsert(ev models.FileEvent) bool {
	existing := c.records.Get(ev.Path)
	d := detect.Decide(existing, ev, c.opts.Detect)
	metrics.EventsTotal.WithLabelValues(ev.Kind.String(), d.Action.String()).Inc()

	switch d.Action {
	case detect.ActionCreate:
		rec := &models.FileRecord{Path: ev.Path, Fingerprint: d.Fingerprint, Pending: d.Fields}
		c.records.Set(rec)
		c.persist("put", rec.Path)
	case detect.ActionRegenerate:
		rec, _ := c.records.Update(ev.Path, func(r *models.FileRecord) bool {
			r.Fingerprint.Size = d.Fingerprint.Size
			r.Fingerprint.MTime = d.Fingerprint.MTime
			r.Pending |= d.Fields
			return true
		})
		if rec == nil {
			return false
		}
		c.persist("put", rec.Path)
	default:
		return false
	}
	c.schedule(ev.Path, d)
	return d.Fields != 0
}

func (c *Cache) schedule(path string, d detect.Decision) {
	if d.Fields == 0 {
		return
	}
	rec := c.records.Get(path)
	if rec == nil {
		return
	}
	c.queue.Enqueue(scheduler.Job{Path: path, Fields: d.Fields, Fingerprint: rec.Fingerprint})
}

func (c *Cache) handleDelete(ev models.FileEvent) {
	if !ev.IsDir {
		if rec := c.records.Delete(ev.Path); rec != nil {
			metrics.EventsTotal.WithLabelValues(ev.Kind.String(), detect.ActionDelete.String()).Inc()
			c.forget(ev.Path)
			c.writer.enqueue("delete", func(db *store.DB) error { return db.Delete(ev.Path) })
			c.bus.Publish([]models.ContentChange{{Path: ev.Path, Removed: true}})
			return
		}
	}

	// A folder, or a path the index never saw.
	paths := c.records.DeletePrefix(ev.Path)
	metrics.EventsTotal.WithLabelValues(ev.Kind.String(), "delete_folder").Inc()
	if len(paths) == 0 {
		return
	}
	changes := make([]models.ContentChange, 0, len(paths))
	for _, p := range paths {
		c.forget(p)
		changes = append(changes, models.ContentChange{Path: p, Removed: true})
	}
	c.writer.enqueue("delete_folder", func(db *store.DB) error { return db.Delete(paths...) })
	c.logger.Debug("navcache: folder removed", slog.String("path", ev.Path), slog.Int("files", len(paths)))
	c.bus.Publish(changes)
}

// forget drops queued work and cached content of a removed path.
func (c *Cache) forget(path string) {
	c.queue.Remove(path)
	c.texts.RemoveFunc(func(k store.Key, _ string) bool { return k.Path == path })
	c.blobs.RemoveFunc(func(k store.Key, _ *Blob) bool { return k.Path == path })
}

func (c *Cache) handleRename(ev models.FileEvent) {
	if ev.OldPath == "" || ev.OldPath == ev.Path {
		_ = c.handleUpsert(models.FileEvent{Kind: models.EventModify, Path: ev.Path, Stat: ev.Stat})
		return
	}

	if ev.IsDir || (!c.records.Has(ev.OldPath) && c.records.HasPrefix(ev.OldPath)) {
		c.renameFolder(ev)
		return
	}

	existing := c.records.Get(ev.OldPath)
	d := detect.Decide(existing, ev, c.opts.Detect)
	metrics.EventsTotal.WithLabelValues(ev.Kind.String(), d.Action.String()).Inc()

	if d.Action != detect.ActionRename {
		// Nothing known at the old path: index the destination as new.
		_ = c.handleUpsert(models.FileEvent{Kind: models.EventCreate, Path: ev.Path, Stat: ev.Stat})
		return
	}

	// A record already at the destination is replaced.
	if c.records.Has(ev.Path) {
		c.records.Delete(ev.Path)
		c.forget(ev.Path)
	}
	if _, ok := c.records.Rename(ev.OldPath, ev.Path); !ok {
		return
	}
	c.queue.Rename(ev.OldPath, ev.Path)
	c.migrate(ev.OldPath, ev.Path)
	c.writer.enqueue("rename", func(db *store.DB) error {
		return db.Rename(store.Move{From: ev.OldPath, To: ev.Path})
	})
	c.bus.Publish([]models.ContentChange{{Path: ev.Path, OldPath: ev.OldPath}})

	if d.Fields != 0 {
		c.records.Update(ev.Path, func(r *models.FileRecord) bool {
			r.Fingerprint.Size = d.Fingerprint.Size
			r.Fingerprint.MTime = d.Fingerprint.MTime
			r.Pending |= d.Fields
			return true
		})
	}
	c.persist("put", ev.Path)
	c.persistPreview(ev.Path)
	c.requeuePending(ev.Path)
}

// requeuePending queues whatever is still pending on path. A job taken for
// the old path before a rename commits nowhere, so the new path must carry
// the work itself.
func (c *Cache) requeuePending(path string) {
	rec := c.records.Get(path)
	if rec == nil || rec.Pending == 0 {
		return
	}
	c.queue.Enqueue(scheduler.Job{Path: path, Fields: rec.Pending, Fingerprint: rec.Fingerprint})
}

func (c *Cache) renameFolder(ev models.FileEvent) {
	moves := c.records.RenamePrefix(ev.OldPath, ev.Path)
	metrics.EventsTotal.WithLabelValues(ev.Kind.String(), "rename_folder").Inc()
	if len(moves) == 0 {
		return
	}
	storeMoves := make([]store.Move, 0, len(moves))
	changes := make([]models.ContentChange, 0, len(moves))
	targets := make([]string, 0, len(moves))
	for _, m := range moves {
		c.queue.Rename(m.From, m.To)
		c.migrate(m.From, m.To)
		storeMoves = append(storeMoves, store.Move{From: m.From, To: m.To})
		changes = append(changes, models.ContentChange{Path: m.To, OldPath: m.From})
		targets = append(targets, m.To)
	}
	c.writer.enqueue("rename_folder", func(db *store.DB) error { return db.Rename(storeMoves...) })
	c.persist("put_folder", targets...)
	for _, p := range targets {
		c.persistPreview(p)
		c.requeuePending(p)
	}
	c.logger.Debug("navcache: folder renamed",
		slog.String("from", ev.OldPath),
		slog.String("to", ev.Path),
		slog.Int("files", len(moves)),
	)
	c.bus.Publish(changes)
}

// migrate rekeys cached previews and blobs from one path to another.
func (c *Cache) migrate(from, to string) {
	migrateKeys(c.texts, from, to)
	migrateKeys(c.blobs, from, to)
}

func migrateKeys[V any](cache *lru.Cache[store.Key, V], from, to string) {
	for _, k := range cache.Keys() {
		if k.Path != from {
			continue
		}
		v, ok := cache.Peek(k)
		if !ok {
			continue
		}
		cache.Remove(k)
		cache.Put(store.Key{Path: to, Signature: k.Signature}, v)
	}
}

// persist writes the index state of paths as it is when the writer runs.
// Paths no longer indexed by then are skipped, so a write queued before a
// delete or rename never brings the old row back.
func (c *Cache) persist(name string, paths ...string) {
	c.writer.enqueue(name, func(db *store.DB) error {
		recs := make([]*models.FileRecord, 0, len(paths))
		for _, p := range paths {
			if rec := c.records.Get(p); rec != nil {
				recs = append(recs, rec)
			}
		}
		if len(recs) == 0 {
			return nil
		}
		return db.PutMany(recs)
	})
}

// persistPreview stores the resident preview text of path under its current
// signature. A commit racing a rename may have written it under the old path.
func (c *Cache) persistPreview(path string) {
	rec := c.records.Get(path)
	if rec == nil || rec.PreviewStatus != models.StatusHas {
		return
	}
	key := store.Key{Path: path, Signature: rec.PreviewSignature}
	text, ok := c.texts.Peek(key)
	if !ok {
		return
	}
	c.writer.enqueue("put_preview", func(db *store.DB) error {
		if !c.currentPreview(key) {
			return nil
		}
		return db.PutPreview(key, text)
	})
}

// syncRemove drops path unless it reappeared after the listing was taken.
func (c *Cache) syncRemove(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive.Load() || !c.records.Has(path) {
		return false
	}
	if _, err := c.host.Stat(path); err == nil {
		return false
	}
	c.handleDelete(models.FileEvent{Kind: models.EventDelete, Path: path})
	return true
}

// syncUpsert indexes path with a fresh stat. Files that vanished after the
// listing was taken are skipped.
func (c *Cache) syncUpsert(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive.Load() {
		return false
	}
	st, err := c.host.Stat(path)
	if err != nil {
		return false
	}
	return c.handleUpsert(models.FileEvent{Kind: models.EventCreate, Path: path, Stat: st})
}

// RefreshMetadata re-derives frontmatter-sourced fields of path without
// touching its preview, as after a host metadata-cache update.
func (c *Cache) RefreshMetadata(path string) {
	if !c.records.Has(path) {
		return
	}
	c.HandleEvent(models.FileEvent{Kind: models.EventMetadata, Path: path})
}

// SyncResult summarises a reconciliation scan.
type SyncResult struct {
	Scanned int
	Queued  int
	Removed int
}

// Sync reconciles the index with the host: files that vanished while the
// cache was not running are removed, and new or changed files are queued.
func (c *Cache) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	entries, err := c.host.List(ctx)
	if err != nil {
		return res, fmt.Errorf("navcache: sync: %w", err)
	}
	res.Scanned = len(entries)

	// The listing may be stale by now: events keep arriving while it runs.
	// Every decision below re-checks the file under c.mu, the lock
	// HandleEvent takes, so a concurrent delete or rename always wins.
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Path] = struct{}{}
	}
	var gone []string
	c.records.Scan(func(r *models.FileRecord) bool {
		if _, ok := seen[r.Path]; !ok {
			gone = append(gone, r.Path)
		}
		return true
	})
	for _, p := range gone {
		if c.syncRemove(p) {
			res.Removed++
		}
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !c.alive.Load() {
			return res, apperr.ErrClosed
		}
		if c.syncUpsert(e.Path) {
			res.Queued++
		}
	}
	metrics.QueueLength.Set(float64(c.queue.Len()))
	metrics.RecordsTotal.Set(float64(c.records.Len()))

	c.logger.Info("navcache: sync complete",
		slog.Int("scanned", res.Scanned),
		slog.Int("queued", res.Queued),
		slog.Int("removed", res.Removed),
	)
	return res, nil
}
