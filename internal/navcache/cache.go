// Package navcache is the metadata cache service: it keeps derived content for
// every vault file in memory for synchronous reads, regenerates it in the
// background when files change, persists it across restarts and notifies
// subscribers of exactly what changed.
package navcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/lru"
	"github.com/starford/navigator/internal/metrics"
	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/notify"
	"github.com/starford/navigator/internal/records"
	"github.com/starford/navigator/internal/scheduler"
	"github.com/starford/navigator/internal/store"
	"github.com/starford/navigator/internal/thumbnail"
	"github.com/starford/navigator/internal/vault"
)

// Blob is a feature image ready to serve.
type Blob struct {
	Data        []byte
	ContentType string
}

// Cache is one explicitly constructed cache instance. Create it with
// Initialize and release it with Shutdown.
type Cache struct {
	instanceID string
	dbPath     string
	opts       Options
	logger     *slog.Logger

	host     vault.Host
	fm       vault.FrontmatterSource
	resolver vault.LinkResolver
	thumbs   *thumbnail.Generator

	db      *store.DB
	records *records.Index
	texts   *lru.Cache[store.Key, string]
	blobs   *lru.Cache[store.Key, *Blob]
	bus     *notify.Bus
	queue   *scheduler.Queue
	flight  singleflight.Group

	writer *writer
	loader *previewLoader

	// mu orders index mutations from host events, Sync and regeneration
	// commits, along with the store writes they enqueue.
	mu sync.Mutex

	alive     atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Initialize opens (or rebuilds) the persistent store for instanceID,
// hydrates the record index from it and starts background processing. An
// empty instanceID gets a generated one. A store that cannot be opened is
// logged, deleted and recreated empty.
func Initialize(ctx context.Context, instanceID string, opts Options, deps Deps) (*Cache, error) {
	if deps.Host == nil {
		return nil, errors.New("navcache: host is required")
	}
	if instanceID == "" {
		instanceID = uuid.Must(uuid.NewV7()).String()
	}
	opts = opts.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	thumbs := deps.Thumbnails
	if thumbs == nil {
		thumbs = thumbnail.New(thumbnail.Options{})
	}

	dir := opts.DatabaseDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("navcache: create database dir: %w", err)
	}
	dbPath := filepath.Join(dir, "navigator-"+instanceID+".db")

	db, err := openStore(dbPath, opts, logger)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		instanceID: instanceID,
		dbPath:     dbPath,
		opts:       opts,
		logger:     logger,
		host:       deps.Host,
		thumbs:     thumbs,
		db:         db,
		records:    records.New(),
		bus:        notify.New(logger),
	}
	c.fm, _ = vault.AsFrontmatterSource(deps.Host)
	c.resolver, _ = vault.AsLinkResolver(deps.Host)

	c.texts = lru.New[store.Key, string](opts.PreviewTextCacheMaxEntries,
		lru.WithOnEvict(func(store.Key, string) {
			metrics.CacheEntries.WithLabelValues(metrics.CachePreview).Set(float64(c.texts.Len()))
		}),
	)
	onBlobEvict := deps.OnBlobEvict
	c.blobs = lru.New[store.Key, *Blob](opts.FeatureImageCacheMaxEntries,
		lru.WithOnEvict(func(k store.Key, _ *Blob) {
			if onBlobEvict != nil {
				onBlobEvict(k.Path)
			}
		}),
	)

	recs, err := db.GetAll()
	if err != nil {
		logger.Error("navcache: hydrate failed, starting empty", slog.String("error", err.Error()))
		recs = nil
	}
	c.records.Load(recs)
	metrics.RecordsTotal.Set(float64(c.records.Len()))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.writer = newWriter(db, logger)
	c.loader = newPreviewLoader(c, opts.PreviewLoadMaxBatch)
	c.queue = scheduler.New(scheduler.Options{
		MaxBatch:     opts.MaxBatch,
		TickInterval: opts.TickInterval,
	}, c.process, logger)

	c.alive.Store(true)
	c.wg.Add(3)
	go func() { defer c.wg.Done(); c.queue.Run(runCtx) }()
	go func() { defer c.wg.Done(); c.writer.run(runCtx) }()
	go func() { defer c.wg.Done(); c.loader.run(runCtx) }()

	logger.Info("navcache: initialized",
		slog.String("instance", instanceID),
		slog.String("db", dbPath),
		slog.Int("records", c.records.Len()),
		slog.Bool("rebuilt", db.Rebuilt()),
	)
	return c, nil
}

func openStore(path string, opts Options, logger *slog.Logger) (*store.DB, error) {
	sopts := store.Options{BlobMaxEntries: opts.BlobStoreMaxEntries}
	db, err := store.Open(path, sopts)
	if err == nil {
		if db.Rebuilt() {
			metrics.StoreRebuildsTotal.Inc()
		}
		return db, nil
	}

	logger.Error("navcache: store unusable, rebuilding",
		slog.String("db", path),
		slog.String("error", err.Error()),
	)
	metrics.StoreErrorsTotal.WithLabelValues("open").Inc()
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	db, err = store.Open(path, sopts)
	if err != nil {
		return nil, fmt.Errorf("navcache: open store: %w", err)
	}
	metrics.StoreRebuildsTotal.Inc()
	return db, nil
}

// InstanceID returns the identifier naming the database file.
func (c *Cache) InstanceID() string {
	return c.instanceID
}

// Rebuilt reports whether the store started empty, so a full scan is needed.
func (c *Cache) Rebuilt() bool {
	return c.db.Rebuilt()
}

// Alive reports whether Shutdown has not been called.
func (c *Cache) Alive() bool {
	return c.alive.Load()
}

// GetFile returns a copy of the record for path, or nil.
func (c *Cache) GetFile(path string) *models.FileRecord {
	return c.records.Get(path)
}

// GetCachedTags returns the tags of path. Nil means unknown or not yet
// extracted; an empty slice means the file has no tags.
func (c *Cache) GetCachedTags(path string) []string {
	tags, _ := c.records.Tags(path)
	return tags
}

// GetCachedPreviewText returns the preview of path if it is resident, and
// otherwise schedules a background load and returns "". It never blocks.
func (c *Cache) GetCachedPreviewText(path string) string {
	rec := c.records.Get(path)
	if rec == nil || rec.PreviewStatus != models.StatusHas {
		return ""
	}
	key := store.Key{Path: path, Signature: rec.PreviewSignature}
	if text, ok := c.texts.Get(key); ok {
		metrics.CacheHits.WithLabelValues(metrics.CachePreview).Inc()
		return text
	}
	metrics.CacheMisses.WithLabelValues(metrics.CachePreview).Inc()
	if c.alive.Load() {
		c.loader.request(key)
	}
	return ""
}

// PreviewText returns the preview of path, reading the store on a miss.
func (c *Cache) PreviewText(path string) (string, error) {
	rec := c.records.Get(path)
	if rec == nil {
		return "", fmt.Errorf("navcache: preview %s: %w", path, apperr.ErrNotFound)
	}
	if rec.PreviewStatus != models.StatusHas {
		return "", nil
	}
	key := store.Key{Path: path, Signature: rec.PreviewSignature}
	if text, ok := c.texts.Get(key); ok {
		return text, nil
	}
	if !c.alive.Load() {
		return "", apperr.ErrClosed
	}
	text, ok, err := c.db.GetPreview(key)
	if err != nil || !ok {
		return "", err
	}
	c.texts.Put(key, text)
	return text, nil
}

// OnFileContentChange subscribes cb to changes of one path.
func (c *Cache) OnFileContentChange(path string, cb notify.FileCallback) notify.Unsubscribe {
	return c.bus.OnFileContentChange(path, cb)
}

// OnContentChange subscribes cb to every change batch.
func (c *Cache) OnContentChange(cb notify.BatchCallback) notify.Unsubscribe {
	return c.bus.OnContentChange(cb)
}

// Paths returns indexed paths under prefix in order.
func (c *Cache) Paths(prefix string) []string {
	return c.records.Paths(prefix)
}

// FilesWithTag returns paths tagged with tag or one of its descendants.
func (c *Cache) FilesWithTag(tag string) []string {
	return c.records.WithTag(tag)
}

// PropertyValues returns value counts of a frontmatter property.
func (c *Cache) PropertyValues(key string) map[string]int {
	return c.records.PropertyValues(key)
}

// Scan visits every record in path order. fn must not retain r.
func (c *Cache) Scan(fn func(r *models.FileRecord) bool) {
	c.records.Scan(fn)
}

// Len returns the number of indexed files.
func (c *Cache) Len() int {
	return c.records.Len()
}

// FileExists reports whether path is indexed.
func (c *Cache) FileExists(path string) bool {
	return c.records.Has(path)
}

// FolderExists reports whether any indexed file lives under dir.
func (c *Cache) FolderExists(dir string) bool {
	return c.records.HasPrefix(dir)
}

// TagExists reports whether any file carries tag or a descendant of it.
func (c *Cache) TagExists(tag string) bool {
	return len(c.records.WithTag(tag)) > 0
}

// QueueLen returns the number of files waiting for regeneration.
func (c *Cache) QueueLen() int {
	return c.queue.Len()
}

// BlobStoreStats reports the persisted feature image count and size.
func (c *Cache) BlobStoreStats() (count int, bytes int64, err error) {
	if !c.alive.Load() {
		return 0, 0, apperr.ErrClosed
	}
	return c.db.BlobStats()
}

// WaitIdle blocks until queued regeneration has finished and its results
// are persisted.
func (c *Cache) WaitIdle(ctx context.Context) error {
	if err := c.queue.WaitIdle(ctx); err != nil {
		return err
	}
	return c.writer.flush(ctx)
}

// Shutdown stops background work, flushes pending writes and closes the
// store. In-flight provider results are discarded. Calling it again is a
// no-op.
func (c *Cache) Shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		c.queue.Stop()
		c.cancel()
		c.wg.Wait()
		c.bus.Close()
		if cerr := c.db.Close(); cerr != nil {
			err = fmt.Errorf("navcache: close store: %w", cerr)
		}
		c.logger.Info("navcache: shut down", slog.String("instance", c.instanceID))
	})
	return err
}
