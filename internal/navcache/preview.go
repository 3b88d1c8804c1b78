package navcache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/navigator/internal/metrics"
	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/store"
)

// previewLoader hydrates evicted or not-yet-loaded previews from the store
// in batches and announces them on the bus.
type previewLoader struct {
	c        *Cache
	maxBatch int

	mu      sync.Mutex
	pending []store.Key
	queued  map[store.Key]struct{}
	wake    chan struct{}
}

func newPreviewLoader(c *Cache, maxBatch int) *previewLoader {
	return &previewLoader{
		c:        c,
		maxBatch: maxBatch,
		queued:   make(map[store.Key]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

func (l *previewLoader) request(key store.Key) {
	l.mu.Lock()
	if _, ok := l.queued[key]; ok {
		l.mu.Unlock()
		return
	}
	l.queued[key] = struct{}{}
	l.pending = append(l.pending, key)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *previewLoader) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			batch := l.take()
			if len(batch) == 0 {
				break
			}
			if ctx.Err() != nil || !l.c.alive.Load() {
				return
			}
			l.load(batch)
		}
	}
}

func (l *previewLoader) take() []store.Key {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := min(l.maxBatch, len(l.pending))
	batch := append([]store.Key(nil), l.pending[:n]...)
	l.pending = l.pending[n:]
	return batch
}

func (l *previewLoader) load(batch []store.Key) {
	defer func() {
		l.mu.Lock()
		for _, k := range batch {
			delete(l.queued, k)
		}
		l.mu.Unlock()
	}()

	texts, err := l.c.db.GetPreviews(batch)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("get_previews").Inc()
		l.c.logger.Warn("navcache: preview load failed",
			slog.Int("keys", len(batch)),
			slog.String("error", err.Error()),
		)
		return
	}

	var changes []models.ContentChange
	for key, text := range texts {
		// The record may have moved on while the batch was queued.
		rec := l.c.records.Get(key.Path)
		if rec == nil || rec.PreviewSignature != key.Signature {
			continue
		}
		l.c.texts.Put(key, text)
		t := text
		changes = append(changes, models.ContentChange{Path: key.Path, Preview: &t})
	}
	metrics.CacheEntries.WithLabelValues(metrics.CachePreview).Set(float64(l.c.texts.Len()))
	l.c.bus.Publish(changes)
}
