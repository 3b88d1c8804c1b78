package navcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/metrics"
	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/store"
)

// GetFeatureImageBlob returns the thumbnail of path's feature image. It
// returns (nil, nil) when the file has no image or when the record's image
// key no longer equals expectedKey once the blob is ready, so a caller never
// renders an image for a superseded key. Concurrent calls for the same image
// share one load.
func (c *Cache) GetFeatureImageBlob(ctx context.Context, path, expectedKey string) (*Blob, error) {
	if !c.alive.Load() {
		return nil, apperr.ErrClosed
	}
	if !c.expects(path, expectedKey) {
		return nil, nil
	}

	st, err := c.host.Stat(expectedKey)
	if err != nil {
		c.logger.Debug("navcache: feature image missing",
			slog.String("path", path),
			slog.String("image", expectedKey),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	key := store.Key{Path: path, Signature: blobSignature(expectedKey, st)}

	if b, ok := c.blobs.Get(key); ok {
		metrics.CacheHits.WithLabelValues(metrics.CacheFeatureImage).Inc()
		return b, nil
	}
	metrics.CacheMisses.WithLabelValues(metrics.CacheFeatureImage).Inc()

	ch := c.flight.DoChan(key.Path+"\x00"+key.Signature, func() (any, error) {
		return c.loadBlob(key, expectedKey)
	})
	var blob *Blob
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		blob = r.Val.(*Blob)
	}

	// The record may have moved on while the blob was loading.
	if !c.alive.Load() || !c.expects(path, expectedKey) {
		return nil, nil
	}
	if c.blobs.Put(key, blob) {
		metrics.CacheEvictions.WithLabelValues(metrics.CacheFeatureImage).Inc()
	}
	metrics.CacheEntries.WithLabelValues(metrics.CacheFeatureImage).Set(float64(c.blobs.Len()))
	return blob, nil
}

func (c *Cache) expects(path, expectedKey string) bool {
	rec := c.records.Get(path)
	return rec != nil && rec.FeatureImageStatus == models.StatusHas && rec.FeatureImageKey == expectedKey && expectedKey != ""
}

func (c *Cache) loadBlob(key store.Key, image string) (*Blob, error) {
	stored, err := c.db.GetBlob(key)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("get_blob").Inc()
		c.logger.Warn("navcache: blob read failed", slog.String("path", key.Path), slog.String("error", err.Error()))
	}
	if stored != nil {
		metrics.CacheHits.WithLabelValues(metrics.CacheBlobStore).Inc()
		return &Blob{Data: stored.Data, ContentType: stored.ContentType}, nil
	}
	metrics.CacheMisses.WithLabelValues(metrics.CacheBlobStore).Inc()

	data, err := c.host.Read(image)
	if err != nil {
		return nil, fmt.Errorf("navcache: read feature image %s: %w", image, err)
	}
	thumb, err := c.thumbs.Generate(data, image)
	if err != nil {
		return nil, fmt.Errorf("navcache: feature image %s: %w", image, err)
	}
	c.logger.Debug("navcache: feature image generated",
		slog.String("path", key.Path),
		slog.String("image", image),
		slog.String("source", humanize.Bytes(uint64(len(data)))),
		slog.String("thumbnail", humanize.Bytes(uint64(len(thumb.Data)))),
	)

	blob := &Blob{Data: thumb.Data, ContentType: thumb.ContentType}
	c.writer.enqueue("put_blob", func(db *store.DB) error {
		if !c.expects(key.Path, image) {
			return nil
		}
		n, err := db.PutBlob(key, store.Blob{Data: blob.Data, ContentType: blob.ContentType})
		if n > 0 {
			metrics.CacheEvictions.WithLabelValues(metrics.CacheBlobStore).Add(float64(n))
		}
		return err
	})
	return blob, nil
}

func blobSignature(image string, st models.FileStat) string {
	return fmt.Sprintf("%s|%d-%d", image, st.Size, st.MTime)
}
