package navcache

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/starford/navigator/internal/checksum"
	"github.com/starford/navigator/internal/metrics"
	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/parser"
	"github.com/starford/navigator/internal/scheduler"
	"github.com/starford/navigator/internal/store"
)

// derived is provider output for one job, computed outside any lock.
type derived struct {
	job     scheduler.Job
	res     parser.Result
	hash    string
	oldText string
	// unchanged means the content hash matched, so only pending bits clear.
	unchanged bool
}

// process is the scheduler's batch handler.
func (c *Cache) process(ctx context.Context, batch []scheduler.Job) {
	start := time.Now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		metrics.QueueLength.Set(float64(c.queue.Len()))
	}()

	var changes []models.ContentChange
	for _, job := range batch {
		if ctx.Err() != nil || !c.alive.Load() {
			break
		}
		d, ok := c.derive(job)
		if !ok {
			continue
		}
		c.mu.Lock()
		rec, change, ok := c.commit(d)
		if ok {
			c.persist("put", rec.Path)
		}
		c.mu.Unlock()
		if ok && !change.Empty() {
			changes = append(changes, change)
		}
	}

	if !c.alive.Load() {
		return
	}
	metrics.CacheEntries.WithLabelValues(metrics.CachePreview).Set(float64(c.texts.Len()))
	c.bus.Publish(changes)
}

// sameStat compares size and mtime only. Content hashes are carried over
// from the last derivation and say nothing about the current stat.
func sameStat(a, b models.Fingerprint) bool {
	return a.Size == b.Size && a.MTime == b.MTime
}

func (c *Cache) derive(job scheduler.Job) (derived, bool) {
	d := derived{job: job}
	rec := c.records.Get(job.Path)
	if rec == nil {
		return d, false
	}
	if !sameStat(rec.Fingerprint, job.Fingerprint) {
		// A newer event re-queued this path with its own fingerprint.
		metrics.StaleWritesTotal.Inc()
		return d, false
	}

	// Metadata alone can come from the host's frontmatter cache.
	if job.Fields == models.FieldMetadata && c.fm != nil && c.opts.Content.Frontmatter {
		if fm, ok := c.fm.Frontmatter(job.Path); ok {
			d.res.Metadata, d.res.MetadataFailures = parser.ParseMetadata(fm, c.opts.Content.Fields)
			d.res.Properties = parser.Properties(fm, c.opts.Content.PropertyKeys)
			return d, true
		}
	}

	data, err := c.host.Read(job.Path)
	if err != nil {
		metrics.ReadFailuresTotal.Inc()
		c.logger.Warn("navcache: read failed, leaving pending",
			slog.String("path", job.Path),
			slog.String("error", err.Error()),
		)
		return d, false
	}

	if c.opts.HashContent {
		d.hash = checksum.Short(data)
		if rec.Fingerprint.Hash == d.hash && fieldsKnown(rec, job.Fields) {
			d.unchanged = true
			return d, true
		}
	}

	d.res = parser.Derive(data, job.Fields, c.opts.Content)
	for _, err := range d.res.Errs {
		c.logger.Warn("navcache: provider failed",
			slog.String("path", job.Path),
			slog.String("error", err.Error()),
		)
	}
	if job.Fields&models.FieldFeatureImage != 0 && d.res.HasFeatureImage {
		d.res.FeatureImage, d.res.HasFeatureImage = c.resolveImage(d.res.FeatureImage, job.Path)
	}
	if job.Fields&models.FieldPreview != 0 && rec.PreviewStatus == models.StatusHas {
		d.oldText = c.previousPreview(store.Key{Path: job.Path, Signature: rec.PreviewSignature})
	}
	return d, true
}

// fieldsKnown reports whether every field in f was derived at least once.
func fieldsKnown(r *models.FileRecord, f models.Field) bool {
	if f&models.FieldTags != 0 && r.Tags == nil {
		return false
	}
	if f&models.FieldPreview != 0 && r.PreviewStatus == models.StatusUnprocessed {
		return false
	}
	if f&models.FieldFeatureImage != 0 && r.FeatureImageStatus == models.StatusUnprocessed {
		return false
	}
	return true
}

func (c *Cache) resolveImage(link, from string) (string, bool) {
	if c.resolver != nil {
		return c.resolver.ResolveLink(link, from)
	}
	return link, true
}

func (c *Cache) previousPreview(key store.Key) string {
	if text, ok := c.texts.Peek(key); ok {
		return text
	}
	text, _, err := c.db.GetPreview(key)
	if err != nil {
		return ""
	}
	return text
}

// commit writes d into the record unless the file changed since the job was
// queued or the cache shut down. It returns the updated record and the
// descriptor of fields whose values changed.
func (c *Cache) commit(d derived) (*models.FileRecord, models.ContentChange, bool) {
	job := d.job
	change := models.ContentChange{Path: job.Path}
	var (
		stale       bool
		newText     string
		oldSig      string
		imageMoved  bool
		fieldsDone  = job.Fields &^ d.res.Failed
		previewDone = fieldsDone&models.FieldPreview != 0 && !d.unchanged
	)

	rec, updated := c.records.Update(job.Path, func(r *models.FileRecord) bool {
		if !c.alive.Load() {
			return false
		}
		if !sameStat(r.Fingerprint, job.Fingerprint) {
			stale = true
			return false
		}
		if d.hash != "" {
			r.Fingerprint.Hash = d.hash
		}
		r.Pending &^= fieldsDone
		if d.unchanged {
			return true
		}

		if fieldsDone&models.FieldTags != 0 {
			tags := d.res.Tags
			if tags == nil {
				tags = []string{}
			}
			if r.Tags == nil || !slices.Equal(r.Tags, tags) {
				r.Tags = tags
				change.Tags = slices.Clone(tags)
				change.TagsChanged = true
			}
		}

		if previewDone {
			oldSig = r.PreviewSignature
			oldStatus := r.PreviewStatus
			newText = d.res.Preview
			status := models.StatusNone
			if newText != "" {
				status = models.StatusHas
			}
			r.PreviewStatus = status
			r.PreviewSignature = r.Fingerprint.Signature()
			if status != oldStatus || newText != d.oldText {
				p := newText
				change.Preview = &p
			}
		}

		if fieldsDone&models.FieldFeatureImage != 0 {
			key, status := "", models.StatusNone
			if d.res.HasFeatureImage {
				key, status = d.res.FeatureImage, models.StatusHas
			}
			if key != r.FeatureImageKey {
				k := key
				change.FeatureImageKey = &k
				imageMoved = true
			}
			if status != r.FeatureImageStatus {
				s := status
				change.FeatureImageStatus = &s
			}
			r.FeatureImageKey, r.FeatureImageStatus = key, status
		}

		if fieldsDone&models.FieldMetadata != 0 {
			if !r.Metadata.Equal(d.res.Metadata) {
				m := d.res.Metadata
				change.Metadata = &m
			}
			r.Metadata = d.res.Metadata
			r.MetadataFailures = d.res.MetadataFailures
			r.Properties = d.res.Properties
		}
		return true
	})

	if stale {
		metrics.StaleWritesTotal.Inc()
		c.logger.Debug("navcache: discarded stale result", slog.String("path", job.Path))
	}
	if !updated || rec == nil {
		return nil, change, false
	}

	for _, f := range []models.Field{models.FieldTags, models.FieldPreview, models.FieldFeatureImage, models.FieldMetadata} {
		switch {
		case d.res.Failed&f != 0:
			metrics.RegenerationsTotal.WithLabelValues(f.String(), "failed").Inc()
		case job.Fields&f != 0:
			metrics.RegenerationsTotal.WithLabelValues(f.String(), "ok").Inc()
		}
	}

	if previewDone {
		newKey := store.Key{Path: job.Path, Signature: rec.PreviewSignature}
		if oldSig != "" && oldSig != newKey.Signature {
			c.texts.Remove(store.Key{Path: job.Path, Signature: oldSig})
		}
		if newText != "" {
			c.texts.Put(newKey, newText)
			c.writer.enqueue("put_preview", func(db *store.DB) error {
				if !c.currentPreview(newKey) {
					return nil
				}
				return db.PutPreview(newKey, newText)
			})
		} else {
			c.writer.enqueue("delete_preview", func(db *store.DB) error { return db.DeletePreview(job.Path) })
		}
	}
	if imageMoved {
		c.blobs.RemoveFunc(func(k store.Key, _ *Blob) bool { return k.Path == job.Path })
		c.writer.enqueue("delete_blob", func(db *store.DB) error { return db.DeleteBlob(job.Path) })
	}
	return rec, change, true
}

// currentPreview reports whether key still names the preview of an indexed
// record, so a late write never stores text for a removed or renamed path.
func (c *Cache) currentPreview(key store.Key) bool {
	rec := c.records.Get(key.Path)
	return rec != nil && rec.PreviewSignature == key.Signature
}
