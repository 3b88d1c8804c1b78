// Package stats keeps vault-wide counters derived from the cache.
package stats

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/notify"
	"github.com/starford/navigator/internal/parser"
)

// FailureHintThreshold is the share of files with unparsable frontmatter
// fields above which a configuration hint is shown.
const FailureHintThreshold = 0.70

const failureHint = "most files fail frontmatter parsing; check the configured field names and date format"

// Source is the part of the cache the collector reads.
type Source interface {
	Scan(fn func(r *models.FileRecord) bool)
	OnContentChange(cb notify.BatchCallback) notify.Unsubscribe
	BlobStoreStats() (count int, bytes int64, err error)
}

// Snapshot is one computed view of the vault.
type Snapshot struct {
	Files            int            `json:"files"`
	Pending          int            `json:"pending"`
	Tagged           int            `json:"tagged"`
	WithPreview      int            `json:"with_preview"`
	WithFeatureImage int            `json:"with_feature_image"`
	WithMetadata     int            `json:"with_metadata"`
	MetadataFailures int            `json:"metadata_failures"`
	FailureRatio     float64        `json:"failure_ratio"`
	Hint             string         `json:"hint,omitempty"`
	TagCounts        map[string]int `json:"tag_counts"`
	BlobCount        int            `json:"blob_count"`
	BlobBytes        int64          `json:"blob_bytes"`
	BlobSize         string         `json:"blob_size"`
}

// Collector recomputes the snapshot lazily after content changes.
type Collector struct {
	src    Source
	logger *slog.Logger

	mu    sync.Mutex
	dirty bool
	snap  Snapshot

	unsub    notify.Unsubscribe
	onChange func()
}

// NewCollector subscribes to src. onChange, when set, is called after every
// change batch so callers can push fresh stats.
func NewCollector(src Source, logger *slog.Logger, onChange func()) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{src: src, logger: logger, dirty: true, onChange: onChange}
	c.unsub = src.OnContentChange(func(changes []models.ContentChange) {
		if len(changes) == 0 {
			return
		}
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		if c.onChange != nil {
			c.onChange()
		}
	})
	return c
}

// Snapshot returns current statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty {
		c.snap = Compute(c.src)
		c.dirty = false
		if c.snap.Hint != "" {
			c.logger.Warn("stats: frontmatter failures above threshold",
				slog.Float64("ratio", c.snap.FailureRatio),
				slog.Int("files", c.snap.WithMetadata),
			)
		}
	}
	return cloneSnapshot(c.snap)
}

// Invalidate forces recomputation on the next Snapshot.
func (c *Collector) Invalidate() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// Close unsubscribes from the cache.
func (c *Collector) Close() {
	c.unsub()
}

// Compute scans src once.
func Compute(src Source) Snapshot {
	s := Snapshot{TagCounts: map[string]int{}}
	src.Scan(func(r *models.FileRecord) bool {
		s.Files++
		if !r.Ready() {
			s.Pending++
		}
		if len(r.Tags) > 0 {
			s.Tagged++
		}
		countTags(s.TagCounts, r.Tags)
		if r.PreviewStatus == models.StatusHas {
			s.WithPreview++
		}
		if r.FeatureImageStatus == models.StatusHas {
			s.WithFeatureImage++
		}
		if !r.Pending.Has(models.FieldMetadata) {
			s.WithMetadata++
			if len(r.MetadataFailures) > 0 {
				s.MetadataFailures++
			}
		}
		return true
	})
	if s.WithMetadata > 0 {
		s.FailureRatio = float64(s.MetadataFailures) / float64(s.WithMetadata)
	}
	if s.FailureRatio > FailureHintThreshold {
		s.Hint = failureHint
	}

	if n, b, err := src.BlobStoreStats(); err == nil {
		s.BlobCount, s.BlobBytes = n, b
	}
	s.BlobSize = humanize.Bytes(uint64(s.BlobBytes))
	return s
}

// countTags adds one file's tags to counts, crediting every ancestor of a
// nested tag once.
func countTags(counts map[string]int, tags []string) {
	seen := map[string]struct{}{}
	for _, t := range tags {
		for _, a := range parser.TagAncestors(strings.ToLower(t)) {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			counts[a]++
		}
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	tc := make(map[string]int, len(s.TagCounts))
	for k, v := range s.TagCounts {
		tc[k] = v
	}
	s.TagCounts = tc
	return s
}
