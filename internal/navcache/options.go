package navcache

import (
	"log/slog"
	"time"

	"github.com/starford/navigator/internal/detect"
	"github.com/starford/navigator/internal/parser"
	"github.com/starford/navigator/internal/thumbnail"
	"github.com/starford/navigator/internal/vault"
)

// Options bound the cache. Zero values fall back to DefaultOptions(false).
type Options struct {
	FeatureImageCacheMaxEntries int
	PreviewTextCacheMaxEntries  int
	PreviewLoadMaxBatch         int
	BlobStoreMaxEntries         int

	// MaxBatch is the number of regeneration jobs processed per tick.
	MaxBatch     int
	TickInterval time.Duration

	// DatabaseDir holds navigator-<instance>.db.
	DatabaseDir string

	// HashContent records a content hash so files whose mtime changed but
	// whose bytes did not skip re-derivation.
	HashContent bool

	Content parser.Options
	Detect  detect.Options
}

// DefaultOptions returns the platform defaults. Constrained devices get
// smaller caches and batches.
func DefaultOptions(constrained bool) Options {
	o := Options{
		FeatureImageCacheMaxEntries: 1000,
		PreviewTextCacheMaxEntries:  10000,
		PreviewLoadMaxBatch:         100,
		BlobStoreMaxEntries:         5000,
		MaxBatch:                    100,
		TickInterval:                10 * time.Millisecond,
		HashContent:                 true,
		Content: parser.Options{
			Preview:     parser.PreviewOptions{MaxLength: parser.DefaultPreviewLength, SkipCodeBlocks: true},
			Frontmatter: true,
			Fields:      parser.DefaultFieldMap,
		},
		Detect: detect.Options{FrontmatterTags: true, FrontmatterImage: true},
	}
	if constrained {
		o.FeatureImageCacheMaxEntries = 200
		o.PreviewTextCacheMaxEntries = 2000
		o.PreviewLoadMaxBatch = 25
		o.BlobStoreMaxEntries = 1000
		o.MaxBatch = 20
		o.TickInterval = 25 * time.Millisecond
	}
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions(false)
	if o.FeatureImageCacheMaxEntries <= 0 {
		o.FeatureImageCacheMaxEntries = d.FeatureImageCacheMaxEntries
	}
	if o.PreviewTextCacheMaxEntries <= 0 {
		o.PreviewTextCacheMaxEntries = d.PreviewTextCacheMaxEntries
	}
	if o.PreviewLoadMaxBatch <= 0 {
		o.PreviewLoadMaxBatch = d.PreviewLoadMaxBatch
	}
	if o.BlobStoreMaxEntries <= 0 {
		o.BlobStoreMaxEntries = d.BlobStoreMaxEntries
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = d.MaxBatch
	}
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	return o
}

// Deps are the collaborators injected into the cache.
type Deps struct {
	Host       vault.Host
	Logger     *slog.Logger
	Thumbnails *thumbnail.Generator
	// OnBlobEvict releases any handle a consumer created for a feature image
	// of path. It is called whenever a blob leaves the in-memory cache.
	OnBlobEvict func(path string)
}
