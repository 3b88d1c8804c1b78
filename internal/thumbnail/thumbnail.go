// Package thumbnail turns a note's feature image into a small JPEG blob.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // BMP format support
	_ "golang.org/x/image/webp" // WebP format support

	"github.com/starford/navigator/internal/metrics"
)

// Defaults used when Options leave a value unset.
const (
	DefaultMaxDimension = 256
	DefaultQuality      = 80
)

// ErrUnsupported is returned for formats that cannot be decoded.
var ErrUnsupported = errors.New("thumbnail: unsupported image format")

// Options configure the generator.
type Options struct {
	MaxDimension int
	Quality      int
}

// Blob is generated image data.
type Blob struct {
	Data        []byte
	ContentType string
}

// Generator produces feature image thumbnails.
type Generator struct {
	maxDim  int
	quality int
}

// New creates a Generator.
func New(opts Options) *Generator {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	return &Generator{maxDim: opts.MaxDimension, quality: opts.Quality}
}

// Generate decodes data, fits it within the configured bounds and encodes it
// as JPEG. SVG sources are vector and are returned unchanged.
func (g *Generator) Generate(data []byte, name string) (*Blob, error) {
	start := time.Now()
	ext := strings.ToLower(path.Ext(name))
	if ext == ".svg" {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("success").Inc()
		return &Blob{Data: data, ContentType: "image/svg+xml"}, nil
	}
	if ext == ".avif" {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("thumbnail: decode %s: %w", name, err)
	}

	thumb := imaging.Fit(img, g.maxDim, g.maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("thumbnail: encode %s: %w", name, err)
	}

	metrics.ThumbnailGenerationsTotal.WithLabelValues("success").Inc()
	metrics.ThumbnailGenerationDuration.Observe(time.Since(start).Seconds())
	return &Blob{Data: buf.Bytes(), ContentType: "image/jpeg"}, nil
}
