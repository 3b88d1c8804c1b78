// Package explorer answers navigation queries over the cache and the
// appearance layer. It is shared by the HTTP API and the MCP tools.
package explorer

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/starford/navigator/internal/appearance"
	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/navcache"
	"github.com/starford/navigator/internal/stats"
)

// FileItem is a lightweight row of a file list.
type FileItem struct {
	Path               string                `json:"path"`
	Name               string                `json:"name"`
	Tags               []string              `json:"tags"`
	PreviewStatus      models.Status         `json:"preview_status"`
	FeatureImageKey    string                `json:"feature_image_key,omitempty"`
	FeatureImageStatus models.Status         `json:"feature_image_status"`
	Metadata           models.Metadata       `json:"metadata"`
	Modified           time.Time             `json:"modified"`
	Ready              bool                  `json:"ready"`
	Pinned             appearance.PinContext `json:"pinned"`
	Style              appearance.Style      `json:"style"`
}

// FileDetail adds the preview and raw frontmatter values to a FileItem.
type FileDetail struct {
	FileItem
	Size             int64               `json:"size"`
	Preview          string              `json:"preview"`
	MetadataFailures []string            `json:"metadata_failures,omitempty"`
	Properties       map[string][]string `json:"properties,omitempty"`
}

// ListQuery filters and pages a listing. Empty filters match everything.
type ListQuery struct {
	Prefix string
	Tag    string
	// Sort is one of appearance.SortModes; empty uses the folder or tag
	// override, then path order.
	Sort   string
	Limit  int
	Offset int
}

// TagCount is one node of the tag tree.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// Service coordinates cache, appearance and statistics reads.
type Service struct {
	cache *navcache.Cache
	layer *appearance.Layer
	stats *stats.Collector
}

// NewService creates a new explorer service.
func NewService(cache *navcache.Cache, layer *appearance.Layer, collector *stats.Collector) *Service {
	return &Service{cache: cache, layer: layer, stats: collector}
}

// Appearance returns the sidecar layer.
func (s *Service) Appearance() *appearance.Layer {
	return s.layer
}

// Cache returns the underlying cache.
func (s *Service) Cache() *navcache.Cache {
	return s.cache
}

// GetFile returns the detail of one file.
func (s *Service) GetFile(_ context.Context, p string) (*FileDetail, error) {
	rec := s.cache.GetFile(p)
	if rec == nil {
		return nil, fmt.Errorf("explorer: %s: %w", p, apperr.ErrNotFound)
	}
	preview, err := s.cache.PreviewText(p)
	if err != nil {
		return nil, err
	}
	return &FileDetail{
		FileItem:         s.item(rec),
		Size:             rec.Fingerprint.Size,
		Preview:          preview,
		MetadataFailures: nonNilSlice(rec.MetadataFailures),
		Properties:       rec.Properties,
	}, nil
}

// ListFiles returns one page of matching files and the total match count.
func (s *Service) ListFiles(_ context.Context, q ListQuery) ([]FileItem, int, error) {
	var paths []string
	if q.Tag != "" {
		for _, p := range s.cache.FilesWithTag(q.Tag) {
			if under(p, q.Prefix) {
				paths = append(paths, p)
			}
		}
	} else {
		paths = s.cache.Paths(q.Prefix)
	}

	items := make([]FileItem, 0, len(paths))
	for _, p := range paths {
		if rec := s.cache.GetFile(p); rec != nil {
			items = append(items, s.item(rec))
		}
	}

	mode := q.Sort
	if mode == "" {
		mode = s.sortOverride(q)
	}
	if err := sortItems(items, mode); err != nil {
		return nil, 0, err
	}

	total := len(items)
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return []FileItem{}, total, nil
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(items) {
		items = items[:q.Limit]
	}
	return items, total, nil
}

func (s *Service) sortOverride(q ListQuery) string {
	if q.Tag != "" {
		mode, _ := s.layer.SortOverride(appearance.KindTag, q.Tag)
		return mode
	}
	if q.Prefix != "" {
		mode, _ := s.layer.SortOverride(appearance.KindFolder, q.Prefix)
		return mode
	}
	return ""
}

// under reports whether p lies in folder dir; "" is the vault root.
func under(p, dir string) bool {
	dir = strings.Trim(dir, "/")
	return dir == "" || strings.HasPrefix(p, dir+"/")
}

// Preview returns the preview text of p.
func (s *Service) Preview(_ context.Context, p string) (string, error) {
	return s.cache.PreviewText(p)
}

// FeatureImage returns the thumbnail of p when its image key is still key.
func (s *Service) FeatureImage(ctx context.Context, p, key string) (*navcache.Blob, error) {
	blob, err := s.cache.GetFeatureImageBlob(ctx, p, key)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("explorer: feature image %s: %w", p, apperr.ErrNotFound)
	}
	return blob, nil
}

// Tags returns the tag tree as flat counts ordered by tag.
func (s *Service) Tags(_ context.Context) []TagCount {
	counts := s.stats.Snapshot().TagCounts
	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		st := s.layer.Style(appearance.KindTag, tag)
		out = append(out, TagCount{Tag: tag, Count: n, Color: st.Color, Icon: st.Icon})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// PropertyValues returns value counts of a frontmatter property.
func (s *Service) PropertyValues(_ context.Context, key string) map[string]int {
	return s.cache.PropertyValues(key)
}

// Stats returns vault statistics.
func (s *Service) Stats(_ context.Context) stats.Snapshot {
	return s.stats.Snapshot()
}

// Sync reconciles the cache with the vault.
func (s *Service) Sync(ctx context.Context) (navcache.SyncResult, error) {
	return s.cache.Sync(ctx)
}

// CleanupAppearance drops sidecar entries for things that no longer exist.
func (s *Service) CleanupAppearance(_ context.Context) (int, error) {
	return s.layer.Cleanup(s.cache)
}

func (s *Service) item(rec *models.FileRecord) FileItem {
	modified := time.UnixMilli(rec.Fingerprint.MTime).UTC()
	if rec.Metadata.Modified != nil {
		modified = *rec.Metadata.Modified
	}
	return FileItem{
		Path:               rec.Path,
		Name:               displayName(rec),
		Tags:               nonNilSlice(rec.Tags),
		PreviewStatus:      rec.PreviewStatus,
		FeatureImageKey:    rec.FeatureImageKey,
		FeatureImageStatus: rec.FeatureImageStatus,
		Metadata:           rec.Metadata,
		Modified:           modified,
		Ready:              rec.Ready(),
		Pinned:             s.layer.Pins(rec.Path),
		Style:              s.layer.Style(appearance.KindFile, rec.Path),
	}
}

func displayName(rec *models.FileRecord) string {
	if rec.Metadata.Name != nil && *rec.Metadata.Name != "" {
		return *rec.Metadata.Name
	}
	base := path.Base(rec.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

func sortItems(items []FileItem, mode string) error {
	var less func(a, b FileItem) bool
	switch mode {
	case "":
		return nil
	case "modified-desc":
		less = func(a, b FileItem) bool { return a.Modified.After(b.Modified) }
	case "modified-asc":
		less = func(a, b FileItem) bool { return a.Modified.Before(b.Modified) }
	case "created-desc":
		less = func(a, b FileItem) bool { return created(a).After(created(b)) }
	case "created-asc":
		less = func(a, b FileItem) bool { return created(a).Before(created(b)) }
	case "title-asc":
		less = func(a, b FileItem) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case "title-desc":
		less = func(a, b FileItem) bool { return strings.ToLower(a.Name) > strings.ToLower(b.Name) }
	default:
		return fmt.Errorf("explorer: unknown sort %q: %w", mode, apperr.ErrInvalid)
	}
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
	return nil
}

func created(it FileItem) time.Time {
	if it.Metadata.Created != nil {
		return *it.Metadata.Created
	}
	return it.Modified
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
