// Package vault is the host collaborator: it reads and lists vault files and
// turns file system notifications into cache events.
package vault

import (
	"context"

	"github.com/starford/navigator/internal/models"
)

// Entry is one file found by List.
type Entry struct {
	Path string
	Stat models.FileStat
}

// Host is what the cache needs from the vault.
type Host interface {
	// Stat returns size and modification time of the file at path.
	Stat(path string) (models.FileStat, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// List returns every indexable file in the vault.
	List(ctx context.Context) ([]Entry, error)
}

// FrontmatterSource is implemented by hosts that keep a parsed frontmatter
// cache, letting metadata-only refreshes skip a content read.
type FrontmatterSource interface {
	Frontmatter(path string) (map[string]any, bool)
}

// LinkResolver is implemented by hosts that can resolve a link target as
// written in a note to a vault-relative path.
type LinkResolver interface {
	ResolveLink(link, fromPath string) (string, bool)
}

// AsFrontmatterSource reports whether h offers a frontmatter cache.
func AsFrontmatterSource(h any) (FrontmatterSource, bool) {
	if h == nil {
		return nil, false
	}
	fs, ok := h.(FrontmatterSource)
	return fs, ok
}

// AsLinkResolver reports whether h can resolve links.
func AsLinkResolver(h any) (LinkResolver, bool) {
	if h == nil {
		return nil, false
	}
	r, ok := h.(LinkResolver)
	return r, ok
}
