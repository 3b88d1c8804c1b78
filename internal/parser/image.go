package parser

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultImageProperties are the frontmatter keys checked for a feature image.
var DefaultImageProperties = []string{"thumbnail", "cover", "image", "banner"}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".bmp": {}, ".avif": {},
}

var (
	embedImageRe = regexp.MustCompile(`!\[\[([^\]]+)\]\]`)
	mdImageRe    = regexp.MustCompile(`!\[[^\]]*\]\(\s*<?([^)>\s]+)>?(?:\s+"[^"]*")?\s*\)`)
)

// ImageOptions control feature image discovery.
type ImageOptions struct {
	// Properties overrides DefaultImageProperties when non-empty.
	Properties []string
}

// FindFeatureImage returns the link target of the note's feature image: the
// first configured frontmatter property holding a local image, otherwise the
// earliest image embed in the body outside code. Remote URLs are ignored.
func FindFeatureImage(doc Document, opts ImageOptions) (string, bool) {
	props := opts.Properties
	if len(props) == 0 {
		props = DefaultImageProperties
	}
	for _, key := range props {
		for _, v := range stringValues(doc.Frontmatter[key]) {
			if ref, ok := cleanImageRef(unwrapLink(v)); ok {
				return ref, true
			}
		}
	}

	body := blankCode(stripComments(doc.Body))
	best, bestAt := "", -1
	consider := func(re *regexp.Regexp) {
		for _, loc := range re.FindAllSubmatchIndex(body, -1) {
			if bestAt >= 0 && loc[0] >= bestAt {
				return
			}
			if ref, ok := cleanImageRef(string(body[loc[2]:loc[3]])); ok {
				best, bestAt = ref, loc[0]
				return
			}
		}
	}
	consider(embedImageRe)
	consider(mdImageRe)
	return best, bestAt >= 0
}

// unwrapLink turns "[[x.png]]" or "![[x.png|200]]" into "x.png|200".
func unwrapLink(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "!")
	if strings.HasPrefix(v, "[[") && strings.HasSuffix(v, "]]") {
		return v[2 : len(v)-2]
	}
	return v
}

func cleanImageRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexByte(ref, '|'); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref = ref[:i]
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return "", false
	}
	if dec, err := url.PathUnescape(ref); err == nil {
		ref = dec
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if _, ok := imageExtensions[strings.ToLower(path.Ext(ref))]; !ok {
		return "", false
	}
	return ref, true
}

// IsImage reports whether p has a supported image extension.
func IsImage(p string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(p))]
	return ok
}
