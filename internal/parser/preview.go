package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultPreviewLength is the rune ceiling applied when PreviewOptions.MaxLength is zero.
const DefaultPreviewLength = 300

// PreviewOptions control preview extraction.
type PreviewOptions struct {
	MaxLength      int
	SkipHeadings   bool
	SkipCodeBlocks bool
}

var (
	embedRe     = regexp.MustCompile(`!\[\[[^\]]*\]\]`)
	wikilinkRe  = regexp.MustCompile(`\[\[([^\]|]*)(?:\|([^\]]*))?\]\]`)
	highlightRe = regexp.MustCompile(`==([^=]+)==`)
	tagStripRe  = regexp.MustCompile(`(^|[\s(,;])#[\p{L}\p{N}_/\-]+`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// ExtractPreview returns a plain-text excerpt of the body with Markdown syntax
// removed. The result is empty when the note has no visible text.
func ExtractPreview(doc Document, opts PreviewOptions) string {
	limit := opts.MaxLength
	if limit <= 0 {
		limit = DefaultPreviewLength
	}

	s := collectText(doc.Body, collectOptions{
		skipHeadings:   opts.SkipHeadings,
		skipCodeBlocks: opts.SkipCodeBlocks,
		skipImageAlt:   true,
	})
	s = embedRe.ReplaceAllString(s, " ")
	s = wikilinkRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := wikilinkRe.FindStringSubmatch(m)
		if sub[2] != "" {
			return sub[2]
		}
		target := sub[1]
		if i := strings.IndexByte(target, '#'); i >= 0 {
			target = target[:i]
		}
		return target
	})
	s = highlightRe.ReplaceAllString(s, "$1")
	s = tagStripRe.ReplaceAllString(s, "$1")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))

	return truncate(s, limit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return strings.TrimRight(s[:i], " ") + "…"
		}
		n++
	}
	return s
}
