package parser

import (
	"regexp"
	"strings"
	"unicode"
)

var inlineTagRe = regexp.MustCompile(`(?:^|[\s(,;])#([\p{L}\p{N}_/\-]+)`)

// ExtractTags returns the deduplicated tags of a note: frontmatter "tags"
// (or "tag") first, then inline #tags outside code. Comparison is
// case-insensitive and the first spelling wins.
func ExtractTags(doc Document) []string {
	out := []string{}
	seen := make(map[string]struct{})
	add := func(tag string) {
		tag = normalizeTag(tag)
		if tag == "" {
			return
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}

	for _, tag := range FrontmatterTags(doc.Frontmatter) {
		add(tag)
	}

	visible := collectText(doc.Body, collectOptions{skipCodeBlocks: true, skipImageAlt: true})
	for _, m := range inlineTagRe.FindAllStringSubmatch(visible, -1) {
		add(m[1])
	}
	return out
}

// FrontmatterTags reads the "tags" or "tag" property as a list or a comma or
// space separated string.
func FrontmatterTags(fm map[string]any) []string {
	raw, ok := fm["tags"]
	if !ok {
		raw, ok = fm["tag"]
	}
	if !ok {
		return nil
	}
	var out []string
	for _, v := range stringValues(raw) {
		out = append(out, strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})...)
	}
	return out
}

func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "#")
	tag = strings.Trim(tag, "/")
	if !validTag(tag) {
		return ""
	}
	return tag
}

// validTag requires at least one non-digit so "#123" is not a tag.
func validTag(tag string) bool {
	if tag == "" {
		return false
	}
	for _, r := range tag {
		if unicode.IsSpace(r) || r == '#' {
			return false
		}
	}
	for _, r := range tag {
		if !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// TagAncestors expands "a/b/c" into "a", "a/b", "a/b/c".
func TagAncestors(tag string) []string {
	parts := strings.Split(tag, "/")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}
