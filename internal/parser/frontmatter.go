// Package parser holds the content providers: pure functions that derive
// tags, preview text, feature image references and metadata from a note.
package parser

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// Document is a note split into its YAML frontmatter and Markdown body.
type Document struct {
	Frontmatter map[string]any
	Body        []byte
	// FrontmatterErr is set when a frontmatter block exists but is not valid YAML.
	FrontmatterErr error
}

// SplitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. Without frontmatter the entire content is body.
func SplitFrontmatter(data []byte) Document {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return Document{Body: data}
	}

	rest := trimmed[len(delim):]
	// The opening fence must be alone on its line.
	if len(rest) > 0 && rest[0] != '\n' && rest[0] != '\r' {
		return Document{Body: data}
	}
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return Document{Body: data}
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	if nl := bytes.IndexByte(afterDelim, '\n'); nl >= 0 {
		afterDelim = afterDelim[nl+1:]
	} else {
		afterDelim = nil
	}
	body := bytes.TrimLeft(afterDelim, "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: the block is still not body text.
		return Document{Body: body, FrontmatterErr: err}
	}
	return Document{Frontmatter: fm, Body: body}
}

// stringValues flattens a scalar or list frontmatter value into strings.
func stringValues(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringValues(item)...)
		}
		return out
	case []string:
		return v
	default:
		return []string{scalarString(v)}
	}
}
