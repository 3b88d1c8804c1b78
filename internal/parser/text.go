package parser

import (
	"bytes"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	md        = goldmark.New()
	commentRe = regexp.MustCompile(`(?s)%%.*?%%`)
)

type collectOptions struct {
	skipHeadings   bool
	skipCodeBlocks bool
	skipImageAlt   bool
}

// collectText renders the visible text of a Markdown body. Blocks are
// separated by newlines; inline code and raw HTML are dropped.
func collectText(body []byte, opts collectOptions) string {
	src := stripComments(body)
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if opts.skipCodeBlocks {
				return ast.WalkSkipChildren, nil
			}
			writeLines(&buf, n, src)
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Heading:
			if opts.skipHeadings {
				return ast.WalkSkipChildren, nil
			}
		case *ast.CodeSpan, *ast.RawHTML:
			buf.WriteByte(' ')
			return ast.WalkSkipChildren, nil
		case *ast.Image:
			if opts.skipImageAlt {
				return ast.WalkSkipChildren, nil
			}
		case *ast.AutoLink:
			buf.Write(node.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func writeLines(buf *bytes.Buffer, n ast.Node, src []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
}

func stripComments(body []byte) []byte {
	if !bytes.Contains(body, []byte("%%")) {
		return body
	}
	return commentRe.ReplaceAll(body, nil)
}

// blankCode returns a copy of body with code blocks and inline code replaced
// by spaces so byte offsets of the remaining text are preserved.
func blankCode(body []byte) []byte {
	out := bytes.Clone(body)
	doc := md.Parser().Parse(text.NewReader(body))
	blank := func(start, stop int) {
		for i := start; i < stop && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				blank(seg.Start, seg.Stop)
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					blank(t.Segment.Start, t.Segment.Stop)
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return out
}
