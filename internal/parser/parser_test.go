package parser

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/starford/navigator/internal/models"
)

func TestSplitFrontmatter(t *testing.T) {
	doc := SplitFrontmatter([]byte("---\ntitle: Hello\ntags:\n  - go\n---\n# Hello\nBody text.\n"))
	if doc.Frontmatter["title"] != "Hello" {
		t.Errorf("title = %v", doc.Frontmatter["title"])
	}
	if string(doc.Body) != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestSplitFrontmatter_NoFrontmatter(t *testing.T) {
	doc := SplitFrontmatter([]byte("# Just a heading\n"))
	if doc.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", doc.Frontmatter)
	}
	if string(doc.Body) != "# Just a heading\n" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestSplitFrontmatter_InvalidYAML(t *testing.T) {
	doc := SplitFrontmatter([]byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if doc.Frontmatter != nil || doc.FrontmatterErr == nil {
		t.Errorf("expected frontmatter error, got fm=%v err=%v", doc.Frontmatter, doc.FrontmatterErr)
	}
	if string(doc.Body) != "Body\n" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	doc := SplitFrontmatter([]byte("---\ntags: [alpha, \"#gamma\"]\n---\nSome text #beta and #Alpha again.\n"))
	got := ExtractTags(doc)
	want := []string{"alpha", "gamma", "beta"}
	if !slices.Equal(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
}

func TestExtractTags_IgnoresCodeAndNumbers(t *testing.T) {
	body := "Issue #123 fixed.\n\n```\n#notatag\n```\n\nInline `#nope` but #yes/nested here.\n"
	got := ExtractTags(SplitFrontmatter([]byte(body)))
	if !slices.Equal(got, []string{"yes/nested"}) {
		t.Errorf("tags = %v", got)
	}
}

func TestExtractTags_NoneIsEmptyNotNil(t *testing.T) {
	got := ExtractTags(SplitFrontmatter([]byte("plain text")))
	if got == nil || len(got) != 0 {
		t.Errorf("tags = %#v, want empty slice", got)
	}
}

func TestExtractTags_CommaString(t *testing.T) {
	got := FrontmatterTags(map[string]any{"tags": "one, two three"})
	if !slices.Equal(got, []string{"one", "two", "three"}) {
		t.Errorf("tags = %v", got)
	}
}

func TestTagAncestors(t *testing.T) {
	got := TagAncestors("a/b/c")
	if !slices.Equal(got, []string{"a", "a/b", "a/b/c"}) {
		t.Errorf("ancestors = %v", got)
	}
}

func TestExtractPreview_StripsSyntax(t *testing.T) {
	src := "---\ntitle: x\n---\n# Heading\n\nSome **bold** and [a link](http://x) with [[Target|alias]] and [[Plain]].\n\n![img](a.png)\n%%hidden%%\n```go\ncode()\n```\n"
	got := ExtractPreview(SplitFrontmatter([]byte(src)), PreviewOptions{SkipHeadings: true, SkipCodeBlocks: true})
	want := "Some bold and a link with alias and Plain."
	if got != want {
		t.Errorf("preview = %q, want %q", got, want)
	}
}

func TestExtractPreview_TagOnlyLineDropped(t *testing.T) {
	got := ExtractPreview(SplitFrontmatter([]byte("#work\n\nHello")), PreviewOptions{})
	if !strings.HasPrefix(got, "Hello") {
		t.Errorf("preview = %q, want prefix Hello", got)
	}
}

func TestExtractPreview_Truncates(t *testing.T) {
	got := ExtractPreview(SplitFrontmatter([]byte(strings.Repeat("é", 50))), PreviewOptions{MaxLength: 10})
	if got != strings.Repeat("é", 10)+"…" {
		t.Errorf("preview = %q", got)
	}
}

func TestExtractPreview_Empty(t *testing.T) {
	if got := ExtractPreview(SplitFrontmatter([]byte("---\na: 1\n---\n")), PreviewOptions{}); got != "" {
		t.Errorf("preview = %q, want empty", got)
	}
}

func TestFindFeatureImage_FrontmatterFirst(t *testing.T) {
	doc := SplitFrontmatter([]byte("---\ncover: \"[[covers/c.jpg]]\"\n---\n![[body.png]]\n"))
	got, ok := FindFeatureImage(doc, ImageOptions{})
	if !ok || got != "covers/c.jpg" {
		t.Errorf("image = %q, %v", got, ok)
	}
}

func TestFindFeatureImage_EarliestEmbed(t *testing.T) {
	body := "```\n![[in-code.png]]\n```\nText ![alt](img/first%20one.png \"t\") then ![[second.jpg|200]]\n"
	got, ok := FindFeatureImage(SplitFrontmatter([]byte(body)), ImageOptions{})
	if !ok || got != "img/first one.png" {
		t.Errorf("image = %q, %v", got, ok)
	}

	body = "![[doc.pdf]] then ![[pic.webp#anchor]] and ![](b.png)"
	got, ok = FindFeatureImage(SplitFrontmatter([]byte(body)), ImageOptions{})
	if !ok || got != "pic.webp" {
		t.Errorf("image = %q, %v", got, ok)
	}
}

func TestFindFeatureImage_SkipsRemote(t *testing.T) {
	_, ok := FindFeatureImage(SplitFrontmatter([]byte("![x](https://example.com/a.png)")), ImageOptions{})
	if ok {
		t.Error("remote image should be ignored")
	}
}

func TestParseMetadata(t *testing.T) {
	fm := map[string]any{
		"title":    "My Note",
		"created":  "2024-03-05 10:30",
		"modified": "not a date",
		"color":    "#ff0000",
	}
	meta, failures := ParseMetadata(fm, DefaultFieldMap)
	if meta.Name == nil || *meta.Name != "My Note" {
		t.Errorf("name = %v", meta.Name)
	}
	if meta.Created == nil || meta.Created.Year() != 2024 || meta.Created.Month() != time.March {
		t.Errorf("created = %v", meta.Created)
	}
	if meta.Modified != nil {
		t.Errorf("modified = %v, want nil", meta.Modified)
	}
	if !slices.Equal(failures, []string{"modified"}) {
		t.Errorf("failures = %v", failures)
	}
	if meta.Icon != nil {
		t.Errorf("icon = %v", *meta.Icon)
	}
}

func TestParseMetadata_Layout(t *testing.T) {
	fm := map[string]any{"created": "05/03/2024"}
	fields := DefaultFieldMap
	fields.DateFormat = "02/01/2006"
	meta, failures := ParseMetadata(fm, fields)
	if len(failures) != 0 || meta.Created == nil || meta.Created.Month() != time.March {
		t.Errorf("created = %v, failures = %v", meta.Created, failures)
	}
}

func TestDerive_OnlyRequestedFields(t *testing.T) {
	res := Derive([]byte("#work\n\nHello"), models.FieldTags, Options{})
	if !slices.Equal(res.Tags, []string{"work"}) {
		t.Errorf("tags = %v", res.Tags)
	}
	if res.Preview != "" {
		t.Errorf("preview computed without being requested: %q", res.Preview)
	}
}

func TestDerive_MetadataAndProperties(t *testing.T) {
	src := "---\ntitle: T\nstatus: [draft, review]\ncreated: bad\n---\nbody"
	res := Derive([]byte(src), models.FieldsContent, Options{
		Frontmatter:  true,
		Fields:       DefaultFieldMap,
		PropertyKeys: []string{"status"},
	})
	if res.Metadata.Name == nil || *res.Metadata.Name != "T" {
		t.Errorf("name = %v", res.Metadata.Name)
	}
	if !slices.Equal(res.MetadataFailures, []string{"created"}) {
		t.Errorf("failures = %v", res.MetadataFailures)
	}
	if !slices.Equal(res.Properties["status"], []string{"draft", "review"}) {
		t.Errorf("properties = %v", res.Properties)
	}
	if res.Failed != 0 {
		t.Errorf("failed = %s", res.Failed)
	}
}
