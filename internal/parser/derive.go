package parser

import (
	"fmt"

	"github.com/starford/navigator/internal/models"
)

// Options configure every provider run by Derive.
type Options struct {
	Preview PreviewOptions
	Image   ImageOptions
	// Frontmatter disables metadata extraction when false.
	Frontmatter bool
	Fields      FieldMap
	// PropertyKeys are surfaced in the property tree.
	PropertyKeys []string
}

// Result holds the derived fields requested from Derive. Fields not requested
// keep their zero values.
type Result struct {
	Tags             []string
	Preview          string
	FeatureImage     string
	HasFeatureImage  bool
	Metadata         models.Metadata
	MetadataFailures []string
	Properties       map[string][]string
	// Failed lists providers that panicked or errored; their fields are unset.
	Failed models.Field
	Errs   []error
}

// Derive runs the providers selected by fields over raw note content. A
// failure in one provider never prevents the others from running.
func Derive(data []byte, fields models.Field, opts Options) Result {
	doc := SplitFrontmatter(data)
	var res Result

	run := func(f models.Field, fn func()) {
		if fields&f == 0 {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				res.Failed |= f
				res.Errs = append(res.Errs, fmt.Errorf("parser: %s provider: %v", f, r))
			}
		}()
		fn()
	}

	run(models.FieldTags, func() {
		res.Tags = ExtractTags(doc)
	})
	run(models.FieldPreview, func() {
		res.Preview = ExtractPreview(doc, opts.Preview)
	})
	run(models.FieldFeatureImage, func() {
		res.FeatureImage, res.HasFeatureImage = FindFeatureImage(doc, opts.Image)
	})
	run(models.FieldMetadata, func() {
		if !opts.Frontmatter {
			return
		}
		if doc.FrontmatterErr != nil {
			res.MetadataFailures = []string{"frontmatter"}
			return
		}
		res.Metadata, res.MetadataFailures = ParseMetadata(doc.Frontmatter, opts.Fields)
		res.Properties = Properties(doc.Frontmatter, opts.PropertyKeys)
	})
	return res
}
