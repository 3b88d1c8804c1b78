// Package models defines the domain types shared by the cache engine.
package models

import (
	"fmt"
	"slices"
	"time"
)

// Status tracks whether a derived field has been computed yet.
type Status uint8

const (
	StatusUnprocessed Status = iota
	StatusHas
	StatusNone
)

// String returns the lowercase name used in JSON payloads and logs.
func (s Status) String() string {
	switch s {
	case StatusHas:
		return "has"
	case StatusNone:
		return "none"
	default:
		return "unprocessed"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Field is a bitmask naming derived fields of a FileRecord.
type Field uint8

const (
	FieldTags Field = 1 << iota
	FieldPreview
	FieldFeatureImage
	FieldMetadata
)

// FieldsContent is every field derived from file content.
const FieldsContent = FieldTags | FieldPreview | FieldFeatureImage | FieldMetadata

// Has reports whether all bits of other are set.
func (f Field) Has(other Field) bool {
	return f&other == other && other != 0
}

// String lists set fields for logs, e.g. "tags|preview".
func (f Field) String() string {
	if f == 0 {
		return "none"
	}
	var out string
	for _, n := range []struct {
		bit  Field
		name string
	}{
		{FieldTags, "tags"},
		{FieldPreview, "preview"},
		{FieldFeatureImage, "feature_image"},
		{FieldMetadata, "metadata"},
	} {
		if f&n.bit == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += n.name
	}
	return out
}

// Fingerprint is a cheap proxy for content identity.
type Fingerprint struct {
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"` // unix milliseconds
	Hash  string `json:"hash,omitempty"`
}

// Equal compares content hashes when both sides carry one, size and mtime otherwise.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.Hash != "" && o.Hash != "" {
		return f.Hash == o.Hash && f.Size == o.Size
	}
	return f.Size == o.Size && f.MTime == o.MTime
}

// IsZero reports whether no stat has been observed.
func (f Fingerprint) IsZero() bool {
	return f.Size == 0 && f.MTime == 0 && f.Hash == ""
}

// Signature encodes the fingerprint as a cache-key component.
func (f Fingerprint) Signature() string {
	if f.Hash != "" {
		return fmt.Sprintf("%d-%s", f.Size, f.Hash)
	}
	return fmt.Sprintf("%d-%d", f.Size, f.MTime)
}

// Metadata holds frontmatter-derived display values. Nil means absent.
type Metadata struct {
	Name     *string    `json:"name,omitempty"`
	Created  *time.Time `json:"created,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`
	Icon     *string    `json:"icon,omitempty"`
	Color    *string    `json:"color,omitempty"`
}

// Equal compares field by field.
func (m Metadata) Equal(o Metadata) bool {
	return eqPtr(m.Name, o.Name) && eqTime(m.Created, o.Created) && eqTime(m.Modified, o.Modified) &&
		eqPtr(m.Icon, o.Icon) && eqPtr(m.Color, o.Color)
}

func eqPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// FileRecord is the cached representation of one vault file.
type FileRecord struct {
	Path        string      `json:"path"`
	Fingerprint Fingerprint `json:"fingerprint"`

	// Tags is nil until extracted; an empty non-nil slice means the file has none.
	Tags []string `json:"tags"`

	PreviewStatus    Status `json:"preview_status"`
	PreviewSignature string `json:"-"`

	FeatureImageKey    string `json:"feature_image_key,omitempty"`
	FeatureImageStatus Status `json:"feature_image_status"`

	Metadata         Metadata            `json:"metadata"`
	MetadataFailures []string            `json:"metadata_failures,omitempty"`
	Properties       map[string][]string `json:"properties,omitempty"`

	// Pending lists fields whose regeneration is queued.
	Pending Field `json:"-"`
}

// Ready reports whether every derived field matches the current fingerprint.
func (r *FileRecord) Ready() bool {
	return r.Pending == 0
}

// Clone returns a deep copy safe to hand to readers.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Tags != nil {
		c.Tags = slices.Clone(r.Tags)
	}
	c.MetadataFailures = slices.Clone(r.MetadataFailures)
	if r.Properties != nil {
		c.Properties = make(map[string][]string, len(r.Properties))
		for k, v := range r.Properties {
			c.Properties[k] = slices.Clone(v)
		}
	}
	return &c
}
