package models

import "encoding/json"

// ContentChange lists exactly which derived fields of a file changed.
// Nil pointers and TagsChanged=false mean "unchanged", never "cleared".
type ContentChange struct {
	Path    string
	OldPath string // set when the record was migrated by a rename

	Preview            *string
	Tags               []string
	TagsChanged        bool
	FeatureImageKey    *string
	FeatureImageStatus *Status
	Metadata           *Metadata
	Removed            bool
}

// Empty reports whether the descriptor carries no change at all.
func (c ContentChange) Empty() bool {
	return c.Preview == nil && !c.TagsChanged && c.FeatureImageKey == nil &&
		c.FeatureImageStatus == nil && c.Metadata == nil && !c.Removed && c.OldPath == ""
}

// MarshalJSON emits only the changed fields; changed-to-empty tags encode as [].
func (c ContentChange) MarshalJSON() ([]byte, error) {
	out := map[string]any{"path": c.Path}
	if c.OldPath != "" {
		out["old_path"] = c.OldPath
	}
	if c.Preview != nil {
		out["preview"] = *c.Preview
	}
	if c.TagsChanged {
		tags := c.Tags
		if tags == nil {
			tags = []string{}
		}
		out["tags"] = tags
	}
	if c.FeatureImageKey != nil {
		out["feature_image_key"] = *c.FeatureImageKey
	}
	if c.FeatureImageStatus != nil {
		out["feature_image_status"] = c.FeatureImageStatus.String()
	}
	if c.Metadata != nil {
		out["metadata"] = c.Metadata
	}
	if c.Removed {
		out["removed"] = true
	}
	return json.Marshal(out)
}
