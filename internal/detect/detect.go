// Package detect decides how a file lifecycle event affects a cached record.
package detect

import "github.com/starford/navigator/internal/models"

// Action is the outcome of Decide.
type Action uint8

const (
	ActionNone Action = iota
	ActionCreate
	ActionRegenerate
	ActionRename
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionRegenerate:
		return "regenerate"
	case ActionRename:
		return "rename"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// Options say which derived fields are sourced from frontmatter, and so must
// be refreshed on a metadata-only event.
type Options struct {
	FrontmatterTags  bool
	FrontmatterImage bool
}

// Decision is what the cache should do for one event.
type Decision struct {
	Action      Action
	Fields      models.Field
	Fingerprint models.Fingerprint
}

// Decide compares ev with the existing record for its path (nil when none).
// For renames, existing is the record at ev.OldPath.
func Decide(existing *models.FileRecord, ev models.FileEvent, opts Options) Decision {
	fp := ev.Stat.Fingerprint()

	switch ev.Kind {
	case models.EventDelete:
		if existing == nil {
			return Decision{Action: ActionNone}
		}
		return Decision{Action: ActionDelete}

	case models.EventRename:
		if existing == nil {
			return Decision{Action: ActionCreate, Fields: models.FieldsContent, Fingerprint: fp}
		}
		d := Decision{Action: ActionRename, Fingerprint: existing.Fingerprint}
		// A move that also rewrote the file.
		if !fp.IsZero() && !fp.Equal(existing.Fingerprint) {
			d.Fields = models.FieldsContent
			d.Fingerprint = fp
		}
		return d

	case models.EventMetadata:
		if existing == nil {
			return Decision{Action: ActionCreate, Fields: models.FieldsContent, Fingerprint: fp}
		}
		if !fp.IsZero() && !fp.Equal(existing.Fingerprint) {
			return Decision{Action: ActionRegenerate, Fields: models.FieldsContent, Fingerprint: fp}
		}
		fields := models.FieldMetadata
		if opts.FrontmatterTags {
			fields |= models.FieldTags
		}
		if opts.FrontmatterImage {
			fields |= models.FieldFeatureImage
		}
		return Decision{Action: ActionRegenerate, Fields: fields, Fingerprint: existing.Fingerprint}

	default:
		if existing == nil {
			return Decision{Action: ActionCreate, Fields: models.FieldsContent, Fingerprint: fp}
		}
		if fp.Equal(existing.Fingerprint) {
			// Unchanged, but a previous attempt may have failed to read the file.
			if existing.Pending != 0 {
				return Decision{Action: ActionRegenerate, Fields: existing.Pending, Fingerprint: fp}
			}
			return Decision{Action: ActionNone, Fingerprint: fp}
		}
		return Decision{Action: ActionRegenerate, Fields: models.FieldsContent, Fingerprint: fp}
	}
}
