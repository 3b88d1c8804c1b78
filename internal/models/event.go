package models

// EventKind names a host file lifecycle notification.
type EventKind uint8

const (
	EventCreate EventKind = iota
	EventModify
	// EventMetadata is a frontmatter-cache update without a content write.
	EventMetadata
	EventRename
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventMetadata:
		return "metadata"
	case EventRename:
		return "rename"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileStat is the stat metadata delivered with an event.
type FileStat struct {
	Size  int64
	MTime int64 // unix milliseconds
}

// Fingerprint converts the stat into a Fingerprint.
func (s FileStat) Fingerprint() Fingerprint {
	return Fingerprint{Size: s.Size, MTime: s.MTime}
}

// FileEvent is one host notification. OldPath is set for renames only.
type FileEvent struct {
	Kind    EventKind
	Path    string
	OldPath string
	Stat    FileStat
	IsDir   bool
}
