// Package appearance holds the sidecar maps that decorate the navigation
// tree: colors, backgrounds and icons of folders, tags, files and property
// nodes, pinned files and per-node sort overrides. Entries follow the file
// lifecycle through ApplyEvent and Cleanup.
package appearance

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/vault"
)

// Kind names the keyspace an entry belongs to.
type Kind string

const (
	KindFolder   Kind = "folder"
	KindTag      Kind = "tag"
	KindFile     Kind = "file"
	KindProperty Kind = "property"
)

// ParseKind validates a kind received from a client.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindFolder, KindTag, KindFile, KindProperty:
		return k, nil
	}
	return "", fmt.Errorf("appearance: unknown kind %q: %w", s, apperr.ErrInvalid)
}

// Style is the decoration of one node. Empty fields are unset.
type Style struct {
	Color      string `yaml:"color,omitempty" json:"color,omitempty"`
	Background string `yaml:"background,omitempty" json:"background,omitempty"`
	Icon       string `yaml:"icon,omitempty" json:"icon,omitempty"`
}

// IsZero reports whether nothing is set.
func (s Style) IsZero() bool {
	return s == Style{}
}

// PinContext says in which views a file is pinned.
type PinContext struct {
	Folder   bool `yaml:"folder,omitempty" json:"folder"`
	Tag      bool `yaml:"tag,omitempty" json:"tag"`
	Property bool `yaml:"property,omitempty" json:"property"`
}

// IsZero reports whether the file is pinned nowhere.
func (p PinContext) IsZero() bool {
	return !p.Folder && !p.Tag && !p.Property
}

// Sort modes accepted as overrides.
var SortModes = []string{
	"modified-desc", "modified-asc",
	"created-desc", "created-asc",
	"title-asc", "title-desc",
}

// Settings is the persisted sidecar state.
type Settings struct {
	Folders    map[string]Style      `yaml:"folders,omitempty" json:"folders,omitempty"`
	Tags       map[string]Style      `yaml:"tags,omitempty" json:"tags,omitempty"`
	Files      map[string]Style      `yaml:"files,omitempty" json:"files,omitempty"`
	Properties map[string]Style      `yaml:"properties,omitempty" json:"properties,omitempty"`
	Pins       map[string]PinContext `yaml:"pins,omitempty" json:"pins,omitempty"`
	// Sort is keyed by "<kind>:<key>".
	Sort map[string]string `yaml:"sort,omitempty" json:"sort,omitempty"`
}

func (s *Settings) init() {
	if s.Folders == nil {
		s.Folders = map[string]Style{}
	}
	if s.Tags == nil {
		s.Tags = map[string]Style{}
	}
	if s.Files == nil {
		s.Files = map[string]Style{}
	}
	if s.Properties == nil {
		s.Properties = map[string]Style{}
	}
	if s.Pins == nil {
		s.Pins = map[string]PinContext{}
	}
	if s.Sort == nil {
		s.Sort = map[string]string{}
	}
}

func (s Settings) clone() Settings {
	out := Settings{
		Folders:    cloneMap(s.Folders),
		Tags:       cloneMap(s.Tags),
		Files:      cloneMap(s.Files),
		Properties: cloneMap(s.Properties),
		Pins:       cloneMap(s.Pins),
		Sort:       cloneMap(s.Sort),
	}
	return out
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Saver persists settings after every mutation.
type Saver interface {
	Save(Settings) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(Settings) error

func (f SaverFunc) Save(s Settings) error { return f(s) }

// FileSaver writes settings as YAML to Path, atomically.
type FileSaver struct {
	Path string
}

func (f FileSaver) Save(s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("appearance: marshal: %w", err)
	}
	if err := vault.WriteFileAtomic(f.Path, data); err != nil {
		return fmt.Errorf("appearance: save %s: %w", f.Path, err)
	}
	return nil
}

// LoadFile reads settings written by FileSaver. A missing file yields empty
// settings.
func LoadFile(path string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.init()
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("appearance: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("appearance: parse %s: %w", path, err)
	}
	s.init()
	return s, nil
}
