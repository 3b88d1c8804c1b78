package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/starford/navigator/internal/models"
)

// FieldMap names the frontmatter keys feeding each metadata field. Empty keys
// disable the field.
type FieldMap struct {
	Name     string
	Created  string
	Modified string
	Icon     string
	Color    string
	// DateFormat is a Go time layout; empty means detect the format.
	DateFormat string
}

// DefaultFieldMap is the key set used when none is configured.
var DefaultFieldMap = FieldMap{
	Name:     "title",
	Created:  "created",
	Modified: "modified",
	Icon:     "icon",
	Color:    "color",
}

// ParseMetadata reads metadata from frontmatter. Values present but not
// parseable are left nil and their field names returned as failures.
func ParseMetadata(fm map[string]any, fields FieldMap) (models.Metadata, []string) {
	var (
		meta     models.Metadata
		failures []string
	)
	if len(fm) == 0 {
		return meta, nil
	}

	str := func(key string) (*string, bool) {
		if key == "" {
			return nil, true
		}
		raw, ok := fm[key]
		if !ok || raw == nil {
			return nil, true
		}
		vals := stringValues(raw)
		if len(vals) == 0 {
			return nil, false
		}
		s := strings.TrimSpace(vals[0])
		if s == "" {
			return nil, true
		}
		return &s, true
	}
	date := func(key string) (*time.Time, bool) {
		if key == "" {
			return nil, true
		}
		raw, ok := fm[key]
		if !ok || raw == nil {
			return nil, true
		}
		t, err := parseDate(raw, fields.DateFormat)
		if err != nil {
			return nil, false
		}
		return &t, true
	}

	var ok bool
	if meta.Name, ok = str(fields.Name); !ok {
		failures = append(failures, "name")
	}
	if meta.Created, ok = date(fields.Created); !ok {
		failures = append(failures, "created")
	}
	if meta.Modified, ok = date(fields.Modified); !ok {
		failures = append(failures, "modified")
	}
	if meta.Icon, ok = str(fields.Icon); !ok {
		failures = append(failures, "icon")
	}
	if meta.Color, ok = str(fields.Color); !ok {
		failures = append(failures, "color")
	}
	return meta, failures
}

func parseDate(raw any, layout string) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case int:
		return unixAuto(int64(v)), nil
	case int64:
		return unixAuto(v), nil
	case float64:
		return unixAuto(int64(v)), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, fmt.Errorf("parser: empty date")
		}
		if layout != "" {
			return time.Parse(layout, s)
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 10 {
			return unixAuto(n), nil
		}
		return dateparse.ParseAny(s)
	default:
		return time.Time{}, fmt.Errorf("parser: unsupported date value %T", raw)
	}
}

// unixAuto treats values past year 5138 in seconds as milliseconds.
func unixAuto(n int64) time.Time {
	if n > 1e11 || n < -1e11 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// Properties collects the values of the given frontmatter keys as strings.
func Properties(fm map[string]any, keys []string) map[string][]string {
	if len(fm) == 0 || len(keys) == 0 {
		return nil
	}
	out := make(map[string][]string)
	for _, key := range keys {
		var vals []string
		for _, v := range stringValues(fm[key]) {
			if v = strings.TrimSpace(v); v != "" {
				vals = append(vals, v)
			}
		}
		if len(vals) > 0 {
			out[key] = vals
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func scalarString(v any) string {
	switch x := v.(type) {
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
