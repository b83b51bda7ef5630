package tools

import (
	"fmt"
	"strings"
	"time"
)

// Args are decoded tool arguments.
type Args map[string]any

// String returns the string at key, or "" when absent.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

// Strings returns the string list at key, skipping blank entries.
func (a Args) Strings(key string) []string {
	raw, _ := a[key].([]any)
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// Has reports whether key was supplied.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Time parses an RFC 3339 timestamp at key. A timestamp without an offset is
// interpreted in loc.
func (a Args) Time(key string, loc *time.Location) (time.Time, error) {
	s := a.String(key)
	if s == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	return ParseTime(s, loc)
}

// ParseTime accepts RFC 3339 with or without an offset.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp", s)
}
