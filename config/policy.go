package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Target selects the stores a force or read-only option applies to.
type Target struct {
	Remote bool
	Cache  bool
}

// Both asserts both targets.
var Both = Target{Remote: true, Cache: true}

func (t Target) Any() bool {
	return t.Remote || t.Cache
}

func (t Target) String() string {
	switch {
	case t.Remote && t.Cache:
		return "both"
	case t.Remote:
		return "remote"
	case t.Cache:
		return "cache"
	}
	return "none"
}

// Policy is the normalized force / read-only selection consumed by the engine.
// Read-only wins over force: a read-only target is never written.
type Policy struct {
	ReadOnly Target
	Force    Target
}

// ReadCache reports whether cached snapshots may be trusted.
func (p Policy) ReadCache() bool {
	return !p.Force.Cache
}

// WriteCache reports whether snapshots may be written.
func (p Policy) WriteCache() bool {
	return !p.ReadOnly.Cache
}

// WriteRemote reports whether uploads and deletions may be issued.
func (p Policy) WriteRemote() bool {
	return !p.ReadOnly.Remote
}

// DryRun reports whether nothing at all is written.
func (p Policy) DryRun() bool {
	return p.ReadOnly.Remote && p.ReadOnly.Cache
}

// ParseTarget reads a force or read-only value. Accepted forms are a bool, one
// of "remote", "cache" or "both" (or a comma separated list of them), a list,
// or a map with "remote" and "cache" bool entries.
func ParseTarget(field string, v any) (Target, error) {
	switch val := v.(type) {
	case nil:
		return Target{}, nil
	case bool:
		if val {
			return Both, nil
		}
		return Target{}, nil
	case string:
		var t Target
		for _, part := range strings.Split(val, ",") {
			pt, err := parseTargetWord(field, strings.TrimSpace(part))
			if err != nil {
				return Target{}, err
			}
			t = union(t, pt)
		}
		return t, nil
	case []string:
		var t Target
		for _, s := range val {
			pt, err := ParseTarget(field, s)
			if err != nil {
				return Target{}, err
			}
			t = union(t, pt)
		}
		return t, nil
	case []any:
		var t Target
		for _, item := range val {
			pt, err := ParseTarget(field, item)
			if err != nil {
				return Target{}, err
			}
			t = union(t, pt)
		}
		return t, nil
	case map[string]any:
		var t Target
		for k, raw := range val {
			b, err := cast.ToBoolE(raw)
			if err != nil {
				return Target{}, errorf(field, raw, "%s must be a boolean", k)
			}
			switch strings.ToLower(k) {
			case "remote":
				t.Remote = b
			case "cache":
				t.Cache = b
			default:
				return Target{}, errorf(field, k, "unknown target %q (expected remote or cache)", k)
			}
		}
		return t, nil
	case Target:
		return val, nil
	}
	return Target{}, errorf(field, v, "unsupported value type %T", v)
}

func parseTargetWord(field, word string) (Target, error) {
	switch strings.ToLower(word) {
	case "", "false", "none":
		return Target{}, nil
	case "both", "true":
		return Both, nil
	case "remote":
		return Target{Remote: true}, nil
	case "cache":
		return Target{Cache: true}, nil
	}
	return Target{}, errorf(field, word, "must be remote, cache or both")
}

func union(a, b Target) Target {
	return Target{Remote: a.Remote || b.Remote, Cache: a.Cache || b.Cache}
}

// Error is a configuration error. It is always fatal and reported before any
// network or cache I/O happens.
type Error struct {
	Field string
	Value any
	Msg   string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	if e.Value == nil {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("config: %s: %s (got %v)", e.Field, e.Msg, e.Value)
}

func errorf(field string, value any, format string, args ...any) *Error {
	return &Error{Field: field, Value: value, Msg: fmt.Sprintf(format, args...)}
}
