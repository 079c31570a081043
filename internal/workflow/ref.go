package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loomhq/loom/internal/storage"
)

// NoneMarker is rendered for unresolved, out-of-range, or missing-field
// references. References never raise; a dangling one degrades to this
// literal so navigation-only workflows keep moving.
const NoneMarker = "none"

// refPrefix introduces a result reference inside a string field.
const refPrefix = "registry["

// Ref is one parsed result reference: registry[<index-or-name>] with an
// optional .field suffix. References are parsed once per step and evaluated
// against the run's registry — never textual find-and-replace.
type Ref struct {
	ByIndex bool
	Index   int
	Name    string
	Field   string
}

// Lookup resolves the reference against a registry. The boolean is false
// for out-of-range indexes, unknown names, and missing fields.
func (r Ref) Lookup(reg *Registry) (any, bool) {
	var (
		value any
		ok    bool
	)
	if r.ByIndex {
		value, ok = reg.At(r.Index)
	} else {
		value, ok = reg.Named(r.Name)
	}
	if !ok {
		return nil, false
	}
	if r.Field == "" {
		return value, true
	}
	return fieldOf(value, r.Field)
}

// fieldOf extracts a named field from a step value. Map values are indexed
// directly; query results ([]map rows) expose their first row's fields;
// exec results expose their two counters. Anything else has no fields.
func fieldOf(value any, field string) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		out, ok := v[field]
		return out, ok
	case []map[string]any:
		if len(v) == 0 {
			return nil, false
		}
		out, ok := v[0][field]
		return out, ok
	case storage.ExecResult:
		switch field {
		case "rows_affected":
			return v.RowsAffected, true
		case "last_insert_id":
			return v.LastInsertID, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// segment is one piece of a parsed template: either literal text or a
// reference.
type segment struct {
	literal string
	ref     *Ref
}

// Template is a string field parsed into literal and reference segments.
type Template struct {
	segments []segment
}

// HasRefs reports whether the template contains at least one reference.
func (t Template) HasRefs() bool {
	for _, s := range t.segments {
		if s.ref != nil {
			return true
		}
	}
	return false
}

// Render evaluates the template against a registry. Unresolved references
// render as NoneMarker.
func (t Template) Render(reg *Registry) string {
	var b strings.Builder
	for _, s := range t.segments {
		if s.ref == nil {
			b.WriteString(s.literal)
			continue
		}
		value, ok := s.ref.Lookup(reg)
		if !ok || value == nil {
			b.WriteString(NoneMarker)
			continue
		}
		b.WriteString(formatValue(value))
	}
	return b.String()
}

// formatValue renders a registry value for substitution into a string field.
func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseTemplate splits a string into literal and reference segments.
// Malformed tokens (no closing bracket, empty selector) are kept as literal
// text rather than rejected.
func ParseTemplate(s string) Template {
	var segs []segment
	for len(s) > 0 {
		start := strings.Index(s, refPrefix)
		if start < 0 {
			segs = append(segs, segment{literal: s})
			break
		}
		ref, rest, ok := parseRef(s[start:])
		if !ok {
			// Not a well-formed reference; emit through the prefix and rescan.
			segs = append(segs, segment{literal: s[:start+len(refPrefix)]})
			s = s[start+len(refPrefix):]
			continue
		}
		if start > 0 {
			segs = append(segs, segment{literal: s[:start]})
		}
		segs = append(segs, segment{ref: ref})
		s = rest
	}
	return Template{segments: segs}
}

// parseRef parses one reference at the beginning of s (which starts with
// refPrefix). Returns the reference and the unconsumed remainder.
func parseRef(s string) (*Ref, string, bool) {
	body := s[len(refPrefix):]
	end := strings.IndexByte(body, ']')
	if end <= 0 {
		return nil, "", false
	}
	selector := body[:end]
	rest := body[end+1:]

	ref := &Ref{}
	if idx, err := strconv.Atoi(selector); err == nil {
		ref.ByIndex = true
		ref.Index = idx
	} else {
		if !validName(selector) {
			return nil, "", false
		}
		ref.Name = selector
	}

	// Optional .field suffix.
	if strings.HasPrefix(rest, ".") {
		field := leadingIdent(rest[1:])
		if field != "" {
			ref.Field = field
			rest = rest[1+len(field):]
		}
	}
	return ref, rest, true
}

// validName accepts step-name selectors: word characters, dots excluded.
func validName(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return s != ""
}

// leadingIdent returns the identifier prefix of s.
func leadingIdent(s string) string {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return s[:i]
		}
	}
	return s
}
