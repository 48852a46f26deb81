package policy

import (
	"fmt"
	"path"
	"strings"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	// "*": exactly one non-empty segment
	segAny
	// "{name}": exactly one all-digit segment
	segNumeric
)

type segment struct {
	kind  segmentKind
	value string
}

// Pattern is a compiled path pattern.
//
// Syntax: literal segments, "*" for exactly one segment, "{name}" for exactly one
// all-digit segment, and a trailing "**" for zero or more segments. Trailing
// slashes on both patterns and paths are ignored.
type Pattern struct {
	raw      string
	segments []segment
	rest     bool
}

// ParsePattern compiles raw into a Pattern.
func ParsePattern(raw string) (Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, fmt.Errorf("pattern %q must start with /", raw)
	}

	p := Pattern{raw: raw}
	parts := splitPath(raw)
	for i, part := range parts {
		switch {
		case part == "**":
			if i != len(parts)-1 {
				return Pattern{}, fmt.Errorf("pattern %q: ** is only allowed as the last segment", raw)
			}
			p.rest = true
		case part == "*":
			p.segments = append(p.segments, segment{kind: segAny})
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			name := part[1 : len(part)-1]
			if name == "" {
				return Pattern{}, fmt.Errorf("pattern %q: empty variable name", raw)
			}
			p.segments = append(p.segments, segment{kind: segNumeric, value: name})
		case part == "":
			return Pattern{}, fmt.Errorf("pattern %q: empty segment", raw)
		case strings.ContainsAny(part, "*{}"):
			return Pattern{}, fmt.Errorf("pattern %q: wildcards must fill a whole segment", raw)
		default:
			p.segments = append(p.segments, segment{kind: segLiteral, value: part})
		}
	}
	return p, nil
}

// String returns the pattern as written.
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether path matches the pattern. path must not include a query.
func (p Pattern) Match(path string) bool {
	parts := splitPath(path)
	if len(parts) < len(p.segments) {
		return false
	}
	if !p.rest && len(parts) != len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		part := parts[i]
		switch seg.kind {
		case segLiteral:
			if part != seg.value {
				return false
			}
		case segAny:
			if part == "" {
				return false
			}
		case segNumeric:
			if !isDigits(part) {
				return false
			}
		}
	}
	return true
}

// isCanonical reports whether p is an absolute path already in clean form: no empty,
// "." or ".." segments. A single trailing slash is allowed.
func isCanonical(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return path.Clean(p) == p
}

// splitPath returns the segments of path with leading and trailing slashes removed.
// The root path has no segments.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
