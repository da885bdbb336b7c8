package policy

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PathSet matches repository paths against exact paths and doublestar globs.
// A pattern with no slash also matches the basename ("*.psd" matches
// "art/cover.psd"). A trailing slash matches a directory and everything
// under it, and a leading slash anchors the pattern at the repository root.
// Literal patterns are resolved through maps; only wildcard
// patterns are matched one by one.
type PathSet struct {
	patterns []string

	dirPrefixes  map[string]struct{}
	exactPaths   map[string]struct{}
	exactBases   map[string]struct{}
	wildcardPath []string
	wildcardBase []string
}

// NewPathSet compiles patterns. A malformed glob is a *ConfigError naming
// field.
func NewPathSet(field string, patterns []string) (PathSet, error) {
	s := PathSet{
		dirPrefixes: make(map[string]struct{}),
		exactPaths:  make(map[string]struct{}),
		exactBases:  make(map[string]struct{}),
	}
	for _, raw := range patterns {
		p := normalizePattern(raw)
		anchored := strings.HasPrefix(strings.TrimSpace(raw), "/")
		if p == "" {
			return PathSet{}, &ConfigError{Field: field, Msg: fmt.Sprintf("empty pattern %q", raw)}
		}
		if !doublestar.ValidatePattern(strings.TrimSuffix(p, "/")) {
			return PathSet{}, &ConfigError{Field: field, Msg: fmt.Sprintf("malformed glob %q", raw)}
		}
		if anchored {
			s.patterns = append(s.patterns, "/"+p)
		} else {
			s.patterns = append(s.patterns, p)
		}

		if dir, ok := strings.CutSuffix(p, "/"); ok && isLiteralPattern(dir) {
			s.dirPrefixes[dir] = struct{}{}
			continue
		}
		target := strings.TrimSuffix(p, "/")
		hasSlash := anchored || strings.Contains(target, "/")
		if strings.HasSuffix(p, "/") {
			target += "/**"
			hasSlash = true
		}
		switch {
		case isLiteralPattern(target) && hasSlash:
			s.exactPaths[target] = struct{}{}
		case isLiteralPattern(target):
			s.exactBases[target] = struct{}{}
		case hasSlash:
			s.wildcardPath = append(s.wildcardPath, target)
		default:
			s.wildcardBase = append(s.wildcardBase, target)
		}
	}
	return s, nil
}

// MustPathSet is NewPathSet for patterns known to be valid.
func MustPathSet(patterns ...string) PathSet {
	s, err := NewPathSet("patterns", patterns)
	if err != nil {
		panic(err)
	}
	return s
}

func normalizePattern(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(p, "/")
}

func isLiteralPattern(pattern string) bool {
	return !strings.ContainsAny(pattern, "*?[{")
}

// Patterns returns the normalized patterns in declaration order. Anchored
// patterns keep their leading slash, so NewPathSet(Patterns()) matches the
// same paths.
func (s PathSet) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

// Empty reports whether the set has no patterns.
func (s PathSet) Empty() bool {
	return len(s.patterns) == 0
}

// Match reports whether the slash-separated repository path p matches any
// pattern.
func (s PathSet) Match(p string) bool {
	if len(s.patterns) == 0 {
		return false
	}
	base := path.Base(p)

	if _, ok := s.exactPaths[p]; ok {
		return true
	}
	if _, ok := s.exactBases[base]; ok {
		return true
	}
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if _, ok := s.dirPrefixes[p[:i]]; ok {
				return true
			}
		}
	}
	for _, pattern := range s.wildcardPath {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	for _, pattern := range s.wildcardBase {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}
