// Package policy holds the validated policy model and the evaluator that
// decides, for one file occurrence, whether it is ignored, allowed or in
// violation.
package policy

import (
	"fmt"
	"strings"
)

// Severity is a rule action and the comparison basis for the failure floor.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// ParseSeverity accepts "warn", "warning" and "error", case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	}
	return "", fmt.Errorf("unknown severity %q (want warn or error)", s)
}

func (s Severity) rank() int {
	switch s {
	case SeverityWarn:
		return 1
	case SeverityError:
		return 2
	}
	return 0
}

// AtLeast reports whether s is at or above floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.rank() >= floor.rank() && s.rank() > 0
}

// Thresholds are the global size limits in kilobytes (1 KB = 1024 bytes).
// A zero limit admits only empty files of that kind.
type Thresholds struct {
	MaxTextSizeKB   float64
	MaxBinarySizeKB float64
}

// Disallow lists decide violations unconditionally, after rules.
type Disallow struct {
	Extensions []string // lowercase, without the leading dot
	Globs      PathSet
	MIMETypes  []string // lowercase; "type/*" wildcards allowed
}

// Match is a rule predicate. Every non-empty field must match; at least one
// field is set.
type Match struct {
	Globs      PathSet
	Extensions []string
	MIMETypes  []string
	Binary     *bool
}

// Rule is one ordered precedence rule.
type Rule struct {
	ID          string
	Description string
	Match       Match
	SizeOverKB  *float64
	Action      Severity
}

// Model is a validated policy. It is never modified after New returns and is
// safe for concurrent use.
type Model struct {
	Ignore     PathSet
	Allow      PathSet
	Disallow   Disallow
	Thresholds Thresholds
	Rules      []Rule
}

// Empty returns a model with only global thresholds.
func Empty(t Thresholds) *Model {
	return &Model{Thresholds: t}
}

// KB converts bytes to kilobytes.
func KB(bytes int64) float64 {
	return float64(bytes) / 1024
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// hasExtension is a case-insensitive suffix check so multi-part extensions
// such as "tar.gz" work.
func hasExtension(p string, exts []string) (string, bool) {
	lower := strings.ToLower(p)
	for _, ext := range exts {
		if strings.HasSuffix(lower, "."+ext) {
			return ext, true
		}
	}
	return "", false
}

func matchMIME(mime string, patterns []string) (string, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		return "", false
	}
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			if strings.HasPrefix(mime, prefix+"/") {
				return p, true
			}
			continue
		}
		if mime == p {
			return p, true
		}
	}
	return "", false
}
