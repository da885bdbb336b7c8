package policy

import "fmt"

// Facts describe one file occurrence.
type Facts struct {
	Path   string
	SizeKB float64
	Binary bool
	MIME   string
}

// Kind is the verdict category.
type Kind int

const (
	Allowed Kind = iota
	Ignored
	Violation
)

func (k Kind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case Ignored:
		return "ignored"
	case Violation:
		return "violation"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Stage names the evaluation step that decided a verdict.
type Stage string

const (
	StageIgnore    Stage = "ignore"
	StageAllow     Stage = "override_allow"
	StageRule      Stage = "rule"
	StageDisallow  Stage = "disallow"
	StageThreshold Stage = "threshold"
)

// Verdict is the outcome for one occurrence. Severity and RuleID are set
// only for violations; RuleID is empty when no rule fired.
type Verdict struct {
	Kind     Kind
	Stage    Stage
	Severity Severity
	RuleID   string
	Reason   string
	SizeKB   float64
}

// Evaluate applies m to f. The first decisive stage wins:
//
//  1. ignore patterns
//  2. override_allow patterns
//  3. rules in declared order; a rule whose predicate matches but whose
//     size gate is not exceeded falls through to the next rule
//  4. disallow extensions, globs and MIME types
//  5. global thresholds (binary or text)
func Evaluate(m *Model, f Facts) Verdict {
	if m == nil {
		m = &Model{}
	}
	if v, ok := Exempt(m, f.Path); ok {
		v.SizeKB = f.SizeKB
		return v
	}

	for i := range m.Rules {
		r := &m.Rules[i]
		if !r.Match.matches(f) {
			continue
		}
		if r.SizeOverKB != nil && !(f.SizeKB > *r.SizeOverKB) {
			continue
		}
		return Verdict{
			Kind:     Violation,
			Stage:    StageRule,
			Severity: r.Action,
			RuleID:   r.ID,
			Reason:   ruleReason(r, f),
			SizeKB:   f.SizeKB,
		}
	}

	if ext, ok := hasExtension(f.Path, m.Disallow.Extensions); ok {
		return disallowed(f, fmt.Sprintf("extension .%s is disallowed", ext))
	}
	if m.Disallow.Globs.Match(f.Path) {
		return disallowed(f, "path matches a disallowed pattern")
	}
	if mime, ok := matchMIME(f.MIME, m.Disallow.MIMETypes); ok {
		return disallowed(f, fmt.Sprintf("MIME type %s is disallowed (%s)", f.MIME, mime))
	}

	kind, limit := "text", m.Thresholds.MaxTextSizeKB
	if f.Binary {
		kind, limit = "binary", m.Thresholds.MaxBinarySizeKB
	}
	if f.SizeKB > limit {
		return Verdict{
			Kind:     Violation,
			Stage:    StageThreshold,
			Severity: SeverityError,
			Reason:   fmt.Sprintf("%s file is %s KB, over the %s KB limit", kind, formatKB(f.SizeKB), formatKB(limit)),
			SizeKB:   f.SizeKB,
		}
	}
	return Verdict{Kind: Allowed, Stage: StageThreshold, SizeKB: f.SizeKB, Reason: "within size limits"}
}

// Exempt returns the verdict for a path decided by ignore or override_allow
// alone. Such paths need no size or content facts.
func Exempt(m *Model, path string) (Verdict, bool) {
	if m == nil {
		return Verdict{}, false
	}
	if m.Ignore.Match(path) {
		return Verdict{Kind: Ignored, Stage: StageIgnore, Reason: "path is ignored"}, true
	}
	if m.Allow.Match(path) {
		return Verdict{Kind: Allowed, Stage: StageAllow, Reason: "path is explicitly allowed"}, true
	}
	return Verdict{}, false
}

func disallowed(f Facts, reason string) Verdict {
	return Verdict{Kind: Violation, Stage: StageDisallow, Severity: SeverityError, Reason: reason, SizeKB: f.SizeKB}
}

func (m *Match) matches(f Facts) bool {
	if !m.Globs.Empty() && !m.Globs.Match(f.Path) {
		return false
	}
	if len(m.Extensions) > 0 {
		if _, ok := hasExtension(f.Path, m.Extensions); !ok {
			return false
		}
	}
	if len(m.MIMETypes) > 0 {
		if _, ok := matchMIME(f.MIME, m.MIMETypes); !ok {
			return false
		}
	}
	if m.Binary != nil && *m.Binary != f.Binary {
		return false
	}
	return true
}

func ruleReason(r *Rule, f Facts) string {
	reason := r.Description
	if reason == "" {
		reason = "matched rule " + r.ID
	}
	if r.SizeOverKB != nil {
		reason += fmt.Sprintf(" (%s KB, over %s KB)", formatKB(f.SizeKB), formatKB(*r.SizeOverKB))
	}
	return reason
}

func formatKB(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
