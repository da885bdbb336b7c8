// Package report renders a scan result for people: a terminal summary,
// GitHub workflow annotations, a job summary and a pull-request comment.
// Reporters only read the result; nothing here changes the outcome of a run.
package report

import (
	"fmt"
	"strings"

	"github.com/odvcencio/sizeguard/pkg/history"
	"github.com/odvcencio/sizeguard/pkg/policy"
	"github.com/odvcencio/sizeguard/pkg/scan"
)

// Run is a finished scan plus the settings it was judged by.
type Run struct {
	Result *scan.Result
	FailOn policy.Severity
	Mode   history.Mode
	Dedupe bool
}

// Failed reports whether the run should fail the build.
func (r Run) Failed() bool {
	return r.Result != nil && r.Result.Failed(r.FailOn)
}

func (r Run) findings() []scan.Finding {
	if r.Result == nil {
		return nil
	}
	return r.Result.Findings
}

func (r Run) rangeLabel() string {
	if r.Result == nil {
		return ""
	}
	return r.Result.Base + ".." + r.Result.Head
}

func (r Run) verdictLine() string {
	errs := r.Result.Count(policy.SeverityError)
	warns := r.Result.Count(policy.SeverityWarn)
	line := fmt.Sprintf("%s, %s", plural(errs, "error"), plural(warns, "warning"))
	if r.Failed() {
		return line + fmt.Sprintf("; failing (fail-on: %s)", r.FailOn)
	}
	return line + fmt.Sprintf("; passing (fail-on: %s)", r.FailOn)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func ruleLabel(f scan.Finding) string {
	if f.RuleID != "" {
		return f.RuleID
	}
	return string(f.Stage)
}

func sizeLabel(kb float64) string {
	return fmt.Sprintf("%.1f KB", kb)
}

func kindLabel(f scan.Finding) string {
	kind := "text"
	if f.Binary {
		kind = "binary"
	}
	if f.MIME != "" {
		kind += ", " + f.MIME
	}
	return kind
}

func duplicatesNote(f scan.Finding) string {
	switch f.Duplicates {
	case 0:
		return ""
	case 1:
		return " (1 later copy)"
	}
	return fmt.Sprintf(" (%d later copies)", f.Duplicates)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
