package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/odvcencio/sizeguard/pkg/policy"
)

// TextReporter writes a human summary to a terminal or log.
type TextReporter struct {
	W     io.Writer
	Color bool
}

func (t TextReporter) palette() (errC, warnC, okC, dimC *color.Color) {
	errC = color.New(color.FgRed, color.Bold)
	warnC = color.New(color.FgYellow, color.Bold)
	okC = color.New(color.FgGreen)
	dimC = color.New(color.Faint)
	for _, c := range []*color.Color{errC, warnC, okC, dimC} {
		if t.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return errC, warnC, okC, dimC
}

// Write renders run.
func (t TextReporter) Write(run Run) error {
	errC, warnC, okC, dimC := t.palette()
	res := run.Result

	if _, err := fmt.Fprintf(t.W, "sizeguard: %s (%s mode): %d occurrence(s), %d evaluated, %d ignored\n",
		run.rangeLabel(), run.Mode, res.Occurrences, res.Evaluated, res.Ignored); err != nil {
		return err
	}

	for _, f := range res.Findings {
		label := errC.Sprint("ERROR")
		if f.Severity == policy.SeverityWarn {
			label = warnC.Sprint("WARN ")
		}
		_, err := fmt.Fprintf(t.W, "  %s %s %s %s\n      %s%s\n",
			label,
			f.Path,
			dimC.Sprintf("[%s, %s, %s]", sizeLabel(f.SizeKB), kindLabel(f), ruleLabel(f)),
			dimC.Sprintf("commit %s", f.Commit.Short()),
			oneLine(f.Reason),
			duplicatesNote(f),
		)
		if err != nil {
			return err
		}
	}

	verdict := okC.Sprint(run.verdictLine())
	if run.Failed() {
		verdict = errC.Sprint(run.verdictLine())
	} else if len(res.Findings) > 0 {
		verdict = warnC.Sprint(run.verdictLine())
	}
	_, err := fmt.Fprintln(t.W, verdict)
	return err
}
