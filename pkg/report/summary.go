package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// SummaryMarker identifies sizeguard's pull-request comment so reruns
// update it in place.
const SummaryMarker = "<!-- sizeguard:summary -->"

// WriteMarkdown renders run as Markdown. At most limit findings are listed
// (limit <= 0 lists all); the rest are counted in a trailing line.
func WriteMarkdown(w io.Writer, run Run, limit int) error {
	var b strings.Builder
	res := run.Result

	status := "passed"
	if run.Failed() {
		status = "failed"
	}
	fmt.Fprintf(&b, "### sizeguard %s\n\n", status)
	fmt.Fprintf(&b, "Scanned `%s` in **%s** mode: %d occurrence(s), %d evaluated, %d ignored.",
		run.rangeLabel(), run.Mode, res.Occurrences, res.Evaluated, res.Ignored)
	if run.Dedupe {
		b.WriteString(" Identical content is reported once, at its earliest commit.")
	}
	b.WriteString("\n\n")
	b.WriteString(run.verdictLine())
	b.WriteString("\n")

	findings := res.Findings
	if len(findings) > 0 {
		shown := findings
		if limit > 0 && len(shown) > limit {
			shown = shown[:limit]
		}
		b.WriteString("\n| Severity | Path | Size | Type | Rule | Commit | Reason |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, f := range shown {
			fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %s | `%s` | %s |\n",
				f.Severity,
				cell(f.Path),
				sizeLabel(f.SizeKB),
				cell(kindLabel(f)),
				cell(ruleLabel(f)),
				f.Commit.Short(),
				cell(oneLine(f.Reason)+duplicatesNote(f)),
			)
		}
		if rest := len(findings) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "\n…and %d more.\n", rest)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// AppendStepSummary appends the Markdown summary to the job summary file
// named by path (usually $GITHUB_STEP_SUMMARY).
func AppendStepSummary(path string, run Run) (err error) {
	if path == "" {
		return errors.New("step summary: no path")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("step summary: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("step summary: %w", cerr)
		}
	}()
	if err := WriteMarkdown(f, run, 0); err != nil {
		return fmt.Errorf("step summary: %w", err)
	}
	return nil
}
