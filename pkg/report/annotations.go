package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/odvcencio/sizeguard/pkg/policy"
	"github.com/odvcencio/sizeguard/pkg/scan"
)

// MaxAnnotations caps workflow annotations per run. GitHub shows only a
// handful per step anyway; the rest are summarized in one notice.
const MaxAnnotations = 50

// WriteAnnotations emits one GitHub workflow command per finding, at most
// limit of them (limit <= 0 means MaxAnnotations), followed by an overflow
// notice when findings were left out. It returns the number of annotations
// written, not counting the notice.
func WriteAnnotations(w io.Writer, findings []scan.Finding, limit int) (int, error) {
	if limit <= 0 {
		limit = MaxAnnotations
	}
	n := 0
	for _, f := range findings {
		if n == limit {
			break
		}
		level := "error"
		if f.Severity == policy.SeverityWarn {
			level = "warning"
		}
		title := "sizeguard: " + ruleLabel(f)
		msg := fmt.Sprintf("%s (%s, %s) in commit %s%s", oneLine(f.Reason), sizeLabel(f.SizeKB), kindLabel(f), f.Commit.Short(), duplicatesNote(f))
		if _, err := fmt.Fprintf(w, "::%s file=%s,title=%s::%s\n", level, escapeProperty(f.Path), escapeProperty(title), escapeData(msg)); err != nil {
			return n, err
		}
		n++
	}
	if rest := len(findings) - n; rest > 0 {
		msg := fmt.Sprintf("%d more finding(s) not annotated; see the job summary for the full list", rest)
		if _, err := fmt.Fprintf(w, "::notice title=%s::%s\n", escapeProperty("sizeguard"), escapeData(msg)); err != nil {
			return n, err
		}
	}
	return n, nil
}

var (
	dataEscaper     = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A")
	propertyEscaper = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A", ":", "%3A", ",", "%2C")
)

func escapeData(s string) string     { return dataEscaper.Replace(s) }
func escapeProperty(s string) string { return propertyEscaper.Replace(s) }
