package content

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/odvcencio/sizeguard/pkg/object"
)

// textMIMETypes are non-text/* types that still hold text.
var textMIMETypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/x-empty":    true,
	"inode/x-empty":          true,
}

// FileCommandClassifier pipes a sampled prefix through "file --mime -b -".
type FileCommandClassifier struct {
	src    Source
	sample int
	binary string
}

// NewFileCommandClassifier returns a classifier using the file(1) binary
// found on PATH.
func NewFileCommandClassifier(src Source, sample int) (*FileCommandClassifier, error) {
	bin, err := exec.LookPath("file")
	if err != nil {
		return nil, fmt.Errorf("file command: %w", err)
	}
	if sample <= 0 {
		sample = DefaultSampleSize
	}
	return &FileCommandClassifier{src: src, sample: sample, binary: bin}, nil
}

// Classify implements Classifier.
func (c *FileCommandClassifier) Classify(ctx context.Context, id object.Hash) (Class, error) {
	data, err := c.src.Prefix(ctx, id, c.sample)
	if err != nil {
		return Class{}, err
	}
	cmd := exec.CommandContext(ctx, c.binary, "--mime", "-b", "-")
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Class{}, fmt.Errorf("file --mime %s: %s", id.Short(), msg)
	}
	return parseFileMIME(string(out)), nil
}

// parseFileMIME interprets output such as "text/plain; charset=us-ascii".
func parseFileMIME(out string) Class {
	mimeType, params, _ := strings.Cut(strings.TrimSpace(out), ";")
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	charset := ""
	for _, p := range strings.Split(params, ";") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(p), "charset="); ok {
			charset = strings.ToLower(v)
		}
	}

	text := strings.HasPrefix(mimeType, "text/") || textMIMETypes[mimeType]
	if charset == "binary" && mimeType != "application/x-empty" && mimeType != "inode/x-empty" {
		text = false
	}
	return Class{Binary: !text, MIME: mimeType, Confidence: ConfidenceHigh}
}

// HeuristicClassifier inspects a sampled prefix: a NUL byte means binary,
// otherwise the share of printable bytes decides. A binary format whose
// first sample bytes hold no NUL and are mostly printable is misread as
// text; that approximation is accepted.
type HeuristicClassifier struct {
	src    Source
	sample int
}

// NewHeuristicClassifier returns a classifier that needs no external tools.
func NewHeuristicClassifier(src Source, sample int) *HeuristicClassifier {
	if sample <= 0 {
		sample = DefaultSampleSize
	}
	return &HeuristicClassifier{src: src, sample: sample}
}

// Classify implements Classifier.
func (c *HeuristicClassifier) Classify(ctx context.Context, id object.Hash) (Class, error) {
	data, err := c.src.Prefix(ctx, id, c.sample)
	if err != nil {
		return Class{}, err
	}
	return classifySample(data), nil
}

const (
	printableRatioUTF8  = 0.7
	printableRatioOther = 0.5
)

func classifySample(data []byte) Class {
	if len(data) == 0 {
		return Class{Binary: false, MIME: "text/plain", Confidence: ConfidenceMedium}
	}
	mimeType, _, _ := strings.Cut(http.DetectContentType(data), ";")
	if bytes.IndexByte(data, 0) >= 0 {
		return Class{Binary: true, MIME: mimeType, Confidence: ConfidenceHigh}
	}

	valid := utf8.Valid(trimPartialRune(data))
	printable := 0
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r != utf8.RuneError || size > 1 {
			if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
				printable += size
			}
		}
		i += size
	}
	ratio := float64(printable) / float64(len(data))

	threshold := printableRatioOther
	if valid {
		threshold = printableRatioUTF8
	}
	conf := ConfidenceMedium
	if ratio > 0.9 || ratio < 0.3 {
		conf = ConfidenceHigh
	}
	if !valid {
		if conf == ConfidenceHigh {
			conf = ConfidenceMedium
		} else {
			conf = ConfidenceLow
		}
	}
	return Class{Binary: ratio < threshold, MIME: mimeType, Confidence: conf}
}

// trimPartialRune drops an incomplete UTF-8 sequence cut off by the sample
// boundary.
func trimPartialRune(data []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		b := data[len(data)-i]
		if utf8.RuneStart(b) {
			if !utf8.FullRune(data[len(data)-i:]) {
				return data[:len(data)-i]
			}
			break
		}
	}
	return data
}

// NewClassifier picks the file(1) classifier when the binary is available
// and useFile is set, else the heuristic. The choice is fixed for the life
// of the returned Classifier.
func NewClassifier(src Source, sample int, useFile bool, log *slog.Logger) Classifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if useFile {
		c, err := NewFileCommandClassifier(src, sample)
		if err == nil {
			log.Debug("classifier selected", "kind", "file")
			return c
		}
		log.Debug("file command unavailable, using heuristic classifier", "err", err)
	}
	log.Debug("classifier selected", "kind", "heuristic")
	return NewHeuristicClassifier(src, sample)
}
