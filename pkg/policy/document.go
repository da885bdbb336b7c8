package policy

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Document is the on-disk policy shape, shared by the YAML and TOML
// decoders.
//
//	thresholds:
//	  max_text_size_kb: 500
//	  max_binary_size_kb: 100
//	ignore:
//	  paths: [vendor/lib.min.js]
//	  globs: ["docs/**"]
//	override_allow: ["assets/approved/**"]
//	disallow:
//	  extensions: [ipynb, exe]
//	  globs: ["**/*.sqlite"]
//	  mime_types: ["video/*"]
//	rules:
//	  - id: big-binaries
//	    match: {binary: true}
//	    size_over_kb: 50
//	    action: warn
type Document struct {
	Thresholds    ThresholdsDoc `yaml:"thresholds,omitempty" toml:"thresholds"`
	Ignore        IgnoreDoc     `yaml:"ignore,omitempty" toml:"ignore"`
	OverrideAllow []string      `yaml:"override_allow,omitempty" toml:"override_allow"`
	Disallow      DisallowDoc   `yaml:"disallow,omitempty" toml:"disallow"`
	Rules         []RuleDoc     `yaml:"rules,omitempty" toml:"rules"`
}

type ThresholdsDoc struct {
	MaxTextSizeKB   *float64 `yaml:"max_text_size_kb,omitempty" toml:"max_text_size_kb"`
	MaxBinarySizeKB *float64 `yaml:"max_binary_size_kb,omitempty" toml:"max_binary_size_kb"`
}

type IgnoreDoc struct {
	Paths []string `yaml:"paths,omitempty" toml:"paths"`
	Globs []string `yaml:"globs,omitempty" toml:"globs"`
}

type DisallowDoc struct {
	Extensions []string `yaml:"extensions,omitempty" toml:"extensions"`
	Globs      []string `yaml:"globs,omitempty" toml:"globs"`
	MIMETypes  []string `yaml:"mime_types,omitempty" toml:"mime_types"`
}

type RuleDoc struct {
	ID          string   `yaml:"id" toml:"id"`
	Description string   `yaml:"description,omitempty" toml:"description"`
	Match       MatchDoc `yaml:"match" toml:"match"`
	SizeOverKB  *float64 `yaml:"size_over_kb,omitempty" toml:"size_over_kb"`
	Action      string   `yaml:"action" toml:"action"`
}

type MatchDoc struct {
	Globs      []string `yaml:"globs,omitempty" toml:"globs"`
	Extensions []string `yaml:"extensions,omitempty" toml:"extensions"`
	MIMETypes  []string `yaml:"mime_types,omitempty" toml:"mime_types"`
	Binary     *bool    `yaml:"binary,omitempty" toml:"binary"`
}

func (m MatchDoc) empty() bool {
	return len(m.Globs) == 0 && len(m.Extensions) == 0 && len(m.MIMETypes) == 0 && m.Binary == nil
}

// New validates doc and builds a Model. Thresholds the document leaves
// unset come from defaults.
func New(doc Document, defaults Thresholds) (*Model, error) {
	m := &Model{Thresholds: defaults}
	if v := doc.Thresholds.MaxTextSizeKB; v != nil {
		m.Thresholds.MaxTextSizeKB = *v
	}
	if v := doc.Thresholds.MaxBinarySizeKB; v != nil {
		m.Thresholds.MaxBinarySizeKB = *v
	}
	if err := checkSize("thresholds.max_text_size_kb", m.Thresholds.MaxTextSizeKB); err != nil {
		return nil, err
	}
	if err := checkSize("thresholds.max_binary_size_kb", m.Thresholds.MaxBinarySizeKB); err != nil {
		return nil, err
	}

	var err error
	ignore := append(append([]string(nil), doc.Ignore.Paths...), doc.Ignore.Globs...)
	if m.Ignore, err = NewPathSet("ignore", ignore); err != nil {
		return nil, err
	}
	if m.Allow, err = NewPathSet("override_allow", doc.OverrideAllow); err != nil {
		return nil, err
	}
	if m.Disallow.Globs, err = NewPathSet("disallow.globs", doc.Disallow.Globs); err != nil {
		return nil, err
	}
	if m.Disallow.Extensions, err = normalizeExtensions("disallow.extensions", doc.Disallow.Extensions); err != nil {
		return nil, err
	}
	if m.Disallow.MIMETypes, err = normalizeMIMETypes("disallow.mime_types", doc.Disallow.MIMETypes); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(doc.Rules))
	for i, rd := range doc.Rules {
		rule, err := newRule(rd)
		if err != nil {
			var cfgErr *ConfigError
			if errors.As(err, &cfgErr) && cfgErr.Rule == "" {
				cfgErr.Rule = ruleLabel(i, rd.ID)
			}
			return nil, err
		}
		if seen[rule.ID] {
			return nil, &ConfigError{Rule: ruleLabel(i, rd.ID), Field: "id", Msg: "duplicate rule id"}
		}
		seen[rule.ID] = true
		m.Rules = append(m.Rules, rule)
	}
	return m, nil
}

func ruleLabel(i int, id string) string {
	if strings.TrimSpace(id) == "" {
		return "#" + strconv.Itoa(i+1)
	}
	return strconv.Quote(id)
}

func newRule(rd RuleDoc) (Rule, error) {
	r := Rule{ID: strings.TrimSpace(rd.ID), Description: strings.TrimSpace(rd.Description)}
	if r.ID == "" {
		return Rule{}, &ConfigError{Field: "id", Msg: "rule id is required"}
	}
	if rd.Match.empty() {
		return Rule{}, &ConfigError{Field: "match", Msg: "at least one of globs, extensions, mime_types or binary is required"}
	}
	action, err := ParseSeverity(rd.Action)
	if err != nil {
		return Rule{}, &ConfigError{Field: "action", Err: err}
	}
	r.Action = action
	if rd.SizeOverKB != nil {
		if err := checkSize("size_over_kb", *rd.SizeOverKB); err != nil {
			return Rule{}, err
		}
		v := *rd.SizeOverKB
		r.SizeOverKB = &v
	}

	if r.Match.Globs, err = NewPathSet("match.globs", rd.Match.Globs); err != nil {
		return Rule{}, err
	}
	if r.Match.Extensions, err = normalizeExtensions("match.extensions", rd.Match.Extensions); err != nil {
		return Rule{}, err
	}
	if r.Match.MIMETypes, err = normalizeMIMETypes("match.mime_types", rd.Match.MIMETypes); err != nil {
		return Rule{}, err
	}
	if rd.Match.Binary != nil {
		v := *rd.Match.Binary
		r.Match.Binary = &v
	}
	return r, nil
}

func checkSize(field string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return &ConfigError{Field: field, Msg: fmt.Sprintf("must be a non-negative number, got %v", v)}
	}
	return nil
}

func normalizeExtensions(field string, in []string) ([]string, error) {
	var out []string
	for _, raw := range in {
		ext := normalizeExtension(raw)
		if ext == "" || strings.ContainsAny(ext, "/*?") {
			return nil, &ConfigError{Field: field, Msg: fmt.Sprintf("invalid extension %q", raw)}
		}
		out = append(out, ext)
	}
	return out, nil
}

func normalizeMIMETypes(field string, in []string) ([]string, error) {
	var out []string
	for _, raw := range in {
		mime := strings.ToLower(strings.TrimSpace(raw))
		typ, sub, ok := strings.Cut(mime, "/")
		if !ok || typ == "" || sub == "" || typ == "*" || strings.Contains(sub, "/") {
			return nil, &ConfigError{Field: field, Msg: fmt.Sprintf("invalid MIME type %q", raw)}
		}
		out = append(out, mime)
	}
	return out, nil
}

// Document renders m back into the file shape, with every threshold
// spelled out. Exact ignore paths and globs come back merged under globs.
func (m *Model) Document() Document {
	text, binary := m.Thresholds.MaxTextSizeKB, m.Thresholds.MaxBinarySizeKB
	doc := Document{
		Thresholds:    ThresholdsDoc{MaxTextSizeKB: &text, MaxBinarySizeKB: &binary},
		Ignore:        IgnoreDoc{Globs: m.Ignore.Patterns()},
		OverrideAllow: m.Allow.Patterns(),
		Disallow: DisallowDoc{
			Extensions: append([]string(nil), m.Disallow.Extensions...),
			Globs:      m.Disallow.Globs.Patterns(),
			MIMETypes:  append([]string(nil), m.Disallow.MIMETypes...),
		},
	}
	for _, r := range m.Rules {
		doc.Rules = append(doc.Rules, RuleDoc{
			ID:          r.ID,
			Description: r.Description,
			Match: MatchDoc{
				Globs:      r.Match.Globs.Patterns(),
				Extensions: append([]string(nil), r.Match.Extensions...),
				MIMETypes:  append([]string(nil), r.Match.MIMETypes...),
				Binary:     r.Match.Binary,
			},
			SizeOverKB: r.SizeOverKB,
			Action:     string(r.Action),
		})
	}
	return doc
}
