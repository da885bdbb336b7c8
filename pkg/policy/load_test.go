package policy

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
thresholds:
  max_binary_size_kb: 200
ignore:
  paths: [vendor/lib.min.js]
  globs: ["docs/**"]
override_allow: ["assets/approved/**"]
disallow:
  extensions: [".IPYNB", exe]
  globs: ["**/*.sqlite"]
  mime_types: ["video/*"]
rules:
  - id: big-binaries
    description: binaries over 50 KB belong in LFS
    match: {binary: true}
    size_over_kb: 50
    action: warning
  - id: no-models
    match:
      extensions: [onnx]
    action: error
`

const sampleTOML = `
override_allow = ["assets/approved/**"]

[thresholds]
max_binary_size_kb = 200.0

[ignore]
paths = ["vendor/lib.min.js"]
globs = ["docs/**"]

[disallow]
extensions = [".IPYNB", "exe"]
globs = ["**/*.sqlite"]
mime_types = ["video/*"]

[[rules]]
id = "big-binaries"
description = "binaries over 50 KB belong in LFS"
size_over_kb = 50.0
action = "warning"

[rules.match]
binary = true

[[rules]]
id = "no-models"
action = "error"

[rules.match]
extensions = ["onnx"]
`

func writePolicy(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_YAMLAndTOMLAgree(t *testing.T) {
	defaults := Thresholds{MaxTextSizeKB: 500, MaxBinarySizeKB: 100}
	for name, content := range map[string]string{"policy.yml": sampleYAML, "policy.toml": sampleTOML} {
		t.Run(name, func(t *testing.T) {
			m, err := LoadFile(writePolicy(t, name, content), defaults)
			require.NoError(t, err)

			assert.Equal(t, Thresholds{MaxTextSizeKB: 500, MaxBinarySizeKB: 200}, m.Thresholds)
			assert.Equal(t, []string{"ipynb", "exe"}, m.Disallow.Extensions)
			assert.Equal(t, []string{"video/*"}, m.Disallow.MIMETypes)
			require.Len(t, m.Rules, 2)
			assert.Equal(t, "big-binaries", m.Rules[0].ID)
			assert.Equal(t, SeverityWarn, m.Rules[0].Action)
			require.NotNil(t, m.Rules[0].SizeOverKB)
			assert.Equal(t, 50.0, *m.Rules[0].SizeOverKB)
			assert.Equal(t, []string{"onnx"}, m.Rules[1].Match.Extensions)

			assert.Equal(t, Ignored, Evaluate(m, Facts{Path: "vendor/lib.min.js", SizeKB: 9000}).Kind)
			assert.Equal(t, Ignored, Evaluate(m, Facts{Path: "docs/a/b.pdf", SizeKB: 9000, Binary: true}).Kind)
			assert.Equal(t, Allowed, Evaluate(m, Facts{Path: "assets/approved/x.ipynb"}).Kind)

			v := Evaluate(m, Facts{Path: "model.onnx", SizeKB: 10, Binary: true})
			assert.Equal(t, "no-models", v.RuleID)
			v = Evaluate(m, Facts{Path: "model.onnx", SizeKB: 60, Binary: true})
			assert.Equal(t, "big-binaries", v.RuleID)
			assert.Contains(t, v.Reason, "belong in LFS")
		})
	}
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	defaults := Thresholds{MaxTextSizeKB: 10, MaxBinarySizeKB: 20}
	m, err := LoadFile(filepath.Join(t.TempDir(), "nope.yml"), defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, m.Thresholds)
	assert.Empty(t, m.Rules)
	assert.True(t, m.Ignore.Empty())

	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.yml"), Thresholds{MaxTextSizeKB: -1})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadFile_EmptyFile(t *testing.T) {
	m, err := LoadFile(writePolicy(t, "empty.yml", ""), Thresholds{MaxTextSizeKB: 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Thresholds.MaxTextSizeKB)
}

func TestLoadFile_RejectsInvalidPolicies(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		rule    string
		field   string
	}{
		{name: "unknown key", file: "p.yml", content: "thresholds:\n  max_size: 1\n"},
		{name: "unknown toml key", file: "p.toml", content: "[disallow]\nsuffixes = [\"exe\"]\n"},
		{name: "bad yaml", file: "p.yml", content: "rules: [\n"},
		{name: "negative threshold", file: "p.yml", content: "thresholds:\n  max_text_size_kb: -5\n", field: "thresholds.max_text_size_kb"},
		{name: "rule without match", file: "p.yml", content: "rules:\n  - id: r1\n    action: warn\n", rule: `"r1"`, field: "match"},
		{name: "rule without id", file: "p.yml", content: "rules:\n  - match: {binary: true}\n    action: warn\n", rule: "#1", field: "id"},
		{name: "unknown action", file: "p.yml", content: "rules:\n  - id: r1\n    match: {binary: true}\n    action: block\n", rule: `"r1"`, field: "action"},
		{name: "negative size gate", file: "p.yml", content: "rules:\n  - id: r1\n    match: {binary: true}\n    size_over_kb: -1\n    action: warn\n", rule: `"r1"`, field: "size_over_kb"},
		{name: "duplicate id", file: "p.yml", content: "rules:\n  - id: r1\n    match: {binary: true}\n    action: warn\n  - id: r1\n    match: {binary: false}\n    action: warn\n", rule: `"r1"`, field: "id"},
		{name: "malformed glob", file: "p.yml", content: "rules:\n  - id: r1\n    match: {globs: [\"src/[a\"]}\n    action: warn\n", rule: `"r1"`, field: "match.globs"},
		{name: "bad mime", file: "p.yml", content: "disallow:\n  mime_types: [video]\n", field: "disallow.mime_types"},
		{name: "bad extension", file: "p.yml", content: "disallow:\n  extensions: [\"*.exe\"]\n", field: "disallow.extensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePolicy(t, tt.file, tt.content)
			_, err := LoadFile(path, Thresholds{})
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "want ConfigError, got %T: %v", err, err)
			assert.Equal(t, path, cfgErr.File)
			assert.Equal(t, tt.rule, cfgErr.Rule)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Contains(t, err.Error(), path)
		})
	}
}

func TestModelDocumentRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			doc, err := Decode([]byte(sampleYAML), FormatYAML)
			require.NoError(t, err)
			m, err := New(doc, Thresholds{MaxTextSizeKB: 500})
			require.NoError(t, err)

			var first bytes.Buffer
			require.NoError(t, Encode(&first, m.Document(), format))

			back, err := Decode(first.Bytes(), format)
			require.NoError(t, err)
			m2, err := New(back, Thresholds{})
			require.NoError(t, err)

			var second bytes.Buffer
			require.NoError(t, Encode(&second, m2.Document(), format))
			assert.Equal(t, first.String(), second.String())
			assert.Equal(t, m.Thresholds, m2.Thresholds)
		})
	}
}

func TestModelDocumentKeepsAnchors(t *testing.T) {
	patterns := []string{"/big.bin", "/build/", "vendor/", "*.psd", "/assets/**/*.png"}
	m, err := New(Document{
		Ignore:        IgnoreDoc{Globs: patterns},
		OverrideAllow: patterns,
		Disallow:      DisallowDoc{Globs: patterns},
		Rules:         []RuleDoc{{ID: "r1", Match: MatchDoc{Globs: patterns}, Action: "warn"}},
	}, Thresholds{})
	require.NoError(t, err)

	for _, format := range []Format{FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, m.Document(), format))
			back, err := Decode(buf.Bytes(), format)
			require.NoError(t, err)
			m2, err := New(back, Thresholds{})
			require.NoError(t, err)

			assert.Equal(t, patterns, m2.Ignore.Patterns())
			assert.Equal(t, patterns, m2.Rules[0].Match.Globs.Patterns())
			paths := []string{
				"big.bin", "sub/big.bin", "build/out.o", "src/build/out.o",
				"vendor/x.go", "third/vendor/x.go", "art/cover.psd",
				"assets/icons/a.png", "web/assets/icons/a.png",
			}
			for _, p := range paths {
				assert.Equal(t, m.Ignore.Match(p), m2.Ignore.Match(p), "ignore %s", p)
				assert.Equal(t, m.Allow.Match(p), m2.Allow.Match(p), "override_allow %s", p)
				assert.Equal(t, m.Disallow.Globs.Match(p), m2.Disallow.Globs.Match(p), "disallow %s", p)
			}
			assert.False(t, m2.Ignore.Match("sub/big.bin"))
			assert.True(t, m2.Ignore.Match("big.bin"))
			assert.False(t, m2.Ignore.Match("src/build/out.o"))
		})
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{File: "p.yml", Rule: `"r1"`, Field: "action", Err: errors.New("boom")}
	assert.Equal(t, `invalid policy p.yml: rule "r1": action: boom`, err.Error())
	assert.ErrorIs(t, err, err.Err)

	err = &ConfigError{Field: "ignore", Msg: "bad"}
	assert.Equal(t, "invalid policy: ignore: bad", err.Error())
}
