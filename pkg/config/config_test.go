package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/sizeguard/pkg/history"
	"github.com/odvcencio/sizeguard/pkg/policy"
)

func TestLoadFrom_Defaults(t *testing.T) {
	in, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, policy.Thresholds{MaxTextSizeKB: 500, MaxBinarySizeKB: 100}, in.Thresholds())
	assert.Equal(t, policy.DefaultPath, in.PolicyPath)
	assert.True(t, in.DedupeBlobs)
	assert.True(t, in.AnnotatePR)
	assert.Equal(t, "auto", in.Backend)

	sev, err := in.FailOnSeverity()
	require.NoError(t, err)
	assert.Equal(t, policy.SeverityError, sev)
	mode, err := in.Mode()
	require.NoError(t, err)
	assert.Equal(t, history.ModeHistory, mode)
	assert.NoError(t, in.Validate())
}

func TestLoadFrom_ActionInputs(t *testing.T) {
	in, err := LoadFrom(map[string]string{
		"INPUT_MAX-TEXT-SIZE-KB":   "250.5",
		"INPUT_MAX-BINARY-SIZE-KB": "0",
		"INPUT_POLICY-PATH":        "policy.toml",
		"INPUT_FAIL-ON":            "warn",
		"INPUT_SCAN-MODE":          "diff",
		"INPUT_DEDUPE-BLOBS":       "false",
		"INPUT_ANNOTATE-PR":        "False",
		"INPUT_GITHUB-TOKEN":       "explicit",
		"GITHUB_TOKEN":             "ambient",
		"GITHUB_ACTIONS":           "true",
		"GITHUB_REPOSITORY":        "octo/repo",
		"GITHUB_STEP_SUMMARY":      "/tmp/summary.md",
	})
	require.NoError(t, err)

	assert.Equal(t, policy.Thresholds{MaxTextSizeKB: 250.5}, in.Thresholds())
	assert.Equal(t, "policy.toml", in.PolicyPath)
	assert.False(t, in.DedupeBlobs)
	assert.False(t, in.AnnotatePR)
	assert.Equal(t, "explicit", in.GitHubToken())
	assert.True(t, in.GitHub.Actions)
	assert.Equal(t, "octo/repo", in.GitHub.Repository)
	assert.Equal(t, "/tmp/summary.md", in.GitHub.StepSummary)

	sev, err := in.FailOnSeverity()
	require.NoError(t, err)
	assert.Equal(t, policy.SeverityWarn, sev)
	mode, err := in.Mode()
	require.NoError(t, err)
	assert.Equal(t, history.ModeDiff, mode)

	in.Token = ""
	assert.Equal(t, "ambient", in.GitHubToken())
}

func TestLoadFrom_RejectsMalformedNumber(t *testing.T) {
	_, err := LoadFrom(map[string]string{"INPUT_MAX-TEXT-SIZE-KB": "lots"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	in, err := LoadFrom(map[string]string{
		"INPUT_FAIL-ON":          "info",
		"INPUT_SCAN-MODE":        "full",
		"INPUT_BACKEND":          "libgit2",
		"INPUT_MAX-TEXT-SIZE-KB": "-1",
	})
	require.NoError(t, err)

	err = in.Validate()
	require.Error(t, err)
	for _, want := range []string{"fail-on", "scan-mode", "backend", "max-text-size-kb"} {
		assert.Contains(t, err.Error(), want)
	}
}

const prEvent = `{
  "action": "synchronize",
  "number": 17,
  "pull_request": {
    "number": 17,
    "base": {"ref": "main", "sha": "1111111111111111111111111111111111111111"},
    "head": {"ref": "feature", "sha": "2222222222222222222222222222222222222222"}
  }
}`

func writeEvent(t *testing.T, payload string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))
	return path
}

func TestResolveRange(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want Range
	}{
		{
			name: "pull request event",
			env:  map[string]string{"GITHUB_EVENT_PATH": "EVENT", "GITHUB_BASE_REF": "main"},
			want: Range{Base: "1111111111111111111111111111111111111111", Head: "2222222222222222222222222222222222222222", PullRequest: 17},
		},
		{
			name: "explicit inputs win over the event",
			env:  map[string]string{"GITHUB_EVENT_PATH": "EVENT", "INPUT_BASE": "v1.0", "INPUT_HEAD": "topic"},
			want: Range{Base: "v1.0", Head: "topic", PullRequest: 17},
		},
		{
			name: "base ref without payload",
			env:  map[string]string{"GITHUB_BASE_REF": "release"},
			want: Range{Base: "origin/release", Head: "HEAD"},
		},
		{
			name: "push event payload",
			env:  map[string]string{"GITHUB_EVENT_PATH": "PUSH", "INPUT_BASE": "main"},
			want: Range{Base: "main", Head: "HEAD"},
		},
	}
	prPath := writeEvent(t, prEvent)
	pushPath := writeEvent(t, `{"ref": "refs/heads/main", "before": "abc", "after": "def"}`)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := make(map[string]string, len(tt.env))
			for k, v := range tt.env {
				switch v {
				case "EVENT":
					v = prPath
				case "PUSH":
					v = pushPath
				}
				environ[k] = v
			}
			in, err := LoadFrom(environ)
			require.NoError(t, err)

			got, err := in.ResolveRange()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRange_NeedsBase(t *testing.T) {
	in, err := LoadFrom(map[string]string{})
	require.NoError(t, err)
	_, err = in.ResolveRange()
	assert.ErrorContains(t, err, "no base revision")
}

func TestResolveRange_BadPayload(t *testing.T) {
	in, err := LoadFrom(map[string]string{"GITHUB_EVENT_PATH": writeEvent(t, "{not json")})
	require.NoError(t, err)
	_, err = in.ResolveRange()
	assert.ErrorContains(t, err, "decode event payload")
}
