package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/sizeguard/pkg/config"
	"github.com/odvcencio/sizeguard/pkg/object"
	"github.com/odvcencio/sizeguard/pkg/repo/repotest"
)

func emptyEnv() (*config.Inputs, error) {
	return config.LoadFrom(map[string]string{})
}

func binaryContent(kb int) string {
	buf := make([]byte, kb*1024)
	for i := range buf {
		buf[i] = byte(i * 13)
	}
	return string(buf)
}

// newScanRepo builds main plus a feature branch that adds a 150 KB binary
// and a notebook.
func newScanRepo(t *testing.T) *repotest.Builder {
	t.Helper()
	b := repotest.New(t)
	base := repotest.Files{"README.md": "hello\n"}
	root := b.Commit(repotest.Commit{Files: base})
	head := b.Commit(repotest.Commit{Parents: []object.Hash{root}, Files: base.With(repotest.Files{
		"assets/video.bin": binaryContent(150),
		"notes/a.ipynb":    "{\"cells\": []}\n",
	})})
	b.Branch("main", root)
	b.Branch("feature", head)
	return b
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr, emptyEnv)
	return code, stdout.String(), stderr.String()
}

func scanArgs(b *repotest.Builder, extra ...string) []string {
	args := []string{"--repo", b.Dir, "--base", "main", "--head", "feature", "--backend", "native", "--file-classifier=false", "--color=false"}
	return append(args, extra...)
}

func TestScanCmd_ViolationsExitOne(t *testing.T) {
	b := newScanRepo(t)
	code, out, errOut := runCLI(t, scanArgs(b)...)
	if code != exitViolations {
		t.Fatalf("exit = %d, want %d\nstdout:\n%s\nstderr:\n%s", code, exitViolations, out, errOut)
	}
	if !strings.Contains(out, "ERROR assets/video.bin") {
		t.Fatalf("stdout = %q, want the binary finding", out)
	}
	if !strings.Contains(out, "1 error, 0 warnings; failing (fail-on: error)") {
		t.Fatalf("stdout = %q, want a failing verdict", out)
	}
	if strings.Contains(out, "::error") {
		t.Fatalf("stdout = %q, annotations outside GitHub Actions", out)
	}
}

func TestScanCmd_FlagOverridesThreshold(t *testing.T) {
	b := newScanRepo(t)
	code, out, errOut := runCLI(t, scanArgs(b, "--max-binary-size-kb", "200")...)
	if code != exitOK {
		t.Fatalf("exit = %d, want 0\nstdout:\n%s\nstderr:\n%s", code, out, errOut)
	}
}

func TestScanCmd_PolicyFileInRepo(t *testing.T) {
	b := newScanRepo(t)
	policyPath := filepath.Join(b.Dir, ".github", "repo-size-guardian.yml")
	if err := os.MkdirAll(filepath.Dir(policyPath), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	doc := "override_allow: [\"assets/**\"]\ndisallow:\n  extensions: [ipynb]\n"
	if err := os.WriteFile(policyPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	code, out, _ := runCLI(t, scanArgs(b)...)
	if code != exitViolations {
		t.Fatalf("exit = %d, want %d\n%s", code, exitViolations, out)
	}
	if strings.Contains(out, "assets/video.bin") || !strings.Contains(out, "notes/a.ipynb") {
		t.Fatalf("stdout = %q, want only the notebook finding", out)
	}
}

func TestScanCmd_WarnFloor(t *testing.T) {
	b := newScanRepo(t)
	policyPath := filepath.Join(t.TempDir(), "policy.yml")
	doc := "rules:\n  - id: big\n    match: {binary: true}\n    size_over_kb: 100\n    action: warn\n"
	if err := os.WriteFile(policyPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	code, out, _ := runCLI(t, scanArgs(b, "--policy", policyPath)...)
	if code != exitOK {
		t.Fatalf("warn finding with fail-on error: exit = %d, want 0\n%s", code, out)
	}
	code, out, _ = runCLI(t, scanArgs(b, "--policy", policyPath, "--fail-on", "warn")...)
	if code != exitViolations {
		t.Fatalf("warn finding with fail-on warn: exit = %d, want 1\n%s", code, out)
	}
}

func TestScanCmd_FatalErrorsExitTwo(t *testing.T) {
	b := newScanRepo(t)
	badPolicy := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(badPolicy, []byte("rules:\n  - id: r1\n    action: warn\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown head", []string{"--repo", b.Dir, "--base", "main", "--head", "nope", "--backend", "native"}, "revision error"},
		{"bad policy", scanArgs(b, "--policy", badPolicy), "configuration error"},
		{"bad fail-on", scanArgs(b, "--fail-on", "info"), "fail-on"},
		{"no base", []string{"--repo", b.Dir, "--backend", "native"}, "no base revision"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.args...)
			if code != exitFatal {
				t.Fatalf("exit = %d, want %d; stderr = %q", code, exitFatal, errOut)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Fatalf("stderr = %q, want to contain %q", errOut, tt.want)
			}
		})
	}
}

func TestScanCmd_MissingObjectExitTwo(t *testing.T) {
	b := newScanRepo(t)
	b.Drop(repotest.Blob(binaryContent(150)))
	code, _, errOut := runCLI(t, scanArgs(b)...)
	if code != exitFatal || !strings.Contains(errOut, "missing from the repository") {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
}

func TestExplainCmd(t *testing.T) {
	policyPath := filepath.Join(t.TempDir(), "policy.yml")
	doc := "ignore:\n  globs: [\"docs/**\"]\ndisallow:\n  extensions: [exe]\n"
	if err := os.WriteFile(policyPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	code, out, errOut := runCLI(t, "explain", "docs/tool.exe", "--policy", policyPath, "--size-kb", "10", "--binary")
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	if !strings.Contains(out, "docs/tool.exe: ignored") || !strings.Contains(out, "stage:    ignore") {
		t.Fatalf("explain output = %q", out)
	}

	_, out, _ = runCLI(t, "explain", "bin/tool.exe", "--policy", policyPath)
	if !strings.Contains(out, "violation") || !strings.Contains(out, "severity: error") || !strings.Contains(out, "extension .exe is disallowed") {
		t.Fatalf("explain output = %q", out)
	}
}

func TestPolicyCmds(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.toml")
	if err := os.WriteFile(good, []byte("[thresholds]\nmax_text_size_kb = 42.0\n\n[[rules]]\nid = \"r1\"\naction = \"warn\"\n\n[rules.match]\nextensions = [\"psd\"]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("thresholds:\n  max_binary_size_kb: -3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	code, out, _ := runCLI(t, "policy", "validate", good)
	if code != exitOK || !strings.Contains(out, "ok (1 rule(s)") {
		t.Fatalf("validate good: exit = %d, out = %q", code, out)
	}
	code, _, errOut := runCLI(t, "policy", "validate", bad)
	if code != exitFatal || !strings.Contains(errOut, "max_binary_size_kb") {
		t.Fatalf("validate bad: exit = %d, stderr = %q", code, errOut)
	}
	code, out, _ = runCLI(t, "policy", "validate", filepath.Join(dir, "absent.yml"))
	if code != exitOK || !strings.Contains(out, "not found") {
		t.Fatalf("validate absent: exit = %d, out = %q", code, out)
	}

	code, out, _ = runCLI(t, "policy", "show", "--policy", good)
	if code != exitOK || !strings.Contains(out, "max_text_size_kb: 42") || !strings.Contains(out, "max_binary_size_kb: 100") || !strings.Contains(out, "id: r1") {
		t.Fatalf("show: exit = %d, out = %q", code, out)
	}
	code, out, _ = runCLI(t, "policy", "show", "--policy", good, "--format", "toml")
	if code != exitOK || !strings.Contains(out, "[[rules]]") {
		t.Fatalf("show toml: exit = %d, out = %q", code, out)
	}
}

func TestVersionCmd(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != exitOK || strings.TrimSpace(out) != "sizeguard "+version {
		t.Fatalf("version: exit = %d, out = %q", code, out)
	}
}
