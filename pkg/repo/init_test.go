package repo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/sizeguard/pkg/object"
)

func TestInit_CreatesStructure(t *testing.T) {
	dir := t.TempDir()

	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init(%q): %v", dir, err)
	}
	if r.WorkDir != dir {
		t.Errorf("WorkDir = %q, want %q", r.WorkDir, dir)
	}

	gitDir := filepath.Join(dir, ".git")
	if r.GitDir != gitDir || r.CommonDir != gitDir {
		t.Errorf("GitDir, CommonDir = %q, %q, want %q", r.GitDir, r.CommonDir, gitDir)
	}

	assertDir(t, filepath.Join(gitDir, "objects", "pack"))
	assertDir(t, filepath.Join(gitDir, "refs", "heads"))
	assertDir(t, filepath.Join(gitDir, "refs", "tags"))
	assertFile(t, filepath.Join(gitDir, "HEAD"))

	if r.Store == nil {
		t.Error("Store is nil after Init")
	}
}

func TestInit_ExistingRepo_Error(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(dir); err == nil {
		t.Fatal("second Init should fail on existing repo, got nil error")
	}
}

func TestOpen_FromSubdirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}

	sub := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	r, err := Open(sub)
	if err != nil {
		t.Fatalf("Open(%q): %v", sub, err)
	}
	if r.WorkDir != dir {
		t.Errorf("WorkDir = %q, want %q", r.WorkDir, dir)
	}
	if r.GitDir != filepath.Join(dir, ".git") {
		t.Errorf("GitDir = %q, want %q", r.GitDir, filepath.Join(dir, ".git"))
	}
}

func TestOpen_NoRepo_Error(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(dir)
	if !errors.Is(err, ErrNotRepository) {
		t.Fatalf("Open in non-repo directory: err = %v, want ErrNotRepository", err)
	}
}

func TestOpen_BareGitDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	gitDir := filepath.Join(dir, ".git")

	r, err := Open(gitDir)
	if err != nil {
		t.Fatalf("Open(%q): %v", gitDir, err)
	}
	if r.WorkDir != "" {
		t.Errorf("WorkDir = %q, want empty for bare open", r.WorkDir)
	}
	if r.CommonDir != gitDir {
		t.Errorf("CommonDir = %q, want %q", r.CommonDir, gitDir)
	}
}

// A linked worktree has a .git file pointing at a per-worktree git dir,
// which in turn names the shared dir through "commondir".
func TestOpen_LinkedWorktree(t *testing.T) {
	mainDir := t.TempDir()
	main, err := Init(mainDir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	blob, err := main.Store.WriteBlob([]byte("shared object\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	tree, err := main.Store.WriteTree(&object.TreeObj{Entries: []object.TreeEntry{
		{Name: "a.txt", Mode: object.TreeModeFile, Hash: blob},
	}})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	commit, err := main.Store.WriteCommit(&object.CommitObj{
		TreeHash:  tree,
		Author:    "Test Author <test@example.com>",
		Timestamp: 1_700_000_000,
		Message:   "init\n",
	})
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}
	if err := main.UpdateRef("refs/heads/feature", commit); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}

	wtGitDir := filepath.Join(main.CommonDir, "worktrees", "wt")
	if err := os.MkdirAll(wtGitDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeFile(t, filepath.Join(wtGitDir, "HEAD"), "ref: refs/heads/feature\n")
	writeFile(t, filepath.Join(wtGitDir, "commondir"), "../..\n")

	wtDir := t.TempDir()
	writeFile(t, filepath.Join(wtDir, ".git"), "gitdir: "+wtGitDir+"\n")

	r, err := Open(wtDir)
	if err != nil {
		t.Fatalf("Open(worktree): %v", err)
	}
	if r.GitDir != wtGitDir {
		t.Errorf("GitDir = %q, want %q", r.GitDir, wtGitDir)
	}
	if r.CommonDir != main.CommonDir {
		t.Errorf("CommonDir = %q, want %q", r.CommonDir, main.CommonDir)
	}

	head, err := r.ResolveCommit("HEAD")
	if err != nil {
		t.Fatalf("ResolveCommit(HEAD): %v", err)
	}
	if head != commit {
		t.Fatalf("HEAD = %s, want %s", head, commit)
	}
	if !r.Store.Has(blob) {
		t.Fatal("worktree store cannot see objects in the common dir")
	}
}

func TestReadGitdirFile_RelativePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".git"), "gitdir: ../elsewhere/.git\n")

	got, err := readGitdirFile(filepath.Join(dir, ".git"))
	if err != nil {
		t.Fatalf("readGitdirFile: %v", err)
	}
	want := filepath.Join(filepath.Dir(dir), "elsewhere", ".git")
	if got != want {
		t.Fatalf("readGitdirFile = %q, want %q", got, want)
	}

	writeFile(t, filepath.Join(dir, ".git"), "not a pointer\n")
	if _, err := readGitdirFile(filepath.Join(dir, ".git")); err == nil {
		t.Fatal("expected error for malformed .git file")
	}
}

func TestShallow_ReadsBoundary(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if r.IsShallow() {
		t.Fatal("fresh repository reported shallow")
	}

	h := object.Hash("0123456789abcdef0123456789abcdef01234567")
	if err := r.SetShallow(h); err != nil {
		t.Fatalf("SetShallow: %v", err)
	}
	if !r.IsShallow() {
		t.Fatal("IsShallow() = false after SetShallow")
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	set, err := reopened.Shallow()
	if err != nil {
		t.Fatalf("Shallow: %v", err)
	}
	if _, ok := set[h]; !ok || len(set) != 1 {
		t.Fatalf("Shallow() = %v, want {%s}", set, h)
	}
}

func TestShallow_RejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	writeFile(t, filepath.Join(r.CommonDir, "shallow"), "not-a-hash\n")
	if _, err := r.Shallow(); err == nil {
		t.Fatal("expected error for malformed shallow file")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func assertDir(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected directory %q to exist: %v", path, err)
	}
	if !info.IsDir() {
		t.Fatalf("expected %q to be a directory", path)
	}
}

func assertFile(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected file %q to exist: %v", path, err)
	}
	if info.IsDir() {
		t.Fatalf("expected %q to be a file, not a directory", path)
	}
}
