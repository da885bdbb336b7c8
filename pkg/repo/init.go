package repo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/odvcencio/sizeguard/pkg/object"
)

// ErrNotRepository is returned by Open when no git directory is found.
var ErrNotRepository = errors.New("not a git repository")

// Init creates an empty repository with a .git directory at path: HEAD
// pointing at refs/heads/main, objects/ and refs/{heads,tags}. It fails if
// .git already exists.
func Init(path string) (*Repo, error) {
	gitDir := filepath.Join(path, ".git")

	if _, err := os.Stat(gitDir); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", gitDir)
	}

	dirs := []string{
		filepath.Join(gitDir, "objects", "pack"),
		filepath.Join(gitDir, "refs", "heads"),
		filepath.Join(gitDir, "refs", "tags"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	headPath := filepath.Join(gitDir, "HEAD")
	if err := os.WriteFile(headPath, []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}

	config := "[core]\n\trepositoryformatversion = 0\n\tbare = false\n"
	if err := os.WriteFile(filepath.Join(gitDir, "config"), []byte(config), 0o644); err != nil {
		return nil, fmt.Errorf("init: write config: %w", err)
	}

	return newRepo(path, gitDir, gitDir), nil
}

// Open searches upward from path for a repository and opens it. It accepts
// a working tree containing a .git directory, a working tree whose .git is a
// "gitdir: <path>" file (linked worktrees, submodules), or a bare git
// directory itself.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}

	cur := abs
	for {
		dotGit := filepath.Join(cur, ".git")
		info, err := os.Stat(dotGit)
		switch {
		case err == nil && info.IsDir():
			return openGitDir(cur, dotGit)
		case err == nil:
			gitDir, err := readGitdirFile(dotGit)
			if err != nil {
				return nil, fmt.Errorf("open: %w", err)
			}
			return openGitDir(cur, gitDir)
		}

		if isGitDir(cur) {
			return openGitDir("", cur)
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open %s: %w (or any parent up to /)", abs, ErrNotRepository)
		}
		cur = parent
	}
}

func openGitDir(workDir, gitDir string) (*Repo, error) {
	commonDir, err := readCommonDir(gitDir)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if !isGitDir(gitDir) && !isGitDir(commonDir) {
		return nil, fmt.Errorf("open %s: %w", gitDir, ErrNotRepository)
	}
	return newRepo(workDir, gitDir, commonDir), nil
}

// isGitDir reports whether dir looks like a git directory: it has a HEAD
// file and an objects directory.
func isGitDir(dir string) bool {
	if info, err := os.Stat(filepath.Join(dir, "HEAD")); err != nil || info.IsDir() {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, "objects"))
	return err == nil && info.IsDir()
}

// readGitdirFile parses a ".git" file of the form "gitdir: <path>". Relative
// paths are relative to the directory containing the file.
func readGitdirFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	target, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("%s: expected \"gitdir: <path>\", got %q", path, line)
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return filepath.Clean(target), nil
}

// readCommonDir returns the shared git dir for a linked worktree (named by
// its "commondir" file), or gitDir itself.
func readCommonDir(gitDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if errors.Is(err, os.ErrNotExist) {
		return gitDir, nil
	}
	if err != nil {
		return "", err
	}
	common := strings.TrimSpace(string(data))
	if !filepath.IsAbs(common) {
		common = filepath.Join(gitDir, common)
	}
	return filepath.Clean(common), nil
}

// Shallow returns the set of shallow boundary commits listed in the
// repository's shallow file. Parents of these commits are absent from the
// object store and must be treated as if the commits were roots.
func (r *Repo) Shallow() (map[object.Hash]struct{}, error) {
	r.shallowOnce.Do(func() {
		r.shallow, r.shallowErr = readShallowFile(filepath.Join(r.CommonDir, "shallow"))
	})
	return r.shallow, r.shallowErr
}

// IsShallow reports whether the repository has a shallow boundary.
func (r *Repo) IsShallow() bool {
	set, err := r.Shallow()
	return err == nil && len(set) > 0
}

func readShallowFile(path string) (map[object.Hash]struct{}, error) {
	out := make(map[object.Hash]struct{})
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shallow: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		h, err := object.ParseHash(line)
		if err != nil {
			return nil, fmt.Errorf("read shallow: %w", err)
		}
		out[h] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read shallow: %w", err)
	}
	return out, nil
}

// SetShallow rewrites the shallow file with the given boundary commits.
func (r *Repo) SetShallow(hashes ...object.Hash) error {
	var b strings.Builder
	for _, h := range hashes {
		b.WriteString(string(h))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(r.CommonDir, "shallow"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write shallow: %w", err)
	}
	// Cached generations depend on which parents are visible.
	r.shallowOnce = sync.Once{}
	r.graphOnce = sync.Once{}
	r.commitGraph = nil
	return nil
}
