package repo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/sizeguard/pkg/object"
)

var (
	// ErrUnknownRevision is returned when a revision names no ref and no
	// object.
	ErrUnknownRevision = errors.New("unknown revision")
	// ErrUnsupportedRevision is returned for revision syntax (HEAD~2,
	// main^2, @{u}, a..b) that only the git executable understands.
	ErrUnsupportedRevision = errors.New("unsupported revision syntax")
)

const (
	maxSymrefDepth    = 5
	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// Head reads HEAD. For a symbolic HEAD it returns the target ref name (for
// example "refs/heads/main"); for a detached HEAD it returns the hash.
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.GitDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if target, ok := strings.CutPrefix(content, "ref:"); ok {
		return strings.TrimSpace(target), nil
	}
	return content, nil
}

// ResolveRef resolves a full ref name ("HEAD", "refs/heads/main") to the
// object it points at, following symbolic refs. Loose refs shadow
// packed-refs. The second result is false when the ref does not exist.
func (r *Repo) ResolveRef(name string) (object.Hash, bool, error) {
	for depth := 0; depth < maxSymrefDepth; depth++ {
		content, ok, err := r.readLooseRef(name)
		if err != nil {
			return "", false, err
		}
		if !ok {
			packed, err := r.packedRefs()
			if err != nil {
				return "", false, err
			}
			h, ok := packed[name]
			return h, ok, nil
		}
		if target, isSym := strings.CutPrefix(content, "ref:"); isSym {
			name = strings.TrimSpace(target)
			continue
		}
		h, err := object.ParseHash(content)
		if err != nil {
			return "", false, fmt.Errorf("resolve ref %q: %w", name, err)
		}
		return h, true, nil
	}
	return "", false, fmt.Errorf("resolve ref %q: symbolic ref chain deeper than %d", name, maxSymrefDepth)
}

// refFile returns where a loose ref lives. HEAD is per-worktree; everything
// else is shared.
func (r *Repo) refFile(name string) string {
	if name == "HEAD" {
		return filepath.Join(r.GitDir, "HEAD")
	}
	return filepath.Join(r.CommonDir, filepath.FromSlash(name))
}

func (r *Repo) readLooseRef(name string) (string, bool, error) {
	data, err := os.ReadFile(r.refFile(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isDirError(r.refFile(name)) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read ref %q: %w", name, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

func isDirError(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// packedRefs parses the packed-refs file. Peeled lines ("^<hash>") are
// skipped; tag peeling goes through the object store instead.
func (r *Repo) packedRefs() (map[string]object.Hash, error) {
	out := make(map[string]object.Hash)
	f, err := os.Open(filepath.Join(r.CommonDir, "packed-refs"))
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read packed-refs: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		hashStr, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("read packed-refs: malformed line %q", line)
		}
		h, err := object.ParseHash(hashStr)
		if err != nil {
			return nil, fmt.Errorf("read packed-refs: %w", err)
		}
		out[strings.TrimSpace(name)] = h
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read packed-refs: %w", err)
	}
	return out, nil
}

// ListRefs lists references whose full name starts with prefix (for
// example "refs/heads/"). Loose refs shadow packed ones. Symbolic loose refs
// are resolved.
func (r *Repo) ListRefs(prefix string) (map[string]object.Hash, error) {
	refs, err := r.packedRefs()
	if err != nil {
		return nil, err
	}
	for name := range refs {
		if !strings.HasPrefix(name, prefix) {
			delete(refs, name)
		}
	}

	root := filepath.Join(r.CommonDir, "refs")
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}
		rel, err := filepath.Rel(r.CommonDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		h, ok, err := r.ResolveRef(name)
		if err != nil {
			return err
		}
		if ok {
			refs[name] = h
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

// RefNames returns the sorted names from ListRefs.
func (r *Repo) RefNames(prefix string) ([]string, error) {
	refs, err := r.ListRefs(prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// NeedsRevisionParser reports whether rev uses revision syntax (ancestry
// operators, reflog selectors, ranges, tree paths) that ResolveRevision does
// not implement.
func NeedsRevisionParser(rev string) bool {
	rev = strings.TrimSpace(rev)
	if rev == "@" {
		return false
	}
	return strings.ContainsAny(rev, "~^:@") || strings.Contains(rev, "..")
}

// ResolveRevision resolves a revision string to an object id. It accepts
// full and abbreviated object ids, HEAD, full ref names, and the short forms
// git accepts ("main", "v1.0", "origin/main", "origin"), tried in git's
// order: refs/<rev>, refs/tags/, refs/heads/, refs/remotes/,
// refs/remotes/<rev>/HEAD.
func (r *Repo) ResolveRevision(rev string) (object.Hash, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return "", fmt.Errorf("resolve %q: %w", rev, ErrUnknownRevision)
	}
	if rev == "@" {
		rev = "HEAD"
	}
	if NeedsRevisionParser(rev) {
		return "", fmt.Errorf("resolve %q: %w", rev, ErrUnsupportedRevision)
	}

	if len(rev) == object.HashLen {
		if h, err := object.ParseHash(rev); err == nil && r.Store.Has(h) {
			return h, nil
		}
	}

	candidates := []string{rev}
	if rev != "HEAD" && !strings.HasPrefix(rev, "refs/") {
		candidates = []string{
			"refs/" + rev,
			"refs/tags/" + rev,
			"refs/heads/" + rev,
			"refs/remotes/" + rev,
			"refs/remotes/" + rev + "/HEAD",
		}
	}
	for _, name := range candidates {
		h, ok, err := r.ResolveRef(name)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", rev, err)
		}
		if ok {
			return h, nil
		}
	}

	if object.IsHashPrefix(rev) {
		h, err := r.Store.ExpandPrefix(rev)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, object.ErrNotFound) {
			return "", fmt.Errorf("resolve %q: %w", rev, err)
		}
	}
	return "", fmt.Errorf("resolve %q: %w", rev, ErrUnknownRevision)
}

// ResolveCommit resolves rev and peels annotated tags down to a commit.
func (r *Repo) ResolveCommit(rev string) (object.Hash, error) {
	h, err := r.ResolveRevision(rev)
	if err != nil {
		return "", err
	}
	return r.PeelToCommit(h)
}

// PeelToCommit follows annotated tags until it reaches a commit.
func (r *Repo) PeelToCommit(h object.Hash) (object.Hash, error) {
	for depth := 0; depth < maxSymrefDepth*4; depth++ {
		objType, _, err := r.Store.ReadHeader(h)
		if err != nil {
			return "", fmt.Errorf("peel %s: %w", h, err)
		}
		switch objType {
		case object.TypeCommit:
			return h, nil
		case object.TypeTag:
			tag, err := r.Store.ReadTag(h)
			if err != nil {
				return "", fmt.Errorf("peel %s: %w", h, err)
			}
			h = tag.TargetHash
		default:
			return "", fmt.Errorf("peel %s: object is a %s, not a commit", h, objType)
		}
	}
	return "", fmt.Errorf("peel %s: tag chain too deep", h)
}

// UpdateRef writes a hash to the named ref using lockfile + rename.
func (r *Repo) UpdateRef(name string, h object.Hash) error {
	return r.writeRefFile(name, string(h)+"\n")
}

// SetSymbolicRef points name (usually HEAD) at another ref.
func (r *Repo) SetSymbolicRef(name, target string) error {
	return r.writeRefFile(name, "ref: "+target+"\n")
}

func (r *Repo) writeRefFile(name, content string) error {
	refPath := r.refFile(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = lockFile.Close()
			_ = os.Remove(lockPath)
		}
	}()

	if _, err := lockFile.WriteString(content); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	committed = true
	return nil
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}
