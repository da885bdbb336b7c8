package repo

import (
	"fmt"
	"path"

	"github.com/odvcencio/sizeguard/pkg/object"
)

// ChangeStatus says how a path changed relative to the parent tree(s).
type ChangeStatus byte

const (
	StatusAdded    ChangeStatus = 'A'
	StatusModified ChangeStatus = 'M'
)

func (s ChangeStatus) String() string {
	return string(rune(s))
}

// FileChange is one file a commit adds or modifies. Deletions are never
// reported.
type FileChange struct {
	Path   string
	Blob   object.Hash
	Mode   string
	Status ChangeStatus
}

// DiffTrees returns the files in newTree that are absent from oldTree or
// whose blob differs. An empty oldTree is the empty tree. Subtrees with the
// same id on both sides are skipped without being read. Gitlinks are skipped
// because their commits live in another repository, and mode-only changes
// are skipped because they introduce no new content.
func (r *Repo) DiffTrees(oldTree, newTree object.Hash) ([]FileChange, error) {
	var out []FileChange
	if err := r.diffTreesRec(oldTree, newTree, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) diffTreesRec(oldTree, newTree object.Hash, prefix string, out *[]FileChange) error {
	if oldTree == newTree {
		return nil
	}
	newObj, err := r.Store.ReadTree(newTree)
	if err != nil {
		return fmt.Errorf("diff tree %q: %w", prefix, err)
	}
	oldEntries := map[string]object.TreeEntry{}
	if oldTree != "" {
		oldObj, err := r.Store.ReadTree(oldTree)
		if err != nil {
			return fmt.Errorf("diff tree %q: %w", prefix, err)
		}
		for _, e := range oldObj.Entries {
			oldEntries[e.Name] = e
		}
	}

	for _, e := range newObj.Entries {
		if e.IsGitlink() {
			continue
		}
		full := e.Name
		if prefix != "" {
			full = path.Join(prefix, e.Name)
		}
		old, existed := oldEntries[e.Name]

		if e.IsDir {
			base := object.Hash("")
			if existed && old.IsDir {
				base = old.Hash
			}
			if err := r.diffTreesRec(base, e.Hash, full, out); err != nil {
				return err
			}
			continue
		}

		status := StatusAdded
		if existed && !old.IsDir && !old.IsGitlink() {
			if old.Hash == e.Hash {
				continue
			}
			status = StatusModified
		}
		*out = append(*out, FileChange{Path: full, Blob: e.Hash, Mode: e.Mode, Status: status})
	}
	return nil
}

// CommitChanges returns the files commit h adds or modifies relative to its
// parents. A root commit (or shallow boundary) introduces every file. A merge
// commit introduces only paths that differ from every parent; content already
// present in one parent was introduced by that parent's history. For merges,
// a path counts as added only when it is new relative to all parents.
func (r *Repo) CommitChanges(h object.Hash) ([]FileChange, error) {
	commit, err := r.ReadCommitGraph(h)
	if err != nil {
		return nil, err
	}

	switch len(commit.Parents) {
	case 0:
		return r.DiffTrees("", commit.TreeHash)
	case 1:
		parentTree, err := r.commitTree(commit.Parents[0])
		if err != nil {
			return nil, err
		}
		return r.DiffTrees(parentTree, commit.TreeHash)
	}

	var first []FileChange
	type seen struct {
		count int
		added bool
	}
	agree := make(map[string]*seen)
	for i, p := range commit.Parents {
		parentTree, err := r.commitTree(p)
		if err != nil {
			return nil, err
		}
		changes, err := r.DiffTrees(parentTree, commit.TreeHash)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			first = changes
			for _, c := range changes {
				agree[c.Path] = &seen{count: 1, added: c.Status == StatusAdded}
			}
			continue
		}
		for _, c := range changes {
			if s, ok := agree[c.Path]; ok && s.count == i {
				s.count++
				s.added = s.added && c.Status == StatusAdded
			}
		}
	}

	out := first[:0]
	for _, c := range first {
		s := agree[c.Path]
		if s.count != len(commit.Parents) {
			continue
		}
		if !s.added {
			c.Status = StatusModified
		}
		out = append(out, c)
	}
	return out, nil
}

// DiffCommits returns the files head's tree adds or modifies relative to
// base's tree.
func (r *Repo) DiffCommits(base, head object.Hash) ([]FileChange, error) {
	baseTree, err := r.commitTree(base)
	if err != nil {
		return nil, err
	}
	headTree, err := r.commitTree(head)
	if err != nil {
		return nil, err
	}
	return r.DiffTrees(baseTree, headTree)
}

func (r *Repo) commitTree(h object.Hash) (object.Hash, error) {
	commit, err := r.Store.ReadCommit(h)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", h, err)
	}
	return commit.TreeHash, nil
}
