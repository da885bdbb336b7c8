package repo

import (
	"sync"

	"github.com/odvcencio/sizeguard/pkg/object"
)

// Repo is an opened Git repository. All access is read-only except for the
// fixture helpers used by tests (Init, UpdateRef, SetShallow).
type Repo struct {
	WorkDir   string        // working tree root; empty for bare repositories
	GitDir    string        // per-worktree git dir holding HEAD
	CommonDir string        // shared git dir holding objects, refs and packed-refs
	Store     *object.Store // object database under CommonDir/objects

	shallowOnce sync.Once
	shallow     map[object.Hash]struct{}
	shallowErr  error

	graphOnce   sync.Once
	commitGraph *commitGraph
}

func newRepo(workDir, gitDir, commonDir string) *Repo {
	return &Repo{
		WorkDir:   workDir,
		GitDir:    gitDir,
		CommonDir: commonDir,
		Store:     object.NewStore(commonDir),
	}
}

// Close releases file handles held by the object store.
func (r *Repo) Close() error {
	return r.Store.Close()
}

func (r *Repo) graph() *commitGraph {
	r.graphOnce.Do(func() {
		r.commitGraph = newCommitGraph()
	})
	return r.commitGraph
}
