package repo

import (
	"fmt"
	"sync"

	"github.com/odvcencio/sizeguard/pkg/object"
)

type commitPair struct {
	left  object.Hash
	right object.Hash
}

// commitGraph memoizes what history walks learn about the
// commit graph for the lifetime of a Repo.
type commitGraph struct {
	mu sync.RWMutex

	commits     map[object.Hash]*object.CommitObj
	generations map[object.Hash]uint64
	mergeBases  map[commitPair][]object.Hash
}

func newCommitGraph() *commitGraph {
	return &commitGraph{
		commits:     make(map[object.Hash]*object.CommitObj),
		generations: make(map[object.Hash]uint64),
		mergeBases:  make(map[commitPair][]object.Hash),
	}
}

func pairKey(a, b object.Hash) commitPair {
	if a <= b {
		return commitPair{left: a, right: b}
	}
	return commitPair{left: b, right: a}
}

func (cg *commitGraph) loadMergeBases(a, b object.Hash) ([]object.Hash, bool) {
	key := pairKey(a, b)
	cg.mu.RLock()
	bases, ok := cg.mergeBases[key]
	cg.mu.RUnlock()
	return bases, ok
}

// storeMergeBases records the result for the unordered pair; an empty
// result (disjoint histories) is cached too.
func (cg *commitGraph) storeMergeBases(a, b object.Hash, bases []object.Hash) {
	key := pairKey(a, b)
	cg.mu.Lock()
	cg.mergeBases[key] = bases
	cg.mu.Unlock()
}

// ReadCommitGraph reads a commit as the history graph sees it: parents of a
// shallow boundary commit are dropped because their objects are absent.
func (r *Repo) ReadCommitGraph(h object.Hash) (*object.CommitObj, error) {
	commit, err := r.Store.ReadCommit(h)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", h, err)
	}
	shallow, err := r.Shallow()
	if err != nil {
		return nil, err
	}
	if _, ok := shallow[h]; ok && len(commit.Parents) > 0 {
		trimmed := *commit
		trimmed.Parents = nil
		return &trimmed, nil
	}
	return commit, nil
}

func (cg *commitGraph) mergeBaseCacheSize() int {
	cg.mu.RLock()
	n := len(cg.mergeBases)
	cg.mu.RUnlock()
	return n
}

func (cg *commitGraph) readCommit(r *Repo, h object.Hash) (*object.CommitObj, error) {
	cg.mu.RLock()
	cached, ok := cg.commits[h]
	cg.mu.RUnlock()
	if ok {
		return cached, nil
	}

	commit, err := r.ReadCommitGraph(h)
	if err != nil {
		return nil, err
	}

	cg.mu.Lock()
	if existing, exists := cg.commits[h]; exists {
		cg.mu.Unlock()
		return existing, nil
	}
	cg.commits[h] = commit
	cg.mu.Unlock()
	return commit, nil
}

func (cg *commitGraph) loadGeneration(h object.Hash) (uint64, bool) {
	cg.mu.RLock()
	g, ok := cg.generations[h]
	cg.mu.RUnlock()
	return g, ok
}

func (cg *commitGraph) storeGeneration(h object.Hash, g uint64) {
	cg.mu.Lock()
	cg.generations[h] = g
	cg.mu.Unlock()
}

func (cg *commitGraph) generationCacheSize() int {
	cg.mu.RLock()
	n := len(cg.generations)
	cg.mu.RUnlock()
	return n
}

// generation computes generation numbers with an explicit stack so deep
// linear histories do not grow the goroutine stack.
func (cg *commitGraph) generation(r *Repo, h object.Hash) (uint64, error) {
	if h == "" {
		return 0, nil
	}
	if g, ok := cg.loadGeneration(h); ok {
		return g, nil
	}

	type frame struct {
		hash    object.Hash
		parents []object.Hash
		next    int
		max     uint64
	}
	visiting := make(map[object.Hash]bool)
	var stack []*frame
	push := func(h object.Hash) error {
		commit, err := cg.readCommit(r, h)
		if err != nil {
			return err
		}
		visiting[h] = true
		stack = append(stack, &frame{hash: h, parents: commit.Parents})
		return nil
	}
	if err := push(h); err != nil {
		return 0, err
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next < len(top.parents) {
			p := top.parents[top.next]
			top.next++
			if p == "" {
				continue
			}
			if g, ok := cg.loadGeneration(p); ok {
				top.max = max(top.max, g)
				continue
			}
			if visiting[p] {
				return 0, fmt.Errorf("commit graph cycle detected at %s", p)
			}
			if err := push(p); err != nil {
				return 0, err
			}
			continue
		}

		g := top.max + 1
		cg.storeGeneration(top.hash, g)
		delete(visiting, top.hash)
		stack = stack[:len(stack)-1]
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.max = max(parent.max, g)
		}
	}

	g, _ := cg.loadGeneration(h)
	return g, nil
}
