package repo

import (
	"container/heap"
	"fmt"
	"slices"

	"github.com/odvcencio/sizeguard/pkg/object"
)

const maxTraversalSteps = 1_000_000

// historyStepsLimit bounds every history walk. Tests lower it; values outside
// (0, maxTraversalSteps] fall back to the hard maximum.
var historyStepsLimit = maxTraversalSteps

func traversalStepLimit() int {
	if historyStepsLimit <= 0 || historyStepsLimit > maxTraversalSteps {
		return maxTraversalSteps
	}
	return historyStepsLimit
}

func stepLimitError(op string, limit int) error {
	return fmt.Errorf("%s: traversal exceeded maximum steps (%d)", op, limit)
}

// Paint bits for the merge-base walk.
const (
	paintBase uint8 = 1 << iota
	paintHead
	paintStale
	paintCommon
)

// MergeBases returns every best common ancestor of base and head: the common
// ancestors that are not ancestors of another common ancestor. Criss-cross
// merges leave more than one. The result is sorted by hash and is empty when
// the two histories are disjoint.
func (r *Repo) MergeBases(base, head object.Hash) ([]object.Hash, error) {
	if base == "" || head == "" {
		return nil, nil
	}
	if base == head {
		return []object.Hash{base}, nil
	}

	state := r.graph()
	if cached, ok := state.loadMergeBases(base, head); ok {
		return slices.Clone(cached), nil
	}
	bases, err := r.paintMergeBases(state, base, head)
	if err != nil {
		return nil, err
	}
	state.storeMergeBases(base, head, bases)
	return slices.Clone(bases), nil
}

// paintMergeBases paints both sides downward, highest generation first. A
// commit carrying both colours is a candidate and hands a stale mark to its
// ancestors; candidates that later turn stale sit below a better one. Parents
// always have a lower generation than their children, so a commit is popped
// only after every queued descendant has painted it.
func (r *Repo) paintMergeBases(state *commitGraph, base, head object.Hash) ([]object.Hash, error) {
	limit := traversalStepLimit()
	paint := make(map[object.Hash]uint8)
	queue := generationQueue{}
	push := func(h object.Hash, colour uint8) error {
		g, err := state.generation(r, h)
		if err != nil {
			return err
		}
		paint[h] |= colour
		heap.Push(&queue, queuedCommit{hash: h, generation: g})
		return nil
	}
	if err := push(base, paintBase); err != nil {
		return nil, err
	}
	if err := push(head, paintHead); err != nil {
		return nil, err
	}

	var candidates []object.Hash
	for steps := 1; hasUnpainted(queue, paint); steps++ {
		if steps > limit {
			return nil, stepLimitError("find merge base", limit)
		}
		item := heap.Pop(&queue).(queuedCommit)
		flags := paint[item.hash]
		colour := flags & (paintBase | paintHead | paintStale)
		if colour == paintBase|paintHead {
			if flags&paintCommon == 0 {
				paint[item.hash] |= paintCommon
				candidates = append(candidates, item.hash)
			}
			colour |= paintStale
		}

		commit, err := state.readCommit(r, item.hash)
		if err != nil {
			return nil, err
		}
		for _, p := range commit.Parents {
			if p == "" || paint[p]&colour == colour {
				continue
			}
			if err := push(p, colour); err != nil {
				return nil, err
			}
		}
	}

	var bases []object.Hash
	for _, c := range candidates {
		if paint[c]&paintStale == 0 {
			bases = append(bases, c)
		}
	}
	slices.Sort(bases)
	return bases, nil
}

// hasUnpainted reports whether any queued commit is not yet stale.
func hasUnpainted(queue generationQueue, paint map[object.Hash]uint8) bool {
	for _, item := range queue {
		if paint[item.hash]&paintStale == 0 {
			return true
		}
	}
	return false
}
