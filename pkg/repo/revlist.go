package repo

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"github.com/odvcencio/sizeguard/pkg/object"
)

const (
	revInteresting   uint8 = 1
	revUninteresting uint8 = 2
)

// RevList returns the commits reachable from any of heads and from none of
// bases, in SortRange order.
//
// The walk pops commits in descending generation order, so by the time a
// commit is popped every descendant that could mark it uninteresting has
// already been processed. It stops as soon as only uninteresting commits
// remain queued.
func (r *Repo) RevList(ctx context.Context, heads, bases []object.Hash) ([]object.Hash, error) {
	state := r.graph()
	maxSteps := traversalStepLimit()

	flags := make(map[object.Hash]uint8)
	inQueue := make(map[object.Hash]bool)
	queue := generationQueue{}
	pending := 0

	mark := func(h object.Hash, flag uint8) error {
		if h == "" {
			return nil
		}
		old, seen := flags[h]
		updated := old | flag
		flags[h] = updated
		if !seen {
			g, err := state.generation(r, h)
			if err != nil {
				return err
			}
			inQueue[h] = true
			heap.Push(&queue, queuedCommit{hash: h, generation: g})
			if updated&revUninteresting == 0 {
				pending++
			}
			return nil
		}
		if inQueue[h] && old&revUninteresting == 0 && updated&revUninteresting != 0 {
			pending--
		}
		return nil
	}

	for _, h := range bases {
		if err := mark(h, revUninteresting); err != nil {
			return nil, err
		}
	}
	for _, h := range heads {
		if err := mark(h, revInteresting); err != nil {
			return nil, err
		}
	}

	var out []RangeCommit
	steps := 0

	for queue.Len() > 0 && pending > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		steps++
		if steps > maxSteps {
			return nil, stepLimitError("rev-list", maxSteps)
		}

		item := heap.Pop(&queue).(queuedCommit)
		delete(inQueue, item.hash)
		f := flags[item.hash]
		if f&revUninteresting == 0 {
			pending--
		}

		commit, err := state.readCommit(r, item.hash)
		if err != nil {
			return nil, fmt.Errorf("rev-list: %w", err)
		}
		propagate := revInteresting
		if f&revUninteresting != 0 {
			propagate = revUninteresting
		} else {
			out = append(out, RangeCommit{Hash: item.hash, Parents: commit.Parents, When: commit.CommitterTimestamp})
		}
		for _, p := range commit.Parents {
			if err := mark(p, propagate); err != nil {
				return nil, err
			}
		}
	}

	return SortRange(out), nil
}

// RangeCommit is one commit of a walked range as SortRange needs it.
type RangeCommit struct {
	Hash    object.Hash
	Parents []object.Hash
	When    int64 // committer time, Unix seconds
}

// SortRange orders the commits of a range ancestor-first. A commit's depth
// counts only parents inside the range, so a commit whose parents all lie
// outside it has depth 1. Commits sort by depth, then committer time, then
// hash. The order depends on the range alone, so two walkers that list the
// same commits agree on it however they discovered them.
func SortRange(commits []RangeCommit) []object.Hash {
	index := make(map[object.Hash]int, len(commits))
	for i, c := range commits {
		index[c.Hash] = i
	}
	depth := make([]int, len(commits))
	visiting := make([]bool, len(commits))
	for i := range commits {
		stack := []int{i}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if depth[top] != 0 {
				stack = stack[:len(stack)-1]
				continue
			}
			visiting[top] = true
			d, ready := 1, true
			for _, p := range commits[top].Parents {
				j, ok := index[p]
				if !ok {
					continue
				}
				switch {
				case depth[j] != 0:
					d = max(d, depth[j]+1)
				case !visiting[j]:
					ready = false
					stack = append(stack, j)
				}
				// A parent still being visited closes a cycle; it adds no depth.
			}
			if ready {
				depth[top] = d
				stack = stack[:len(stack)-1]
			}
		}
	}

	order := make([]int, len(commits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := commits[order[a]], commits[order[b]]
		if depth[order[a]] != depth[order[b]] {
			return depth[order[a]] < depth[order[b]]
		}
		if ca.When != cb.When {
			return ca.When < cb.When
		}
		return ca.Hash < cb.Hash
	})
	out := make([]object.Hash, len(order))
	for i, idx := range order {
		out[i] = commits[idx].Hash
	}
	return out
}
