package repo

import "github.com/odvcencio/sizeguard/pkg/object"

type queuedCommit struct {
	hash       object.Hash
	generation uint64
}

// generationQueue is a container/heap of commits that pops the highest
// generation first, so descendants are always visited before ancestors.
// Equal generations pop in hash order to keep walks deterministic.
type generationQueue []queuedCommit

func (q generationQueue) Len() int      { return len(q) }
func (q generationQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q generationQueue) Less(i, j int) bool {
	if q[i].generation != q[j].generation {
		return q[i].generation > q[j].generation
	}
	return q[i].hash < q[j].hash
}

func (q *generationQueue) Push(x any) { *q = append(*q, x.(queuedCommit)) }

func (q *generationQueue) Pop() any {
	last := (*q)[len(*q)-1]
	*q = (*q)[:len(*q)-1]
	return last
}
