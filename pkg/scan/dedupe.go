package scan

import (
	"sync"

	"github.com/odvcencio/sizeguard/pkg/history"
	"github.com/odvcencio/sizeguard/pkg/object"
)

// DedupeIndex maps each content object to its first recorded occurrence.
// Record is insert-if-absent: the first writer wins and later writers are
// told who the representative is. Safe for concurrent use.
type DedupeIndex struct {
	mu    sync.Mutex
	first map[object.Hash]history.Occurrence
	seen  map[object.Hash]int
}

func NewDedupeIndex() *DedupeIndex {
	return &DedupeIndex{
		first: make(map[object.Hash]history.Occurrence),
		seen:  make(map[object.Hash]int),
	}
}

// Record registers occ and reports whether it is the first occurrence of its
// object, along with that object's representative occurrence.
func (d *DedupeIndex) Record(occ history.Occurrence) (bool, history.Occurrence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[occ.Object]++
	if rep, ok := d.first[occ.Object]; ok {
		return false, rep
	}
	d.first[occ.Object] = occ
	return true, occ
}

// Duplicates returns how many occurrences of id were recorded after its
// representative.
func (d *DedupeIndex) Duplicates(id object.Hash) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := d.seen[id]; n > 1 {
		return n - 1
	}
	return 0
}

// Len returns the number of distinct objects recorded.
func (d *DedupeIndex) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.first)
}
