package dispatcher

import (
	"sort"
	"sync"

	"github.com/mir00r/sip-dispatcher/internal/domain"
)

// Set is one destination set (group). The destination slice is fixed once the
// set is published; mu guards the mutable destination fields, the weight
// tables and the round robin cursors.
type Set struct {
	mu sync.RWMutex

	id    int
	dests []*Destination

	wlist  [weightSlots]int
	wlast  int
	rwlist [weightSlots]int
	rwlast int
	last   int
}

// ID returns the set id
func (s *Set) ID() int {
	return s.id
}

// Len returns the number of destinations
func (s *Set) Len() int {
	return len(s.dests)
}

// Destinations returns copies of every destination in index order
func (s *Set) Destinations() []domain.DestinationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DestinationInfo, len(s.dests))
	for i, d := range s.dests {
		out[i] = d.info(i)
	}
	return out
}

// lookup returns the index of the destination with the given URI or duid
func (s *Set) lookup(key string) int {
	for i, d := range s.dests {
		if sameURI(d.uri.raw, key) {
			return i
		}
	}
	for i, d := range s.dests {
		if d.attrs.DUID != "" && d.attrs.DUID == key {
			return i
		}
	}
	return -1
}

// Tree is an immutable snapshot of every destination set, ordered by id.
// Only the per destination state inside the sets changes after publication.
type Tree struct {
	sets []*Set
	rows []domain.DestinationRow
}

// Find returns the set with the given id
func (t *Tree) Find(id int) *Set {
	if t == nil {
		return nil
	}
	i := sort.Search(len(t.sets), func(i int) bool { return t.sets[i].id >= id })
	if i < len(t.sets) && t.sets[i].id == id {
		return t.sets[i]
	}
	return nil
}

// Sets returns the sets ordered by id
func (t *Tree) Sets() []*Set {
	if t == nil {
		return nil
	}
	return t.sets
}

// Rows returns the rows the tree was built from
func (t *Tree) Rows() []domain.DestinationRow {
	if t == nil {
		return nil
	}
	return t.rows
}

// Len returns the number of sets
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.sets)
}

// treeBuilder collects destinations before a tree is published
type treeBuilder struct {
	groups map[int][]*Destination
	rows   []domain.DestinationRow
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{groups: make(map[int][]*Destination)}
}

// insert keeps each group ascending by priority, a new destination going
// after those of equal priority
func (b *treeBuilder) insert(row domain.DestinationRow, d *Destination) {
	list := b.groups[d.group]
	pos := len(list)
	for i, cur := range list {
		if cur.priority > d.priority {
			pos = i
			break
		}
	}
	list = append(list, nil)
	copy(list[pos+1:], list[pos:])
	list[pos] = d
	b.groups[d.group] = list
	b.rows = append(b.rows, row)
}

// contains reports whether an identical destination was already inserted
func (b *treeBuilder) contains(group int, uri string) bool {
	for _, d := range b.groups[group] {
		if sameURI(d.uri.raw, uri) {
			return true
		}
	}
	return false
}

// build reverses every group so the highest priority comes first, computes
// the weight tables and returns the sorted snapshot
func (b *treeBuilder) build() *Tree {
	t := &Tree{sets: make([]*Set, 0, len(b.groups)), rows: b.rows}
	for id, list := range b.groups {
		s := &Set{id: id, dests: make([]*Destination, len(list))}
		for i, d := range list {
			s.dests[len(list)-1-i] = d
		}
		s.initWeights()
		s.initRelativeWeights()
		t.sets = append(t.sets, s)
	}
	sort.Slice(t.sets, func(i, j int) bool { return t.sets[i].id < t.sets[j].id })
	return t
}
