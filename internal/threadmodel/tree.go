// Package threadmodel implements the Threaded Model Index (spec.md §4.5):
// an in-memory conversation tree reused by the message-list view and by the
// IMAP synchronize strategy's data flow. Owning back-pointers from the
// original design become (arena, index) pairs per spec.md §9: parent
// references are indices into a node arena, and subtree removal is a
// depth-descending post-order traversal over indices.
package threadmodel

import (
	"sort"

	"github.com/customeros/mailstack/internal/models"
)

const rootIndex = -1

// node is one arena slot. parent == rootIndex means the node is a root.
// alive is false once the node has been removed but its slot has not yet
// been recycled (the arena never shrinks mid-traversal).
type node struct {
	id       models.MessageId
	parent   int
	children []int
	alive    bool
}

// SortFunc orders a set of message ids the way one parent's children
// should be ordered (spec.md §4.5: "child ordering by the sort order of
// message ids").
type SortFunc func(ids []models.MessageId) []models.MessageId

// Tree is the conversation tree contract from spec.md §3/§4.5.
type Tree struct {
	arena []node
	index map[models.MessageId]int

	sortFn SortFunc
	parentOf func(models.MessageId) (models.MessageId, bool)
}

// New builds an empty Tree. parentOf resolves a message's InResponseTo
// predecessor; sortFn orders siblings.
func New(parentOf func(models.MessageId) (models.MessageId, bool), sortFn SortFunc) *Tree {
	return &Tree{
		index:    make(map[models.MessageId]int),
		parentOf: parentOf,
		sortFn:   sortFn,
	}
}

// Delta is one insertion/deletion/update tuple the client view applies.
// ParentIndex is -1 for a root-level child.
type Delta struct {
	ParentIndex int
	Row         int
	ID          models.MessageId
}

// Rebuild replaces the tree's contents with ids, computing no deltas (used
// to establish a baseline or recover from a detected inconsistency).
func (t *Tree) Rebuild(ids []models.MessageId) {
	t.arena = nil
	t.index = make(map[models.MessageId]int)
	for _, id := range ids {
		t.insertLeaf(id)
	}
}

func (t *Tree) insertLeaf(id models.MessageId) int {
	idx := len(t.arena)
	t.arena = append(t.arena, node{id: id, parent: rootIndex, alive: true})
	t.index[id] = idx

	parentID, hasParent := t.effectiveParent(id)
	parentIdx := rootIndex
	if hasParent {
		if pidx, ok := t.index[parentID]; ok {
			parentIdx = pidx
		}
	}
	t.arena[idx].parent = parentIdx
	if parentIdx != rootIndex {
		t.arena[parentIdx].children = t.orderedInsert(t.arena[parentIdx].children, idx)
	}
	return idx
}

// effectiveParent applies spec.md §4.5's reparenting rule: "each message's
// first ancestor (by InResponseTo chain) that is itself in the displayed
// set becomes its parent; otherwise the message is a root."
func (t *Tree) effectiveParent(id models.MessageId) (models.MessageId, bool) {
	current := id
	seen := map[models.MessageId]bool{current: true}
	for {
		parent, ok := t.parentOf(current)
		if !ok || parent == "" {
			return "", false
		}
		if seen[parent] {
			return "", false // cycle guard
		}
		if _, inTree := t.index[parent]; inTree {
			return parent, true
		}
		seen[parent] = true
		current = parent
	}
}

func (t *Tree) orderedInsert(children []int, idx int) []int {
	ids := make([]models.MessageId, 0, len(children)+1)
	for _, c := range children {
		ids = append(ids, t.arena[c].id)
	}
	ids = append(ids, t.arena[idx].id)
	ordered := t.sortFn(ids)

	byID := make(map[models.MessageId]int, len(children)+1)
	for _, c := range children {
		byID[t.arena[c].id] = c
	}
	byID[t.arena[idx].id] = idx

	out := make([]int, len(ordered))
	for i, id := range ordered {
		out[i] = byID[id]
	}
	return out
}

// RowOf returns the 0-based position of id within its parent's child list,
// and the parent's arena index (rootIndex if id is a root).
func (t *Tree) RowOf(id models.MessageId) (parentIdx, row int, ok bool) {
	idx, exists := t.index[id]
	if !exists || !t.arena[idx].alive {
		return 0, 0, false
	}
	parentIdx = t.arena[idx].parent
	siblings := t.siblingsOf(parentIdx)
	for i, s := range siblings {
		if s == idx {
			return parentIdx, i, true
		}
	}
	return parentIdx, 0, false
}

func (t *Tree) siblingsOf(parentIdx int) []int {
	if parentIdx == rootIndex {
		var roots []int
		for i := range t.arena {
			if t.arena[i].parent == rootIndex && t.arena[i].alive {
				roots = append(roots, i)
			}
		}
		sort.Slice(roots, func(a, b int) bool { return t.lessByOrder(roots[a], roots[b]) })
		return roots
	}
	return t.arena[parentIdx].children
}

func (t *Tree) lessByOrder(a, b int) bool {
	ordered := t.sortFn([]models.MessageId{t.arena[a].id, t.arena[b].id})
	return len(ordered) > 0 && ordered[0] == t.arena[a].id
}

// Size returns the number of live nodes in the tree.
func (t *Tree) Size() int {
	n := 0
	for _, nd := range t.arena {
		if nd.alive {
			n++
		}
	}
	return n
}
