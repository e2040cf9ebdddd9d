package threadmodel

import (
	"sort"

	"github.com/customeros/mailstack/internal/models"
)

// ApplyChanges computes the exact delta tuples spec.md §4.5 requires:
// "additionLocations, updateLocations, removalLocations must compute exact
// insertion/deletion/update tuples (parent-index, row) such that applying
// them to a client view produces the tree the next full rebuild would
// yield." Removed ids are processed before added/updated ids, in
// depth-descending then row-descending order so indices above unaffected
// nodes remain stable; re-addition ignores the removed ids' previous
// positions.
type ChangeSet struct {
	Added   []models.MessageId
	Updated []models.MessageId
	Removed []models.MessageId
}

type DeltaSet struct {
	Removals  []Delta
	Updates   []Delta
	Additions []Delta
}

func (t *Tree) ApplyChanges(changes ChangeSet) DeltaSet {
	var out DeltaSet

	out.Removals = t.removalLocations(changes.Removed)
	t.removeIDs(changes.Removed)

	for _, id := range changes.Updated {
		if parentIdx, row, ok := t.reinsertForUpdate(id); ok {
			out.Updates = append(out.Updates, Delta{ParentIndex: parentIdx, Row: row, ID: id})
		}
	}

	for _, id := range changes.Added {
		idx := t.insertLeaf(id)
		parentIdx, row, _ := t.RowOf(t.arena[idx].id)
		out.Additions = append(out.Additions, Delta{ParentIndex: parentIdx, Row: row, ID: id})
	}

	return out
}

// removalLocations computes removal tuples in depth-descending, then
// row-descending order (spec.md §4.5) before any mutation happens, so the
// positions reported are the ones a client currently displaying the tree
// would see.
func (t *Tree) removalLocations(ids []models.MessageId) []Delta {
	type candidate struct {
		id    models.MessageId
		depth int
		parentIdx, row int
	}
	var candidates []candidate
	for _, id := range ids {
		idx, ok := t.index[id]
		if !ok || !t.arena[idx].alive {
			continue
		}
		parentIdx, row, ok := t.RowOf(id)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{id: id, depth: t.depthOf(idx), parentIdx: parentIdx, row: row})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].depth != candidates[j].depth {
			return candidates[i].depth > candidates[j].depth
		}
		return candidates[i].row > candidates[j].row
	})

	out := make([]Delta, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Delta{ParentIndex: c.parentIdx, Row: c.row, ID: c.id})
	}
	return out
}

func (t *Tree) depthOf(idx int) int {
	depth := 0
	for t.arena[idx].parent != rootIndex {
		idx = t.arena[idx].parent
		depth++
	}
	return depth
}

// removeIDs detaches ids from their parents' child lists and marks their
// arena slots dead. Children of a removed node become roots (or reparent to
// the tree's InResponseTo chain on the next insertLeaf/reinsert), matching
// "re-addition after update must ignore the removed ids' previous
// positions when computing insertion indices."
func (t *Tree) removeIDs(ids []models.MessageId) {
	for _, id := range ids {
		idx, ok := t.index[id]
		if !ok {
			continue
		}
		parentIdx := t.arena[idx].parent
		t.detachFromParent(parentIdx, idx)
		for _, child := range t.arena[idx].children {
			t.arena[child].parent = rootIndex
		}
		t.arena[idx].alive = false
		t.arena[idx].children = nil
		delete(t.index, id)
	}
}

func (t *Tree) detachFromParent(parentIdx, idx int) {
	if parentIdx == rootIndex {
		return
	}
	siblings := t.arena[parentIdx].children
	for i, s := range siblings {
		if s == idx {
			t.arena[parentIdx].children = append(siblings[:i], siblings[i+1:]...)
			return
		}
	}
}

// reinsertForUpdate re-homes id under its current effective parent if the
// parent changed, or if its row would now violate ordering relative to its
// immediate neighbors (spec.md §4.5: "update reinsertion is required when
// the effective parent changes, or when the row would violate ordering
// relative to its immediate neighbors").
func (t *Tree) reinsertForUpdate(id models.MessageId) (parentIdx, row int, changed bool) {
	idx, ok := t.index[id]
	if !ok || !t.arena[idx].alive {
		return 0, 0, false
	}

	newParentID, hasParent := t.effectiveParent(id)
	newParentIdx := rootIndex
	if hasParent {
		newParentIdx = t.index[newParentID]
	}

	oldParentIdx := t.arena[idx].parent
	orderOK := t.orderRespected(idx)

	if newParentIdx == oldParentIdx && orderOK {
		return 0, 0, false
	}

	t.detachFromParent(oldParentIdx, idx)
	t.arena[idx].parent = newParentIdx
	if newParentIdx != rootIndex {
		t.arena[newParentIdx].children = t.orderedInsert(removeIdx(t.arena[newParentIdx].children, idx), idx)
	}

	p, r, _ := t.RowOf(id)
	return p, r, true
}

func (t *Tree) orderRespected(idx int) bool {
	siblings := t.siblingsOf(t.arena[idx].parent)
	pos := -1
	for i, s := range siblings {
		if s == idx {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}
	if pos > 0 && t.lessByOrder(idx, siblings[pos-1]) {
		return false
	}
	if pos < len(siblings)-1 && t.lessByOrder(siblings[pos+1], idx) {
		return false
	}
	return true
}

func removeIdx(s []int, v int) []int {
	out := make([]int, 0, len(s))
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}
