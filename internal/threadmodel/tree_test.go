package threadmodel

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailstack/internal/models"
)

// byID orders messages lexicographically by id, a stand-in for the real
// sent-date ordering the strategy engine would supply.
func byID(ids []models.MessageId) []models.MessageId {
	out := append([]models.MessageId{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func parentsFixture(parents map[models.MessageId]models.MessageId) func(models.MessageId) (models.MessageId, bool) {
	return func(id models.MessageId) (models.MessageId, bool) {
		p, ok := parents[id]
		return p, ok
	}
}

func TestRebuild_ReparentsToNearestDisplayedAncestor(t *testing.T) {
	// c replies to b, b replies to a, but b is not in the displayed set: c
	// should become a's child directly (spec.md §4.5 reparenting rule).
	parents := map[models.MessageId]models.MessageId{
		"b": "a",
		"c": "b",
	}
	tree := New(parentsFixture(parents), byID)
	tree.Rebuild([]models.MessageId{"a", "c"})

	parentIdx, row, ok := tree.RowOf("c")
	require.True(t, ok)
	assert.Equal(t, row, 0)
	aIdx := tree.index["a"]
	assert.Equal(t, aIdx, parentIdx)
}

func TestRebuild_NoAncestorDisplayedBecomesRoot(t *testing.T) {
	parents := map[models.MessageId]models.MessageId{"b": "a"}
	tree := New(parentsFixture(parents), byID)
	tree.Rebuild([]models.MessageId{"b"})

	parentIdx, _, ok := tree.RowOf("b")
	require.True(t, ok)
	assert.Equal(t, rootIndex, parentIdx)
}

func TestRebuild_CycleGuardDoesNotHang(t *testing.T) {
	parents := map[models.MessageId]models.MessageId{"a": "b", "b": "a"}
	tree := New(parentsFixture(parents), byID)
	tree.Rebuild([]models.MessageId{"a", "b"})
	assert.Equal(t, 2, tree.Size())
}

func TestApplyChanges_RemovalOrderIsDepthThenRowDescending(t *testing.T) {
	// a -> {b, c}, b -> {d}. Removing all of a,b,c,d should report d (depth
	// 2) before b/c (depth 1, row-descending) before a (depth 0).
	parents := map[models.MessageId]models.MessageId{
		"b": "a",
		"c": "a",
		"d": "b",
	}
	tree := New(parentsFixture(parents), byID)
	tree.Rebuild([]models.MessageId{"a", "b", "c", "d"})

	deltas := tree.ApplyChanges(ChangeSet{Removed: []models.MessageId{"a", "b", "c", "d"}})
	require.Len(t, deltas.Removals, 4)
	assert.Equal(t, models.MessageId("d"), deltas.Removals[0].ID)
	assert.Equal(t, models.MessageId("a"), deltas.Removals[len(deltas.Removals)-1].ID)

	for i := 0; i+1 < len(deltas.Removals); i++ {
		di := depthFromDelta(tree, deltas.Removals[i])
		dj := depthFromDelta(tree, deltas.Removals[i+1])
		assert.True(t, di >= dj, "removals must be depth-descending")
	}
	assert.Equal(t, 0, tree.Size())
}

// depthFromDelta recomputes depth from the delta's id using the fixture's
// static parent map rather than the (already-removed) tree state.
func depthFromDelta(tree *Tree, d Delta) int {
	static := map[models.MessageId]int{"a": 0, "b": 1, "c": 1, "d": 2}
	return static[d.ID]
}

func TestApplyChanges_AdditionReportsParentAndRow(t *testing.T) {
	parents := map[models.MessageId]models.MessageId{"b": "a"}
	tree := New(parentsFixture(parents), byID)
	tree.Rebuild([]models.MessageId{"a"})

	deltas := tree.ApplyChanges(ChangeSet{Added: []models.MessageId{"b"}})
	require.Len(t, deltas.Additions, 1)
	assert.Equal(t, tree.index["a"], deltas.Additions[0].ParentIndex)
	assert.Equal(t, models.MessageId("b"), deltas.Additions[0].ID)
}

func TestApplyChanges_UpdateReinsertsWhenParentChanges(t *testing.T) {
	parents := map[models.MessageId]models.MessageId{"c": "a"}
	tree := New(parentsFixture(parents), byID)
	tree.Rebuild([]models.MessageId{"a", "b", "c"})

	parentIdx, _, _ := tree.RowOf("c")
	assert.Equal(t, tree.index["a"], parentIdx)

	// c now replies to b instead of a.
	parents["c"] = "b"
	deltas := tree.ApplyChanges(ChangeSet{Updated: []models.MessageId{"c"}})
	require.Len(t, deltas.Updates, 1)
	assert.Equal(t, tree.index["b"], deltas.Updates[0].ParentIndex)

	newParentIdx, _, _ := tree.RowOf("c")
	assert.Equal(t, tree.index["b"], newParentIdx)
}

func TestApplyChanges_UpdateNoOpWhenParentAndOrderUnchanged(t *testing.T) {
	parents := map[models.MessageId]models.MessageId{"b": "a"}
	tree := New(parentsFixture(parents), byID)
	tree.Rebuild([]models.MessageId{"a", "b"})

	deltas := tree.ApplyChanges(ChangeSet{Updated: []models.MessageId{"b"}})
	assert.Empty(t, deltas.Updates)
}

func TestApplyChanges_ReadditionIgnoresRemovedPriorPosition(t *testing.T) {
	parents := map[models.MessageId]models.MessageId{"b": "a"}
	tree := New(parentsFixture(parents), byID)
	tree.Rebuild([]models.MessageId{"a", "b"})

	changes := ChangeSet{Removed: []models.MessageId{"b"}, Added: []models.MessageId{"b"}}
	deltas := tree.ApplyChanges(changes)
	require.Len(t, deltas.Removals, 1)
	require.Len(t, deltas.Additions, 1)

	_, row, ok := tree.RowOf("b")
	require.True(t, ok)
	assert.Equal(t, 0, row)
}
