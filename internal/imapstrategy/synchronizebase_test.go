package imapstrategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/mailstore"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

func putMessage(t *testing.T, store *mailstore.MemStore, id models.MessageId, acct models.AccountId, folder models.FolderId, uid uint32, bits ...enum.StatusBit) *models.MessageMetadata {
	t.Helper()
	m := &models.MessageMetadata{
		ID:        id,
		AccountID: acct,
		FolderID:  folder,
		ServerUID: models.NewServerUID(uid),
	}
	for _, b := range bits {
		m.Status = m.Status.Set(b, true)
	}
	require.NoError(t, store.AddMessage(context.Background(), m))
	return m
}

func loadMessage(t *testing.T, store *mailstore.MemStore, id models.MessageId) *models.MessageMetadata {
	t.Helper()
	rows, err := store.MessagesMetaData(context.Background(), interfaces.KeyByMessage(id), interfaces.AllRows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

// TestReconcile_EmptyInbox is spec.md §8 scenario 1: an account with one
// selectable folder and EXISTS=0 reconciles to no additions, no
// disappearances, nothing inconclusive.
func TestReconcile_EmptyInbox(t *testing.T) {
	// Arrange
	store := mailstore.NewMemStore()
	folder := &models.Folder{ID: "folder-1", AccountID: "acct-1", Path: "INBOX"}
	reported := ReportedUIDs{Seen: map[uint32]bool{}, Unseen: map[uint32]bool{}, Exists: 0}

	// Act
	result, err := Reconcile(context.Background(), store, "acct-1", folder, reported)

	// Assert
	require.NoError(t, err)
	assert.False(t, result.Inconclusive)
	assert.Empty(t, result.Additions)
	assert.Empty(t, result.Disappearances)
	assert.Empty(t, result.Reappearances)
	assert.Empty(t, result.NewlyReadElsewhere)
}

// TestReconcile_ConsistentServer verifies the invariant in spec.md §8: after
// a consistent synchronize-all run, every stored message's Removed bit
// equals (serverUid not reported) and ReadElsewhere equals (uid in SEEN).
func TestReconcile_ConsistentServer(t *testing.T) {
	// Arrange: uid 1 stays present and becomes newly seen; uid 2 disappears
	// from the server; uid 3 is a brand-new addition; uid 4 reappears after
	// previously being marked Removed.
	store := mailstore.NewMemStore()
	folder := &models.Folder{ID: "folder-1", AccountID: "acct-1"}
	putMessage(t, store, "m1", "acct-1", "folder-1", 1)
	putMessage(t, store, "m2", "acct-1", "folder-1", 2)
	putMessage(t, store, "m4", "acct-1", "folder-1", 4, enum.Removed)

	reported := ReportedUIDs{
		Seen:   map[uint32]bool{1: true, 4: true},
		Unseen: map[uint32]bool{3: true},
		Exists: 3,
	}

	// Act
	result, err := Reconcile(context.Background(), store, "acct-1", folder, reported)
	require.NoError(t, err)
	require.False(t, result.Inconclusive)
	require.NoError(t, ApplyReconcile(context.Background(), store, "acct-1", folder, result))

	// Assert
	assert.Equal(t, []uint32{3}, result.Additions)
	assert.Equal(t, []models.MessageId{"m2"}, result.Disappearances)
	assert.Equal(t, []models.MessageId{"m4"}, result.Reappearances)
	assert.ElementsMatch(t, []models.MessageId{"m1", "m4"}, result.NewlyReadElsewhere)

	m1 := loadMessage(t, store, "m1")
	assert.False(t, m1.Has(enum.Removed))
	assert.True(t, m1.Has(enum.ReadElsewhere))

	m2 := loadMessage(t, store, "m2")
	assert.True(t, m2.Has(enum.Removed), "uid 2 vanished from the server and must be marked Removed")

	m4 := loadMessage(t, store, "m4")
	assert.False(t, m4.Has(enum.Removed), "uid 4 reappeared and must have Removed cleared")
	assert.True(t, m4.Has(enum.ReadElsewhere))
}

// TestReconcile_Inconclusive is spec.md §8: "Under inconclusive search, no
// message transitions Removed=false -> true and no ReadElsewhere bit is
// cleared" -- and scenario 4 (SEEN=[1,2], UNSEEN=[3], EXISTS=5).
func TestReconcile_Inconclusive(t *testing.T) {
	// Arrange
	store := mailstore.NewMemStore()
	folder := &models.Folder{ID: "folder-1", AccountID: "acct-1"}
	putMessage(t, store, "m1", "acct-1", "folder-1", 1)
	putMessage(t, store, "m2", "acct-1", "folder-1", 2, enum.ReadElsewhere)
	putMessage(t, store, "m9", "acct-1", "folder-1", 9) // not reported at all -- would be a "disappearance" if conclusive

	reported := ReportedUIDs{
		Seen:            map[uint32]bool{1: true, 2: true},
		Unseen:          map[uint32]bool{3: true},
		Exists:          5,
		UsedAllFallback: true,
		All:             map[uint32]bool{1: true, 2: true, 3: true}, // still only 3, disagrees with Exists=5
	}

	// Act
	result, err := Reconcile(context.Background(), store, "acct-1", folder, reported)
	require.NoError(t, err)
	require.NoError(t, ApplyReconcile(context.Background(), store, "acct-1", folder, result))

	// Assert
	assert.True(t, result.Inconclusive)
	assert.Empty(t, result.Disappearances, "inconclusive search must not delete")
	assert.Empty(t, result.Reappearances)
	assert.Empty(t, result.NewlyReadElsewhere, "inconclusive search must not clear/set ReadElsewhere")
	assert.ElementsMatch(t, []uint32{1, 2, 3}, result.Additions, "additions still proceed under inconclusive")

	m9 := loadMessage(t, store, "m9")
	assert.False(t, m9.Has(enum.Removed), "inconclusive search must never mark Removed")
	m2 := loadMessage(t, store, "m2")
	assert.True(t, m2.Has(enum.ReadElsewhere), "inconclusive search must not clear an existing ReadElsewhere bit")
}

// TestReconcile_ALLFallbackRecoversConsistency: SEEN+UNSEEN disagree with
// EXISTS, but UID SEARCH ALL agrees -- reconciliation proceeds normally
// rather than going inconclusive (spec.md §4.3.3).
func TestReconcile_ALLFallbackRecoversConsistency(t *testing.T) {
	// Arrange
	store := mailstore.NewMemStore()
	folder := &models.Folder{ID: "folder-1", AccountID: "acct-1"}
	putMessage(t, store, "m1", "acct-1", "folder-1", 1)

	reported := ReportedUIDs{
		Seen:            map[uint32]bool{1: true},
		Unseen:          map[uint32]bool{}, // SEEN ∪ UNSEEN = {1}, but EXISTS says 2
		Exists:          2,
		UsedAllFallback: true,
		All:             map[uint32]bool{1: true, 2: true}, // ALL agrees with EXISTS
	}

	// Act
	result, err := Reconcile(context.Background(), store, "acct-1", folder, reported)

	// Assert
	require.NoError(t, err)
	assert.False(t, result.Inconclusive)
	assert.Equal(t, []uint32{2}, result.Additions)
}
