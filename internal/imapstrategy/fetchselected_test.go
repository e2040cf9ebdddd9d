package imapstrategy

import (
	"context"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/mailstore"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

func newFetchContext(store *mailstore.MemStore) *Context {
	return NewContext("acct-1", nil, store, 0)
}

// TestFetchSelected_InitProgress_WeighsByIndicativeSize is spec.md §4.3.1:
// the total reported to ProgressChanged is weighted by each UID's previously
// known size, not a flat per-message count.
func TestFetchSelected_InitProgress_WeighsByIndicativeSize(t *testing.T) {
	// Arrange: uid 1 has a known size, uid 2 is unseen by the store, uid 3
	// has a known size larger than its requested partial-fetch cap.
	store := mailstore.NewMemStore()
	require.NoError(t, store.AddMessage(context.Background(), &models.MessageMetadata{
		ID: "m1", AccountID: "acct-1", FolderID: "folder-1", ServerUID: models.NewServerUID(1), Size: 2000,
	}))
	require.NoError(t, store.AddMessage(context.Background(), &models.MessageMetadata{
		ID: "m3", AccountID: "acct-1", FolderID: "folder-1", ServerUID: models.NewServerUID(3), Size: 50000,
	}))

	cap4096 := uint32(4096)
	selection := NewSelection()
	selection.Add("folder-1", models.NewServerUID(1), models.SectionProperties{})
	selection.Add("folder-1", models.NewServerUID(2), models.SectionProperties{})
	selection.Add("folder-1", models.NewServerUID(3), models.SectionProperties{PartLocation: "1", MinimumBytes: &cap4096})

	fs := NewFetchSelected(newFetchContext(store), selection)

	// Act
	require.NoError(t, fs.initProgress(context.Background()))

	// Assert
	assert := require.New(t)
	assert.Equal(uint32(2000), fs.progress[models.NewServerUID(1)].IndicativeSize)
	assert.Equal(uint32(1), fs.progress[models.NewServerUID(2)].IndicativeSize, "unknown size falls back to 1")
	assert.Equal(cap4096, fs.progress[models.NewServerUID(3)].IndicativeSize, "a minimum-bytes cap bounds the indicative size")

	done, total := fs.ctx.Progress()
	assert.Equal(0, done)
	assert.Equal(int(2000+1+cap4096), total)
}

// TestFetchSelected_ApplyFetchedMessage_WholeVsPartial is spec.md §8
// scenario 2: a header-limited partial fetch sets PartialContentAvailable
// and leaves ContentAvailable false; a whole-message fetch does the
// opposite.
func TestFetchSelected_ApplyFetchedMessage_WholeVsPartial(t *testing.T) {
	// Arrange
	store := mailstore.NewMemStore()
	require.NoError(t, store.AddMessage(context.Background(), &models.MessageMetadata{
		ID: "whole", AccountID: "acct-1", FolderID: "folder-1", ServerUID: models.NewServerUID(1),
	}))
	require.NoError(t, store.AddMessage(context.Background(), &models.MessageMetadata{
		ID: "partial", AccountID: "acct-1", FolderID: "folder-1", ServerUID: models.NewServerUID(2),
	}))

	cap4096 := uint32(4096)
	selection := NewSelection()
	selection.Add("folder-1", models.NewServerUID(1), models.SectionProperties{})
	selection.Add("folder-1", models.NewServerUID(2), models.SectionProperties{PartLocation: "1", MinimumBytes: &cap4096})
	fs := NewFetchSelected(newFetchContext(store), selection)

	// Act
	require.NoError(t, fs.applyFetchedMessage(context.Background(), "folder-1", models.NewServerUID(1), &imap.Message{Uid: 1, Size: 9000}))
	require.NoError(t, fs.applyFetchedMessage(context.Background(), "folder-1", models.NewServerUID(2), &imap.Message{Uid: 2, Size: 4096}))

	// Assert
	rows, err := store.MessagesMetaData(context.Background(), interfaces.KeyByMessage("whole"), interfaces.AllRows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Has(enum.ContentAvailable))
	require.False(t, rows[0].Has(enum.PartialContentAvailable))

	rows, err = store.MessagesMetaData(context.Background(), interfaces.KeyByMessage("partial"), interfaces.AllRows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.False(t, rows[0].Has(enum.ContentAvailable))
	require.True(t, rows[0].Has(enum.PartialContentAvailable))
}
