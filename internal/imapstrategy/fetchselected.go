package imapstrategy

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// uidProgress tracks one UID's fetch progress record (spec.md §4.3.1):
// "a per-UID record stores (indicative-size, byte-size, percent-done)".
type uidProgress struct {
	IndicativeSize uint32
	ByteSize       uint32
	PercentDone    int
}

// FetchSelected implements spec.md §4.3.1: given a Selection of (folder,
// uid, section) triples, deliver the requested content into the store,
// reporting progress weighted by indicative size.
type FetchSelected struct {
	noopHooks

	ctx       *Context
	selection *Selection
	batchSize int

	progress     map[models.ServerUID]*uidProgress
	progressInit bool
}

func NewFetchSelected(c *Context, selection *Selection) *FetchSelected {
	return &FetchSelected{
		ctx:       c,
		selection: selection,
		batchSize: 25,
		progress:  make(map[models.ServerUID]*uidProgress),
	}
}

func (f *FetchSelected) NewConnection(ctx context.Context) error {
	f.ctx.SetPhase(enum.PhaseList)
	return nil
}

func (f *FetchSelected) Selection() *Selection { return f.selection }

// initProgress seeds one uidProgress record per selected UID from the
// previously known message size, so the total reported to ProgressChanged is
// weighted by indicative size rather than by a flat message count (spec.md
// §4.3.1). A UID the store has never seen before falls back to an indicative
// size of 1 so it still counts toward the total.
func (f *FetchSelected) initProgress(ctx context.Context) error {
	if f.progressInit {
		return nil
	}
	f.progressInit = true

	var total int
	for _, folder := range f.selection.Folders() {
		sizes, err := f.indicativeSizes(ctx, folder)
		if err != nil {
			return err
		}
		for _, suid := range f.selection.UIDsAscending(folder) {
			size := sizes[suid]
			if size == 0 {
				size = 1
			}
			if props := f.selection.Properties(folder, suid); props.MinimumBytes != nil && *props.MinimumBytes < size {
				size = *props.MinimumBytes
			}
			f.progress[suid] = &uidProgress{IndicativeSize: size}
			total += int(size)
		}
	}
	f.ctx.SetProgressTotal(total)
	return nil
}

func (f *FetchSelected) indicativeSizes(ctx context.Context, folder models.FolderId) (map[models.ServerUID]uint32, error) {
	rows, err := f.ctx.Store.MessagesMetaData(ctx, interfaces.And(
		interfaces.KeyByAccount(f.ctx.AccountID),
		interfaces.KeyByFolder(folder),
	), interfaces.AllRows)
	if err != nil {
		return nil, errors.Wrap(err, "load indicative sizes")
	}
	sizes := make(map[models.ServerUID]uint32, len(rows))
	for _, m := range rows {
		sizes[m.ServerUID] = m.Size
	}
	return sizes, nil
}

func (f *FetchSelected) Transition(ctx context.Context, sink interfaces.StatusSink, action interfaces.ActionId) (bool, error) {
	if err := f.initProgress(ctx); err != nil {
		return false, err
	}

	folders := f.selection.Folders()
	if len(folders) == 0 {
		f.ctx.SetPhase(enum.PhaseComplete)
		return true, nil
	}

	folder := folders[0]
	if f.ctx.Conn.SelectedMailbox() != string(folder) {
		if _, err := f.ctx.Conn.Select(string(folder)); err != nil {
			return false, errors.Wrapf(err, "select %s", folder)
		}
	}

	batch := f.selection.NextBatch(folder, f.batchSize)
	if len(batch) == 0 {
		return false, nil
	}

	if err := f.fetchBatch(ctx, folder, batch, sink, action); err != nil {
		return false, err
	}

	for _, uid := range batch {
		f.selection.Remove(folder, uid)
	}

	if f.selection.Empty() {
		f.ctx.SetPhase(enum.PhaseComplete)
		return true, nil
	}
	return false, nil
}

func (f *FetchSelected) fetchBatch(ctx context.Context, folder models.FolderId, batch []models.ServerUID, sink interfaces.StatusSink, action interfaces.ActionId) error {
	seqset := new(imap.SeqSet)
	uidSet := make(map[uint32]models.ServerUID, len(batch))
	for _, suid := range batch {
		uid, ok := suid.UID()
		if !ok {
			continue
		}
		seqset.AddNum(uid)
		uidSet[uid] = suid
	}

	first := f.selection.Properties(folder, batch[0])
	items := []imap.FetchItem{imap.FetchUid, imap.FetchRFC822Size, imap.FetchBodyStructure}
	if first.WholeMessage() {
		items = append(items, imap.FetchItem("BODY[]"))
	} else {
		items = append(items, sectionFetchItem(first))
	}

	var fetchErr error
	err := f.ctx.Conn.UIDFetch(seqset, items, func(msg *imap.Message) {
		suid, known := uidSet[msg.Uid]
		if !known {
			return
		}
		if err := f.applyFetchedMessage(ctx, folder, suid, msg); err != nil {
			fetchErr = err
			return
		}
		inc := 1
		if pr := f.progress[suid]; pr != nil {
			pr.ByteSize = msg.Size
			pr.PercentDone = 100
			inc = int(pr.IndicativeSize)
		}
		f.ctx.AddProgress(inc)
		if sink != nil {
			done, total := f.ctx.Progress()
			sink.ProgressChanged(action, done, total)
		}
	})
	if err != nil {
		return errors.Wrap(err, "uid fetch")
	}
	return fetchErr
}

func sectionFetchItem(props models.SectionProperties) imap.FetchItem {
	if props.MinimumBytes != nil {
		return imap.FetchItem(fmt.Sprintf("BODY[%s]<0.%d>", props.PartLocation, *props.MinimumBytes))
	}
	return imap.FetchItem(fmt.Sprintf("BODY[%s]", props.PartLocation))
}

func (f *FetchSelected) applyFetchedMessage(ctx context.Context, folder models.FolderId, suid models.ServerUID, msg *imap.Message) error {
	meta, err := f.lookupMetadata(ctx, folder, suid)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	meta.Size = msg.Size
	if f.selection.Properties(folder, suid).WholeMessage() {
		meta.Status = meta.Status.Set(enum.ContentAvailable, true)
		meta.Status = meta.Status.Set(enum.PartialContentAvailable, false)
	} else {
		meta.Status = meta.Status.Set(enum.PartialContentAvailable, true)
		meta.Status = meta.Status.Set(enum.ContentAvailable, false)
	}
	return f.ctx.Store.UpdateMessage(ctx, meta)
}

func (f *FetchSelected) lookupMetadata(ctx context.Context, folder models.FolderId, suid models.ServerUID) (*models.MessageMetadata, error) {
	rows, err := f.ctx.Store.MessagesMetaData(ctx, interfaces.And(
		interfaces.KeyByAccount(f.ctx.AccountID),
		interfaces.KeyByFolder(folder),
		interfaces.KeyByServerUID(suid),
	), interfaces.AllRows)
	if err != nil {
		return nil, errors.Wrap(err, "lookup message metadata")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

var _ FetchSelectedStrategy = (*FetchSelected)(nil)
