package imapstrategy

import (
	"context"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// FolderCursor caches UIDNEXT/EXISTS between calls for one folder, per
// spec.md §4.3.6: "when both are unchanged since the last visit, it
// concludes no append/expunge occurred and computes only the incremental
// UID range to fetch".
type FolderCursor struct {
	UidNext uint32
	Exists  uint32
}

// RetrieveMessageList implements spec.md §4.3.6: ensure the last N
// messages of a folder are locally present, using the cached cursor to
// avoid a full re-list when nothing changed.
type RetrieveMessageList struct {
	noopHooks

	ctx       *Context
	folder    models.FolderId
	path      string
	n         int
	cursors   map[models.FolderId]FolderCursor
	selection *Selection
}

func NewRetrieveMessageList(c *Context, folder models.FolderId, path string, n int, cursors map[models.FolderId]FolderCursor) *RetrieveMessageList {
	if cursors == nil {
		cursors = make(map[models.FolderId]FolderCursor)
	}
	return &RetrieveMessageList{ctx: c, folder: folder, path: path, n: n, cursors: cursors, selection: NewSelection()}
}

func (r *RetrieveMessageList) NewConnection(ctx context.Context) error {
	r.ctx.SetPhase(enum.PhaseList)
	return nil
}

func (r *RetrieveMessageList) Selection() *Selection { return r.selection }

func (r *RetrieveMessageList) Transition(ctx context.Context, sink interfaces.StatusSink, action interfaces.ActionId) (bool, error) {
	status, err := r.ctx.Conn.Select(r.path)
	if err != nil {
		return false, errors.Wrapf(err, "select %s", r.path)
	}

	prev, hadCursor := r.cursors[r.folder]
	unchanged := hadCursor && prev.UidNext == status.UidNext && prev.Exists == status.Messages
	r.cursors[r.folder] = FolderCursor{UidNext: status.UidNext, Exists: status.Messages}

	onClient, err := r.localCount(ctx)
	if err != nil {
		return false, err
	}

	lowerBound := uint32(0)
	if status.Messages > uint32(r.n) {
		lowerBound = status.Messages - uint32(onClient)
	}

	if unchanged {
		// Incremental: only the delta between what the client already has
		// and the server's current EXISTS needs a range search.
		if err := r.searchRange(lowerBound+1, 0); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := r.searchRange(1, 0); err != nil {
		return false, err
	}

	// Gap fill: if the newest UID on the client plus one is still less
	// than the oldest UID the server reports among the top-N, a second
	// UID SEARCH fills the gap (spec.md §4.3.6).
	oldestServer, newestClient, hasGap, err := r.detectGap(ctx)
	if err != nil {
		return false, err
	}
	if hasGap {
		if err := r.searchRange(newestClient+1, oldestServer-1); err != nil {
			return false, err
		}
	}

	r.ctx.SetPhase(enum.PhaseComplete)
	return true, nil
}

func (r *RetrieveMessageList) localCount(ctx context.Context) (int, error) {
	ids, err := r.ctx.Store.QueryMessages(ctx, interfaces.And(
		interfaces.KeyByAccount(r.ctx.AccountID),
		interfaces.KeyByFolder(r.folder),
	), interfaces.SortByServerUID)
	if err != nil {
		return 0, errors.Wrap(err, "count local messages")
	}
	return len(ids), nil
}

func (r *RetrieveMessageList) searchRange(from, to uint32) error {
	criteria := imap.NewSearchCriteria()
	if to > 0 {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(from, to)
	} else {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(from, 0)
	}
	uids, err := r.ctx.Conn.UIDSearch(criteria)
	if err != nil {
		return errors.Wrap(err, "uid search range")
	}
	for _, uid := range uids {
		r.selection.Add(r.folder, models.NewServerUID(uid), models.SectionProperties{})
	}
	return nil
}

func (r *RetrieveMessageList) detectGap(ctx context.Context) (oldestServer, newestClient uint32, hasGap bool, err error) {
	rows, err := r.ctx.Store.MessagesMetaData(ctx, interfaces.And(
		interfaces.KeyByAccount(r.ctx.AccountID),
		interfaces.KeyByFolder(r.folder),
	), interfaces.AllRows)
	if err != nil {
		return 0, 0, false, errors.Wrap(err, "load local metadata")
	}
	for _, m := range rows {
		if uid, ok := m.ServerUID.UID(); ok && uid > newestClient {
			newestClient = uid
		}
	}

	props := r.ctx.Conn.Properties()
	if props.UidNext <= 1 {
		return 0, newestClient, false, nil
	}
	oldestServer = props.UidNext
	for _, f := range r.selection.Folders() {
		for _, uid := range r.selection.UIDsAscending(f) {
			if n, ok := uid.UID(); ok && n < oldestServer {
				oldestServer = n
			}
		}
	}
	return oldestServer, newestClient, newestClient+1 < oldestServer, nil
}

var _ MessageListStrategy = (*RetrieveMessageList)(nil)
