package imapstrategy

import (
	"context"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// UpdateMessagesFlags implements spec.md §4.3.8: given message ids
// spanning multiple folders, partition by folder, SELECT each, UID SEARCH
// SEEN/UNSEEN restricted to the given UIDs, and reconcile with the same
// rules as SynchronizeBase.
type UpdateMessagesFlags struct {
	noopHooks

	ctx *Context
	ids []models.MessageId

	folders []*models.Folder
}

func NewUpdateMessagesFlags(c *Context, ids []models.MessageId) *UpdateMessagesFlags {
	return &UpdateMessagesFlags{ctx: c, ids: ids}
}

func (u *UpdateMessagesFlags) NewConnection(ctx context.Context) error {
	u.ctx.SetPhase(enum.PhaseInit)
	return nil
}

func (u *UpdateMessagesFlags) Selection() *Selection    { return NewSelection() }
func (u *UpdateMessagesFlags) Folders() []*models.Folder { return u.folders }

func (u *UpdateMessagesFlags) Reconcile(ctx context.Context, folder *models.Folder, reported ReportedUIDs) (ReconcileResult, error) {
	return Reconcile(ctx, u.ctx.Store, u.ctx.AccountID, folder, reported)
}

func (u *UpdateMessagesFlags) Transition(ctx context.Context, sink interfaces.StatusSink, action interfaces.ActionId) (bool, error) {
	keys := make([]interfaces.MessageKey, 0, len(u.ids))
	for _, id := range u.ids {
		keys = append(keys, interfaces.KeyByMessage(id))
	}
	msgs, err := u.ctx.Store.MessagesMetaData(ctx, interfaces.Or(keys...), interfaces.AllRows)
	if err != nil {
		return false, errors.Wrap(err, "load messages")
	}

	byFolder := make(map[models.FolderId][]*models.MessageMetadata)
	for _, m := range msgs {
		byFolder[m.FolderID] = append(byFolder[m.FolderID], m)
	}

	folders, err := u.ctx.Store.Folders(ctx, u.ctx.AccountID)
	if err != nil {
		return false, errors.Wrap(err, "load folders")
	}
	folderByID := make(map[models.FolderId]*models.Folder, len(folders))
	for _, f := range folders {
		folderByID[f.ID] = f
	}

	u.ctx.SetProgressTotal(len(byFolder))
	progressed := 0
	for folderID, folderMsgs := range byFolder {
		folder, ok := folderByID[folderID]
		if !ok {
			continue
		}
		if err := u.reconcileFolder(ctx, folder, folderMsgs); err != nil {
			return false, errors.Wrapf(err, "reconcile folder %s", folder.Path)
		}
		u.folders = append(u.folders, folder)
		progressed++
		if sink != nil {
			sink.ProgressChanged(action, progressed, len(byFolder))
		}
	}

	u.ctx.SetPhase(enum.PhaseComplete)
	return true, nil
}

func (u *UpdateMessagesFlags) reconcileFolder(ctx context.Context, folder *models.Folder, msgs []*models.MessageMetadata) error {
	if u.ctx.Conn.SelectedMailbox() != folder.Path {
		if _, err := u.ctx.Conn.Select(folder.Path); err != nil {
			return err
		}
	}

	filter := new(imap.SeqSet)
	for _, m := range msgs {
		if uid, ok := m.ServerUID.UID(); ok {
			filter.AddNum(uid)
		}
	}

	seenCriteria := imap.NewSearchCriteria()
	seenCriteria.WithFlags = []string{imap.SeenFlag}
	seenCriteria.Uid = filter
	seen, err := u.ctx.Conn.UIDSearch(seenCriteria)
	if err != nil {
		return errors.Wrap(err, "uid search seen")
	}

	unseenCriteria := imap.NewSearchCriteria()
	unseenCriteria.WithoutFlags = []string{imap.SeenFlag}
	unseenCriteria.Uid = filter
	unseen, err := u.ctx.Conn.UIDSearch(unseenCriteria)
	if err != nil {
		return errors.Wrap(err, "uid search unseen")
	}

	reported := ReportedUIDs{Seen: toSet(seen), Unseen: toSet(unseen), Exists: uint32(len(msgs))}
	result, err := Reconcile(ctx, u.ctx.Store, u.ctx.AccountID, folder, reported)
	if err != nil {
		return err
	}
	return ApplyReconcile(ctx, u.ctx.Store, u.ctx.AccountID, folder, result)
}

var _ SynchronizeBaseStrategy = (*UpdateMessagesFlags)(nil)
