package imapstrategy

import (
	"context"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// CopyMessages implements spec.md §4.3.7's copy sequence: SELECT the source
// folder (unless it is already selected), UID COPY the source set to the
// destination, then SELECT the destination and (since UIDPLUS cannot be
// relied on) UID SEARCH RECENT there to recover the new UIDs and copy local
// status bits onto the new records. The destination is not selected before
// the copy, so its UIDNEXT is not captured.
type CopyMessages struct {
	noopHooks

	ctx    *Context
	source models.FolderId
	dest   models.FolderId
	destPath string
	ids    []models.MessageId
}

func NewCopyMessages(c *Context, source, dest models.FolderId, destPath string, ids []models.MessageId) *CopyMessages {
	return &CopyMessages{ctx: c, source: source, dest: dest, destPath: destPath, ids: ids}
}

func (c *CopyMessages) NewConnection(ctx context.Context) error {
	c.ctx.SetPhase(enum.PhaseInit)
	return nil
}

func (c *CopyMessages) Selection() *Selection { return NewSelection() }

func (c *CopyMessages) Transition(ctx context.Context, sink interfaces.StatusSink, action interfaces.ActionId) (bool, error) {
	sourceMsgs, err := c.loadMessages(ctx)
	if err != nil {
		return false, err
	}
	if len(sourceMsgs) == 0 {
		return true, nil
	}

	if c.ctx.Conn.SelectedMailbox() != string(c.source) {
		if _, err := c.ctx.Conn.Select(string(c.source)); err != nil {
			return false, errors.Wrapf(err, "select source %s", c.source)
		}
	}

	seqset := new(imap.SeqSet)
	for _, m := range sourceMsgs {
		if uid, ok := m.ServerUID.UID(); ok {
			seqset.AddNum(uid)
		}
	}

	if err := c.ctx.Conn.UIDCopy(seqset, c.destPath); err != nil {
		return false, errors.Wrap(err, "uid copy")
	}

	if _, err := c.ctx.Conn.Select(c.destPath); err != nil {
		return false, errors.Wrapf(err, "select dest %s", c.destPath)
	}

	recentCriteria := imap.NewSearchCriteria()
	recentCriteria.WithFlags = []string{imap.RecentFlag}
	newUIDs, err := c.ctx.Conn.UIDSearch(recentCriteria)
	if err != nil {
		return false, errors.Wrap(err, "uid search recent")
	}

	if err := c.copyMetadata(ctx, sourceMsgs, newUIDs); err != nil {
		return false, err
	}

	c.ctx.SetPhase(enum.PhaseComplete)
	return true, nil
}

func (c *CopyMessages) loadMessages(ctx context.Context) ([]*models.MessageMetadata, error) {
	keys := make([]interfaces.MessageKey, 0, len(c.ids))
	for _, id := range c.ids {
		keys = append(keys, interfaces.KeyByMessage(id))
	}
	return c.ctx.Store.MessagesMetaData(ctx, interfaces.Or(keys...), interfaces.AllRows)
}

// copyMetadata fetches the newly-copied UIDs and stamps each new record
// with the source message's local status bits (spec.md §4.3.7), pairing by
// index order (best effort when the counts disagree).
func (c *CopyMessages) copyMetadata(ctx context.Context, sourceMsgs []*models.MessageMetadata, newUIDs []uint32) error {
	seqset := new(imap.SeqSet)
	for _, uid := range newUIDs {
		seqset.AddNum(uid)
	}
	if seqset.Empty() {
		return nil
	}

	i := 0
	return c.ctx.Conn.UIDFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchRFC822Size}, func(msg *imap.Message) {
		if i >= len(sourceMsgs) {
			return
		}
		src := sourceMsgs[i]
		i++
		newMeta := &models.MessageMetadata{
			ID:        models.MessageId(newMessageID(c.ctx.AccountID, c.dest, msg.Uid)),
			Tenant:    src.Tenant,
			AccountID: c.ctx.AccountID,
			FolderID:  c.dest,
			ServerUID: models.NewServerUID(msg.Uid),
			Size:      msg.Size,
			Status:    src.Status,
		}
		_ = c.ctx.Store.AddMessage(ctx, newMeta)
	})
}

func newMessageID(account models.AccountId, folder models.FolderId, uid uint32) string {
	return string(account) + ":" + string(folder) + ":" + string(models.NewServerUID(uid))
}

var _ MessageListStrategy = (*CopyMessages)(nil)

// MoveMessages extends CopyMessages: after the copy completes, flag the
// source UIDs \Deleted, CLOSE (expunging) and EXAMINE to refresh counts,
// then delete the local source records with NoRemovalRecord (spec.md
// §4.3.7). Part-body transfer (structural zip) is left to the caller's
// store implementation since it operates on content this layer doesn't
// hold.
type MoveMessages struct {
	CopyMessages
}

func NewMoveMessages(c *Context, source, dest models.FolderId, destPath string, ids []models.MessageId) *MoveMessages {
	return &MoveMessages{CopyMessages: *NewCopyMessages(c, source, dest, destPath, ids)}
}

func (m *MoveMessages) Transition(ctx context.Context, sink interfaces.StatusSink, action interfaces.ActionId) (bool, error) {
	done, err := m.CopyMessages.Transition(ctx, sink, action)
	if err != nil || !done {
		return done, err
	}

	sourceMsgs, err := m.loadMessages(ctx)
	if err != nil {
		return false, err
	}

	if _, err := m.ctx.Conn.Select(string(m.source)); err != nil {
		return false, errors.Wrapf(err, "select source %s", m.source)
	}

	seqset := new(imap.SeqSet)
	for _, msg := range sourceMsgs {
		if uid, ok := msg.ServerUID.UID(); ok {
			seqset.AddNum(uid)
		}
	}
	if err := m.ctx.Conn.UIDStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []any{imap.DeletedFlag}); err != nil {
		return false, errors.Wrap(err, "flag source deleted")
	}
	if err := m.ctx.Conn.CloseMailbox(); err != nil {
		return false, errors.Wrap(err, "close source")
	}
	if _, err := m.ctx.Conn.Examine(string(m.source)); err != nil {
		return false, errors.Wrap(err, "examine source")
	}

	moved := make([]interfaces.MessageKey, 0, len(sourceMsgs))
	for _, msg := range sourceMsgs {
		moved = append(moved, interfaces.KeyByMessage(msg.ID))
	}
	if err := m.ctx.Store.RemoveMessages(ctx, interfaces.Or(moved...), interfaces.NoRemovalRecord); err != nil {
		return false, errors.Wrap(err, "remove local source messages")
	}

	return true, nil
}

var _ MessageListStrategy = (*MoveMessages)(nil)

// DeleteMessages implements spec.md §4.3.7's delete sequence: UID STORE
// +FLAGS Deleted, CLOSE (expunges), EXAMINE, optionally purge local
// records with NoRemovalRecord.
type DeleteMessages struct {
	noopHooks

	ctx    *Context
	folder models.FolderId
	ids    []models.MessageId
	purgeLocal bool
}

func NewDeleteMessages(c *Context, folder models.FolderId, ids []models.MessageId, purgeLocal bool) *DeleteMessages {
	return &DeleteMessages{ctx: c, folder: folder, ids: ids, purgeLocal: purgeLocal}
}

func (d *DeleteMessages) NewConnection(ctx context.Context) error {
	d.ctx.SetPhase(enum.PhaseInit)
	return nil
}

func (d *DeleteMessages) Selection() *Selection { return NewSelection() }

func (d *DeleteMessages) Transition(ctx context.Context, sink interfaces.StatusSink, action interfaces.ActionId) (bool, error) {
	keys := make([]interfaces.MessageKey, 0, len(d.ids))
	for _, id := range d.ids {
		keys = append(keys, interfaces.KeyByMessage(id))
	}
	msgs, err := d.ctx.Store.MessagesMetaData(ctx, interfaces.Or(keys...), interfaces.AllRows)
	if err != nil {
		return false, errors.Wrap(err, "load messages to delete")
	}
	if len(msgs) == 0 {
		return true, nil
	}

	if d.ctx.Conn.SelectedMailbox() != string(d.folder) {
		if _, err := d.ctx.Conn.Select(string(d.folder)); err != nil {
			return false, errors.Wrapf(err, "select %s", d.folder)
		}
	}

	seqset := new(imap.SeqSet)
	for _, m := range msgs {
		if uid, ok := m.ServerUID.UID(); ok {
			seqset.AddNum(uid)
		}
	}
	if err := d.ctx.Conn.UIDStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []any{imap.DeletedFlag}); err != nil {
		return false, errors.Wrap(err, "flag deleted")
	}
	if err := d.ctx.Conn.CloseMailbox(); err != nil {
		return false, errors.Wrap(err, "close")
	}
	if _, err := d.ctx.Conn.Examine(string(d.folder)); err != nil {
		return false, errors.Wrap(err, "examine")
	}

	if d.purgeLocal {
		if err := d.ctx.Store.RemoveMessages(ctx, interfaces.Or(keys...), interfaces.NoRemovalRecord); err != nil {
			return false, errors.Wrap(err, "purge local")
		}
	}

	d.ctx.SetPhase(enum.PhaseComplete)
	return true, nil
}

var _ MessageListStrategy = (*DeleteMessages)(nil)
