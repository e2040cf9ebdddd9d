package imapstrategy

import (
	"context"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// SynchronizeOptions controls which halves of spec.md §4.3.4 run.
type SynchronizeOptions struct {
	ExportChanges bool
	RetrieveMail  bool
}

// SynchronizeAll extends the synchronize-base reconciliation with the
// export (local → server) and retrieve (server → local) halves of
// spec.md §4.3.4. Export always runs before retrieval so the server's view
// is canonical when preview runs.
type SynchronizeAll struct {
	noopHooks

	ctx     *Context
	options SynchronizeOptions

	selection *Selection
	folders   []*models.Folder
}

func NewSynchronizeAll(c *Context, opts SynchronizeOptions) *SynchronizeAll {
	return &SynchronizeAll{ctx: c, options: opts, selection: NewSelection()}
}

func (s *SynchronizeAll) NewConnection(ctx context.Context) error {
	s.ctx.SetPhase(enum.PhaseInit)
	return nil
}

func (s *SynchronizeAll) Selection() *Selection    { return s.selection }
func (s *SynchronizeAll) Folders() []*models.Folder { return s.folders }

// Transition runs the full synchronize cycle of every
// SynchronizationEnabled folder in one call and reports done once all of
// them have been processed.
func (s *SynchronizeAll) Transition(ctx context.Context, sink interfaces.StatusSink, action interfaces.ActionId) (bool, error) {
	folders, err := s.ctx.Store.Folders(ctx, s.ctx.AccountID)
	if err != nil {
		return false, errors.Wrap(err, "load folders")
	}
	s.folders = folders

	enabled := make([]*models.Folder, 0, len(folders))
	for _, f := range folders {
		if f.HasStatus(models.SynchronizationEnabled) {
			enabled = append(enabled, f)
		}
	}
	s.ctx.SetProgressTotal(len(enabled))

	for i, folder := range enabled {
		if err := s.syncFolder(ctx, folder, sink, action); err != nil {
			return false, errors.Wrapf(err, "sync folder %s", folder.Path)
		}
		s.ctx.AddProgress(1)
		if sink != nil {
			done, total := s.ctx.Progress()
			sink.ProgressChanged(action, done, total)
		}
		_ = i
	}

	s.ctx.SetPhase(enum.PhaseComplete)
	return true, nil
}

func (s *SynchronizeAll) syncFolder(ctx context.Context, folder *models.Folder, sink interfaces.StatusSink, action interfaces.ActionId) error {
	if s.ctx.Conn.SelectedMailbox() != folder.Path {
		if _, err := s.ctx.Conn.Select(folder.Path); err != nil {
			return err
		}
	}

	reported, err := SearchReported(s.ctx)
	if err != nil {
		return err
	}

	result, err := Reconcile(ctx, s.ctx.Store, s.ctx.AccountID, folder, reported)
	if err != nil {
		return err
	}

	if s.options.ExportChanges && !result.Inconclusive {
		if err := s.exportChanges(ctx, folder, reported); err != nil {
			return err
		}
	}

	if err := ApplyReconcile(ctx, s.ctx.Store, s.ctx.AccountID, folder, result); err != nil {
		return err
	}

	if s.options.RetrieveMail {
		for _, uid := range result.Additions {
			s.selection.Add(folder.ID, models.NewServerUID(uid), models.SectionProperties{})
		}
	}

	return nil
}

// exportChanges implements spec.md §4.3.4's export half: locally-read
// messages whose server UID is still UNSEEN get UID STORE +FLAGS Seen;
// Trash-bound messages present on the server get UID STORE +FLAGS Deleted,
// and once every deletion candidate is flagged, EXPUNGE.
func (s *SynchronizeAll) exportChanges(ctx context.Context, folder *models.Folder, reported ReportedUIDs) error {
	readLocally, err := s.ctx.Store.MessagesMetaData(ctx, interfaces.And(
		interfaces.KeyByAccount(s.ctx.AccountID),
		interfaces.KeyByFolder(folder.ID),
		interfaces.KeyWithStatus(enum.Read),
	), interfaces.AllRows)
	if err != nil {
		return errors.Wrap(err, "load locally-read messages")
	}
	for _, m := range readLocally {
		uid, ok := m.ServerUID.UID()
		if !ok || !reported.Unseen[uid] {
			continue
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)
		if err := s.ctx.Conn.UIDStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []any{imap.SeenFlag}); err != nil {
			return errors.Wrap(err, "store seen flag")
		}
	}

	deleteCandidates, err := s.ctx.Store.MessagesMetaData(ctx, interfaces.And(
		interfaces.KeyByAccount(s.ctx.AccountID),
		interfaces.KeyByFolder(folder.ID),
		interfaces.KeyWithStatus(enum.Trash),
	), interfaces.AllRows)
	if err != nil {
		return errors.Wrap(err, "load delete candidates")
	}

	flaggedAny := false
	allFlagged := len(deleteCandidates) > 0
	for _, m := range deleteCandidates {
		uid, ok := m.ServerUID.UID()
		if !ok {
			allFlagged = false
			continue
		}
		if !reported.Seen[uid] && !reported.Unseen[uid] {
			allFlagged = false
			continue
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)
		if err := s.ctx.Conn.UIDStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []any{imap.DeletedFlag}); err != nil {
			return errors.Wrap(err, "store deleted flag")
		}
		flaggedAny = true
	}

	if flaggedAny && allFlagged {
		if err := s.ctx.Conn.Expunge(); err != nil {
			return errors.Wrap(err, "expunge")
		}
	}

	return nil
}
