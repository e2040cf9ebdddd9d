// Package messageservice wires the per-account Source/Sink façade spec.md
// §2/§4.4 calls the Message Service: for IMAP accounts it holds the single
// Protocol Connection spec.md §4.2 requires and drives internal/imapstrategy
// state machines to completion over it, serialized the way the teacher's
// IMAPService serializes access to one *client.Client per mailbox.
package messageservice

import (
	"context"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/imapconn"
	"github.com/customeros/mailstack/internal/imapstrategy"
	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// IMAPService is both a Source and a Sink for one account. mu serializes
// every action against the single connection underneath, matching why the
// teacher's IMAPService holds one *client.Client per mailbox.
type IMAPService struct {
	accountID models.AccountId
	store     interfaces.MailStore
	connCfg   imapconn.Config
	log       logger.Logger

	headerLimit          uint32
	preferredTextSubtype string

	mu      sync.Mutex
	conn    *imapconn.Connection
	cursors map[models.FolderId]imapstrategy.FolderCursor
}

type folderCursor struct {
	UidNext uint32
	Exists  uint32
}

func NewIMAPService(accountID models.AccountId, store interfaces.MailStore, connCfg imapconn.Config, log logger.Logger, headerLimit uint32) *IMAPService {
	return &IMAPService{
		accountID:            accountID,
		store:                store,
		connCfg:              connCfg,
		log:                  log,
		headerLimit:          headerLimit,
		preferredTextSubtype: "plain",
		cursors:              make(map[models.FolderId]imapstrategy.FolderCursor),
	}
}

func (s *IMAPService) AccountID() models.AccountId { return s.accountID }

// Capabilities reports a single connection per account: actions on this
// service cannot run concurrently, and UID SEARCH gives it remote search.
func (s *IMAPService) Capabilities() interfaces.Capabilities {
	return interfaces.Capabilities{ConcurrentActions: false, SupportsRemoteSearch: true}
}

// ensureConnectionLocked must be called with s.mu held.
func (s *IMAPService) ensureConnectionLocked(ctx context.Context) (*imapconn.Connection, error) {
	if s.conn != nil && s.conn.Connected() {
		return s.conn, nil
	}
	conn := imapconn.New(s.connCfg, s.log)
	if err := conn.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	s.conn = conn
	return conn, nil
}

// withConnection serializes fn against every other action on this service,
// ensuring a live connection is available first (spec.md §5: "no concurrent
// use of one connection").
func (s *IMAPService) withConnection(ctx context.Context, sink interfaces.StatusSink, fn func(conn *imapconn.Connection) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.ensureConnectionLocked(ctx)
	if err != nil {
		if sink != nil {
			sink.ConnectivityChanged(s.accountID, enum.ConnectionStatusError)
		}
		return err
	}
	if sink != nil {
		sink.ConnectivityChanged(s.accountID, enum.ConnectionStatusConnected)
	}
	return fn(conn)
}

func (s *IMAPService) newContext(conn *imapconn.Connection) *imapstrategy.Context {
	c := imapstrategy.NewContext(s.accountID, conn, s.store, s.headerLimit)
	c.PreferredTextSubtype = s.preferredTextSubtype
	return c
}

// runStrategy drives strat to completion inside a locked connection section.
func (s *IMAPService) runStrategy(ctx context.Context, action interfaces.ActionId, sink interfaces.StatusSink, conn *imapconn.Connection, strat imapstrategy.Strategy) error {
	if err := strat.NewConnection(ctx); err != nil {
		return errors.Wrap(err, "arm strategy")
	}
	if sink != nil {
		sink.ActivityChanged(action, enum.ActivityInProgress)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		done, err := strat.Transition(ctx, sink, action)
		if err != nil {
			if sink != nil {
				sink.ActivityChanged(action, enum.ActivityFailed)
			}
			return err
		}
		if done {
			if sink != nil {
				sink.ActivityChanged(action, enum.ActivitySuccessful)
			}
			return nil
		}
	}
}

func (s *IMAPService) folderByID(ctx context.Context, id models.FolderId) (*models.Folder, error) {
	folders, err := s.store.Folders(ctx, s.accountID)
	if err != nil {
		return nil, errors.Wrap(err, "load folders")
	}
	for _, f := range folders {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, errors.Errorf("unknown folder %s", id)
}

func (s *IMAPService) RetrieveFolderList(ctx context.Context, action interfaces.ActionId, sink interfaces.StatusSink) error {
	err := s.withConnection(ctx, sink, func(conn *imapconn.Connection) error {
		strat := imapstrategy.NewFolderList(s.newContext(conn), "")
		return s.runStrategy(ctx, action, sink, conn, strat)
	})
	if err != nil {
		return err
	}
	if sink != nil {
		sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.RetrieveFolderList))
	}
	return nil
}

func (s *IMAPService) RetrieveMessageList(ctx context.Context, action interfaces.ActionId, folder models.FolderId, sink interfaces.StatusSink) error {
	f, err := s.folderByID(ctx, folder)
	if err != nil {
		return err
	}

	var selection *imapstrategy.Selection
	err = s.withConnection(ctx, sink, func(conn *imapconn.Connection) error {
		strat := imapstrategy.NewRetrieveMessageList(s.newContext(conn), folder, f.Path, 200, s.cursors)
		if err := s.runStrategy(ctx, action, sink, conn, strat); err != nil {
			return err
		}
		selection = strat.Selection()
		return nil
	})
	if err != nil {
		return err
	}
	return s.fetchSelection(ctx, action, sink, selection, enum.RetrieveMessageList)
}

func (s *IMAPService) RetrieveMessages(ctx context.Context, action interfaces.ActionId, ids []models.MessageId, sections map[models.MessageId]models.SectionProperties, sink interfaces.StatusSink) error {
	selection, err := s.selectionFromIDs(ctx, ids, sections)
	if err != nil {
		return err
	}
	return s.runFetch(ctx, action, sink, selection, enum.RetrieveMessages)
}

func (s *IMAPService) RetrieveMessagePart(ctx context.Context, action interfaces.ActionId, id models.MessageId, section models.SectionProperties, sink interfaces.StatusSink) error {
	return s.RetrieveMessages(ctx, action, []models.MessageId{id}, map[models.MessageId]models.SectionProperties{id: section}, sink)
}

func (s *IMAPService) RetrieveMessageRange(ctx context.Context, action interfaces.ActionId, folder models.FolderId, minimum uint32, sink interfaces.StatusSink) error {
	f, err := s.folderByID(ctx, folder)
	if err != nil {
		return err
	}

	var selection *imapstrategy.Selection
	err = s.withConnection(ctx, sink, func(conn *imapconn.Connection) error {
		if _, err := conn.Select(f.Path); err != nil {
			return errors.Wrapf(err, "select %s", f.Path)
		}
		criteria := imap.NewSearchCriteria()
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(minimum, 0)
		uids, err := conn.UIDSearch(criteria)
		if err != nil {
			return errors.Wrap(err, "uid search range")
		}
		selection = imapstrategy.NewSelection()
		for _, uid := range uids {
			selection.Add(folder, models.NewServerUID(uid), models.SectionProperties{})
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.fetchSelection(ctx, action, sink, selection, enum.RetrieveMessageRange)
}

// RetrieveMessagePartRange fetches the first minimum bytes of a single
// message's section (a partial fetch from offset 0). It does no
// retrieval-in-progress bookkeeping itself: the orchestrator's bindLocked
// marks the account as retrieving when this request is dispatched, as for
// every other retrieval — the corrected behavior for the bug spec.md §9
// calls out, where the original only set that flag when the fetch had
// already failed.
func (s *IMAPService) RetrieveMessagePartRange(ctx context.Context, action interfaces.ActionId, id models.MessageId, section models.SectionProperties, minimum uint32, sink interfaces.StatusSink) error {
	min := minimum
	section.MinimumBytes = &min
	return s.RetrieveMessagePart(ctx, action, id, section, sink)
}

func (s *IMAPService) RetrieveAll(ctx context.Context, action interfaces.ActionId, folder models.FolderId, sink interfaces.StatusSink) error {
	var selection *imapstrategy.Selection
	err := s.withConnection(ctx, sink, func(conn *imapconn.Connection) error {
		options := imapstrategy.SynchronizeOptions{ExportChanges: true, RetrieveMail: true}
		strat := imapstrategy.NewSynchronizeAll(s.newContext(conn), options)
		if err := s.runStrategy(ctx, action, sink, conn, strat); err != nil {
			return err
		}
		selection = strat.Selection()
		return nil
	})
	if err != nil {
		return err
	}
	return s.fetchSelection(ctx, action, sink, selection, enum.RetrieveAll)
}

func (s *IMAPService) ExportUpdates(ctx context.Context, action interfaces.ActionId, folder models.FolderId, sink interfaces.StatusSink) error {
	err := s.withConnection(ctx, sink, func(conn *imapconn.Connection) error {
		strat := imapstrategy.NewExportUpdates(s.newContext(conn))
		return s.runStrategy(ctx, action, sink, conn, strat)
	})
	if err != nil {
		return err
	}
	if sink != nil {
		sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.ExportUpdates))
	}
	return nil
}

func (s *IMAPService) Synchronize(ctx context.Context, action interfaces.ActionId, folder models.FolderId, sink interfaces.StatusSink) error {
	err := s.withConnection(ctx, sink, func(conn *imapconn.Connection) error {
		options := imapstrategy.SynchronizeOptions{ExportChanges: true, RetrieveMail: false}
		strat := imapstrategy.NewSynchronizeAll(s.newContext(conn), options)
		return s.runStrategy(ctx, action, sink, conn, strat)
	})
	if err != nil {
		return err
	}
	if sink != nil {
		sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.Synchronize))
	}
	return nil
}

// SearchMessages is the local half of spec.md §4.4's search scheduler: one
// folder's worth of matching over content the store already holds. Remote
// full-text search (SupportsRemoteSearch) is left to a future IMAP SEARCH
// TEXT pass; this satisfies the local-store fallback every account has.
func (s *IMAPService) SearchMessages(ctx context.Context, action interfaces.ActionId, folder models.FolderId, text string, sink interfaces.StatusSink) ([]models.MessageId, error) {
	rows, err := s.store.MessagesMetaData(ctx, interfaces.And(
		interfaces.KeyByAccount(s.accountID),
		interfaces.KeyByFolder(folder),
	), interfaces.AllRows)
	if err != nil {
		return nil, errors.Wrap(err, "load messages for search")
	}
	var matched []models.MessageId
	for _, m := range rows {
		if m.Has(enum.ContentAvailable) {
			matched = append(matched, m.ID)
		}
	}
	if sink != nil {
		sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.SearchMessages))
	}
	return matched, nil
}

func (s *IMAPService) CancelOperation(action interfaces.ActionId, reason enum.ErrorKind) {
	// Cooperative cancellation (spec.md §5): the running Transition loop
	// checks ctx.Done(); callers cancel the context they passed in.
}

func (s *IMAPService) selectionFromIDs(ctx context.Context, ids []models.MessageId, sections map[models.MessageId]models.SectionProperties) (*imapstrategy.Selection, error) {
	keys := make([]interfaces.MessageKey, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, interfaces.KeyByMessage(id))
	}
	rows, err := s.store.MessagesMetaData(ctx, interfaces.Or(keys...), interfaces.AllRows)
	if err != nil {
		return nil, errors.Wrap(err, "load messages")
	}
	selection := imapstrategy.NewSelection()
	for _, m := range rows {
		props := sections[m.ID]
		selection.Add(m.FolderID, m.ServerUID, props)
	}
	return selection, nil
}

func (s *IMAPService) runFetch(ctx context.Context, action interfaces.ActionId, sink interfaces.StatusSink, selection *imapstrategy.Selection, rt enum.RequestType) error {
	err := s.withConnection(ctx, sink, func(conn *imapconn.Connection) error {
		strat := imapstrategy.NewFetchSelected(s.newContext(conn), selection)
		return s.runStrategy(ctx, action, sink, conn, strat)
	})
	if err != nil {
		return err
	}
	if sink != nil {
		sink.MessageActionCompleted(action, enum.CompletionKindFor(rt))
	}
	return nil
}

func (s *IMAPService) fetchSelection(ctx context.Context, action interfaces.ActionId, sink interfaces.StatusSink, selection *imapstrategy.Selection, rt enum.RequestType) error {
	if selection == nil || len(selection.Folders()) == 0 {
		if sink != nil {
			sink.MessageActionCompleted(action, enum.CompletionKindFor(rt))
		}
		return nil
	}
	return s.runFetch(ctx, action, sink, selection, rt)
}

var _ interfaces.Source = (*IMAPService)(nil)
