// Package gormstore is the Postgres-backed interfaces.MailStore (spec.md
// §4.1), grounded on internal/repository/mailbox_sync_repository.go's
// WithContext/span/wrap idiom from the teacher repo.
package gormstore

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/internal/tracing"
	"github.com/customeros/mailstack/interfaces"
)

// removalRecord is a tombstone left by removeMessages with
// KeepRemovalRecord, so a later sync pass can tell a server-side
// disappearance from a message this process itself deleted.
type removalRecord struct {
	AccountID models.AccountId `gorm:"column:account_id;type:varchar(64);primaryKey"`
	ServerUID models.ServerUID `gorm:"column:server_uid;type:varchar(128);primaryKey"`
}

func (removalRecord) TableName() string { return "message_removal_records" }

// inProgress rows back SetRetrievalInProgress/SetTransmissionInProgress: one
// row per account while a dispatch is outstanding (spec.md §6, dispatch*).
type inProgress struct {
	AccountID models.AccountId `gorm:"column:account_id;type:varchar(64);primaryKey"`
	Kind      string           `gorm:"column:kind;type:varchar(16);primaryKey"`
}

func (inProgress) TableName() string { return "account_in_progress" }

const (
	kindRetrieval    = "retrieval"
	kindTransmission = "transmission"
)

type Store struct {
	db *gorm.DB

	mu          sync.Mutex
	subscribers []func(context.Context, interfaces.AccountsChanged)
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates/updates the tables this store owns. Called once at
// startup, the way the teacher wires schema migration into service init.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Account{}, &models.Folder{}, &models.MessageMetadata{}, &removalRecord{}, &inProgress{})
}

func (s *Store) QueryMessages(ctx context.Context, key interfaces.MessageKey, sort interfaces.SortKey) ([]models.MessageId, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.QueryMessages")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	rows, err := s.metaData(ctx, key, interfaces.AllRows)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	ids := make([]models.MessageId, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.ID)
	}
	if sort == interfaces.SortByServerUID {
		sortByServerUID(rows, ids)
	}
	return ids, nil
}

func (s *Store) MessagesMetaData(ctx context.Context, key interfaces.MessageKey, distinct interfaces.Distinctness) ([]*models.MessageMetadata, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.MessagesMetaData")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	rows, err := s.metaData(ctx, key, distinct)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return rows, nil
}

// metaData narrows the query with whatever top-level conjunctive
// conditions it can push into SQL (account/folder, the common case), then
// applies the full predicate in Go via MessageKey.Matches. The composite
// AND/OR/NOT algebra spec.md §4.1 requires has no natural flat SQL
// translation, so this hybrid filter-then-scan mirrors how the teacher's
// repositories narrow by indexed columns before any in-memory pass.
func (s *Store) metaData(ctx context.Context, key interfaces.MessageKey, distinct interfaces.Distinctness) ([]*models.MessageMetadata, error) {
	tx := s.db.WithContext(ctx).Model(&models.MessageMetadata{})
	if distinct == interfaces.DistinctRows {
		tx = tx.Distinct()
	}
	if accountID, ok := soleAccountFilter(key); ok {
		tx = tx.Where("account_id = ?", accountID)
	}
	if folderID, ok := soleFolderFilter(key); ok {
		tx = tx.Where("folder_id = ?", folderID)
	}

	var all []*models.MessageMetadata
	if err := tx.Find(&all).Error; err != nil {
		return nil, errors.Wrap(err, "query message metadata")
	}

	out := make([]*models.MessageMetadata, 0, len(all))
	for _, m := range all {
		if key.Matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// soleAccountFilter/soleFolderFilter recognize the common top-level shape
// (a conjunction naming exactly one account/folder) so the hot path of
// "list this folder's messages" doesn't scan the whole table.
func soleAccountFilter(key interfaces.MessageKey) (models.AccountId, bool) {
	if key.AccountID != nil {
		return *key.AccountID, true
	}
	if key.Op == interfaces.KeyAnd {
		for _, c := range key.Children {
			if id, ok := soleAccountFilter(c); ok {
				return id, true
			}
		}
	}
	return "", false
}

func soleFolderFilter(key interfaces.MessageKey) (models.FolderId, bool) {
	if key.FolderID != nil {
		return *key.FolderID, true
	}
	if key.Op == interfaces.KeyAnd {
		for _, c := range key.Children {
			if id, ok := soleFolderFilter(c); ok {
				return id, true
			}
		}
	}
	return "", false
}

func sortByServerUID(rows []*models.MessageMetadata, ids []models.MessageId) {
	byID := make(map[models.MessageId]*models.MessageMetadata, len(rows))
	for _, m := range rows {
		byID[m.ID] = m
	}
	less := func(a, b *models.MessageMetadata) bool {
		au, aok := a.ServerUID.UID()
		bu, bok := b.ServerUID.UID()
		if aok && bok {
			return au < bu
		}
		return a.ServerUID < b.ServerUID
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0; j-- {
			a, b := byID[ids[j-1]], byID[ids[j]]
			if a == nil || b == nil || !less(b, a) {
				break
			}
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func (s *Store) AddMessage(ctx context.Context, m *models.MessageMetadata) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.AddMessage")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "add message")
	}
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, m *models.MessageMetadata) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.UpdateMessage")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := s.db.WithContext(ctx).Model(&models.MessageMetadata{}).Where("id = ?", m.ID).Updates(m).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "update message")
	}
	return nil
}

// RemoveMessages deletes every row matching key. With KeepRemovalRecord, a
// removalRecord tombstone is written per deleted row first so a later sync
// can distinguish a local purge from a server-side disappearance (spec.md
// §4.1).
func (s *Store) RemoveMessages(ctx context.Context, key interfaces.MessageKey, policy interfaces.RemovalRecordPolicy) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.RemoveMessages")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	rows, err := s.metaData(ctx, key, interfaces.AllRows)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if policy == interfaces.KeepRemovalRecord {
			for _, m := range rows {
				rec := removalRecord{AccountID: m.AccountID, ServerUID: m.ServerUID}
				if err := tx.Create(&rec).Error; err != nil {
					return errors.Wrap(err, "write removal record")
				}
			}
		}
		ids := make([]models.MessageId, 0, len(rows))
		for _, m := range rows {
			ids = append(ids, m.ID)
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.MessageMetadata{}).Error; err != nil {
			return errors.Wrap(err, "delete messages")
		}
		return nil
	})
}

func (s *Store) UpdateMessagesMetaData(ctx context.Context, key interfaces.MessageKey, bit enum.StatusBit, value bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.UpdateMessagesMetaData")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	rows, err := s.metaData(ctx, key, interfaces.AllRows)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range rows {
			newStatus := m.Status.Set(bit, value)
			if err := tx.Model(&models.MessageMetadata{}).Where("id = ?", m.ID).Update("status", newStatus).Error; err != nil {
				return errors.Wrap(err, "update status bit")
			}
		}
		return nil
	})
}

func (s *Store) PurgeMessageRemovalRecords(ctx context.Context, accountID models.AccountId, uids []models.ServerUID) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.PurgeMessageRemovalRecords")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if len(uids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND server_uid IN ?", accountID, uids).
		Delete(&removalRecord{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "purge removal records")
	}
	return nil
}

func (s *Store) AddFolder(ctx context.Context, f *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.AddFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "add folder")
	}
	return nil
}

func (s *Store) UpdateFolder(ctx context.Context, f *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.UpdateFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := s.db.WithContext(ctx).Model(&models.Folder{}).Where("id = ?", f.ID).Updates(f).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "update folder")
	}
	return nil
}

func (s *Store) RemoveFolder(ctx context.Context, id models.FolderId) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.RemoveFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Folder{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "remove folder")
	}
	return nil
}

func (s *Store) Folders(ctx context.Context, accountID models.AccountId) ([]*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.Folders")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var folders []*models.Folder
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&folders).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "list folders")
	}
	return folders, nil
}

func (s *Store) SetRetrievalInProgress(ctx context.Context, accounts []models.AccountId) error {
	return s.setInProgress(ctx, accounts, kindRetrieval)
}

func (s *Store) SetTransmissionInProgress(ctx context.Context, accounts []models.AccountId) error {
	return s.setInProgress(ctx, accounts, kindTransmission)
}

func (s *Store) setInProgress(ctx context.Context, accounts []models.AccountId, kind string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.setInProgress")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("kind = ?", kind).Delete(&inProgress{}).Error; err != nil {
			return errors.Wrap(err, "clear in-progress")
		}
		for _, acct := range accounts {
			if err := tx.Create(&inProgress{AccountID: acct, Kind: kind}).Error; err != nil {
				return errors.Wrap(err, "mark in-progress")
			}
		}
		return nil
	})
}

func (s *Store) RetrievalInProgress(ctx context.Context) ([]models.AccountId, error) {
	return s.inProgressAccounts(ctx, kindRetrieval)
}

func (s *Store) TransmissionInProgress(ctx context.Context) ([]models.AccountId, error) {
	return s.inProgressAccounts(ctx, kindTransmission)
}

func (s *Store) inProgressAccounts(ctx context.Context, kind string) ([]models.AccountId, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.inProgressAccounts")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var rows []inProgress
	if err := s.db.WithContext(ctx).Where("kind = ?", kind).Find(&rows).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "list in-progress")
	}
	out := make([]models.AccountId, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.AccountID)
	}
	return out, nil
}

func (s *Store) Accounts(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gormstore.Accounts")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	if err := s.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "list accounts")
	}
	return accounts, nil
}

// Subscribe registers fn for AccountsChanged notifications. Nothing in
// this process mutates the accounts table outside of operator tooling, so
// Notify is exported for that tooling (and for tests) to call directly
// rather than this store polling for changes itself.
func (s *Store) Subscribe(fn func(context.Context, interfaces.AccountsChanged)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
	idx := len(s.subscribers) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers[idx] = nil
	}
}

func (s *Store) Notify(ctx context.Context, change interfaces.AccountsChanged) {
	s.mu.Lock()
	subs := append([]func(context.Context, interfaces.AccountsChanged){}, s.subscribers...)
	s.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(ctx, change)
		}
	}
}

var _ interfaces.MailStore = (*Store)(nil)
