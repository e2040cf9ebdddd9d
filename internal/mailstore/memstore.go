package mailstore

import (
	"context"
	"sort"
	"sync"

	"github.com/customeros/mailstack/interfaces"
	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
)

// MemStore is an in-memory interfaces.MailStore, used by the orchestrator
// and strategy test suites in place of the gorm-backed store (§8 testable
// properties do not require Postgres). It is not safe for use as the
// production store; gormstore.Store fills that role.
type MemStore struct {
	mu sync.Mutex

	messages map[models.MessageId]*models.MessageMetadata
	folders  map[models.FolderId]*models.Folder
	accounts map[models.AccountId]*models.Account

	retrieving    map[models.AccountId]struct{}
	transmitting  map[models.AccountId]struct{}
	removalRecord map[models.ServerUID]models.AccountId

	subscribers []func(context.Context, interfaces.AccountsChanged)
}

func NewMemStore() *MemStore {
	return &MemStore{
		messages:      make(map[models.MessageId]*models.MessageMetadata),
		folders:       make(map[models.FolderId]*models.Folder),
		accounts:      make(map[models.AccountId]*models.Account),
		retrieving:    make(map[models.AccountId]struct{}),
		transmitting:  make(map[models.AccountId]struct{}),
		removalRecord: make(map[models.ServerUID]models.AccountId),
	}
}

func (s *MemStore) QueryMessages(_ context.Context, key interfaces.MessageKey, sortKey interfaces.SortKey) ([]models.MessageId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*models.MessageMetadata
	for _, m := range s.messages {
		if key.Matches(m) {
			matches = append(matches, m)
		}
	}

	switch sortKey {
	case interfaces.SortByServerUID:
		sort.Slice(matches, func(i, j int) bool {
			ui, _ := matches[i].ServerUID.UID()
			uj, _ := matches[j].ServerUID.UID()
			return ui < uj
		})
	default:
		sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	}

	ids := make([]models.MessageId, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids, nil
}

func (s *MemStore) MessagesMetaData(_ context.Context, key interfaces.MessageKey, _ interfaces.Distinctness) ([]*models.MessageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.MessageMetadata
	for _, m := range s.messages {
		if key.Matches(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) AddMessage(_ context.Context, m *models.MessageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *MemStore) UpdateMessage(_ context.Context, m *models.MessageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *MemStore) RemoveMessages(_ context.Context, key interfaces.MessageKey, policy interfaces.RemovalRecordPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.messages {
		if !key.Matches(m) {
			continue
		}
		if policy == interfaces.KeepRemovalRecord {
			s.removalRecord[m.ServerUID] = m.AccountID
		}
		delete(s.messages, id)
	}
	return nil
}

func (s *MemStore) UpdateMessagesMetaData(_ context.Context, key interfaces.MessageKey, bit enum.StatusBit, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if key.Matches(m) {
			m.Status = m.Status.Set(bit, value)
		}
	}
	return nil
}

func (s *MemStore) PurgeMessageRemovalRecords(_ context.Context, accountID models.AccountId, uids []models.ServerUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range uids {
		if owner, ok := s.removalRecord[uid]; ok && owner == accountID {
			delete(s.removalRecord, uid)
		}
	}
	return nil
}

func (s *MemStore) HasRemovalRecord(accountID models.AccountId, uid models.ServerUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.removalRecord[uid]
	return ok && owner == accountID
}

func (s *MemStore) AddFolder(_ context.Context, f *models.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.folders[f.ID] = &cp
	return nil
}

func (s *MemStore) UpdateFolder(_ context.Context, f *models.Folder) error {
	return s.AddFolder(nil, f) //nolint:staticcheck // ctx unused in mem impl
}

func (s *MemStore) RemoveFolder(_ context.Context, id models.FolderId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.folders, id)
	return nil
}

func (s *MemStore) Folders(_ context.Context, accountID models.AccountId) ([]*models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Folder
	for _, f := range s.folders {
		if f.AccountID == accountID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *MemStore) SetRetrievalInProgress(_ context.Context, accounts []models.AccountId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrieving = make(map[models.AccountId]struct{}, len(accounts))
	for _, a := range accounts {
		s.retrieving[a] = struct{}{}
	}
	return nil
}

func (s *MemStore) SetTransmissionInProgress(_ context.Context, accounts []models.AccountId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transmitting = make(map[models.AccountId]struct{}, len(accounts))
	for _, a := range accounts {
		s.transmitting[a] = struct{}{}
	}
	return nil
}

func (s *MemStore) RetrievalInProgress(_ context.Context) ([]models.AccountId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AccountId, 0, len(s.retrieving))
	for a := range s.retrieving {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemStore) TransmissionInProgress(_ context.Context) ([]models.AccountId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AccountId, 0, len(s.transmitting))
	for a := range s.transmitting {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemStore) Accounts(_ context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// PutAccount is a test/seed helper; it is not part of interfaces.MailStore.
func (s *MemStore) PutAccount(a *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
}

func (s *MemStore) Subscribe(fn func(context.Context, interfaces.AccountsChanged)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.subscribers)
	s.subscribers = append(s.subscribers, fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers[idx] = nil
	}
}

// Notify publishes an account-change notification to this store's
// subscribers; used by tests.
func (s *MemStore) Notify(ctx context.Context, change interfaces.AccountsChanged) {
	s.mu.Lock()
	subs := append([]func(context.Context, interfaces.AccountsChanged){}, s.subscribers...)
	s.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(ctx, change)
		}
	}
}

var _ interfaces.MailStore = (*MemStore)(nil)
