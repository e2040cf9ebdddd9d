package interfaces

import (
	"context"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
)

// KeyOp combines one or more predicates over the mail store.
type KeyOp int

const (
	KeyAnd KeyOp = iota
	KeyOr
	KeyNot
)

// MessageKey is a composite predicate over message metadata (spec.md §4.1):
// "conjunction, disjunction, negation, and the projections used by the
// engine". A zero-value MessageKey with no Children and no field predicates
// matches every message; build keys with the helper constructors below.
type MessageKey struct {
	Op       KeyOp
	Children []MessageKey

	AccountID *models.AccountId
	FolderID  *models.FolderId
	MessageID *models.MessageId
	ServerUID *models.ServerUID

	// WithStatus/WithoutStatus, when non-zero, require the named bit to be
	// set/unset respectively.
	WithStatus    enum.StatusBit
	WithoutStatus enum.StatusBit
}

func KeyByAccount(id models.AccountId) MessageKey  { return MessageKey{AccountID: &id} }
func KeyByFolder(id models.FolderId) MessageKey    { return MessageKey{FolderID: &id} }
func KeyByMessage(id models.MessageId) MessageKey  { return MessageKey{MessageID: &id} }
func KeyByServerUID(u models.ServerUID) MessageKey { return MessageKey{ServerUID: &u} }

func KeyWithStatus(bit enum.StatusBit) MessageKey    { return MessageKey{WithStatus: bit} }
func KeyWithoutStatus(bit enum.StatusBit) MessageKey { return MessageKey{WithoutStatus: bit} }

func And(keys ...MessageKey) MessageKey { return MessageKey{Op: KeyAnd, Children: keys} }
func Or(keys ...MessageKey) MessageKey  { return MessageKey{Op: KeyOr, Children: keys} }
func Not(key MessageKey) MessageKey     { return MessageKey{Op: KeyNot, Children: []MessageKey{key}} }

// Matches evaluates the key against a single message's metadata. Composite
// keys short-circuit the way their boolean operator would.
func (k MessageKey) Matches(m *models.MessageMetadata) bool {
	switch k.Op {
	case KeyOr:
		for _, c := range k.Children {
			if c.Matches(m) {
				return true
			}
		}
		return len(k.Children) == 0
	case KeyNot:
		return !k.Children[0].Matches(m)
	case KeyAnd:
		for _, c := range k.Children {
			if !c.Matches(m) {
				return false
			}
		}
	}
	if k.AccountID != nil && m.AccountID != *k.AccountID {
		return false
	}
	if k.FolderID != nil && m.FolderID != *k.FolderID {
		return false
	}
	if k.MessageID != nil && m.ID != *k.MessageID {
		return false
	}
	if k.ServerUID != nil && m.ServerUID != *k.ServerUID {
		return false
	}
	if k.WithStatus != 0 && !m.Has(k.WithStatus) {
		return false
	}
	if k.WithoutStatus != 0 && m.Has(k.WithoutStatus) {
		return false
	}
	return true
}

// SortKey orders a queryMessages result.
type SortKey int

const (
	SortByServerUID SortKey = iota
	SortByMessageID
)

// RemovalRecordPolicy controls whether removeMessages leaves behind a
// removal record for a later purgeMessageRemovalRecords call (spec.md §4.1).
type RemovalRecordPolicy int

const (
	KeepRemovalRecord RemovalRecordPolicy = iota
	NoRemovalRecord
)

// Distinctness controls whether messagesMetaData may return duplicate rows
// (it never should, but the flag exists to match the source contract).
type Distinctness int

const (
	AllRows Distinctness = iota
	DistinctRows
)

// AccountChangeKind names what happened to the accounts in an
// AccountsChanged notification (spec.md §6).
type AccountChangeKind int

const (
	AccountsAdded AccountChangeKind = iota
	AccountsUpdated
	AccountsRemoved
)

// AccountsChanged is delivered asynchronously by the store; LocalOrigin is
// true when the change originated in this process (spec.md §6: "Only
// notifications that did not originate in this process trigger service
// re-registration").
type AccountsChanged struct {
	Kind        AccountChangeKind
	AccountIDs  []models.AccountId
	LocalOrigin bool
}

// MailStore is the abstract read/write surface every other component
// consumes (spec.md §4.1). It is the only way the orchestrator and strategy
// engine touch persisted message/folder state.
type MailStore interface {
	QueryMessages(ctx context.Context, key MessageKey, sort SortKey) ([]models.MessageId, error)
	MessagesMetaData(ctx context.Context, key MessageKey, distinct Distinctness) ([]*models.MessageMetadata, error)

	AddMessage(ctx context.Context, m *models.MessageMetadata) error
	UpdateMessage(ctx context.Context, m *models.MessageMetadata) error
	RemoveMessages(ctx context.Context, key MessageKey, policy RemovalRecordPolicy) error
	UpdateMessagesMetaData(ctx context.Context, key MessageKey, bit enum.StatusBit, value bool) error
	PurgeMessageRemovalRecords(ctx context.Context, accountID models.AccountId, uids []models.ServerUID) error

	AddFolder(ctx context.Context, f *models.Folder) error
	UpdateFolder(ctx context.Context, f *models.Folder) error
	RemoveFolder(ctx context.Context, id models.FolderId) error
	Folders(ctx context.Context, accountID models.AccountId) ([]*models.Folder, error)

	SetRetrievalInProgress(ctx context.Context, accounts []models.AccountId) error
	SetTransmissionInProgress(ctx context.Context, accounts []models.AccountId) error
	RetrievalInProgress(ctx context.Context) ([]models.AccountId, error)
	TransmissionInProgress(ctx context.Context) ([]models.AccountId, error)

	// Accounts returns the accounts currently configured in the store.
	Accounts(ctx context.Context) ([]*models.Account, error)

	// Subscribe registers a listener for asynchronous account change
	// notifications. The returned func unsubscribes.
	Subscribe(fn func(context.Context, AccountsChanged)) (unsubscribe func())
}
