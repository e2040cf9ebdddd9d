package interfaces

import (
	"context"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
)

// Capabilities describes what a Source/Sink pair supports, consulted by the
// orchestrator's dispatcher (spec.md §4.4, §5: "services supporting
// concurrent actions may be dispatched to in parallel").
type Capabilities struct {
	// ConcurrentActions reports whether the service can run more than one
	// action at a time, tagging completion events with their action-id
	// itself rather than relying on the orchestrator serializing access.
	ConcurrentActions bool

	SupportsRemoteSearch bool
}

// StatusSink receives the low-level events a running action produces, as
// named in spec.md §6; the orchestrator's dispatcher is the only consumer.
type StatusSink interface {
	ActivityChanged(action ActionId, status enum.ActivityStatus)
	ProgressChanged(action ActionId, done, total int)
	StatusChanged(action ActionId, status StatusEvent)
	ConnectivityChanged(account models.AccountId, status enum.ConnectionStatus)
	MessageActionCompleted(action ActionId, kind enum.CompletionKind)
}

// Source is the read side of a per-account Message Service (spec.md §2,
// §4.4): "a Source (reads from server)". For IMAP accounts it wraps the
// Strategy Engine.
type Source interface {
	AccountID() models.AccountId
	Capabilities() Capabilities

	RetrieveFolderList(ctx context.Context, action ActionId, sink StatusSink) error
	RetrieveMessageList(ctx context.Context, action ActionId, folder models.FolderId, sink StatusSink) error
	RetrieveMessages(ctx context.Context, action ActionId, ids []models.MessageId, sections map[models.MessageId]models.SectionProperties, sink StatusSink) error
	RetrieveMessagePart(ctx context.Context, action ActionId, id models.MessageId, section models.SectionProperties, sink StatusSink) error
	RetrieveMessageRange(ctx context.Context, action ActionId, folder models.FolderId, minimum uint32, sink StatusSink) error
	RetrieveMessagePartRange(ctx context.Context, action ActionId, id models.MessageId, section models.SectionProperties, minimum uint32, sink StatusSink) error
	RetrieveAll(ctx context.Context, action ActionId, folder models.FolderId, sink StatusSink) error
	ExportUpdates(ctx context.Context, action ActionId, folder models.FolderId, sink StatusSink) error
	Synchronize(ctx context.Context, action ActionId, folder models.FolderId, sink StatusSink) error
	SearchMessages(ctx context.Context, action ActionId, folder models.FolderId, text string, sink StatusSink) ([]models.MessageId, error)

	// CancelOperation is cooperative (spec.md §5): observed at the next
	// transition, the orchestrator does not wait for acknowledgement.
	CancelOperation(action ActionId, reason enum.ErrorKind)
}

// Sink is the write side of a per-account Message Service (spec.md §2,
// §4.4): "a Sink (writes to server)".
type Sink interface {
	AccountID() models.AccountId
	Capabilities() Capabilities

	TransmitMessages(ctx context.Context, action ActionId, ids []models.MessageId, sink StatusSink) error
	DeleteMessages(ctx context.Context, action ActionId, ids []models.MessageId, sink StatusSink) error
	CopyMessages(ctx context.Context, action ActionId, ids []models.MessageId, dest models.FolderId, sink StatusSink) error
	MoveMessages(ctx context.Context, action ActionId, ids []models.MessageId, dest models.FolderId, sink StatusSink) error
	FlagMessages(ctx context.Context, action ActionId, ids []models.MessageId, bit enum.StatusBit, value bool, sink StatusSink) error
	CreateFolder(ctx context.Context, action ActionId, path string, sink StatusSink) error
	RenameFolder(ctx context.Context, action ActionId, folder models.FolderId, newPath string, sink StatusSink) error
	DeleteFolder(ctx context.Context, action ActionId, folder models.FolderId, sink StatusSink) error
	ProtocolRequest(ctx context.Context, action ActionId, payload any, sink StatusSink) error

	CancelOperation(action ActionId, reason enum.ErrorKind)
}

// ServiceFactory instantiates the Source/Sink pair for one account, per
// spec.md §4.4's registration responsibility. A nil return for either means
// the account has no such side (e.g. a read-only mailbox has no Sink).
type ServiceFactory interface {
	NewServices(ctx context.Context, account *models.Account) (Source, Sink, error)
}
