// Package imapstrategy implements the IMAP Strategy Engine (spec.md §4.3):
// a family of state machines, each driving a Protocol Connection to
// accomplish one logical mail operation. Per spec.md §9's design note, the
// source's inheritance-of-contract hierarchy is modeled as capability
// interfaces composed by embedding, with tagged-union dispatch preferred
// over open polymorphism; shared state lives in the Context value passed to
// every transition.
package imapstrategy

import (
	"context"
	"sync"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/imapconn"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// Context is the shared state every strategy transition reads and writes:
// the account's connection, its mail store handle, and the bookkeeping
// common to all strategies (spec.md §3's "Strategy state").
type Context struct {
	AccountID models.AccountId
	Conn      *imapconn.Connection
	Store     interfaces.MailStore

	HeaderLimitBytes uint32
	PreferredTextSubtype string

	mu    sync.Mutex
	phase enum.TransferPhase

	progressDone, progressTotal int
}

func NewContext(accountID models.AccountId, conn *imapconn.Connection, store interfaces.MailStore, headerLimit uint32) *Context {
	if headerLimit == 0 {
		headerLimit = 4096
	}
	return &Context{
		AccountID:            accountID,
		Conn:                 conn,
		Store:                store,
		HeaderLimitBytes:     headerLimit,
		PreferredTextSubtype: "plain",
		phase:                enum.PhaseInit,
	}
}

func (c *Context) Phase() enum.TransferPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Context) SetPhase(p enum.TransferPhase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}

// Progress returns (done, total) accumulated by AddProgress calls.
func (c *Context) Progress() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressDone, c.progressTotal
}

func (c *Context) SetProgressTotal(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progressTotal = total
}

func (c *Context) AddProgress(done int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progressDone += done
}

// Strategy is the contract every concrete strategy presents to its Source
// (spec.md §4.3): arm initial state, then advance on each completion event.
// Concrete strategies do not necessarily use every hook; those that don't
// embed noopHooks to satisfy the interface without repeating empty bodies.
type Strategy interface {
	NewConnection(ctx context.Context) error
	Transition(ctx context.Context, sink interfaces.StatusSink, action interfaces.ActionId) (done bool, err error)
}

// DataHooks receives untagged data a strategy may care about between
// transitions. Not every strategy implements every method meaningfully;
// noopHooks supplies defaults.
type DataHooks interface {
	MessageFetched(uid models.ServerUID, meta *models.MessageMetadata)
	DataFetched(uid models.ServerUID, section models.SectionProperties, data []byte)
	NonexistentUID(uid models.ServerUID)
	MessageStored(uid models.ServerUID)
	MessageCopied(oldUID, newUID models.ServerUID)
	DownloadSize(uid models.ServerUID, size uint32)
	MailboxListed(path string, flags []string)
}

// noopHooks satisfies DataHooks with no-ops; concrete strategies embed it
// and override only the hooks they need.
type noopHooks struct{}

func (noopHooks) MessageFetched(models.ServerUID, *models.MessageMetadata)        {}
func (noopHooks) DataFetched(models.ServerUID, models.SectionProperties, []byte) {}
func (noopHooks) NonexistentUID(models.ServerUID)                                {}
func (noopHooks) MessageStored(models.ServerUID)                                 {}
func (noopHooks) MessageCopied(models.ServerUID, models.ServerUID)               {}
func (noopHooks) DownloadSize(models.ServerUID, uint32)                          {}
func (noopHooks) MailboxListed(string, []string)                                 {}

// MessageListStrategy is any strategy that walks a message-id selection
// (spec.md §9: `MessageListStrategy: Strategy`).
type MessageListStrategy interface {
	Strategy
	Selection() *Selection
}

// FetchSelectedStrategy delivers requested content for a selection into the
// store (spec.md §4.3.1, §9: `FetchSelectedStrategy: MessageListStrategy`).
type FetchSelectedStrategy interface {
	MessageListStrategy
	DataHooks
}

// FolderListStrategy discovers and reconciles the account's folder tree
// (spec.md §4.3.2, §9: `FolderListStrategy: FetchSelectedStrategy`).
type FolderListStrategy interface {
	FetchSelectedStrategy
	Folders() []*models.Folder
}

// SynchronizeBaseStrategy is the abstract reconciliation contract
// implemented by UpdateMessagesFlags (spec.md §4.3.3, §9:
// `SynchronizeBaseStrategy: FolderListStrategy`). SynchronizeAll calls the
// package-level Reconcile directly and does not implement this interface.
type SynchronizeBaseStrategy interface {
	FolderListStrategy
	Reconcile(ctx context.Context, folder *models.Folder, reported ReportedUIDs) (ReconcileResult, error)
}
