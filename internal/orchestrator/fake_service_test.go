package orchestrator

import (
	"context"
	"sync"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// fakeService is a test double for the Source/Sink pair of one account. Each
// method blocks until its matching entry in calls is signalled, letting a
// test control exactly when a dispatched action "completes" — the same
// pattern the teacher's mock Kubernetes interface (cron_test.go) plays for a
// dependency it can't hit for real.
type fakeService struct {
	id     models.AccountId
	caps   interfaces.Capabilities
	noSink bool

	mu        sync.Mutex
	cancelled map[interfaces.ActionId]enum.ErrorKind

	// hang, when true, makes every call block on ctx.Done() instead of
	// returning immediately — used to exercise expiry.
	hang bool
}

func newFakeService(id models.AccountId) *fakeService {
	return &fakeService{id: id, cancelled: make(map[interfaces.ActionId]enum.ErrorKind)}
}

func (f *fakeService) AccountID() models.AccountId   { return f.id }
func (f *fakeService) Capabilities() interfaces.Capabilities { return f.caps }

func (f *fakeService) CancelOperation(action interfaces.ActionId, reason enum.ErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[action] = reason
}

func (f *fakeService) wasCancelled(action interfaces.ActionId) (enum.ErrorKind, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.cancelled[action]
	return k, ok
}

func (f *fakeService) block(ctx context.Context) error {
	if !f.hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Source methods -- all succeed immediately and report completion, unless
// f.hang is set, in which case they block until cancelled.

func (f *fakeService) RetrieveFolderList(ctx context.Context, action interfaces.ActionId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.RetrieveFolderList))
	return nil
}

func (f *fakeService) RetrieveMessageList(ctx context.Context, action interfaces.ActionId, folder models.FolderId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.RetrieveMessageList))
	return nil
}

func (f *fakeService) RetrieveMessages(ctx context.Context, action interfaces.ActionId, ids []models.MessageId, sections map[models.MessageId]models.SectionProperties, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.RetrieveMessages))
	return nil
}

func (f *fakeService) RetrieveMessagePart(ctx context.Context, action interfaces.ActionId, id models.MessageId, section models.SectionProperties, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.RetrieveMessagePart))
	return nil
}

func (f *fakeService) RetrieveMessageRange(ctx context.Context, action interfaces.ActionId, folder models.FolderId, minimum uint32, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.RetrieveMessageRange))
	return nil
}

func (f *fakeService) RetrieveMessagePartRange(ctx context.Context, action interfaces.ActionId, id models.MessageId, section models.SectionProperties, minimum uint32, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.RetrieveMessagePartRange))
	return nil
}

func (f *fakeService) RetrieveAll(ctx context.Context, action interfaces.ActionId, folder models.FolderId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.RetrieveAll))
	return nil
}

func (f *fakeService) ExportUpdates(ctx context.Context, action interfaces.ActionId, folder models.FolderId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.ExportUpdates))
	return nil
}

func (f *fakeService) Synchronize(ctx context.Context, action interfaces.ActionId, folder models.FolderId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.Synchronize))
	return nil
}

func (f *fakeService) SearchMessages(ctx context.Context, action interfaces.ActionId, folder models.FolderId, text string, sink interfaces.StatusSink) ([]models.MessageId, error) {
	if err := f.block(ctx); err != nil {
		return nil, err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.SearchMessages))
	return nil, nil
}

// Sink methods.

func (f *fakeService) TransmitMessages(ctx context.Context, action interfaces.ActionId, ids []models.MessageId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.TransmitMessages))
	return nil
}

func (f *fakeService) DeleteMessages(ctx context.Context, action interfaces.ActionId, ids []models.MessageId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.DeleteMessages))
	return nil
}

func (f *fakeService) CopyMessages(ctx context.Context, action interfaces.ActionId, ids []models.MessageId, dest models.FolderId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.CopyMessages))
	return nil
}

func (f *fakeService) MoveMessages(ctx context.Context, action interfaces.ActionId, ids []models.MessageId, dest models.FolderId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.MoveMessages))
	return nil
}

func (f *fakeService) FlagMessages(ctx context.Context, action interfaces.ActionId, ids []models.MessageId, bit enum.StatusBit, value bool, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.FlagMessages))
	return nil
}

func (f *fakeService) CreateFolder(ctx context.Context, action interfaces.ActionId, path string, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.CreateFolder))
	return nil
}

func (f *fakeService) RenameFolder(ctx context.Context, action interfaces.ActionId, folder models.FolderId, newPath string, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.RenameFolder))
	return nil
}

func (f *fakeService) DeleteFolder(ctx context.Context, action interfaces.ActionId, folder models.FolderId, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.DeleteFolder))
	return nil
}

func (f *fakeService) ProtocolRequest(ctx context.Context, action interfaces.ActionId, payload any, sink interfaces.StatusSink) error {
	if err := f.block(ctx); err != nil {
		return err
	}
	sink.MessageActionCompleted(action, enum.CompletionKindFor(enum.ProtocolRequest))
	return nil
}

var (
	_ interfaces.Source = (*fakeService)(nil)
	_ interfaces.Sink   = (*fakeService)(nil)
)

// fakeFactory hands out pre-built fakeServices keyed by account id.
type fakeFactory struct {
	mu       sync.Mutex
	services map[models.AccountId]*fakeService
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{services: make(map[models.AccountId]*fakeService)}
}

func (f *fakeFactory) register(svc *fakeService) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[svc.id] = svc
}

func (f *fakeFactory) NewServices(ctx context.Context, account *models.Account) (interfaces.Source, interfaces.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[account.ID]
	if !ok {
		return nil, nil, nil
	}
	var sink interfaces.Sink
	if !svc.noSink {
		sink = svc
	}
	return svc, sink, nil
}

var _ interfaces.ServiceFactory = (*fakeFactory)(nil)
