package orchestrator

import (
	"context"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// The methods below are the public operations spec.md §4.4 names
// ("transmitMessages", "retrieveFolderList", ...): thin wrappers that build
// a Request of the matching RequestType and hand it to Submit. They are the
// surface api/rest calls into.

func (o *Orchestrator) RetrieveFolderList(ctx context.Context, account models.AccountId) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.RetrieveFolderList,
		Params:   RetrieveFolderListParams{},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) RetrieveMessageList(ctx context.Context, account models.AccountId, folder models.FolderId) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.RetrieveMessageList,
		Params:   RetrieveMessageListParams{Folder: folder},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) RetrieveMessages(ctx context.Context, account models.AccountId, ids []models.MessageId, sections map[models.MessageId]models.SectionProperties) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.RetrieveMessages,
		Params:   RetrieveMessagesParams{IDs: ids, Sections: sections},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) RetrieveMessagePart(ctx context.Context, account models.AccountId, id models.MessageId, section models.SectionProperties) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.RetrieveMessagePart,
		Params:   RetrieveMessagePartParams{ID: id, Section: section},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) RetrieveMessageRange(ctx context.Context, account models.AccountId, folder models.FolderId, minimum uint32) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.RetrieveMessageRange,
		Params:   RetrieveMessageRangeParams{Folder: folder, Minimum: minimum},
		Services: []models.AccountId{account},
	})
}

// RetrieveMessagePartRange is the retrieval kind spec.md §9's Open Question
// names directly: the corrected behavior sets retrieval-in-progress on the
// success path, enforced uniformly in dispatch.go's bindLocked/finish
// bookkeeping rather than here.
func (o *Orchestrator) RetrieveMessagePartRange(ctx context.Context, account models.AccountId, id models.MessageId, section models.SectionProperties, minimum uint32) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.RetrieveMessagePartRange,
		Params:   RetrieveMessagePartRangeParams{ID: id, Section: section, Minimum: minimum},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) RetrieveAll(ctx context.Context, account models.AccountId, folder models.FolderId) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.RetrieveAll,
		Params:   RetrieveAllParams{Folder: folder},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) ExportUpdates(ctx context.Context, account models.AccountId, folder models.FolderId) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.ExportUpdates,
		Params:   ExportUpdatesParams{Folder: folder},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) Synchronize(ctx context.Context, account models.AccountId, folder models.FolderId) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.Synchronize,
		Params:   SynchronizeParams{Folder: folder},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) DeleteMessages(ctx context.Context, account models.AccountId, ids []models.MessageId) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.DeleteMessages,
		Params:   DeleteMessagesParams{IDs: ids},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) CopyMessages(ctx context.Context, account models.AccountId, ids []models.MessageId, dest models.FolderId) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.CopyMessages,
		Params:   CopyMessagesParams{IDs: ids, Dest: dest},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) MoveMessages(ctx context.Context, account models.AccountId, ids []models.MessageId, dest models.FolderId) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.MoveMessages,
		Params:   MoveMessagesParams{IDs: ids, Dest: dest},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) FlagMessages(ctx context.Context, account models.AccountId, ids []models.MessageId, bit enum.StatusBit, value bool) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.FlagMessages,
		Params:   FlagMessagesParams{IDs: ids, Bit: bit, Value: value},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) CreateFolder(ctx context.Context, account models.AccountId, path string) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.CreateFolder,
		Params:   CreateFolderParams{Path: path},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) RenameFolder(ctx context.Context, account models.AccountId, folder models.FolderId, newPath string) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.RenameFolder,
		Params:   RenameFolderParams{Folder: folder, NewPath: newPath},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) DeleteFolder(ctx context.Context, account models.AccountId, folder models.FolderId) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.DeleteFolder,
		Params:   DeleteFolderParams{Folder: folder},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) SearchMessages(ctx context.Context, account models.AccountId, folder models.FolderId, text string) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.SearchMessages,
		Params:   SearchMessagesParams{Folder: folder, Text: text},
		Services: []models.AccountId{account},
	})
}

func (o *Orchestrator) ProtocolRequest(ctx context.Context, account models.AccountId, payload any) (interfaces.ActionId, error) {
	return o.Submit(ctx, interfaces.Request{
		Type:     enum.ProtocolRequest,
		Params:   ProtocolRequestParams{Payload: payload},
		Services: []models.AccountId{account},
	})
}

// TransmitMessages is precondition-chained to a preparatory
// RetrieveFolderList on the destination account so the Sent folder exists
// before the Sink tries to append its copy there (spec.md §4.4 "precondition
// chaining"), matching SubmitChained's doc comment.
func (o *Orchestrator) TransmitMessages(ctx context.Context, account models.AccountId, ids []models.MessageId) (interfaces.ActionId, error) {
	prep, err := o.RetrieveFolderList(ctx, account)
	if err != nil {
		return 0, err
	}
	return o.SubmitChained(ctx, interfaces.Request{
		Type:         enum.TransmitMessages,
		Params:       TransmitMessagesParams{IDs: ids},
		Services:     []models.AccountId{account},
		Preconditions: []models.AccountId{account},
	}, prep)
}

// CancelTransfer is the client-facing name for Cancel (spec.md §6).
func (o *Orchestrator) CancelTransfer(ctx context.Context, action interfaces.ActionId) error {
	return o.Cancel(ctx, action)
}
