package orchestrator

import (
	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
)

// The Params* types below are the concrete shapes carried in
// interfaces.Request.Params for each enum.RequestType (spec.md §6). Each
// public Orchestrator method builds the matching struct before Submit.

type TransmitMessagesParams struct {
	IDs []models.MessageId
}

type RetrieveFolderListParams struct{}

type RetrieveMessageListParams struct {
	Folder models.FolderId
}

type RetrieveMessagesParams struct {
	IDs      []models.MessageId
	Sections map[models.MessageId]models.SectionProperties
}

type RetrieveMessagePartParams struct {
	ID      models.MessageId
	Section models.SectionProperties
}

type RetrieveMessageRangeParams struct {
	Folder  models.FolderId
	Minimum uint32
}

type RetrieveMessagePartRangeParams struct {
	ID      models.MessageId
	Section models.SectionProperties
	Minimum uint32
}

type RetrieveAllParams struct {
	Folder models.FolderId
}

type ExportUpdatesParams struct {
	Folder models.FolderId
}

type SynchronizeParams struct {
	Folder models.FolderId
}

type DeleteMessagesParams struct {
	IDs []models.MessageId
}

type CopyMessagesParams struct {
	IDs  []models.MessageId
	Dest models.FolderId
}

type MoveMessagesParams struct {
	IDs  []models.MessageId
	Dest models.FolderId
}

type FlagMessagesParams struct {
	IDs   []models.MessageId
	Bit   enum.StatusBit
	Value bool
}

type CreateFolderParams struct {
	Path string
}

type RenameFolderParams struct {
	Folder  models.FolderId
	NewPath string
}

type DeleteFolderParams struct {
	Folder models.FolderId
}

type SearchMessagesParams struct {
	Folder models.FolderId
	Text   string
}

type ProtocolRequestParams struct {
	Payload any
}
