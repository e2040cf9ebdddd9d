package enum

// RequestType identifies the public operation an Action performs. Values
// mirror the IPC surface named in spec.md §6.
type RequestType string

const (
	TransmitMessages          RequestType = "TransmitMessages"
	RetrieveFolderList        RequestType = "RetrieveFolderList"
	RetrieveMessageList       RequestType = "RetrieveMessageList"
	RetrieveMessages          RequestType = "RetrieveMessages"
	RetrieveMessagePart       RequestType = "RetrieveMessagePart"
	RetrieveMessageRange      RequestType = "RetrieveMessageRange"
	RetrieveMessagePartRange  RequestType = "RetrieveMessagePartRange"
	RetrieveAll               RequestType = "RetrieveAll"
	ExportUpdates             RequestType = "ExportUpdates"
	Synchronize               RequestType = "Synchronize"
	DeleteMessages            RequestType = "DeleteMessages"
	CopyMessages              RequestType = "CopyMessages"
	MoveMessages              RequestType = "MoveMessages"
	FlagMessages              RequestType = "FlagMessages"
	CreateFolder              RequestType = "CreateFolder"
	RenameFolder              RequestType = "RenameFolder"
	DeleteFolder              RequestType = "DeleteFolder"
	SearchMessages            RequestType = "SearchMessages"
	ProtocolRequest           RequestType = "ProtocolRequest"
)

func (t RequestType) String() string { return string(t) }

// CompletionKind names the terminal completion signal a RequestType reports
// through, per spec.md §6.
type CompletionKind string

const (
	CompletionRetrieval      CompletionKind = "retrievalCompleted"
	CompletionTransmission   CompletionKind = "transmissionCompleted"
	CompletionStorageAction  CompletionKind = "storageActionCompleted"
	CompletionSearch         CompletionKind = "searchCompleted"
	CompletionProtocolRequest CompletionKind = "protocolRequestCompleted"
)

// completionKindByRequest maps each RequestType to the completion signal it
// reports through when it finishes.
var completionKindByRequest = map[RequestType]CompletionKind{
	TransmitMessages:         CompletionTransmission,
	RetrieveFolderList:       CompletionRetrieval,
	RetrieveMessageList:      CompletionRetrieval,
	RetrieveMessages:         CompletionRetrieval,
	RetrieveMessagePart:      CompletionRetrieval,
	RetrieveMessageRange:     CompletionRetrieval,
	RetrieveMessagePartRange: CompletionRetrieval,
	RetrieveAll:              CompletionRetrieval,
	ExportUpdates:            CompletionStorageAction,
	Synchronize:              CompletionRetrieval,
	DeleteMessages:           CompletionStorageAction,
	CopyMessages:             CompletionStorageAction,
	MoveMessages:             CompletionStorageAction,
	FlagMessages:             CompletionStorageAction,
	CreateFolder:             CompletionStorageAction,
	RenameFolder:             CompletionStorageAction,
	DeleteFolder:             CompletionStorageAction,
	SearchMessages:           CompletionSearch,
	ProtocolRequest:          CompletionProtocolRequest,
}

// CompletionKindFor returns the completion signal a RequestType reports
// through, or CompletionStorageAction if the type is unrecognized.
func CompletionKindFor(rt RequestType) CompletionKind {
	if k, ok := completionKindByRequest[rt]; ok {
		return k
	}
	return CompletionStorageAction
}

// ActivityStatus is the lifecycle state of an Action, reported via
// activityChanged events (spec.md §6).
type ActivityStatus string

const (
	ActivityPending    ActivityStatus = "Pending"
	ActivityInProgress ActivityStatus = "InProgress"
	ActivitySuccessful ActivityStatus = "Successful"
	ActivityFailed     ActivityStatus = "Failed"
)

func (s ActivityStatus) String() string { return string(s) }

// IsTerminal reports whether s ends the Action's lifecycle.
func (s ActivityStatus) IsTerminal() bool {
	return s == ActivitySuccessful || s == ActivityFailed
}
