package interfaces

import (
	"context"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
)

// ActionId is the process-unique 64-bit identifier assigned to an Action
// record at submission time (spec.md §3).
type ActionId uint64

// StatusEvent is the payload of a statusChanged response (spec.md §6).
type StatusEvent struct {
	Code    enum.ErrorKind
	Text    string
	Account models.AccountId
	Folder  models.FolderId
	Message models.MessageId
}

// Request is everything the orchestrator needs to classify, queue, and
// dispatch one public operation (spec.md §3's "Action record" before it is
// dispatched).
type Request struct {
	ID     ActionId
	Type   enum.RequestType
	Params any

	// Services is the full set of account ids whose services this request
	// needs attached before it can be dispatched.
	Services []models.AccountId

	// Preconditions names services that must complete their own, separately
	// enqueued, preparatory request before this one may dispatch (spec.md
	// §4.4 "precondition chaining", used by transmitMessages).
	Preconditions []models.AccountId
}

// Orchestrator is the client-facing request/response surface described in
// spec.md §4.4 and §6. Concrete public operations (transmitMessages,
// retrieveFolderList, ...) are thin wrappers that build a Request of the
// matching RequestType and call Submit.
type Orchestrator interface {
	Submit(ctx context.Context, req Request) (ActionId, error)
	Cancel(ctx context.Context, action ActionId) error

	// Events returns a channel of responses correlated to actions submitted
	// through this Orchestrator. The channel is closed when ctx is done.
	Events(ctx context.Context) (<-chan Response, error)
}

// ResponseKind names which field of Response is populated.
type ResponseKind string

const (
	RespActionStarted       ResponseKind = "actionStarted"
	RespActivityChanged     ResponseKind = "activityChanged"
	RespProgressChanged     ResponseKind = "progressChanged"
	RespStatusChanged       ResponseKind = "statusChanged"
	RespConnectivityChanged ResponseKind = "connectivityChanged"
	RespMatchingMessageIds  ResponseKind = "matchingMessageIds"
	RespProtocolResponse    ResponseKind = "protocolResponse"
	RespRetrievalCompleted      ResponseKind = "retrievalCompleted"
	RespTransmissionCompleted   ResponseKind = "transmissionCompleted"
	RespStorageActionCompleted  ResponseKind = "storageActionCompleted"
	RespSearchCompleted         ResponseKind = "searchCompleted"
	RespProtocolRequestCompleted ResponseKind = "protocolRequestCompleted"
)

// Response is one event in the orchestrator's signal fan-out to clients
// (spec.md §6's IPC surface). Exactly one payload field is meaningful for a
// given Kind.
type Response struct {
	Kind   ResponseKind
	Action ActionId

	// actionStarted
	RequestType enum.RequestType

	// activityChanged
	Activity enum.ActivityStatus

	// progressChanged
	Done, Total int

	// statusChanged
	Status StatusEvent

	// connectivityChanged
	Account          models.AccountId
	ConnectionStatus enum.ConnectionStatus

	// matchingMessageIds (search)
	MatchingIDs []models.MessageId

	// protocolResponse
	ProtocolPayload any

	// terminal completions carry no extra payload beyond Action/Kind.
}

func terminalKindFor(kind enum.CompletionKind) ResponseKind {
	switch kind {
	case enum.CompletionRetrieval:
		return RespRetrievalCompleted
	case enum.CompletionTransmission:
		return RespTransmissionCompleted
	case enum.CompletionSearch:
		return RespSearchCompleted
	case enum.CompletionProtocolRequest:
		return RespProtocolRequestCompleted
	default:
		return RespStorageActionCompleted
	}
}

// TerminalResponseFor builds the terminal completion Response for an action
// of the given RequestType (spec.md §6: "terminal
// {retrieval|transmission|storageAction|search|protocolRequest}Completed").
func TerminalResponseFor(action ActionId, rt enum.RequestType) Response {
	return Response{Kind: terminalKindFor(enum.CompletionKindFor(rt)), Action: action}
}
