package orchestrator

import (
	"context"

	"github.com/pkg/errors"

	mailstack_errors "github.com/customeros/mailstack/internal/errors"
	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/internal/tracing"
	"github.com/customeros/mailstack/interfaces"
)

// runDispatcher scans the request queue and dispatches any request whose
// full services ∪ preconditions set is currently available (spec.md
// §4.4). It is called from the tick loop, and again after any event frees
// a service (completion, cancellation, expiry) so waiting requests don't
// sit idle until the next tick.
func (o *Orchestrator) runDispatcher(ctx context.Context) {
	o.mu.Lock()
	var ready []*action
	var still []*action
	for _, a := range o.pending {
		if o.canDispatchLocked(a) {
			ready = append(ready, a)
			o.bindLocked(a)
		} else {
			still = append(still, a)
		}
	}
	o.pending = still
	for _, a := range ready {
		o.active[a.id] = a
	}
	o.mu.Unlock()

	for _, a := range ready {
		o.dispatch(ctx, a)
	}
}

// canDispatchLocked must be called with o.mu held.
func (o *Orchestrator) canDispatchLocked(a *action) bool {
	if a.waitFor != 0 {
		if _, ok := o.active[a.waitFor]; ok {
			return false
		}
		if o.stillPendingLocked(a.waitFor) {
			return false
		}
		if !o.waitForSatisfiedLocked(a.waitFor) {
			return false
		}
	}

	for _, acct := range a.services {
		if !o.availableLocked(acct) {
			return false
		}
	}
	for _, acct := range a.preconditions {
		if !o.availableLocked(acct) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) stillPendingLocked(id interfaces.ActionId) bool {
	for _, a := range o.pending {
		if a.id == id {
			return true
		}
	}
	return false
}

// waitForSatisfiedLocked reports whether id has already completed
// successfully. Once an action finishes, finish() removes it from
// o.active, so "not active and not pending" plus the satisfied-set below
// means it is done; completedOK tracks whether that completion was a
// success, since a failed precondition should never unblock its dependent.
func (o *Orchestrator) waitForSatisfiedLocked(id interfaces.ActionId) bool {
	ok, seen := o.completedOK[id]
	return seen && ok
}

// availableLocked reports whether acct's services may accept a new action:
// not in the unavailable set, and either unbound or bound only to actions
// whose services advertise ConcurrentActions (spec.md §4.4, §5).
func (o *Orchestrator) availableLocked(acct models.AccountId) bool {
	if o.unavailable[acct] {
		return false
	}
	bound := o.bound[acct]
	if len(bound) == 0 {
		return true
	}
	svc := o.services[o.resolveMasterLocked(acct)]
	if svc == nil {
		return false
	}
	return o.concurrentCapableLocked(acct)
}

func (o *Orchestrator) concurrentCapableLocked(acct models.AccountId) bool {
	svc := o.services[o.resolveMasterLocked(acct)]
	if svc == nil {
		return false
	}
	if svc.source != nil && svc.source.Capabilities().ConcurrentActions {
		return true
	}
	if svc.sink != nil && svc.sink.Capabilities().ConcurrentActions {
		return true
	}
	return false
}

func (o *Orchestrator) resolveMasterLocked(acct models.AccountId) models.AccountId {
	if master, ok := o.masterOf[acct]; ok && master.Valid() {
		return master
	}
	return acct
}

// bindLocked attaches a to every account it needs (must be called with
// o.mu held, right before handing it to dispatch).
func (o *Orchestrator) bindLocked(a *action) {
	a.dispatched = true
	for _, acct := range append(append([]models.AccountId{}, a.services...), a.preconditions...) {
		if o.bound[acct] == nil {
			o.bound[acct] = make(map[interfaces.ActionId]bool)
		}
		o.bound[acct][a.id] = true
	}
	if a.completionKind == enum.CompletionRetrieval {
		o.retrievalCount[a.primaryAccount()]++
	}
	if a.completionKind == enum.CompletionTransmission {
		o.transmissionCount[a.primaryAccount()]++
	}
	o.syncInProgressSetsLocked()
}

func (a *action) primaryAccount() models.AccountId {
	if len(a.services) == 0 {
		return ""
	}
	return a.services[0]
}

// syncInProgressSetsLocked must be called with o.mu held; it is a cheap
// recompute, acceptable at dispatch/finish cadence (not per-event), whose
// store writes run on their own goroutine.
func (o *Orchestrator) syncInProgressSetsLocked() {
	retrieving := make([]models.AccountId, 0, len(o.retrievalCount))
	for acct, n := range o.retrievalCount {
		if n > 0 {
			retrieving = append(retrieving, acct)
		}
	}
	transmitting := make([]models.AccountId, 0, len(o.transmissionCount))
	for acct, n := range o.transmissionCount {
		if n > 0 {
			transmitting = append(transmitting, acct)
		}
	}
	go func() {
		ctx := context.Background()
		if err := o.store.SetRetrievalInProgress(ctx, retrieving); err != nil {
			o.log.Warnf("orchestrator: set retrieval in progress: %v", err)
		}
		if err := o.store.SetTransmissionInProgress(ctx, transmitting); err != nil {
			o.log.Warnf("orchestrator: set transmission in progress: %v", err)
		}
	}()
}

// dispatch hands a to its bound services and runs the matching Source/Sink
// method on its own goroutine, reporting through an actionSink.
func (o *Orchestrator) dispatch(ctx context.Context, a *action) {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	a.cancel = cancel
	o.mu.Unlock()

	go func() {
		span, runCtx := tracing.StartTracerSpan(runCtx, "Orchestrator.dispatch."+a.requestType.String())
		tracing.TagComponentService(span)
		span.SetTag("correlation.id", newCorrelationID())
		defer span.Finish()

		sink := &actionSink{o: o, a: a}
		err := o.execute(runCtx, a, sink)
		if err != nil {
			tracing.TraceErr(span, err)
			sink.ActivityChanged(a.id, enum.ActivityFailed)
		}
	}()
}

// execute dispatches a to the concrete Source/Sink method its RequestType
// and Params name. Success is reported by the callee via sink (per
// internal/messageservice's contract); a non-nil return here is an error
// the service raised before it could even start (e.g. no registered
// service), which the caller turns into ActivityFailed.
func (o *Orchestrator) execute(ctx context.Context, a *action, sink interfaces.StatusSink) error {
	acct := a.primaryAccount()

	o.mu.Lock()
	svc := o.services[o.resolveMasterLocked(acct)]
	o.mu.Unlock()
	if svc == nil {
		return errors.Wrap(mailstack_errors.ErrNoConnection, "no registered service")
	}

	switch a.requestType {
	case enum.RetrieveFolderList:
		if svc.source == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.source.RetrieveFolderList(ctx, a.id, sink)

	case enum.RetrieveMessageList:
		p := a.params.(RetrieveMessageListParams)
		if svc.source == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.source.RetrieveMessageList(ctx, a.id, p.Folder, sink)

	case enum.RetrieveMessages:
		p := a.params.(RetrieveMessagesParams)
		if svc.source == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.source.RetrieveMessages(ctx, a.id, p.IDs, p.Sections, sink)

	case enum.RetrieveMessagePart:
		p := a.params.(RetrieveMessagePartParams)
		if svc.source == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.source.RetrieveMessagePart(ctx, a.id, p.ID, p.Section, sink)

	case enum.RetrieveMessageRange:
		p := a.params.(RetrieveMessageRangeParams)
		if svc.source == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.source.RetrieveMessageRange(ctx, a.id, p.Folder, p.Minimum, sink)

	case enum.RetrieveMessagePartRange:
		// spec.md §9's open question: the corrected behavior sets
		// retrieval-in-progress on the success path, which bindLocked
		// already guarantees uniformly for every RequestType mapped to
		// CompletionRetrieval — RetrieveMessagePartRange included. No
		// special case is needed here precisely because that bookkeeping
		// was hoisted out of the per-request dispatch path.
		p := a.params.(RetrieveMessagePartRangeParams)
		if svc.source == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.source.RetrieveMessagePartRange(ctx, a.id, p.ID, p.Section, p.Minimum, sink)

	case enum.RetrieveAll:
		p := a.params.(RetrieveAllParams)
		if svc.source == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.source.RetrieveAll(ctx, a.id, p.Folder, sink)

	case enum.ExportUpdates:
		p := a.params.(ExportUpdatesParams)
		if svc.source == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.source.ExportUpdates(ctx, a.id, p.Folder, sink)

	case enum.Synchronize:
		p := a.params.(SynchronizeParams)
		if svc.source == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.source.Synchronize(ctx, a.id, p.Folder, sink)

	case enum.SearchMessages:
		p := a.params.(SearchMessagesParams)
		if svc.source != nil && svc.source.Capabilities().SupportsRemoteSearch {
			ids, err := svc.source.SearchMessages(ctx, a.id, p.Folder, p.Text, sink)
			if err != nil {
				return err
			}
			o.publish(interfaces.Response{Kind: interfaces.RespMatchingMessageIds, Action: a.id, MatchingIDs: ids})
			return nil
		}
		return o.search.run(ctx, a, acct, p, sink)

	case enum.TransmitMessages:
		p := a.params.(TransmitMessagesParams)
		if svc.sink == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.sink.TransmitMessages(ctx, a.id, p.IDs, sink)

	case enum.DeleteMessages:
		p := a.params.(DeleteMessagesParams)
		if svc.sink == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.sink.DeleteMessages(ctx, a.id, p.IDs, sink)

	case enum.CopyMessages:
		p := a.params.(CopyMessagesParams)
		if svc.sink == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.sink.CopyMessages(ctx, a.id, p.IDs, p.Dest, sink)

	case enum.MoveMessages:
		p := a.params.(MoveMessagesParams)
		if svc.sink == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.sink.MoveMessages(ctx, a.id, p.IDs, p.Dest, sink)

	case enum.FlagMessages:
		p := a.params.(FlagMessagesParams)
		if svc.sink == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.sink.FlagMessages(ctx, a.id, p.IDs, p.Bit, p.Value, sink)

	case enum.CreateFolder:
		p := a.params.(CreateFolderParams)
		if svc.sink == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.sink.CreateFolder(ctx, a.id, p.Path, sink)

	case enum.RenameFolder:
		p := a.params.(RenameFolderParams)
		if svc.sink == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.sink.RenameFolder(ctx, a.id, p.Folder, p.NewPath, sink)

	case enum.DeleteFolder:
		p := a.params.(DeleteFolderParams)
		if svc.sink == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.sink.DeleteFolder(ctx, a.id, p.Folder, sink)

	case enum.ProtocolRequest:
		p := a.params.(ProtocolRequestParams)
		if svc.sink == nil {
			return mailstack_errors.ErrNoConnection
		}
		return svc.sink.ProtocolRequest(ctx, a.id, p.Payload, sink)

	default:
		return errors.Wrapf(mailstack_errors.ErrFrameworkFault, "unhandled request type %s", a.requestType)
	}
}

// finish is the single idempotent completion path for an action, reached
// from either ActivityFailed or MessageActionCompleted (spec.md §7). It
// unbinds services, updates the in-progress sets, rewrites the journal,
// fires the terminal completion Response exactly once, runs post-transmit
// bookkeeping on success, and re-runs the dispatcher since services just
// freed up.
func (o *Orchestrator) finish(ctx context.Context, a *action, success bool) {
	if !a.markReported() {
		return
	}

	o.mu.Lock()
	for _, acct := range append(append([]models.AccountId{}, a.services...), a.preconditions...) {
		if m := o.bound[acct]; m != nil {
			delete(m, a.id)
			if len(m) == 0 {
				delete(o.bound, acct)
			}
		}
	}
	if a.completionKind == enum.CompletionRetrieval {
		o.retrievalCount[a.primaryAccount()]--
	}
	if a.completionKind == enum.CompletionTransmission {
		o.transmissionCount[a.primaryAccount()]--
	}
	o.syncInProgressSetsLocked()
	delete(o.active, a.id)
	if o.completedOK == nil {
		o.completedOK = make(map[interfaces.ActionId]bool)
	}
	o.completedOK[a.id] = success
	activity := enum.ActivityFailed
	if success {
		activity = enum.ActivitySuccessful
	}
	o.mu.Unlock()

	if success {
		o.publish(interfaces.Response{Kind: interfaces.RespActivityChanged, Action: a.id, Activity: activity})
	}
	o.publish(interfaces.TerminalResponseFor(a.id, a.requestType))

	if err := o.journal.remove(a.id); err != nil {
		o.log.Warnf("orchestrator: journal remove %d: %v", a.id, err)
	}

	if success && a.requestType == enum.TransmitMessages {
		o.enqueuePostTransmit(ctx, a)
	}

	o.runDispatcher(ctx)
}

// enqueuePostTransmit is spec.md §4.4's "when a Sink completes with
// successful messagesTransmitted, the orchestrator enqueues a follow-up
// flag-update action that sets Sent and clears Outbox|Draft|LocalOnly".
func (o *Orchestrator) enqueuePostTransmit(ctx context.Context, a *action) {
	p, ok := a.params.(TransmitMessagesParams)
	if !ok || len(p.IDs) == 0 {
		return
	}
	for _, bit := range []struct {
		bit   enum.StatusBit
		value bool
	}{
		{enum.Sent, true},
		{enum.Outbox, false},
		{enum.Draft, false},
		{enum.LocalOnly, false},
	} {
		req := interfaces.Request{
			Type:     enum.FlagMessages,
			Params:   FlagMessagesParams{IDs: p.IDs, Bit: bit.bit, Value: bit.value},
			Services: a.services,
		}
		if _, err := o.Submit(ctx, req); err != nil {
			o.log.Warnf("orchestrator: post-transmit flag update: %v", err)
		}
	}
}
