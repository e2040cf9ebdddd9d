package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/mailstore"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

func testLogger() logger.Logger {
	l := logger.NewAppLogger(&logger.Config{DevMode: true})
	l.InitLogger()
	return l
}

// newTestOrchestrator builds an Orchestrator wired to an in-memory store and
// a fake factory, bypassing Start's journal file lock and tick cron so tests
// can drive runDispatcher/checkExpiry deterministically.
func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *mailstore.MemStore, *fakeFactory) {
	t.Helper()
	store := mailstore.NewMemStore()
	factory := newFakeFactory()
	o := New(cfg, store, factory, testLogger())
	return o, store, factory
}

func registerAccount(t *testing.T, o *Orchestrator, store *mailstore.MemStore, factory *fakeFactory, svc *fakeService) {
	t.Helper()
	acct := &models.Account{ID: svc.id, EmailAddress: string(svc.id) + "@example.com", SyncEnabled: true}
	store.PutAccount(acct)
	factory.register(svc)
	require.NoError(t, o.registerAccount(context.Background(), acct))
}

// collectUntil drains ch until pred matches one response or the timeout
// elapses, returning every response seen along the way.
func collectUntil(t *testing.T, ch <-chan interfaces.Response, timeout time.Duration, pred func(interfaces.Response) bool) []interfaces.Response {
	t.Helper()
	var seen []interfaces.Response
	deadline := time.After(timeout)
	for {
		select {
		case r := <-ch:
			seen = append(seen, r)
			if pred(r) {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching response, saw: %+v", seen)
			return seen
		}
	}
}

func isTerminal(r interfaces.Response) bool {
	switch r.Kind {
	case interfaces.RespRetrievalCompleted, interfaces.RespTransmissionCompleted,
		interfaces.RespStorageActionCompleted, interfaces.RespSearchCompleted,
		interfaces.RespProtocolRequestCompleted:
		return true
	}
	return false
}

// Arrange/Act/Assert, matching the teacher's internal/cron/cron_test.go style.

func TestOrchestrator_Submit_UnconfiguredAccountFailsImmediately(t *testing.T) {
	// Arrange
	o, _, _ := newTestOrchestrator(t, Config{})

	// Act
	_, err := o.Submit(context.Background(), interfaces.Request{Type: enum.RetrieveFolderList})

	// Assert
	assert.Error(t, err)
}

func TestOrchestrator_Dispatch_RunsAndReportsSuccessOnce(t *testing.T) {
	// Arrange
	o, store, factory := newTestOrchestrator(t, Config{})
	svc := newFakeService("acct-1")
	registerAccount(t, o, store, factory, svc)
	ctx := context.Background()
	ch, err := o.Events(ctx)
	require.NoError(t, err)

	// Act
	id, err := o.RetrieveFolderList(ctx, "acct-1")
	require.NoError(t, err)
	o.runDispatcher(ctx)

	// Assert
	responses := collectUntil(t, ch, 2*time.Second, isTerminal)
	var successes, terminals int
	for _, r := range responses {
		if r.Action != id {
			continue
		}
		if r.Kind == interfaces.RespActivityChanged && r.Activity == enum.ActivitySuccessful {
			successes++
		}
		if isTerminal(r) {
			terminals++
		}
	}
	assert.Equal(t, 1, successes, "Successful must be reported exactly once (spec.md §7)")
	assert.Equal(t, 1, terminals)
}

func TestOrchestrator_Dispatch_SecondActionWaitsForNonConcurrentService(t *testing.T) {
	// Arrange: a hanging action occupies the service; a second request on the
	// same account must stay queued rather than dispatch alongside it.
	o, store, factory := newTestOrchestrator(t, Config{})
	svc := newFakeService("acct-1")
	svc.hang = true
	registerAccount(t, o, store, factory, svc)
	ctx := context.Background()

	// Act
	_, err := o.RetrieveFolderList(ctx, "acct-1")
	require.NoError(t, err)
	o.runDispatcher(ctx)
	_, err = o.RetrieveMessageList(ctx, "acct-1", "folder-1")
	require.NoError(t, err)
	o.runDispatcher(ctx)

	// Assert
	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Len(t, o.active, 1, "only the first action should be bound")
	assert.Len(t, o.pending, 1, "the second action should remain queued")
}

func TestOrchestrator_Dispatch_ConcurrentCapableServiceRunsBothActions(t *testing.T) {
	// Arrange
	o, store, factory := newTestOrchestrator(t, Config{})
	svc := newFakeService("acct-1")
	svc.hang = true
	svc.caps = interfaces.Capabilities{ConcurrentActions: true}
	registerAccount(t, o, store, factory, svc)
	ctx := context.Background()

	// Act
	_, err := o.RetrieveFolderList(ctx, "acct-1")
	require.NoError(t, err)
	o.runDispatcher(ctx)
	_, err = o.RetrieveMessageList(ctx, "acct-1", "folder-1")
	require.NoError(t, err)
	o.runDispatcher(ctx)

	// Assert
	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Len(t, o.active, 2, "a concurrent-capable service should accept both actions")
	assert.Empty(t, o.pending)
}

func TestOrchestrator_Expiry_FailsHungActionAndReregistersService(t *testing.T) {
	// Arrange: an action whose service never reports progress must be failed
	// with ErrTimeout within ExpirySeconds, and its service re-registered to
	// recover the session (spec.md §4.4, scenario 6).
	o, store, factory := newTestOrchestrator(t, Config{ExpirySeconds: 1})
	svc := newFakeService("acct-1")
	svc.hang = true
	registerAccount(t, o, store, factory, svc)
	ctx := context.Background()
	ch, err := o.Events(ctx)
	require.NoError(t, err)

	// Act
	id, err := o.RetrieveFolderList(ctx, "acct-1")
	require.NoError(t, err)
	o.runDispatcher(ctx)

	o.mu.Lock()
	for _, a := range o.active {
		a.lastProgress = time.Now().Add(-2 * time.Second)
	}
	o.mu.Unlock()
	o.checkExpiry(ctx)

	// Assert
	responses := collectUntil(t, ch, 2*time.Second, isTerminal)
	// checkExpiry has already returned, so anything it published after the
	// terminal response is buffered on ch.
	for drained := false; !drained; {
		select {
		case r := <-ch:
			responses = append(responses, r)
		default:
			drained = true
		}
	}
	var failed, reregistered bool
	for _, r := range responses {
		if r.Action == id && r.Kind == interfaces.RespActivityChanged && r.Activity == enum.ActivityFailed {
			failed = true
		}
		if r.Kind == interfaces.RespConnectivityChanged && r.Account == "acct-1" && r.ConnectionStatus == enum.ConnectionStatusConnected {
			reregistered = true
		}
	}
	assert.True(t, failed, "expired action must report ActivityFailed exactly once")
	assert.True(t, reregistered, "the expired action's account must be re-registered")

	reason, cancelled := svc.wasCancelled(id)
	assert.True(t, cancelled)
	assert.Equal(t, enum.Timeout, reason)

	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		_, stillBound := o.bound["acct-1"][id]
		return !stillBound
	}, time.Second, 10*time.Millisecond, "finish must unbind the expired action's services")
}

func TestOrchestrator_Cancel_PendingActionRemovedBeforeDispatch(t *testing.T) {
	// Arrange: the service is busy with a hung action so the second request
	// stays in the queue, then gets cancelled before it ever dispatches.
	o, store, factory := newTestOrchestrator(t, Config{})
	svc := newFakeService("acct-1")
	svc.hang = true
	registerAccount(t, o, store, factory, svc)
	ctx := context.Background()

	_, err := o.RetrieveFolderList(ctx, "acct-1")
	require.NoError(t, err)
	o.runDispatcher(ctx)
	second, err := o.RetrieveMessageList(ctx, "acct-1", "folder-1")
	require.NoError(t, err)
	o.runDispatcher(ctx)

	// Act
	err = o.Cancel(ctx, second)

	// Assert
	assert.NoError(t, err)
	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Len(t, o.pending, 0)
	assert.Len(t, o.active, 1)
}

func TestOrchestrator_Cancel_ActiveActionCancelsBoundService(t *testing.T) {
	// Arrange
	o, store, factory := newTestOrchestrator(t, Config{})
	svc := newFakeService("acct-1")
	svc.hang = true
	registerAccount(t, o, store, factory, svc)
	ctx := context.Background()

	id, err := o.RetrieveFolderList(ctx, "acct-1")
	require.NoError(t, err)
	o.runDispatcher(ctx)

	// Act
	err = o.Cancel(ctx, id)

	// Assert
	require.NoError(t, err)
	reason, cancelled := svc.wasCancelled(id)
	assert.True(t, cancelled)
	assert.Equal(t, enum.Cancel, reason)
}

func TestOrchestrator_Cancel_UnknownActionReturnsError(t *testing.T) {
	// Arrange
	o, _, _ := newTestOrchestrator(t, Config{})

	// Act
	err := o.Cancel(context.Background(), interfaces.ActionId(999))

	// Assert
	assert.Error(t, err)
}

func TestOrchestrator_PostTransmitBookkeeping_EnqueuesFlagUpdate(t *testing.T) {
	// Arrange: spec.md §4.4 "when a Sink completes with successful
	// messagesTransmitted, the orchestrator enqueues a follow-up flag-update
	// action that sets Sent and clears Outbox|Draft|LocalOnly."
	o, store, factory := newTestOrchestrator(t, Config{})
	svc := newFakeService("acct-1")
	registerAccount(t, o, store, factory, svc)
	ctx := context.Background()
	ch, err := o.Events(ctx)
	require.NoError(t, err)

	// Act
	_, err = o.TransmitMessages(ctx, "acct-1", []models.MessageId{"msg-1"})
	require.NoError(t, err)
	// TransmitMessages submits a precondition RetrieveFolderList first, then
	// chains the send; both need dispatching.
	o.runDispatcher(ctx)

	// Assert: drain long enough to observe the precondition, the send, and
	// the post-transmit flag-update action all complete.
	var flagUpdateSeen bool
	deadline := time.After(2 * time.Second)
	for !flagUpdateSeen {
		select {
		case r := <-ch:
			if r.Kind == interfaces.RespActionStarted && r.RequestType == enum.FlagMessages {
				flagUpdateSeen = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for post-transmit FlagMessages action")
		}
		o.runDispatcher(ctx)
	}
	assert.True(t, flagUpdateSeen)
}

func TestOrchestrator_RegisterAccount_MasterMappingSharesServices(t *testing.T) {
	// Arrange: a "master account" mapping lets one account's services stand
	// in for another (spec.md §4.4).
	o, store, factory := newTestOrchestrator(t, Config{})
	master := newFakeService("acct-master")
	registerAccount(t, o, store, factory, master)

	alias := &models.Account{ID: "acct-alias", MasterAccountID: "acct-master", SyncEnabled: true}
	store.PutAccount(alias)
	// The alias has no factory entry of its own; it is only ever looked up
	// through the master mapping.
	require.NoError(t, o.registerAccount(context.Background(), alias))

	// Act
	o.mu.Lock()
	resolved := o.resolveMasterLocked("acct-alias")
	o.mu.Unlock()

	// Assert
	assert.Equal(t, models.AccountId("acct-master"), resolved)
}

func TestOrchestrator_Journal_UnflushedActionsReportedFailedOnReplay(t *testing.T) {
	// Arrange: spec.md §8 "Journal: killing the process after submission and
	// before completion results in exactly the submitted action-id(s) being
	// reported Failed on the next start."
	journalPath := t.TempDir() + "/mailstack.journal"
	o, store, factory := newTestOrchestrator(t, Config{
		JournalPath:        journalPath,
		JournalSettleDelay: 10 * time.Millisecond,
	})
	svc := newFakeService("acct-1")
	svc.hang = true // never completes, simulating a crash mid-flight
	registerAccount(t, o, store, factory, svc)

	require.NoError(t, o.journal.lock())
	defer o.journal.unlock()

	ctx := context.Background()
	ch, err := o.Events(ctx)
	require.NoError(t, err)

	id, err := o.RetrieveFolderList(ctx, "acct-1")
	require.NoError(t, err)
	// Deliberately do not dispatch or finish id: it stays in the journal as
	// if the process had crashed before completion.

	// Act
	go o.replayJournal(ctx)

	// Assert
	var failed bool
	deadline := time.After(1 * time.Second)
	for !failed {
		select {
		case r := <-ch:
			if r.Action == id && r.Kind == interfaces.RespActivityChanged && r.Activity == enum.ActivityFailed {
				failed = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for journal replay to report the crashed action failed")
		}
	}

	ids, err := o.journal.ids()
	require.NoError(t, err)
	assert.NotContains(t, ids, id, "replay must clear the journal entry once reported")
}

// TestDispatchRetrieveMessagePartRange_SetsInProgressOnSuccess is the
// regression test spec.md §9's Open Question calls for: the corrected
// behavior sets retrieval-in-progress on dispatch and clears it on
// completion, matching every other dispatch* path, rather than the
// original's `if (!success) setRetrievalInProgress` inversion which would
// have set the flag only on failure.
func TestDispatchRetrieveMessagePartRange_SetsInProgressOnSuccess(t *testing.T) {
	// Arrange: the service hangs so the test can observe the in-flight state
	// before the action completes successfully.
	o, store, factory := newTestOrchestrator(t, Config{})
	svc := newFakeService("acct-1")
	svc.hang = true
	registerAccount(t, o, store, factory, svc)
	ctx := context.Background()

	// Act: dispatch and inspect the in-progress set while still bound.
	id, err := o.RetrieveMessagePartRange(ctx, "acct-1", "msg-1", models.SectionProperties{}, 4096)
	require.NoError(t, err)
	o.runDispatcher(ctx)

	require.Eventually(t, func() bool {
		retrieving, err := store.RetrievalInProgress(context.Background())
		require.NoError(t, err)
		return containsAccount(retrieving, "acct-1")
	}, time.Second, 10*time.Millisecond, "acct-1 must be marked retrieval-in-progress once RetrieveMessagePartRange is dispatched")

	// Act: now let the action succeed.
	svc.hang = false
	o.mu.Lock()
	a := o.active[id]
	o.mu.Unlock()
	require.NotNil(t, a)
	sink := &actionSink{o: o, a: a}
	sink.MessageActionCompleted(id, enum.CompletionKindFor(enum.RetrieveMessagePartRange))

	// Assert: completion (success) clears the in-progress membership.
	require.Eventually(t, func() bool {
		retrieving, err := store.RetrievalInProgress(context.Background())
		require.NoError(t, err)
		return !containsAccount(retrieving, "acct-1")
	}, time.Second, 10*time.Millisecond, "acct-1 must be cleared once the successful action finishes")
}

func containsAccount(ids []models.AccountId, target models.AccountId) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
