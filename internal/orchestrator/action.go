package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// action is the orchestrator's internal Action record (spec.md §3): a
// Request before dispatch, an "active action" once its services are
// attached.
type action struct {
	id          interfaces.ActionId
	requestType enum.RequestType
	params      any

	services      []models.AccountId
	preconditions []models.AccountId

	// waitFor, when non-zero, names another action that must reach
	// ActivitySuccessful before this one may dispatch (spec.md §4.4
	// precondition chaining, used by transmitMessages).
	waitFor interfaces.ActionId

	expirySeconds int
	// lastProgress is read/written only while o.mu is held; every
	// transition, progress, status, or completion event bumps it, and the
	// expiry ticker compares it against time.Now() (spec.md §4.4).
	lastProgress time.Time

	// reported guards the "Successful is fired at most once per action"
	// rule (spec.md §7): 0 = not yet reported, 1 = reported.
	reported int32

	dispatched bool
	cancel     context.CancelFunc

	// completionKind is fixed at submission from the RequestType so the
	// in-progress bookkeeping (spec.md §3 invariant) doesn't need to
	// re-derive it at completion time.
	completionKind enum.CompletionKind
}

// markReported reports whether this call is the one that transitions the
// action from unreported to reported; subsequent calls return false.
func (a *action) markReported() bool {
	return atomic.CompareAndSwapInt32(&a.reported, 0, 1)
}

func (a *action) isReported() bool {
	return atomic.LoadInt32(&a.reported) != 0
}

func (a *action) touchProgress() {
	a.lastProgress = time.Now()
}
