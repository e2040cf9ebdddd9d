package orchestrator

import (
	"context"
	"time"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// checkExpiry fails any active action that has produced no transition,
// progress, status, or completion event for longer than its ExpirySeconds
// (spec.md §4.4). Expiry is reported through the same finish() path as any
// other failure, so it is reported at most once even if the action's
// underlying call also happens to fail concurrently.
func (o *Orchestrator) checkExpiry(ctx context.Context) {
	o.mu.Lock()
	now := time.Now()
	var expired []*action
	for _, a := range o.active {
		if a.isReported() {
			continue
		}
		if now.Sub(a.lastProgress) >= time.Duration(a.expirySeconds)*time.Second {
			expired = append(expired, a)
		}
	}
	o.mu.Unlock()

	for _, a := range expired {
		o.cancelBoundServices(a, enum.Timeout)
		o.publish(interfaces.Response{Kind: interfaces.RespActivityChanged, Action: a.id, Activity: enum.ActivityFailed})
		o.reregisterAccounts(ctx, append(append([]models.AccountId(nil), a.services...), a.preconditions...))
		o.finish(ctx, a, false)
	}
}

// cancelBoundServices asks every Source/Sink a is attached to stop (spec.md
// §5: "cancellation is cooperative"), via the per-account registry entry and
// the action's own context cancel func, where the dispatch goroutine
// supplied one.
func (o *Orchestrator) cancelBoundServices(a *action, reason enum.ErrorKind) {
	o.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	var svcs []*accountServices
	for _, acct := range a.services {
		if svc := o.services[o.resolveMasterLocked(acct)]; svc != nil {
			svcs = append(svcs, svc)
		}
	}
	o.mu.Unlock()

	for _, svc := range svcs {
		if svc.source != nil {
			svc.source.CancelOperation(a.id, reason)
		}
		if svc.sink != nil {
			svc.sink.CancelOperation(a.id, reason)
		}
	}
}
