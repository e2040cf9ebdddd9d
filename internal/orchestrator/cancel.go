package orchestrator

import (
	"context"

	"github.com/pkg/errors"

	mailstack_errors "github.com/customeros/mailstack/internal/errors"
	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/interfaces"
)

// Cancel requests that action stop, cooperatively (spec.md §5): bound
// services are asked to cancel, and the action is finished as Failed with
// ErrCancel once the request has been recorded. Cancelling a pending,
// not-yet-dispatched action simply removes it from the queue.
func (o *Orchestrator) Cancel(ctx context.Context, id interfaces.ActionId) error {
	o.mu.Lock()
	if a, ok := o.active[id]; ok {
		o.mu.Unlock()
		o.cancelBoundServices(a, enum.Cancel)
		o.publish(interfaces.Response{Kind: interfaces.RespActivityChanged, Action: id, Activity: enum.ActivityFailed})
		o.finish(ctx, a, false)
		return nil
	}

	for i, a := range o.pending {
		if a.id == id {
			o.pending = append(o.pending[:i], o.pending[i+1:]...)
			o.mu.Unlock()

			if !a.markReported() {
				return nil
			}
			if err := o.journal.remove(id); err != nil {
				o.log.Warnf("orchestrator: journal remove %d on cancel: %v", id, err)
			}
			o.publish(interfaces.Response{Kind: interfaces.RespActivityChanged, Action: id, Activity: enum.ActivityFailed})
			o.publish(interfaces.TerminalResponseFor(id, a.requestType))
			return nil
		}
	}
	o.mu.Unlock()

	return errors.Wrapf(mailstack_errors.ErrInvalidData, "unknown action %d", id)
}
