package orchestrator

import (
	"context"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// actionSink is the interfaces.StatusSink a dispatched action's Source/Sink
// call reports through. It is the only place spec.md §7's "exactly one
// terminal activity event" and §3's "reported" flag are enforced: the
// underlying Source/Sink is free to call ActivityChanged(Failed) from a
// short-circuiting error path without ever reaching MessageActionCompleted,
// so finish() is reached from either signal and is itself idempotent.
type actionSink struct {
	o *Orchestrator
	a *action
}

func (s *actionSink) ActivityChanged(id interfaces.ActionId, status enum.ActivityStatus) {
	s.o.mu.Lock()
	s.a.touchProgress()
	s.o.mu.Unlock()

	s.o.publish(interfaces.Response{Kind: interfaces.RespActivityChanged, Action: id, Activity: status})

	if status == enum.ActivityFailed {
		s.o.finish(context.Background(), s.a, false)
	}
}

func (s *actionSink) ProgressChanged(id interfaces.ActionId, done, total int) {
	s.o.mu.Lock()
	s.a.touchProgress()
	s.o.mu.Unlock()
	s.o.publish(interfaces.Response{Kind: interfaces.RespProgressChanged, Action: id, Done: done, Total: total})
}

func (s *actionSink) StatusChanged(id interfaces.ActionId, status interfaces.StatusEvent) {
	s.o.mu.Lock()
	s.a.touchProgress()
	s.o.mu.Unlock()
	s.o.publish(interfaces.Response{Kind: interfaces.RespStatusChanged, Action: id, Status: status})
}

func (s *actionSink) ConnectivityChanged(account models.AccountId, status enum.ConnectionStatus) {
	s.o.publish(interfaces.Response{Kind: interfaces.RespConnectivityChanged, Account: account, ConnectionStatus: status})
}

// MessageActionCompleted is the success-path terminal signal every Source/
// Sink method in internal/messageservice calls exactly once, after every
// internal phase (list, then fetch, for example) has already reported its
// own intermediate ActivitySuccessful (spec.md §4.3's multi-phase
// strategies). It is therefore the authoritative "this action is done"
// event on the happy path.
func (s *actionSink) MessageActionCompleted(id interfaces.ActionId, kind enum.CompletionKind) {
	s.o.mu.Lock()
	s.a.touchProgress()
	s.o.mu.Unlock()
	s.o.finish(context.Background(), s.a, true)
}

var _ interfaces.StatusSink = (*actionSink)(nil)
