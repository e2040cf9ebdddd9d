package orchestrator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// registerAccount instantiates acct's Source/Sink pair through the factory
// and records its master-account mapping (spec.md §4.4). It is safe to call
// again for an already-registered account; the previous pair is replaced.
func (o *Orchestrator) registerAccount(ctx context.Context, acct *models.Account) error {
	source, sink, err := o.factory.NewServices(ctx, acct)
	if err != nil {
		o.mu.Lock()
		o.unavailable[acct.ID] = true
		o.mu.Unlock()
		return errors.Wrapf(err, "new services for account %s", acct.ID)
	}

	o.mu.Lock()
	o.services[acct.ID] = &accountServices{source: source, sink: sink}
	delete(o.unavailable, acct.ID)

	if acct.MasterAccountID.Valid() && acct.MasterAccountID != acct.ID {
		o.masterOf[acct.ID] = acct.MasterAccountID
	} else {
		delete(o.masterOf, acct.ID)
	}
	o.mu.Unlock()

	o.publish(interfaces.Response{
		Kind:             interfaces.RespConnectivityChanged,
		Account:          acct.ID,
		ConnectionStatus: enum.ConnectionStatusConnected,
	})

	return nil
}

// deregisterAccount removes an account's services and marks it unavailable
// so no new action binds to it; actions already bound continue until they
// finish or expire.
func (o *Orchestrator) deregisterAccount(acct models.AccountId) {
	o.mu.Lock()
	delete(o.services, acct)
	delete(o.masterOf, acct)
	o.unavailable[acct] = true
	o.mu.Unlock()

	o.publish(interfaces.Response{
		Kind:             interfaces.RespConnectivityChanged,
		Account:          acct,
		ConnectionStatus: enum.ConnectionStatusDisconnected,
	})
}

// reregisterAccounts rebuilds the Source/Sink pair for every master account
// reachable from accts, the way spec.md §4.4 describes recovering from a
// timed-out action: "its services are re-registered (cancelling in-flight
// work) to recover the session." It is the expiry path's counterpart to
// registerAccount's normal startup/notification path.
func (o *Orchestrator) reregisterAccounts(ctx context.Context, accts []models.AccountId) {
	if len(accts) == 0 {
		return
	}

	targets := make(map[models.AccountId]bool, len(accts))
	for _, id := range accts {
		targets[id] = true
		targets[o.resolveMaster(id)] = true
	}

	accounts, err := o.store.Accounts(ctx)
	if err != nil {
		o.log.Warnf("orchestrator: reload accounts for re-registration: %v", err)
		return
	}
	byID := make(map[models.AccountId]*models.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	for id := range targets {
		acct, ok := byID[id]
		if !ok {
			continue
		}
		if err := o.registerAccount(ctx, acct); err != nil {
			o.log.Warnf("orchestrator: re-register account %s: %v", id, err)
		}
	}
}

// resolveMaster is resolveMasterLocked's exported-to-package, self-locking
// form for callers that don't already hold o.mu.
func (o *Orchestrator) resolveMaster(acct models.AccountId) models.AccountId {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resolveMasterLocked(acct)
}

// onAccountsChanged reacts to store notifications (spec.md §6): only
// changes that did not originate in this process trigger re-registration,
// since a local change already went through registerAccount/deregisterAccount
// directly.
func (o *Orchestrator) onAccountsChanged(ctx context.Context, change interfaces.AccountsChanged) {
	if change.LocalOrigin {
		return
	}

	switch change.Kind {
	case interfaces.AccountsRemoved:
		for _, id := range change.AccountIDs {
			o.deregisterAccount(id)
		}
		return
	}

	accounts, err := o.store.Accounts(ctx)
	if err != nil {
		o.log.Warnf("orchestrator: reload accounts after change: %v", err)
		return
	}

	byID := make(map[models.AccountId]*models.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	for _, id := range change.AccountIDs {
		acct, ok := byID[id]
		if !ok {
			continue
		}
		if err := o.registerAccount(ctx, acct); err != nil {
			o.log.Warnf("orchestrator: register account %s: %v", id, err)
		}
	}
}
