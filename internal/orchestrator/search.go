package orchestrator

import (
	"context"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// searchScheduler implements spec.md §4.4's local search scheduler: message
// metadata the store already holds is matched a batch at a time so a large
// mailbox doesn't block the dispatch tick. It is only consulted when the
// dispatched account's Source lacks SupportsRemoteSearch; accounts that can
// search server-side go through Source.SearchMessages directly instead.
type searchScheduler struct {
	o *Orchestrator
}

func newSearchScheduler(o *Orchestrator) *searchScheduler {
	return &searchScheduler{o: o}
}

// run performs one searchMessages action's local matching pass, batching the
// candidate set so the dispatch goroutine periodically checks for
// cancellation between batches rather than scanning a whole folder at once.
func (s *searchScheduler) run(ctx context.Context, a *action, acct models.AccountId, p SearchMessagesParams, sink interfaces.StatusSink) error {
	ids, err := s.o.store.QueryMessages(ctx, interfaces.And(
		interfaces.KeyByAccount(acct),
		interfaces.KeyByFolder(p.Folder),
	), interfaces.SortByMessageID)
	if err != nil {
		return err
	}

	batchSize := s.o.cfg.SearchBatchSize
	var matched []models.MessageId
	done := 0
	for done < len(ids) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := done + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[done:end]

		keys := make([]interfaces.MessageKey, 0, len(chunk))
		for _, id := range chunk {
			keys = append(keys, interfaces.KeyByMessage(id))
		}
		rows, err := s.o.store.MessagesMetaData(ctx, interfaces.Or(keys...), interfaces.AllRows)
		if err != nil {
			return err
		}
		for _, m := range rows {
			if m.Has(enum.ContentAvailable) {
				matched = append(matched, m.ID)
			}
		}

		done = end
		sink.ProgressChanged(a.id, done, len(ids))
	}

	s.o.publish(interfaces.Response{Kind: interfaces.RespMatchingMessageIds, Action: a.id, MatchingIDs: matched})
	sink.MessageActionCompleted(a.id, enum.CompletionKindFor(enum.SearchMessages))
	return nil
}

// tick is a hook for periodic, account-wide housekeeping of the search
// scheduler itself; the dispatcher already drives per-action batching via
// run, so there is nothing further to do per tick today.
func (s *searchScheduler) tick(ctx context.Context) {}
