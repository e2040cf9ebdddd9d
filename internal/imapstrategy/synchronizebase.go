package imapstrategy

import (
	"context"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// ReportedUIDs is the server's view of one folder's membership, split by
// the SEEN/UNSEEN searches spec.md §4.3.3 issues, plus the fallback ALL
// search used when SEEN∪UNSEEN disagrees with EXISTS.
type ReportedUIDs struct {
	Seen       map[uint32]bool
	Unseen     map[uint32]bool
	All        map[uint32]bool
	UsedAllFallback bool
	Exists     uint32
}

// ReconcileResult is the outcome of reconciling one folder's stored
// messages against ReportedUIDs (spec.md §4.3.3).
type ReconcileResult struct {
	// Inconclusive is true when even the ALL fallback disagrees with
	// EXISTS: "no local deletions are made, no read-elsewhere flags are
	// cleared, and only additions proceed".
	Inconclusive bool

	Additions         []uint32
	Disappearances    []models.MessageId
	Reappearances     []models.MessageId
	NewlyReadElsewhere []models.MessageId
}

// unionReported returns the union of the SEEN and UNSEEN search results and
// reports whether they
// jointly account for every message in the mailbox, per spec.md §4.3.3:
// "The union must equal EXISTS; otherwise fall back to UID SEARCH ALL."
func unionReported(seen, unseen map[uint32]bool, exists uint32) (map[uint32]bool, bool) {
	union := make(map[uint32]bool, len(seen)+len(unseen))
	for uid := range seen {
		union[uid] = true
	}
	for uid := range unseen {
		union[uid] = true
	}
	return union, uint32(len(union)) == exists
}

// Reconcile implements spec.md §4.3.3's reconciliation rules. reported.All
// is consulted only when reported.Seen/Unseen disagree with Exists (the
// caller is expected to have already attempted the ALL fallback and set
// UsedAllFallback/populated All in that case).
func Reconcile(ctx context.Context, store interfaces.MailStore, accountID models.AccountId, folder *models.Folder, reported ReportedUIDs) (ReconcileResult, error) {
	union, ok := unionReported(reported.Seen, reported.Unseen, reported.Exists)
	reportedSet := union
	inconclusive := false

	if !ok {
		if reported.UsedAllFallback {
			reportedSet = reported.All
			if uint32(len(reportedSet)) != reported.Exists {
				inconclusive = true
			}
		} else {
			inconclusive = true
		}
	}

	stored, err := store.MessagesMetaData(ctx, interfaces.And(
		interfaces.KeyByAccount(accountID),
		interfaces.KeyByFolder(folder.ID),
	), interfaces.AllRows)
	if err != nil {
		return ReconcileResult{}, errors.Wrap(err, "load stored metadata")
	}

	storedByUID := make(map[uint32]*models.MessageMetadata, len(stored))
	for _, m := range stored {
		if uid, isNum := m.ServerUID.UID(); isNum {
			storedByUID[uid] = m
		}
	}

	result := ReconcileResult{Inconclusive: inconclusive}

	// Additions: reported but not stored.
	reportedUIDs := make([]uint32, 0, len(reportedSet))
	for uid := range reportedSet {
		reportedUIDs = append(reportedUIDs, uid)
	}
	sort.Slice(reportedUIDs, func(i, j int) bool { return reportedUIDs[i] < reportedUIDs[j] })
	for _, uid := range reportedUIDs {
		if _, ok := storedByUID[uid]; !ok {
			result.Additions = append(result.Additions, uid)
		}
	}

	if inconclusive {
		return result, nil
	}

	for uid, m := range storedByUID {
		_, isReported := reportedSet[uid]
		switch {
		case !isReported && !m.Has(enum.Removed):
			result.Disappearances = append(result.Disappearances, m.ID)
		case isReported && m.Has(enum.Removed):
			result.Reappearances = append(result.Reappearances, m.ID)
		}
		if reported.Seen[uid] && !m.Has(enum.ReadElsewhere) {
			result.NewlyReadElsewhere = append(result.NewlyReadElsewhere, m.ID)
		}
	}

	return result, nil
}

// ApplyReconcile writes the result of Reconcile back to the store, per
// spec.md §4.3.3's per-rule writes: Removed set on disappearances, Removed
// cleared on reappearances, ReadElsewhere set on newly read messages. It
// purges no removal records.
func ApplyReconcile(ctx context.Context, store interfaces.MailStore, accountID models.AccountId, folder *models.Folder, result ReconcileResult) error {
	for _, id := range result.Disappearances {
		if err := store.UpdateMessagesMetaData(ctx, interfaces.KeyByMessage(id), enum.Removed, true); err != nil {
			return errors.Wrap(err, "mark disappeared")
		}
	}
	for _, id := range result.Reappearances {
		if err := store.UpdateMessagesMetaData(ctx, interfaces.KeyByMessage(id), enum.Removed, false); err != nil {
			return errors.Wrap(err, "clear removed on reappearance")
		}
	}
	for _, id := range result.NewlyReadElsewhere {
		if err := store.UpdateMessagesMetaData(ctx, interfaces.KeyByMessage(id), enum.ReadElsewhere, true); err != nil {
			return errors.Wrap(err, "set read-elsewhere")
		}
	}
	return nil
}

// SearchReported issues the UID SEARCH SEEN/UNSEEN pair (and, if needed,
// the ALL fallback) described in spec.md §4.3.3.
func SearchReported(c *Context) (ReportedUIDs, error) {
	seenCriteria := imap.NewSearchCriteria()
	seenCriteria.WithFlags = []string{imap.SeenFlag}
	seenUIDs, err := c.Conn.UIDSearch(seenCriteria)
	if err != nil {
		return ReportedUIDs{}, errors.Wrap(err, "uid search seen")
	}

	unseenCriteria := imap.NewSearchCriteria()
	unseenCriteria.WithoutFlags = []string{imap.SeenFlag}
	unseenUIDs, err := c.Conn.UIDSearch(unseenCriteria)
	if err != nil {
		return ReportedUIDs{}, errors.Wrap(err, "uid search unseen")
	}

	props := c.Conn.Properties()
	reported := ReportedUIDs{
		Seen:   toSet(seenUIDs),
		Unseen: toSet(unseenUIDs),
		Exists: props.Exists,
	}

	if _, ok := unionReported(reported.Seen, reported.Unseen, reported.Exists); !ok {
		allUIDs, err := c.Conn.UIDSearch(imap.NewSearchCriteria())
		if err != nil {
			return ReportedUIDs{}, errors.Wrap(err, "uid search all")
		}
		reported.All = toSet(allUIDs)
		reported.UsedAllFallback = true
	}

	return reported, nil
}

func toSet(uids []uint32) map[uint32]bool {
	out := make(map[uint32]bool, len(uids))
	for _, u := range uids {
		out[u] = true
	}
	return out
}
