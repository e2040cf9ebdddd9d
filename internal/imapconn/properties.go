package imapconn

import (
	"sync"

	"github.com/emersion/go-imap"
)

// MailboxProperties is the untagged-response accumulator named in spec.md
// §4.2: it holds the last-known state of the selected mailbox as reported
// by untagged server responses, independent of any in-flight command's
// tagged result.
type MailboxProperties struct {
	mu sync.Mutex

	snap Snapshot

	// expunged accumulates sequence numbers reported removed since the last
	// DrainExpunged call; taking a snapshot does not clear it.
	expunged []uint32
}

// Snapshot is the value returned by Connection.Properties(); it carries no
// lock so callers can read and copy it freely.
type Snapshot struct {
	Exists      uint32
	Recent      uint32
	Unseen      uint32
	UidNext     uint32
	UidValidity uint32
	Flags       []string
}

func newMailboxProperties() *MailboxProperties {
	return &MailboxProperties{}
}

func (p *MailboxProperties) applyStatus(status *imap.MailboxStatus) {
	if status == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Exists = status.Messages
	p.snap.Recent = status.Recent
	p.snap.Unseen = status.Unseen
	p.snap.UidNext = status.UidNext
	p.snap.UidValidity = status.UidValidity
	if status.Flags != nil {
		p.snap.Flags = append([]string(nil), status.Flags...)
	}
}

func (p *MailboxProperties) applyExpunge(seqNum uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.Exists > 0 {
		p.snap.Exists--
	}
	p.expunged = append(p.expunged, seqNum)
}

func (p *MailboxProperties) applyMessage(msg *imap.Message) {
	if msg == nil {
		return
	}
	// A MessageUpdate with a sequence number beyond what was previously
	// known signals a newly-arrived message (spec.md §4.3.4's "new mail"
	// trigger for synchronize-all).
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.SeqNum > p.snap.Exists {
		p.snap.Exists = msg.SeqNum
	}
}

// snapshot returns a value copy safe to read without holding the
// connection's lock.
func (p *MailboxProperties) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := p.snap
	cp.Flags = append([]string(nil), p.snap.Flags...)
	return cp
}

// DrainExpunged returns and clears the sequence numbers expunged since the
// last call.
func (p *MailboxProperties) DrainExpunged() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.expunged
	p.expunged = nil
	return out
}
