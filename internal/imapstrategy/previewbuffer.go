package imapstrategy

import (
	"strconv"

	"github.com/emersion/go-imap"
)

// previewBuffer is the bounded scratch buffer the preview+completion
// pipeline (spec.md §4.3.5) uses while walking a message's BODYSTRUCTURE:
// it enforces the "hard cap of 10 retrieved parts per message" and splits
// the remaining byte budget among parts in declaration order. Callers must
// call release on every exit path (spec.md §5: "scoped acquisition of
// temporary files in the preview pipeline must release on all exit paths").
type previewBuffer struct {
	maxParts     int
	remainingBytes uint32

	partsTaken int
	sections   []partSelection
}

type partSelection struct {
	Location    string
	PartialBytes uint32 // 0 means whole part
}

func newPreviewBuffer(headerLimit uint32) *previewBuffer {
	return &previewBuffer{maxParts: 10, remainingBytes: headerLimit}
}

// release clears the buffer; idempotent, safe to defer.
func (b *previewBuffer) release() {
	b.sections = nil
	b.partsTaken = 0
}

// full reports whether the part cap has been reached.
func (b *previewBuffer) full() bool { return b.partsTaken >= b.maxParts }

// take records a whole-part selection, consuming size bytes of budget. A
// text part larger than the remaining budget is taken as a partial range of
// the remaining bytes instead; any other part larger than the budget is
// still taken whole and the budget drops to zero. Returns false if the
// buffer is already full.
func (b *previewBuffer) take(location string, size uint32, isTextPlain bool) bool {
	if b.full() {
		return false
	}
	b.partsTaken++
	if size <= b.remainingBytes || !isTextPlain {
		b.sections = append(b.sections, partSelection{Location: location})
		if size <= b.remainingBytes {
			b.remainingBytes -= size
		} else {
			b.remainingBytes = 0
		}
		return true
	}
	// text/plain root exceeding budget: take a partial range instead of
	// skipping it entirely (spec.md §4.3.5: "the first text/plain part may
	// still take a partial-range fetch").
	b.sections = append(b.sections, partSelection{Location: location, PartialBytes: b.remainingBytes})
	b.remainingBytes = 0
	return true
}

// planBodyStructure decides which parts of bs to fetch under the given
// header limit, per spec.md §4.3.5: schedule whole-message fetch if total
// size is under the limit; else if root is text/plain, a part-range fetch
// of the first headerLimit bytes; else recurse skipping attachments,
// preferring inline text, in declaration order.
func planBodyStructure(bs *imap.BodyStructure, totalSize, headerLimit uint32, preferredTextSubtype string) []partSelection {
	if bs == nil || totalSize < headerLimit {
		return []partSelection{{Location: ""}}
	}

	if isTextPlain(bs, preferredTextSubtype) {
		return []partSelection{{Location: "", PartialBytes: headerLimit}}
	}

	buf := newPreviewBuffer(headerLimit)
	defer buf.release()
	walkParts(bs, "", preferredTextSubtype, buf)

	out := make([]partSelection, len(buf.sections))
	copy(out, buf.sections)
	return out
}

func isTextPlain(bs *imap.BodyStructure, preferredTextSubtype string) bool {
	return bs != nil && bs.MIMEType == "text" && bs.MIMESubType == preferredTextSubtype
}

func isAttachment(bs *imap.BodyStructure) bool {
	return bs.Disposition == "attachment"
}

func walkParts(bs *imap.BodyStructure, prefix, preferredTextSubtype string, buf *previewBuffer) {
	if bs == nil || buf.full() {
		return
	}
	if len(bs.Parts) == 0 {
		if isAttachment(bs) {
			return
		}
		isText := bs.MIMEType == "text" && bs.MIMESubType == preferredTextSubtype
		buf.take(prefix, bs.Size, isText)
		return
	}
	for i, part := range bs.Parts {
		if buf.full() {
			return
		}
		location := sectionLocation(prefix, i+1)
		walkParts(part, location, preferredTextSubtype, buf)
	}
}

func sectionLocation(prefix string, index int) string {
	if prefix == "" {
		return strconv.Itoa(index)
	}
	return prefix + "." + strconv.Itoa(index)
}
