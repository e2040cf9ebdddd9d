package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/interfaces"
)

// journal is the on-disk record of outstanding action-ids spec.md §6
// describes: "a text file with one decimal action-id per line," locked for
// the lifetime of the process so a second instance can't run against the
// same store. It also doubles as the single-instance guard since the flock
// is exclusive and non-blocking.
type journal struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func newJournal(path string) *journal {
	return &journal{path: path}
}

// lock opens the journal file and takes an exclusive, non-blocking flock;
// a second process attempting this fails immediately rather than stalling.
func (j *journal) lock() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "open journal")
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return errors.Wrap(err, "flock journal: another instance running")
	}
	j.mu.Lock()
	j.file = f
	j.mu.Unlock()
	return nil
}

func (j *journal) unlock() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return
	}
	syscall.Flock(int(j.file.Fd()), syscall.LOCK_UN)
	j.file.Close()
	j.file = nil
}

// ids returns the action-ids currently recorded in the journal.
func (j *journal) ids() ([]interfaces.ActionId, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil, errors.New("journal not locked")
	}
	if _, err := j.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var out []interfaces.ActionId
	scanner := bufio.NewScanner(j.file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		n, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, interfaces.ActionId(n))
	}
	return out, scanner.Err()
}

// append records id as outstanding. The journal is rewritten wholesale
// rather than appended-to so remove can drop a line without leaving a
// tombstone; action counts are small enough this is cheap.
func (j *journal) append(id interfaces.ActionId) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.addLocked(id)
}

func (j *journal) addLocked(id interfaces.ActionId) error {
	if j.file == nil {
		return errors.New("journal not locked")
	}
	existing, err := j.readLocked()
	if err != nil {
		return err
	}
	existing = append(existing, id)
	return j.rewriteLocked(existing)
}

func (j *journal) remove(id interfaces.ActionId) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	existing, err := j.readLocked()
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, x := range existing {
		if x != id {
			kept = append(kept, x)
		}
	}
	return j.rewriteLocked(kept)
}

func (j *journal) readLocked() ([]interfaces.ActionId, error) {
	if _, err := j.file.Seek(0, 0); err != nil {
		return nil, err
	}
	var out []interfaces.ActionId
	scanner := bufio.NewScanner(j.file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		n, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, interfaces.ActionId(n))
	}
	return out, scanner.Err()
}

func (j *journal) rewriteLocked(ids []interfaces.ActionId) error {
	if err := j.file.Truncate(0); err != nil {
		return err
	}
	if _, err := j.file.Seek(0, 0); err != nil {
		return err
	}
	w := bufio.NewWriter(j.file)
	for _, id := range ids {
		if _, err := fmt.Fprintf(w, "%d\n", uint64(id)); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// replayJournal waits JournalSettleDelay after startup, then publishes
// ActivityFailed for every action-id still recorded in the journal and
// removes it from the journal (spec.md §4.4: "on restart, any action-ids
// still in the journal are treated as having crashed mid-flight"). Ids of
// actions still pending or active in this process are skipped; their own
// finish() reports them and clears their journal entry.
func (o *Orchestrator) replayJournal(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-o.stopCh:
		return
	case <-time.After(o.cfg.JournalSettleDelay):
	}

	ids, err := o.journal.ids()
	if err != nil {
		o.log.Warnf("orchestrator: read journal on replay: %v", err)
		return
	}

	o.mu.Lock()
	stillOutstanding := make(map[interfaces.ActionId]bool, len(ids))
	for _, id := range ids {
		if _, active := o.active[id]; active {
			continue
		}
		if o.stillPendingLocked(id) {
			continue
		}
		stillOutstanding[id] = true
	}
	o.mu.Unlock()

	for id := range stillOutstanding {
		o.publish(interfaces.Response{Kind: interfaces.RespActivityChanged, Action: id, Activity: enum.ActivityFailed})
		if err := o.journal.remove(id); err != nil {
			o.log.Warnf("orchestrator: journal remove %d on replay: %v", id, err)
		}
	}
}
