package imapstrategy

import (
	"context"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// FolderList implements spec.md §4.3.2: breadth-first LIST with a `%`
// wildcard starting from a configurable base, pruned by the
// HasNoChildren/NoInferiors response flags, reconciling discovered folders
// against the store.
type FolderList struct {
	noopHooks

	ctx       *Context
	base      string
	selection *Selection
	folders   []*models.Folder
}

func NewFolderList(c *Context, base string) *FolderList {
	return &FolderList{ctx: c, base: base, selection: NewSelection()}
}

func (f *FolderList) NewConnection(ctx context.Context) error {
	f.ctx.SetPhase(enum.PhaseList)
	return nil
}

func (f *FolderList) Selection() *Selection    { return f.selection }
func (f *FolderList) Folders() []*models.Folder { return f.folders }

func (f *FolderList) Transition(ctx context.Context, sink interfaces.StatusSink, action interfaces.ActionId) (bool, error) {
	discovered, err := f.discover(f.base)
	if err != nil {
		return false, errors.Wrap(err, "discover folders")
	}

	existing, err := f.ctx.Store.Folders(ctx, f.ctx.AccountID)
	if err != nil {
		return false, errors.Wrap(err, "load existing folders")
	}
	byPath := make(map[string]*models.Folder, len(existing))
	for _, ex := range existing {
		byPath[ex.Path] = ex
	}

	seen := make(map[string]bool, len(discovered))
	for _, info := range discovered {
		seen[info.Name] = true
		if sink != nil {
			sink.StatusChanged(action, interfaces.StatusEvent{Code: enum.NoError, Account: f.ctx.AccountID})
		}
		if existingFolder, ok := byPath[info.Name]; ok {
			existingFolder.SetStatus(folderStatusFromFlags(info.Attributes), true)
			if err := f.ctx.Store.UpdateFolder(ctx, existingFolder); err != nil {
				return false, errors.Wrap(err, "update folder")
			}
			continue
		}
		nf := &models.Folder{
			AccountID: f.ctx.AccountID,
			Path:      info.Name,
			Role:      enum.FolderRoleNone,
		}
		nf.SetStatus(folderStatusFromFlags(info.Attributes), true)
		if err := f.ctx.Store.AddFolder(ctx, nf); err != nil {
			return false, errors.Wrap(err, "add folder")
		}
	}

	// Folders that disappeared from the server under the base are removed
	// locally (spec.md §4.3.2). Their messages' removal records are not
	// purged here.
	for path, ex := range byPath {
		if !strings.HasPrefix(path, f.base) || seen[path] {
			continue
		}
		if err := f.ctx.Store.RemoveFolder(ctx, ex.ID); err != nil {
			return false, errors.Wrap(err, "remove stale folder")
		}
	}

	f.folders, _ = f.ctx.Store.Folders(ctx, f.ctx.AccountID)
	f.ctx.SetPhase(enum.PhaseComplete)
	return true, nil
}

// discover walks LIST responses breadth-first from base, pruned by
// HasNoChildren/NoInferiors (spec.md §4.3.2).
func (f *FolderList) discover(base string) ([]imap.MailboxInfo, error) {
	var all []imap.MailboxInfo
	queue := []string{base}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		infos, err := f.ctx.Conn.List(ref, "%")
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			all = append(all, info)
			if !hasAttr(info.Attributes, imap.NoChildrenAttr) && !hasAttr(info.Attributes, imap.NoInferiorsAttr) {
				queue = append(queue, info.Name+info.Delimiter)
			}
		}
	}
	return all, nil
}

func hasAttr(attrs []string, target string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, target) {
			return true
		}
	}
	return false
}

func folderStatusFromFlags(attrs []string) models.FolderStatusBit {
	var bit models.FolderStatusBit
	if hasAttr(attrs, imap.NoChildrenAttr) {
		bit |= models.HasNoChildren
	}
	if hasAttr(attrs, imap.NoInferiorsAttr) {
		bit |= models.NoInferiors
	}
	return bit
}

var _ FolderListStrategy = (*FolderList)(nil)
