// Package imapconn implements the Protocol Connection (spec.md §4.2): one
// IMAP socket per account, with a command sequencer, capability and
// selected-mailbox state, and an untagged-response accumulator exposed as
// typed commands and completions.
package imapconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/internal/tracing"
)

// Config is the subset of an Account the connection needs to dial and
// authenticate.
type Config struct {
	AccountID models.AccountId
	Server    string
	Port      int
	Username  string
	Password  string
	Security  enum.EmailSecurity

	DialTimeout  time.Duration
	CommandTimeout time.Duration
}

// Connection is a single-server IMAP socket: every command method issues one
// command and yields until the server responds, matching the cooperative
// event-loop model of spec.md §5 ("every command issued to the Protocol
// Connection yields until the connection reports a completion"). Select and
// Examine hold the connection's lock for the whole command; the other
// command methods take it only to look up the live client, so they are not
// serialized against each other by this type.
type Connection struct {
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	client   *client.Client
	selected string
	props    *MailboxProperties

	updates chan client.Update
}

// New creates an unconnected Connection; call Connect before issuing
// commands.
func New(cfg Config, log logger.Logger) *Connection {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	return &Connection{cfg: cfg, log: log, props: newMailboxProperties()}
}

// Connect dials the server, authenticates, and starts the untagged-response
// accumulator. Grounded on services/imap/client.go's connectMailbox.
func (c *Connection) Connect(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapconn.Connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("account.id", string(c.cfg.AccountID))
	span.SetTag("server", c.cfg.Server)

	c.mu.Lock()
	defer c.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", c.cfg.Server, c.cfg.Port)
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout, KeepAlive: 30 * time.Second}

	var cl *client.Client
	var err error
	switch c.cfg.Security {
	case enum.EmailSecuritySSL, enum.EmailSecurityTLS:
		cl, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: c.cfg.Server})
	default:
		cl, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "dial %s", addr)
	}

	if c.cfg.Security == enum.EmailSecurityStartTLS {
		if ok, _ := cl.SupportStartTLS(); ok {
			if err := cl.StartTLS(&tls.Config{ServerName: c.cfg.Server}); err != nil {
				cl.Logout()
				tracing.TraceErr(span, err)
				return errors.Wrap(err, "starttls")
			}
		}
	}

	cl.Timeout = c.cfg.CommandTimeout
	if err := cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		cl.Logout()
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "login as %s", c.cfg.Username)
	}
	cl.Timeout = 0

	updates := make(chan client.Update, 64)
	cl.Updates = updates

	c.client = cl
	c.updates = updates
	c.selected = ""
	go c.drainUpdates(updates)

	span.SetTag("success", true)
	return nil
}

// drainUpdates accumulates untagged mailbox updates into MailboxProperties
// (spec.md §4.2: "parsed untagged responses update a mailbox-properties
// value"). It runs for the lifetime of the connection.
func (c *Connection) drainUpdates(updates chan client.Update) {
	for u := range updates {
		switch v := u.(type) {
		case *client.MailboxUpdate:
			c.props.applyStatus(v.Mailbox)
		case *client.ExpungeUpdate:
			c.props.applyExpunge(v.SeqNum)
		case *client.MessageUpdate:
			c.props.applyMessage(v.Message)
		}
	}
}

// Connected reports whether the connection currently has a live client.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// Properties returns a snapshot of the untagged-response accumulator.
func (c *Connection) Properties() Snapshot {
	return c.props.snapshot()
}

// Close logs out and releases the underlying socket. Grounded on
// services/imap/client.go's disconnectClient timeout-bounded logout.
func (c *Connection) Close(ctx context.Context) error {
	span := opentracing.StartSpan("imapconn.Close")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	c.mu.Lock()
	cl := c.client
	updates := c.updates
	c.client = nil
	c.updates = nil
	c.selected = ""
	c.mu.Unlock()

	if cl == nil {
		return nil
	}
	if updates != nil {
		defer close(updates)
	}

	done := make(chan error, 1)
	cl.Timeout = 5 * time.Second
	go func() { done <- cl.Logout() }()

	select {
	case err := <-done:
		if err != nil {
			tracing.TraceErr(span, err)
		}
		return err
	case <-time.After(5 * time.Second):
		span.SetTag("timeout", true)
		return errors.New("logout timed out")
	}
}

func (c *Connection) activeClient() (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, errNotConnected
	}
	return c.client, nil
}

var errNotConnected = errors.New("imapconn: not connected")

// Select opens a mailbox read-write (spec.md §4.2's SELECT command).
func (c *Connection) Select(path string) (*imap.MailboxStatus, error) {
	cl, err := c.activeClient()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	status, err := cl.Select(path, false)
	if err != nil {
		return nil, errors.Wrapf(err, "select %s", path)
	}
	c.selected = path
	c.props.applyStatus(status)
	return status, nil
}

// Examine opens a mailbox read-only (spec.md §4.2's EXAMINE command).
func (c *Connection) Examine(path string) (*imap.MailboxStatus, error) {
	cl, err := c.activeClient()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	status, err := cl.Select(path, true)
	if err != nil {
		return nil, errors.Wrapf(err, "examine %s", path)
	}
	c.selected = path
	c.props.applyStatus(status)
	return status, nil
}

// SelectedMailbox returns the path of the currently selected mailbox, or ""
// if none is selected.
func (c *Connection) SelectedMailbox() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// List issues the LIST command rooted at ref/pattern.
func (c *Connection) List(ref, pattern string) ([]imap.MailboxInfo, error) {
	cl, err := c.activeClient()
	if err != nil {
		return nil, err
	}
	ch := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() { done <- cl.List(ref, pattern, ch) }()

	var out []imap.MailboxInfo
	for m := range ch {
		out = append(out, *m)
	}
	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "list")
	}
	return out, nil
}

// UIDSearch issues UID SEARCH with the given criteria.
func (c *Connection) UIDSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	cl, err := c.activeClient()
	if err != nil {
		return nil, err
	}
	uids, err := cl.UidSearch(criteria)
	if err != nil {
		return nil, errors.Wrap(err, "uid search")
	}
	return uids, nil
}

// UIDFetch issues UID FETCH for the given sequence set and items, streaming
// results to fn as they arrive.
func (c *Connection) UIDFetch(seqset *imap.SeqSet, items []imap.FetchItem, fn func(*imap.Message)) error {
	cl, err := c.activeClient()
	if err != nil {
		return err
	}
	ch := make(chan *imap.Message, 32)
	done := make(chan error, 1)
	go func() { done <- cl.UidFetch(seqset, items, ch) }()

	for msg := range ch {
		fn(msg)
	}
	if err := <-done; err != nil {
		return errors.Wrap(err, "uid fetch")
	}
	return nil
}

// UIDCopy issues UID COPY.
func (c *Connection) UIDCopy(seqset *imap.SeqSet, dest string) error {
	cl, err := c.activeClient()
	if err != nil {
		return err
	}
	if err := cl.UidCopy(seqset, dest); err != nil {
		return errors.Wrapf(err, "uid copy -> %s", dest)
	}
	return nil
}

// UIDStore issues UID STORE, e.g. +FLAGS / +FLAGS.SILENT.
func (c *Connection) UIDStore(seqset *imap.SeqSet, item imap.StoreItem, value any) error {
	cl, err := c.activeClient()
	if err != nil {
		return err
	}
	if err := cl.UidStore(seqset, item, value, nil); err != nil {
		return errors.Wrap(err, "uid store")
	}
	return nil
}

// Expunge permanently removes messages flagged \Deleted in the selected
// mailbox.
func (c *Connection) Expunge() error {
	cl, err := c.activeClient()
	if err != nil {
		return err
	}
	if err := cl.Expunge(nil); err != nil {
		return errors.Wrap(err, "expunge")
	}
	return nil
}

// CreateMailbox issues CREATE.
func (c *Connection) CreateMailbox(path string) error {
	cl, err := c.activeClient()
	if err != nil {
		return err
	}
	if err := cl.Create(path); err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	return nil
}

// RenameMailbox issues RENAME.
func (c *Connection) RenameMailbox(oldPath, newPath string) error {
	cl, err := c.activeClient()
	if err != nil {
		return err
	}
	if err := cl.Rename(oldPath, newPath); err != nil {
		return errors.Wrapf(err, "rename %s -> %s", oldPath, newPath)
	}
	return nil
}

// DeleteMailbox issues DELETE.
func (c *Connection) DeleteMailbox(path string) error {
	cl, err := c.activeClient()
	if err != nil {
		return err
	}
	if err := cl.Delete(path); err != nil {
		return errors.Wrapf(err, "delete %s", path)
	}
	return nil
}

// CloseMailbox issues CLOSE, which expunges \Deleted messages and
// deselects the mailbox.
func (c *Connection) CloseMailbox() error {
	cl, err := c.activeClient()
	if err != nil {
		return err
	}
	if err := cl.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	c.mu.Lock()
	c.selected = ""
	c.mu.Unlock()
	return nil
}
