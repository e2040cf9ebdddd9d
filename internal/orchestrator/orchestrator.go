// Package orchestrator implements the Service Orchestrator (spec.md §4.4):
// registration of per-account services, request submission and
// classification, a dispatcher that multiplexes many in-flight actions
// across services, expiry and cancellation, a request journal that survives
// restart, and the signal fan-out back to clients described in spec.md §6.
//
// The system is specified as single-threaded cooperative (spec.md §5); this
// implementation keeps every mutation of shared state — the registry, the
// request queue, the active-action table — behind one mutex, the way the
// teacher's CronManager serializes its job map, while the actual protocol
// I/O for each dispatched action runs on its own goroutine and reports back
// through the StatusSink callbacks.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	cronv3 "github.com/robfig/cron/v3"

	mailstack_errors "github.com/customeros/mailstack/internal/errors"
	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/internal/tracing"
	"github.com/customeros/mailstack/interfaces"
)

// Config tunes the dispatcher, expiry timer, and search scheduler ticks
// (spec.md §4.4, §5).
type Config struct {
	// ExpirySeconds bounds how long an active action may run without any
	// transition, progress, status, or completion event before it is
	// failed with ErrTimeout (spec.md §4.4).
	ExpirySeconds int `env:"ORCHESTRATOR_EXPIRY_SECONDS" envDefault:"120"`

	// DispatchIntervalMS is the tick period of the dispatcher/expiry loop.
	DispatchIntervalMS int `env:"ORCHESTRATOR_DISPATCH_INTERVAL_MS" envDefault:"200"`

	// JournalPath is the on-disk file the request journal is kept in
	// (spec.md §6: "a text file with one decimal action-id per line").
	JournalPath string `env:"ORCHESTRATOR_JOURNAL_PATH" envDefault:"mailstack.journal"`

	// JournalSettleDelay is how long the orchestrator waits after startup
	// before reporting journaled action-ids as failed (spec.md §4.4).
	JournalSettleDelay time.Duration `env:"-"`

	// SearchBatchSize is how many message-ids the local search scheduler
	// evaluates per turn (spec.md §4.4: "batches of 10").
	SearchBatchSize int `env:"-"`
}

func (c Config) withDefaults() Config {
	if c.ExpirySeconds <= 0 {
		c.ExpirySeconds = 120
	}
	if c.DispatchIntervalMS <= 0 {
		c.DispatchIntervalMS = 200
	}
	if c.JournalPath == "" {
		c.JournalPath = "mailstack.journal"
	}
	if c.JournalSettleDelay <= 0 {
		c.JournalSettleDelay = 2 * time.Second
	}
	if c.SearchBatchSize <= 0 {
		c.SearchBatchSize = 10
	}
	return c
}

// accountServices is the registry entry for one account (spec.md §3: "For
// every account, at most one Source instance exists; at most one Sink").
type accountServices struct {
	source interfaces.Source
	sink   interfaces.Sink
}

// Orchestrator is the concrete interfaces.Orchestrator: one process-wide
// value owning every service, the store handle, the journal file, and the
// dispatch/expiry/search ticker, per spec.md §9's "global state ... must be
// explicit" design note.
type Orchestrator struct {
	cfg     Config
	store   interfaces.MailStore
	factory interfaces.ServiceFactory
	log     logger.Logger
	journal *journal

	mu sync.Mutex

	services map[models.AccountId]*accountServices
	// masterOf maps an account to the master account whose services stand
	// in for it (spec.md §4.4 "master account" mapping).
	masterOf map[models.AccountId]models.AccountId

	unavailable map[models.AccountId]bool
	// bound tracks actions currently attached to each account's services.
	bound map[models.AccountId]map[interfaces.ActionId]bool

	nextID  uint64
	pending []*action
	active  map[interfaces.ActionId]*action
	// completedOK records, for every action that has finished, whether it
	// succeeded — consulted by waitFor-gated precondition chaining so a
	// failed preparatory action never unblocks its dependent.
	completedOK map[interfaces.ActionId]bool

	retrievalCount    map[models.AccountId]int
	transmissionCount map[models.AccountId]int

	subscribers   map[int]chan interfaces.Response
	nextSubID     int
	unsubscribeDB func()

	search *searchScheduler

	cron *cronv3.Cron

	stopCh chan struct{}
}

// New constructs an Orchestrator. Call Start to begin dispatching.
func New(cfg Config, store interfaces.MailStore, factory interfaces.ServiceFactory, log logger.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:               cfg.withDefaults(),
		store:             store,
		factory:           factory,
		log:               log,
		services:          make(map[models.AccountId]*accountServices),
		masterOf:          make(map[models.AccountId]models.AccountId),
		unavailable:       make(map[models.AccountId]bool),
		bound:             make(map[models.AccountId]map[interfaces.ActionId]bool),
		active:            make(map[interfaces.ActionId]*action),
		completedOK:       make(map[interfaces.ActionId]bool),
		retrievalCount:    make(map[models.AccountId]int),
		transmissionCount: make(map[models.AccountId]int),
		subscribers:       make(map[int]chan interfaces.Response),
		stopCh:            make(chan struct{}),
	}
	o.journal = newJournal(cfg.withDefaults().JournalPath)
	o.search = newSearchScheduler(o)
	return o
}

// Start registers every account currently in the store, replays the
// journal, subscribes to account-change notifications, and begins the
// dispatch/expiry/search tick loop. It returns once initial registration
// has completed; the tick loop runs until ctx is cancelled or Stop is
// called.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.journal.lock(); err != nil {
		return errors.Wrap(err, "acquire journal lock")
	}

	accounts, err := o.store.Accounts(ctx)
	if err != nil {
		return errors.Wrap(err, "load accounts")
	}
	for _, acct := range accounts {
		if err := o.registerAccount(ctx, acct); err != nil {
			o.log.Warnf("orchestrator: register account %s: %v", acct.ID, err)
		}
	}

	o.unsubscribeDB = o.store.Subscribe(func(c context.Context, change interfaces.AccountsChanged) {
		o.onAccountsChanged(c, change)
	})

	go o.replayJournal(ctx)
	o.startTickCron(ctx)

	return nil
}

// Stop halts the tick loop and unsubscribes from store notifications. It
// does not cancel in-flight actions; callers wanting a clean shutdown
// should Cancel outstanding actions first.
func (o *Orchestrator) Stop() {
	select {
	case <-o.stopCh:
	default:
		close(o.stopCh)
	}
	if o.cron != nil {
		<-o.cron.Stop().Done()
	}
	if o.unsubscribeDB != nil {
		o.unsubscribeDB()
	}
	o.journal.unlock()
}

// startTickCron drives runDispatcher/checkExpiry/search.tick off a
// robfig/cron schedule the way the teacher's CronManager drives its own
// periodic jobs (internal/cron/cron.go), rather than a bare time.Ticker.
// Single-process per spec.md §5, so no leader election is needed here.
func (o *Orchestrator) startTickCron(ctx context.Context) {
	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
		cronv3.Recover(cronv3.DefaultLogger),
	))
	spec := fmt.Sprintf("@every %dms", o.cfg.DispatchIntervalMS)
	_, err := c.AddFunc(spec, func() {
		defer tracing.RecoverAndLogToJaeger(o.log)
		o.runDispatcher(ctx)
		o.checkExpiry(ctx)
		o.search.tick(ctx)
	})
	if err != nil {
		o.log.Errorf("orchestrator: schedule tick: %v", err)
	}
	c.Start()
	o.cron = c
}

// newActionID assigns the process-unique 64-bit identifier spec.md §3
// requires ("Action record ... assigned a process-unique 64-bit identifier
// at submission").
func (o *Orchestrator) newActionID() interfaces.ActionId {
	o.nextID++
	return interfaces.ActionId(o.nextID)
}

// Submit enqueues req as a Request (spec.md §3: not yet dispatched) and
// fails immediately with ErrNoConnection if no configured service can serve
// it (spec.md §4.4: "if empty, fails immediately with 'unconfigured
// account'").
func (o *Orchestrator) Submit(ctx context.Context, req interfaces.Request) (interfaces.ActionId, error) {
	if len(req.Services) == 0 {
		return 0, errors.Wrap(mailstack_errors.ErrNoConnection, "unconfigured account")
	}

	o.mu.Lock()
	id := o.newActionID()
	a := &action{
		id:             id,
		requestType:    req.Type,
		params:         req.Params,
		services:       append([]models.AccountId(nil), req.Services...),
		preconditions:  append([]models.AccountId(nil), req.Preconditions...),
		expirySeconds:  o.cfg.ExpirySeconds,
		lastProgress:   time.Now(),
		completionKind: enum.CompletionKindFor(req.Type),
	}
	o.pending = append(o.pending, a)
	o.mu.Unlock()

	if err := o.journal.append(id); err != nil {
		o.log.Warnf("orchestrator: journal append %d: %v", id, err)
	}

	o.publish(interfaces.Response{Kind: interfaces.RespActionStarted, Action: id, RequestType: req.Type})
	o.publish(interfaces.Response{Kind: interfaces.RespActivityChanged, Action: id, Activity: enum.ActivityPending})

	return id, nil
}

// SubmitChained is Submit plus a same-process dependency: a's dispatch also
// waits for waitFor to reach a terminal Successful state (spec.md §4.4
// precondition chaining, used by transmitMessages).
func (o *Orchestrator) SubmitChained(ctx context.Context, req interfaces.Request, waitFor interfaces.ActionId) (interfaces.ActionId, error) {
	id, err := o.Submit(ctx, req)
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	for _, a := range o.pending {
		if a.id == id {
			a.waitFor = waitFor
			break
		}
	}
	o.mu.Unlock()
	return id, nil
}

func (o *Orchestrator) publish(resp interfaces.Response) {
	o.mu.Lock()
	chans := make([]chan interfaces.Response, 0, len(o.subscribers))
	for _, ch := range o.subscribers {
		chans = append(chans, ch)
	}
	o.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- resp:
		default:
		}
	}
}

// Events returns a channel of every Response the orchestrator produces,
// correlated to actions by Response.Action (spec.md §4.4 "signal fan-out to
// clients"). The channel is closed when ctx is done.
func (o *Orchestrator) Events(ctx context.Context) (<-chan interfaces.Response, error) {
	o.mu.Lock()
	id := o.nextSubID
	o.nextSubID++
	ch := make(chan interfaces.Response, 256)
	o.subscribers[id] = ch
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		delete(o.subscribers, id)
		o.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

var _ interfaces.Orchestrator = (*Orchestrator)(nil)

// newCorrelationID supplies the correlation.id tag dispatch puts on every
// dispatched action's trace span.
func newCorrelationID() string { return uuid.NewString() }

