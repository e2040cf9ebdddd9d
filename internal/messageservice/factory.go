package messageservice

import (
	"context"
	"time"

	"github.com/customeros/mailstack/internal/imapconn"
	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/interfaces"
)

// IMAPServiceFactory is the interfaces.ServiceFactory the orchestrator
// registers accounts through: one IMAPService per account, built from the
// account's stored connection settings (spec.md §2 "For every account, at
// most one Source instance exists; at most one Sink").
type IMAPServiceFactory struct {
	store interfaces.MailStore
	log   logger.Logger

	dialTimeout    time.Duration
	commandTimeout time.Duration
}

func NewIMAPServiceFactory(store interfaces.MailStore, log logger.Logger) *IMAPServiceFactory {
	return &IMAPServiceFactory{
		store:          store,
		log:            log,
		dialTimeout:    10 * time.Second,
		commandTimeout: 30 * time.Second,
	}
}

func (f *IMAPServiceFactory) NewServices(ctx context.Context, acct *models.Account) (interfaces.Source, interfaces.Sink, error) {
	connCfg := imapconn.Config{
		AccountID:      acct.ID,
		Server:         acct.ImapServer,
		Port:           acct.ImapPort,
		Username:       acct.ImapUsername,
		Password:       acct.ImapPassword,
		Security:       acct.ImapSecurity,
		DialTimeout:    f.dialTimeout,
		CommandTimeout: f.commandTimeout,
	}

	headerLimit := acct.HeaderLimitBytes
	if headerLimit == 0 {
		headerLimit = 4096
	}

	svc := NewIMAPService(acct.ID, f.store, connCfg, f.log, headerLimit)
	return svc, svc, nil
}

var _ interfaces.ServiceFactory = (*IMAPServiceFactory)(nil)
