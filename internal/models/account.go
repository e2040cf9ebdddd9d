package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/utils"
)

// Account is a configured mail account: its protocol connection settings and
// which server folders to keep synchronized. It is the root of the "service
// per account" relationship from spec.md §2/§4.4.
type Account struct {
	ID     AccountId `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	Tenant string    `gorm:"column:tenant;type:varchar(255);index" json:"tenant"`

	EmailAddress string `gorm:"column:email_address;type:varchar(255);index" json:"emailAddress"`

	ImapServer   string             `gorm:"column:imap_server;type:varchar(255)" json:"imapServer"`
	ImapPort     int                `gorm:"column:imap_port" json:"imapPort"`
	ImapUsername string             `gorm:"column:imap_username;type:varchar(255)" json:"imapUsername"`
	ImapPassword string             `gorm:"column:imap_password;type:varchar(255)" json:"imapPassword"`
	ImapSecurity enum.EmailSecurity `gorm:"column:imap_security;type:varchar(32)" json:"imapSecurity"`

	// MasterAccountID, when set, names another account whose services stand
	// in for this one (spec.md §4.4 "master account" mapping).
	MasterAccountID AccountId `gorm:"column:master_account_id;type:varchar(64)" json:"masterAccountId"`

	SyncEnabled bool           `gorm:"column:sync_enabled;default:true" json:"syncEnabled"`
	SyncFolders pq.StringArray `gorm:"column:sync_folders;type:text[]" json:"syncFolders"`

	HeaderLimitBytes uint32 `gorm:"column:header_limit_bytes;default:4096" json:"headerLimitBytes"`

	ConnectionStatus enum.ConnectionStatus `gorm:"column:connection_status;type:varchar(32)" json:"connectionStatus"`
	ErrorMessage     string                `gorm:"column:error_message;type:text" json:"errorMessage"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = AccountId(utils.GenerateNanoIDWithPrefix("acct", 16))
	}
	return nil
}
