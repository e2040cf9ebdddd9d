package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailstack/internal/enum"
)

// FolderStatusBit mirrors the per-folder flags the strategy engine checks
// (spec.md §4.3.3's SynchronizationEnabled, and the LIST response flags
// HasNoChildren/NoInferiors from §4.3.2).
type FolderStatusBit uint32

const (
	SynchronizationEnabled FolderStatusBit = 1 << iota
	HasNoChildren
	NoInferiors
	Synchronized
)

// Folder is a mail store's view of one server mailbox.
type Folder struct {
	ID       FolderId        `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	AccountID AccountId      `gorm:"column:account_id;type:varchar(64);index;not null" json:"accountId"`
	Path     string          `gorm:"column:path;type:varchar(1024);index" json:"path"`
	Role     enum.FolderRole `gorm:"column:role;type:varchar(32)" json:"role"`
	Status   uint32          `gorm:"column:status" json:"status"`

	UidNext uint32 `gorm:"column:uid_next" json:"uidNext"`
	Exists  uint32 `gorm:"column:exists" json:"exists"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Folder) TableName() string { return "folders" }

func (f *Folder) HasStatus(bit FolderStatusBit) bool { return f.Status&uint32(bit) != 0 }

func (f *Folder) SetStatus(bit FolderStatusBit, value bool) {
	if value {
		f.Status |= uint32(bit)
	} else {
		f.Status &^= uint32(bit)
	}
}
