package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailstack/internal/enum"
)

// MessageMetadata is the immutable view of a message read from the mail
// store (spec.md §3). Fields beyond the ones the core consumes are carried
// as opaque columns so the store can round-trip a full record, but the
// orchestrator and strategy engine only ever read/write the fields named in
// spec.md §3.
type MessageMetadata struct {
	ID   MessageId `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	Tenant string `gorm:"column:tenant;type:varchar(255);index" json:"tenant"`

	AccountID      AccountId `gorm:"column:account_id;type:varchar(64);index;not null" json:"accountId"`
	FolderID       FolderId  `gorm:"column:folder_id;type:varchar(64);index;not null" json:"folderId"`
	PreviousFolder FolderId  `gorm:"column:previous_folder_id;type:varchar(64)" json:"previousFolderId"`

	ServerUID ServerUID `gorm:"column:server_uid;type:varchar(128);index" json:"serverUid"`
	Size      uint32    `gorm:"column:size" json:"size"`

	Status enum.StatusBits `gorm:"column:status" json:"status"`

	InResponseTo MessageId `gorm:"column:in_response_to;type:varchar(64);index" json:"inResponseTo"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (MessageMetadata) TableName() string { return "message_metadata" }

// Has reports whether the message carries the given status bit.
func (m *MessageMetadata) Has(bit enum.StatusBit) bool { return m.Status.Has(bit) }

// WithStatus returns a copy of m with bit set to value.
func (m MessageMetadata) WithStatus(bit enum.StatusBit, value bool) MessageMetadata {
	m.Status = m.Status.Set(bit, value)
	return m
}

// SectionProperties describes which part of a message to fetch: an optional
// part location, and an optional minimum byte count. The zero value means
// "whole message" (spec.md §3, Selection map).
type SectionProperties struct {
	PartLocation string
	MinimumBytes *uint32
}

// WholeMessage reports whether the section requests the entire message.
func (p SectionProperties) WholeMessage() bool {
	return p.PartLocation == "" && p.MinimumBytes == nil
}
