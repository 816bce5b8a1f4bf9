package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification types
const (
	NotificationTypeDSARCreated       = "DSAR_CREATED"
	NotificationTypeDSARStatusChanged = "DSAR_STATUS_CHANGED"
	NotificationTypeDSAROverdue       = "DSAR_OVERDUE"
	NotificationTypeSystem            = "SYSTEM"
)

// Notification is an in-app message for a requester, keyed by email since
// requesters are not local users
type Notification struct {
	ID        string         `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Targeting
	RecipientEmail string `gorm:"not null;index:idx_notification_recipient" json:"recipientEmail"`

	// Context
	RequestID string `gorm:"index:idx_notification_request" json:"requestId,omitempty"` // DSAR requestId

	// Content
	Type    string `gorm:"not null" json:"type"`
	Title   string `gorm:"not null" json:"title"`
	Message string `gorm:"type:text" json:"message"`
	LinkURL string `json:"linkUrl,omitempty"` // e.g., "/dsar/{requestId}"

	// Read tracking
	ReadAt *time.Time `json:"readAt,omitempty"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}
