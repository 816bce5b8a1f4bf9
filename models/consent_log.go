package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConsentPurpose is what a data subject consented to
type ConsentPurpose string

const (
	ConsentPurposeDataProcessing    ConsentPurpose = "data_processing"
	ConsentPurposeMarketing         ConsentPurpose = "marketing"
	ConsentPurposeAnalytics         ConsentPurpose = "analytics"
	ConsentPurposeThirdPartySharing ConsentPurpose = "third_party_sharing"
	ConsentPurposeCookies           ConsentPurpose = "cookies"
)

var ConsentPurposes = []ConsentPurpose{
	ConsentPurposeDataProcessing,
	ConsentPurposeMarketing,
	ConsentPurposeAnalytics,
	ConsentPurposeThirdPartySharing,
	ConsentPurposeCookies,
}

func (p ConsentPurpose) IsValid() bool {
	for _, v := range ConsentPurposes {
		if p == v {
			return true
		}
	}
	return false
}

// ConsentLog is an immutable record of a consent being granted or withdrawn.
// The current state for a purpose is the newest entry.
type ConsentLog struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_consent_created_at" json:"createdAt"`

	SubjectEmail string `gorm:"not null;index:idx_consent_subject" json:"subjectEmail"`
	SubjectID    string `gorm:"index" json:"subjectId,omitempty"`

	Purpose       ConsentPurpose `gorm:"not null;index:idx_consent_purpose" json:"purpose"`
	Granted       bool           `gorm:"not null" json:"granted"` // false records a withdrawal
	PolicyVersion string         `gorm:"not null" json:"policyVersion"`
	Source        string         `gorm:"not null" json:"source"` // portal, api, or dsar:<requestId>

	// Evidence of how the decision was captured
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// BeforeCreate generates UUID
func (c *ConsentLog) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// BeforeUpdate prevents modification of consent logs (immutability)
func (c *ConsentLog) BeforeUpdate(tx *gorm.DB) error {
	return gorm.ErrRecordNotFound // Prevent any updates
}

// BeforeDelete prevents deletion of consent logs (immutability)
func (c *ConsentLog) BeforeDelete(tx *gorm.DB) error {
	return gorm.ErrRecordNotFound // Prevent any deletes
}

// TableName specifies the table name
func (ConsentLog) TableName() string {
	return "consent_logs"
}
