package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultResponseWindow is the statutory window between submission and due date
const DefaultResponseWindow = 30 * 24 * time.Hour

// DSARRequestType is the data subject right being exercised
type DSARRequestType string

const (
	DSARTypeDataAccess         DSARRequestType = "data_access"
	DSARTypeDataRectification  DSARRequestType = "data_rectification"
	DSARTypeDataErasure        DSARRequestType = "data_erasure"
	DSARTypeDataPortability    DSARRequestType = "data_portability"
	DSARTypeRestrictProcessing DSARRequestType = "restrict_processing"
	DSARTypeObjectProcessing   DSARRequestType = "object_processing"
	DSARTypeWithdrawConsent    DSARRequestType = "withdraw_consent"
	DSARTypeAutomatedDecision  DSARRequestType = "automated_decision"
)

// DSARRequestTypes lists every accepted request type
var DSARRequestTypes = []DSARRequestType{
	DSARTypeDataAccess,
	DSARTypeDataRectification,
	DSARTypeDataErasure,
	DSARTypeDataPortability,
	DSARTypeRestrictProcessing,
	DSARTypeObjectProcessing,
	DSARTypeWithdrawConsent,
	DSARTypeAutomatedDecision,
}

func (t DSARRequestType) IsValid() bool {
	for _, v := range DSARRequestTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ProducesDataPackage reports whether completing this request type hands data back to the requester
func (t DSARRequestType) ProducesDataPackage() bool {
	return t == DSARTypeDataAccess || t == DSARTypeDataPortability
}

// DSARStatus is the workflow state of a request
type DSARStatus string

const (
	DSARStatusPending    DSARStatus = "pending"
	DSARStatusInProgress DSARStatus = "in_progress"
	DSARStatusCompleted  DSARStatus = "completed"
	DSARStatusRejected   DSARStatus = "rejected"
	DSARStatusCancelled  DSARStatus = "cancelled"
)

var DSARStatuses = []DSARStatus{
	DSARStatusPending,
	DSARStatusInProgress,
	DSARStatusCompleted,
	DSARStatusRejected,
	DSARStatusCancelled,
}

func (s DSARStatus) IsValid() bool {
	for _, v := range DSARStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the request has reached an end state
func (s DSARStatus) IsTerminal() bool {
	return s == DSARStatusCompleted || s == DSARStatusRejected || s == DSARStatusCancelled
}

// Priority levels
type DSARPriority string

const (
	DSARPriorityLow    DSARPriority = "low"
	DSARPriorityMedium DSARPriority = "medium"
	DSARPriorityHigh   DSARPriority = "high"
	DSARPriorityUrgent DSARPriority = "urgent"
)

func (p DSARPriority) IsValid() bool {
	switch p {
	case DSARPriorityLow, DSARPriorityMedium, DSARPriorityHigh, DSARPriorityUrgent:
		return true
	}
	return false
}

type LegalBasis string

const (
	LegalBasisConsent             LegalBasis = "consent"
	LegalBasisContract            LegalBasis = "contract"
	LegalBasisLegalObligation     LegalBasis = "legal_obligation"
	LegalBasisVitalInterests      LegalBasis = "vital_interests"
	LegalBasisPublicTask          LegalBasis = "public_task"
	LegalBasisLegitimateInterests LegalBasis = "legitimate_interests"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

func (v VerificationStatus) IsValid() bool {
	return v == VerificationPending || v == VerificationVerified || v == VerificationFailed
}

type RejectionReason string

const (
	RejectionIdentityNotVerified RejectionReason = "identity_not_verified"
	RejectionManifestlyUnfounded RejectionReason = "manifestly_unfounded"
	RejectionExcessiveRequest    RejectionReason = "excessive_request"
	RejectionLegalExemption      RejectionReason = "legal_exemption"
	RejectionDataNotFound        RejectionReason = "data_not_found"
	RejectionDuplicateRequest    RejectionReason = "duplicate_request"
	RejectionOther               RejectionReason = "other"
)

func (r RejectionReason) IsValid() bool {
	switch r {
	case RejectionIdentityNotVerified, RejectionManifestlyUnfounded, RejectionExcessiveRequest,
		RejectionLegalExemption, RejectionDataNotFound, RejectionDuplicateRequest, RejectionOther:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) IsValid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// Response and contact preferences
const (
	ResponseMethodEmail  = "email"
	ResponseMethodPostal = "postal"
	ResponseMethodPortal = "portal"

	CustomerTypeIndividual = "individual"
	CustomerTypeBusiness   = "business"
	CustomerTypeGuardian   = "guardian"
)

// Assignee is the staff member currently handling a request
type Assignee struct {
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	AssignedAt time.Time `json:"assignedAt"`
}

// ProcessingNote is an internal annotation left while handling a request
type ProcessingNote struct {
	ID        string    `json:"id"`
	Note      string    `json:"note"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// Communication records an exchange with the requester
type Communication struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`      // email, phone, letter, portal
	Direction string    `json:"direction"` // inbound, outbound
	Content   string    `json:"content"`
	Format    string    `json:"format,omitempty"` // text (default) or html
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
}

// ResponsePackage describes the data package delivered for access/portability requests
type ResponsePackage struct {
	Format      string    `json:"format"`
	DownloadURL string    `json:"downloadUrl"`
	StorageKey  string    `json:"-"`
	ExpiresAt   time.Time `json:"expiresAt"`
	FileSize    int64     `json:"fileSize"`
	RecordCount int       `json:"recordCount"`
}

// DSARRequest is a data subject access request and its full processing record.
// Sub-documents are stored as JSON columns so every update is a single row write.
type DSARRequest struct {
	ID        string         `gorm:"type:uuid;primarykey" json:"id"`
	RequestID string         `gorm:"not null;uniqueIndex:idx_dsar_request_id" json:"requestId"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Version   int            `gorm:"not null;default:1" json:"version"`

	// Requester
	RequesterID    string `gorm:"index:idx_dsar_requester_id" json:"requesterId,omitempty"`
	RequesterName  string `json:"requesterName"`
	RequesterEmail string `gorm:"not null;index:idx_dsar_requester_email" json:"requesterEmail"`
	RequesterPhone string `json:"requesterPhone,omitempty"`

	// Classification
	RequestType    DSARRequestType `gorm:"not null;index:idx_dsar_type" json:"requestType"`
	Subject        string          `gorm:"not null" json:"subject"`
	Description    string          `gorm:"type:text;not null" json:"description"`
	DataCategories []string        `gorm:"serializer:json" json:"dataCategories"`
	LegalBasis     LegalBasis      `json:"legalBasis,omitempty"`
	Tags           []string        `gorm:"serializer:json" json:"tags"`
	ResponseMethod string          `gorm:"not null;default:email" json:"responseMethod"`
	CustomerType   string          `gorm:"not null;default:individual" json:"customerType"`

	// Workflow
	Status   DSARStatus   `gorm:"not null;default:pending;index:idx_dsar_status" json:"status"`
	Priority DSARPriority `gorm:"not null;default:medium;index:idx_dsar_priority" json:"priority"`

	// Dates
	SubmittedAt    time.Time  `gorm:"not null;index:idx_dsar_submitted_at,sort:desc" json:"submittedAt"`
	DueDate        time.Time  `gorm:"not null;index:idx_dsar_due_date" json:"dueDate"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`

	AssignedTo *Assignee `gorm:"serializer:json" json:"assignedTo,omitempty"`

	// Append-only trails
	ProcessingNotes []ProcessingNote `gorm:"serializer:json" json:"processingNotes"`
	Communications  []Communication  `gorm:"serializer:json" json:"communications"`

	Response *ResponsePackage `gorm:"serializer:json" json:"response,omitempty"`

	// Identity verification
	VerificationMethod    string             `json:"verificationMethod,omitempty"`
	VerificationStatus    VerificationStatus `gorm:"not null;default:pending" json:"verificationStatus"`
	VerifiedAt            *time.Time         `json:"verifiedAt,omitempty"`
	VerifiedBy            string             `json:"verifiedBy,omitempty"`
	VerificationCodeHash  string             `json:"-"`
	VerificationExpiresAt *time.Time         `json:"-"`
	VerificationAttempts  int                `json:"-"`

	// Rejection
	RejectionReason  RejectionReason `json:"rejectionReason,omitempty"`
	RejectionDetails string          `gorm:"type:text" json:"rejectionDetails,omitempty"`

	// Compliance
	Jurisdiction   string    `gorm:"not null;default:'Sri Lanka'" json:"jurisdiction"`
	ApplicableLaws []string  `gorm:"serializer:json" json:"applicableLaws"`
	RiskLevel      RiskLevel `gorm:"not null;default:low" json:"riskLevel"`
	SensitiveData  bool      `json:"sensitiveData"`
}

// BeforeCreate generates UUID
func (r *DSARRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// AfterFind normalizes empty JSON columns so clients always receive arrays
func (r *DSARRequest) AfterFind(tx *gorm.DB) error {
	if r.ProcessingNotes == nil {
		r.ProcessingNotes = []ProcessingNote{}
	}
	if r.Communications == nil {
		r.Communications = []Communication{}
	}
	if r.DataCategories == nil {
		r.DataCategories = []string{}
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.ApplicableLaws == nil {
		r.ApplicableLaws = []string{}
	}
	return nil
}

// TableName specifies the table name
func (DSARRequest) TableName() string {
	return "dsar_requests"
}

// GenerateRequestID builds a human-readable identifier: DSAR-<unix millis>-<6 chars>
func GenerateRequestID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:6]
	return fmt.Sprintf("DSAR-%d-%s", now.UnixMilli(), suffix)
}

// DefaultApplicableLaws maps a jurisdiction to the law code recorded at creation
func DefaultApplicableLaws(jurisdiction string) []string {
	switch strings.ToLower(strings.TrimSpace(jurisdiction)) {
	case "eu", "european union", "germany", "france", "ireland":
		return []string{"GDPR"}
	case "united kingdom", "uk":
		return []string{"UK_GDPR"}
	case "california":
		return []string{"CCPA"}
	default:
		return []string{"PDPA_2022"}
	}
}

// ApplyStatus moves the request to status and stamps acknowledgedAt / completedAt
// the first time the matching status is entered. Returns the previous status.
func (r *DSARRequest) ApplyStatus(status DSARStatus, now time.Time) DSARStatus {
	previous := r.Status
	r.Status = status

	switch status {
	case DSARStatusInProgress:
		if r.AcknowledgedAt == nil {
			t := now
			r.AcknowledgedAt = &t
		}
	case DSARStatusCompleted:
		if r.CompletedAt == nil {
			t := now
			r.CompletedAt = &t
		}
	}
	return previous
}

// AppendNote adds a processing note to the end of the trail
func (r *DSARRequest) AppendNote(note, author string, now time.Time) ProcessingNote {
	entry := ProcessingNote{
		ID:        uuid.New().String(),
		Note:      note,
		Author:    author,
		Timestamp: now,
	}
	r.ProcessingNotes = append(r.ProcessingNotes, entry)
	return entry
}

// AppendCommunication adds a communication record to the end of the trail
func (r *DSARRequest) AppendCommunication(c Communication, now time.Time) Communication {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Timestamp = now
	r.Communications = append(r.Communications, c)
	return c
}

// Deadline holds the SLA figures derived from the stored dates
type Deadline struct {
	IsOverdue      bool `json:"isOverdue"`
	DaysRemaining  int  `json:"daysRemaining"`
	ProcessingDays int  `json:"processingDays"`
}

// ComputeDeadline derives the SLA figures. Only completed requests stop the overdue clock.
func ComputeDeadline(status DSARStatus, dueDate, submittedAt time.Time, completedAt *time.Time, now time.Time) Deadline {
	var d Deadline

	d.IsOverdue = status != DSARStatusCompleted && now.After(dueDate)

	if status != DSARStatusCompleted {
		d.DaysRemaining = ceilDays(dueDate.Sub(now))
	}

	end := now
	if completedAt != nil {
		end = *completedAt
	}
	d.ProcessingDays = floorDays(end.Sub(submittedAt))

	return d
}

// Deadline derives SLA figures for this request at now
func (r *DSARRequest) Deadline(now time.Time) Deadline {
	return ComputeDeadline(r.Status, r.DueDate, r.SubmittedAt, r.CompletedAt, now)
}

// DSARView is the read model returned to clients: the stored record plus derived fields
type DSARView struct {
	*DSARRequest
	Deadline
}

// View pairs the record with its derived fields at now
func (r *DSARRequest) View(now time.Time) DSARView {
	return DSARView{DSARRequest: r, Deadline: r.Deadline(now)}
}

const day = 24 * time.Hour

func ceilDays(d time.Duration) int {
	q := d / day
	if d%day > 0 {
		q++
	}
	return int(q)
}

func floorDays(d time.Duration) int {
	q := d / day
	if d%day < 0 {
		q--
	}
	return int(q)
}
