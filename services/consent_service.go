package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"consenthub/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CurrentPolicyVersion is the privacy policy version stamped on new consent records
const CurrentPolicyVersion = "1.0.0"

const consentResource = "ConsentLog"

// ConsentService keeps the append-only consent ledger per data subject
type ConsentService struct {
	DB            *gorm.DB
	PolicyVersion string
}

func NewConsentService(db *gorm.DB) *ConsentService {
	return &ConsentService{DB: db, PolicyVersion: CurrentPolicyVersion}
}

// ConsentInput records one consent decision
type ConsentInput struct {
	SubjectEmail  string `json:"subjectEmail" validate:"required,email,max=254"`
	SubjectID     string `json:"subjectId" validate:"omitempty,max=100"`
	Purpose       string `json:"purpose" validate:"required,oneof=data_processing marketing analytics third_party_sharing cookies"`
	Granted       *bool  `json:"granted" validate:"required"`
	PolicyVersion string `json:"policyVersion" validate:"omitempty,max=20"`
	Source        string `json:"source" validate:"omitempty,max=100"`
}

// Record appends a consent decision together with its audit entry
func (s *ConsentService) Record(ctx context.Context, in ConsentInput, actor Actor) (*models.ConsentLog, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}

	entry := &models.ConsentLog{
		SubjectEmail:  normalizeEmail(in.SubjectEmail),
		SubjectID:     strings.TrimSpace(in.SubjectID),
		Purpose:       models.ConsentPurpose(in.Purpose),
		Granted:       *in.Granted,
		PolicyVersion: defaultString(strings.TrimSpace(in.PolicyVersion), s.policyVersion()),
		Source:        defaultString(strings.TrimSpace(in.Source), "api"),
		IPAddress:     actor.IPAddress,
		UserAgent:     actor.UserAgent,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.insert(tx, entry, actor)
	})
	if err != nil {
		return nil, &PersistenceError{Op: "record consent", Err: err}
	}
	return entry, nil
}

func (s *ConsentService) insert(tx *gorm.DB, entry *models.ConsentLog, actor Actor) error {
	if err := tx.Create(entry).Error; err != nil {
		return err
	}
	verb := "granted"
	if !entry.Granted {
		verb = "withdrawn"
	}
	return RecordAuditEvent(tx, actor, AuditEntry{
		Action:       models.AuditActionCreate,
		ResourceType: consentResource,
		ResourceID:   entry.ID,
		ResourceName: entry.SubjectEmail,
		Description:  fmt.Sprintf("Consent for %s %s (%s)", entry.Purpose, verb, entry.Source),
		NewValues:    map[string]interface{}{"purpose": entry.Purpose, "granted": entry.Granted},
	})
}

func (s *ConsentService) policyVersion() string {
	if s.PolicyVersion == "" {
		return CurrentPolicyVersion
	}
	return s.PolicyVersion
}

// History returns every consent record for email, newest first
func (s *ConsentService) History(ctx context.Context, email string) ([]models.ConsentLog, error) {
	var consents []models.ConsentLog
	err := s.DB.WithContext(ctx).
		Where("subject_email = ?", normalizeEmail(email)).
		Order("created_at DESC").
		Order("rowid DESC").
		Find(&consents).Error
	if err != nil {
		return nil, &PersistenceError{Op: "load consent history", Err: err}
	}
	return consents, nil
}

// Current returns the newest record per purpose
func (s *ConsentService) Current(ctx context.Context, email string) ([]models.ConsentLog, error) {
	history, err := s.History(ctx, email)
	if err != nil {
		return nil, err
	}
	seen := make(map[models.ConsentPurpose]bool, len(models.ConsentPurposes))
	current := make([]models.ConsentLog, 0, len(models.ConsentPurposes))
	for _, c := range history {
		if seen[c.Purpose] {
			continue
		}
		seen[c.Purpose] = true
		current = append(current, c)
	}
	return current, nil
}

// HasConsent reports whether the newest record for purpose is a grant
func (s *ConsentService) HasConsent(ctx context.Context, email string, purpose models.ConsentPurpose) (bool, error) {
	var latest models.ConsentLog
	err := s.DB.WithContext(ctx).
		Where("subject_email = ? AND purpose = ?", normalizeEmail(email), purpose).
		Order("created_at DESC").
		Order("rowid DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &PersistenceError{Op: "load consent", Err: err}
	}
	return latest.Granted, nil
}

// WithdrawAll records a withdrawal for every purpose currently granted and
// returns how many were withdrawn
func (s *ConsentService) WithdrawAll(ctx context.Context, email, source string, actor Actor) (int, error) {
	current, err := s.Current(ctx, email)
	if err != nil {
		return 0, err
	}

	withdrawn := 0
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range current {
			if !c.Granted {
				continue
			}
			entry := &models.ConsentLog{
				SubjectEmail:  c.SubjectEmail,
				SubjectID:     c.SubjectID,
				Purpose:       c.Purpose,
				Granted:       false,
				PolicyVersion: c.PolicyVersion,
				Source:        source,
				IPAddress:     actor.IPAddress,
				UserAgent:     actor.UserAgent,
			}
			if err := s.insert(tx, entry, actor); err != nil {
				return err
			}
			withdrawn++
		}
		return nil
	})
	if err != nil {
		return 0, &PersistenceError{Op: "withdraw consents", Err: err}
	}
	return withdrawn, nil
}

// HandleEvent withdraws every consent once a withdraw_consent request completes
func (s *ConsentService) HandleEvent(ctx context.Context, e Event) {
	if e.Type != EventDSARStatusChanged || e.ToStatus != models.DSARStatusCompleted ||
		e.RequestType != models.DSARTypeWithdrawConsent || e.RequesterEmail == "" {
		return
	}

	n, err := s.WithdrawAll(ctx, e.RequesterEmail, "dsar:"+e.RequestID, Actor{Name: e.Actor, Role: "system"})
	if err != nil {
		zap.S().Errorw("failed to withdraw consents", "request_id", e.RequestID, "error", err)
		return
	}
	zap.S().Infow("consents withdrawn", "request_id", e.RequestID, "count", n)
}
