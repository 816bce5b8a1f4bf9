package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"consenthub/models"

	"golang.org/x/crypto/bcrypt"
)

const (
	VerificationMethodEmailCode = "email_code"
	VerificationCodeTTL         = 15 * time.Minute
	MaxVerificationAttempts     = 5
)

var errVerificationInvalid = errors.New("invalid verification code")

// generateVerificationCode is swapped in tests
var generateVerificationCode = randomDigits

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// StartVerification issues a one-time code to the requester's email address
func (s *DSARService) StartVerification(ctx context.Context, id string, actor Actor) (*models.DSARRequest, error) {
	code, err := generateVerificationCode(6)
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash verification code: %w", err)
	}

	r, err := s.mutate(ctx, id, 0, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		if r.VerificationStatus == models.VerificationVerified {
			return AuditEntry{}, &ValidationError{Message: "identity already verified"}
		}
		if r.Status.IsTerminal() {
			return AuditEntry{}, &ValidationError{Message: fmt.Sprintf("request is %s", r.Status)}
		}
		expires := now.Add(VerificationCodeTTL)
		r.VerificationMethod = VerificationMethodEmailCode
		r.VerificationStatus = models.VerificationPending
		r.VerificationCodeHash = string(hash)
		r.VerificationExpiresAt = &expires
		r.VerificationAttempts = 0
		return AuditEntry{
			Action:      models.AuditActionVerification,
			Description: "Verification code issued to requester email",
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if s.Mailer != nil {
		sendAsync(s.Mailer, BuildVerificationCodeEmail(r, code, VerificationCodeTTL))
	}
	s.logger().Infow("verification started", "request_id", r.RequestID)
	return r, nil
}

// ConfirmVerification checks a code. After MaxVerificationAttempts wrong codes the
// verification is marked failed and a new code must be requested.
func (s *DSARService) ConfirmVerification(ctx context.Context, id, code string, actor Actor) (*models.DSARRequest, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, NewFieldError("code", "is required")
	}

	r, err := s.mutate(ctx, id, 0, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		if r.VerificationStatus == models.VerificationVerified {
			return AuditEntry{}, &ValidationError{Message: "identity already verified"}
		}
		if r.VerificationCodeHash == "" {
			return AuditEntry{}, &ValidationError{Message: "no verification in progress"}
		}
		if r.VerificationExpiresAt == nil || now.After(*r.VerificationExpiresAt) {
			return AuditEntry{}, NewFieldError("code", "has expired, request a new one")
		}

		if bcrypt.CompareHashAndPassword([]byte(r.VerificationCodeHash), []byte(code)) != nil {
			r.VerificationAttempts++
			if r.VerificationAttempts >= MaxVerificationAttempts {
				r.VerificationStatus = models.VerificationFailed
				r.VerificationCodeHash = ""
				r.VerificationExpiresAt = nil
			}
			return AuditEntry{
				Action:      models.AuditActionVerification,
				Description: fmt.Sprintf("Verification attempt %d failed", r.VerificationAttempts),
				NewValues:   map[string]interface{}{"verificationStatus": r.VerificationStatus},
			}, nil
		}

		r.VerificationStatus = models.VerificationVerified
		r.VerifiedAt = &now
		r.VerifiedBy = VerificationMethodEmailCode
		r.VerificationCodeHash = ""
		r.VerificationExpiresAt = nil
		r.AppendNote("Identity verified by email code", actor.Label(), now)
		return AuditEntry{
			Action:      models.AuditActionVerification,
			Description: "Identity verified by email code",
			NewValues:   map[string]interface{}{"verificationStatus": r.VerificationStatus},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if r.VerificationStatus != models.VerificationVerified {
		if r.VerificationStatus == models.VerificationFailed {
			return r, &ValidationError{Message: "too many failed attempts, verification failed",
				Fields: map[string]string{"code": errVerificationInvalid.Error()}}
		}
		return r, NewFieldError("code", errVerificationInvalid.Error())
	}

	s.publish(ctx, r, EventDSARVerified, "", r.Status, actor)
	return r, nil
}

// VerificationUpdate is a manual verification decision by staff
type VerificationUpdate struct {
	Status models.VerificationStatus `json:"status" validate:"required,oneof=pending verified failed"`
	Method string                    `json:"method" validate:"omitempty,max=100"`
	Note   string                    `json:"note" validate:"omitempty,max=2000"`
}

// SetVerification records a verification outcome decided outside the email-code flow
func (s *DSARService) SetVerification(ctx context.Context, id string, in VerificationUpdate, actor Actor) (*models.DSARRequest, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}

	r, err := s.mutate(ctx, id, 0, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		old := r.VerificationStatus
		r.VerificationStatus = in.Status
		if in.Method != "" {
			r.VerificationMethod = in.Method
		}
		r.VerificationCodeHash = ""
		r.VerificationExpiresAt = nil
		if in.Status == models.VerificationVerified {
			r.VerifiedAt = &now
			r.VerifiedBy = actor.Label()
		} else {
			r.VerifiedAt = nil
			r.VerifiedBy = ""
		}
		note := CleanText(in.Note)
		if note == "" {
			note = fmt.Sprintf("Verification set to %s", in.Status)
		}
		r.AppendNote(note, actor.Label(), now)
		return AuditEntry{
			Action:      models.AuditActionVerification,
			Description: fmt.Sprintf("Verification set to %s", in.Status),
			OldValues:   map[string]interface{}{"verificationStatus": old},
			NewValues:   map[string]interface{}{"verificationStatus": in.Status},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if r.VerificationStatus == models.VerificationVerified {
		s.publish(ctx, r, EventDSARVerified, "", r.Status, actor)
	}
	return r, nil
}
