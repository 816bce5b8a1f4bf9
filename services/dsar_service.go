package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"consenthub/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dsarResource = "DSARRequest"

// immutableColumns are never rewritten after creation
var immutableColumns = []string{"id", "request_id", "created_at", "submitted_at", "due_date"}

// DSARService owns the DSAR lifecycle: submission, transitions and record updates.
// Every write is a single version-guarded row update.
type DSARService struct {
	DB      *gorm.DB
	Events  EventBus
	Metrics *Metrics
	Mailer  Mailer
	Log     *zap.SugaredLogger

	// Now is the clock used for every timestamp and derived field
	Now func() time.Time

	DefaultJurisdiction string
	ResponseWindow      time.Duration
}

func NewDSARService(db *gorm.DB, events EventBus, metrics *Metrics) *DSARService {
	return &DSARService{
		DB:                  db,
		Events:              events,
		Metrics:             metrics,
		Log:                 zap.S(),
		Now:                 time.Now,
		DefaultJurisdiction: "Sri Lanka",
		ResponseWindow:      models.DefaultResponseWindow,
	}
}

func (s *DSARService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Clock returns the current service time in UTC
func (s *DSARService) Clock() time.Time {
	return s.now()
}

func (s *DSARService) logger() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.S()
	}
	return s.Log
}

// SubmitRequest is the creation payload
type SubmitRequest struct {
	RequesterName  string   `json:"requesterName" validate:"omitempty,max=200"`
	RequesterEmail string   `json:"requesterEmail" validate:"required,email,max=254"`
	RequesterPhone string   `json:"requesterPhone" validate:"omitempty,max=40"`
	RequesterID    string   `json:"requesterId" validate:"omitempty,max=100"`
	RequestType    string   `json:"requestType" validate:"required,oneof=data_access data_rectification data_erasure data_portability restrict_processing object_processing withdraw_consent automated_decision"`
	Subject        string   `json:"subject" validate:"required,max=200"`
	Description    string   `json:"description" validate:"required,max=2000"`
	DataCategories []string `json:"dataCategories" validate:"omitempty,max=50,dive,max=100"`
	LegalBasis     string   `json:"legalBasis" validate:"omitempty,oneof=consent contract legal_obligation vital_interests public_task legitimate_interests"`
	Priority       string   `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	ResponseMethod string   `json:"responseMethod" validate:"omitempty,oneof=email postal portal"`
	CustomerType   string   `json:"customerType" validate:"omitempty,oneof=individual business guardian"`
	Tags           []string `json:"tags" validate:"omitempty,max=20,dive,max=50"`
	Jurisdiction   string   `json:"jurisdiction" validate:"omitempty,max=100"`
	SensitiveData  bool     `json:"sensitiveData"`
}

// Submit validates the payload and persists a new pending request
func (s *DSARService) Submit(ctx context.Context, in SubmitRequest, actor Actor) (*models.DSARRequest, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}

	// Subject and description are stored exactly as submitted
	subject, description := in.Subject, in.Description
	if strings.TrimSpace(subject) == "" {
		return nil, NewFieldError("subject", "is required")
	}
	if strings.TrimSpace(description) == "" {
		return nil, NewFieldError("description", "is required")
	}

	now := s.now()
	window := s.ResponseWindow
	if window <= 0 {
		window = models.DefaultResponseWindow
	}

	jurisdiction := strings.TrimSpace(in.Jurisdiction)
	if jurisdiction == "" {
		jurisdiction = s.DefaultJurisdiction
	}
	if jurisdiction == "" {
		jurisdiction = "Sri Lanka"
	}

	r := &models.DSARRequest{
		RequestID:          models.GenerateRequestID(now),
		Version:            1,
		RequesterID:        strings.TrimSpace(in.RequesterID),
		RequesterName:      CleanText(in.RequesterName),
		RequesterEmail:     strings.ToLower(strings.TrimSpace(in.RequesterEmail)),
		RequesterPhone:     strings.TrimSpace(in.RequesterPhone),
		RequestType:        models.DSARRequestType(in.RequestType),
		Subject:            subject,
		Description:        description,
		DataCategories:     nonNil(CleanList(in.DataCategories)),
		LegalBasis:         models.LegalBasis(in.LegalBasis),
		Tags:               nonNil(CleanList(in.Tags)),
		ResponseMethod:     defaultString(in.ResponseMethod, models.ResponseMethodEmail),
		CustomerType:       defaultString(in.CustomerType, models.CustomerTypeIndividual),
		Status:             models.DSARStatusPending,
		Priority:           models.DSARPriority(defaultString(in.Priority, string(models.DSARPriorityMedium))),
		SubmittedAt:        now,
		DueDate:            now.Add(window),
		ProcessingNotes:    []models.ProcessingNote{},
		Communications:     []models.Communication{},
		VerificationStatus: models.VerificationPending,
		Jurisdiction:       jurisdiction,
		ApplicableLaws:     models.DefaultApplicableLaws(jurisdiction),
		RiskLevel:          models.RiskLow,
		SensitiveData:      in.SensitiveData,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionCreate,
			ResourceType: dsarResource,
			ResourceID:   r.ID,
			ResourceName: r.RequestID,
			Description:  fmt.Sprintf("DSAR %s submitted (%s)", r.RequestID, r.RequestType),
			NewValues: map[string]interface{}{
				"status":      r.Status,
				"requestType": r.RequestType,
				"dueDate":     r.DueDate,
			},
		})
	})
	if err != nil {
		return nil, &PersistenceError{Op: "create dsar request", Err: err}
	}

	s.Metrics.RecordCreated(string(r.RequestType))
	s.logger().Infow("dsar submitted", "request_id", r.RequestID, "type", r.RequestType, "due_date", r.DueDate)
	s.publish(ctx, r, EventDSARCreated, "", r.Status, actor)

	return r, nil
}

// Get loads a request by its requestId or internal id
func (s *DSARService) Get(ctx context.Context, id string) (*models.DSARRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &NotFoundError{Resource: dsarResource, ID: id}
	}

	var r models.DSARRequest
	err := s.DB.WithContext(ctx).
		Where("request_id = ? OR id = ?", id, id).
		First(&r).Error
	if err != nil {
		return nil, wrapDBError("load dsar request", dsarResource, id, err)
	}
	return &r, nil
}

// StatusUpdate requests a status transition
type StatusUpdate struct {
	Status           models.DSARStatus      `json:"status" validate:"required,oneof=pending in_progress completed rejected cancelled"`
	Note             string                 `json:"note" validate:"omitempty,max=2000"`
	Author           string                 `json:"author" validate:"omitempty,max=200"`
	RejectionReason  models.RejectionReason `json:"rejectionReason" validate:"omitempty,oneof=identity_not_verified manifestly_unfounded excessive_request legal_exemption data_not_found duplicate_request other"`
	RejectionDetails string                 `json:"rejectionDetails" validate:"omitempty,max=2000"`
	ExpectedVersion  int                    `json:"version" validate:"omitempty,min=0"`
}

func (u StatusUpdate) validate() error {
	if err := ValidateStruct(u); err != nil {
		return err
	}
	return validateRejectionPairing(u.Status, u.RejectionReason, u.RejectionDetails)
}

// validateRejectionPairing requires a reason exactly when moving to rejected
func validateRejectionPairing(status models.DSARStatus, reason models.RejectionReason, details string) error {
	if status == models.DSARStatusRejected && reason == "" {
		return NewFieldError("rejectionReason", "is required when status is rejected")
	}
	if status != models.DSARStatusRejected && (reason != "" || details != "") {
		return NewFieldError("rejectionReason", "is only allowed when status is rejected")
	}
	return nil
}

// UpdateStatus applies a status transition, stamping acknowledgedAt/completedAt on first entry
func (s *DSARService) UpdateStatus(ctx context.Context, id string, in StatusUpdate, actor Actor) (*models.DSARRequest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var from models.DSARStatus
	r, err := s.mutate(ctx, id, in.ExpectedVersion, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		var entry AuditEntry
		from, entry = applyStatusUpdate(r, in, actor, now)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, r, from, actor)
	return r, nil
}

// applyStatusUpdate moves r to in.Status. Rejection fields only live on rejected
// requests; leaving that status clears them and the audit entry keeps the old values.
func applyStatusUpdate(r *models.DSARRequest, in StatusUpdate, actor Actor, now time.Time) (models.DSARStatus, AuditEntry) {
	oldReason, oldDetails := r.RejectionReason, r.RejectionDetails
	from := r.ApplyStatus(in.Status, now)
	if in.Status == models.DSARStatusRejected {
		r.RejectionReason = in.RejectionReason
		r.RejectionDetails = CleanText(in.RejectionDetails)
	} else {
		r.RejectionReason = ""
		r.RejectionDetails = ""
	}
	if note := CleanText(in.Note); note != "" {
		r.AppendNote(note, authorOrActor(in.Author, actor), now)
	}

	entry := statusAuditEntry(from, r.Status)
	if oldReason != r.RejectionReason || oldDetails != r.RejectionDetails {
		oldValues, newValues := entry.OldValues.(map[string]interface{}), entry.NewValues.(map[string]interface{})
		oldValues["rejectionReason"], newValues["rejectionReason"] = oldReason, r.RejectionReason
		oldValues["rejectionDetails"], newValues["rejectionDetails"] = oldDetails, r.RejectionDetails
	}
	return from, entry
}

func statusAuditEntry(from, to models.DSARStatus) AuditEntry {
	return AuditEntry{
		Action:      models.AuditActionStatusChange,
		Description: fmt.Sprintf("Status changed from %s to %s", from, to),
		OldValues:   map[string]interface{}{"status": from},
		NewValues:   map[string]interface{}{"status": to},
	}
}

func (s *DSARService) afterTransition(ctx context.Context, r *models.DSARRequest, from models.DSARStatus, actor Actor) {
	if from == r.Status {
		return
	}
	s.Metrics.RecordTransition(string(from), string(r.Status))
	if r.Status == models.DSARStatusCompleted {
		s.Metrics.RecordCompletion(r.Deadline(s.now()).ProcessingDays)
	}
	s.logger().Infow("dsar status changed", "request_id", r.RequestID, "from", from, "to", r.Status, "actor", actor.Label())
	s.publish(ctx, r, EventDSARStatusChanged, from, r.Status, actor)
}

// AddNote appends an internal processing note
func (s *DSARService) AddNote(ctx context.Context, id, note, author string, actor Actor) (*models.DSARRequest, error) {
	note = CleanText(note)
	if note == "" {
		return nil, NewFieldError("note", "is required")
	}
	if utf8.RuneCountInString(note) > 2000 {
		return nil, NewFieldError("note", "must be at most 2000 characters")
	}

	return s.mutate(ctx, id, 0, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		r.AppendNote(note, authorOrActor(author, actor), now)
		return AuditEntry{Action: models.AuditActionUpdate, Description: "Processing note added"}, nil
	})
}

// CommunicationInput records an exchange with the requester
type CommunicationInput struct {
	Type      string `json:"type" validate:"required,oneof=email phone letter portal"`
	Direction string `json:"direction" validate:"required,oneof=inbound outbound"`
	Content   string `json:"content" validate:"required,max=5000"`
	Format    string `json:"format" validate:"omitempty,oneof=text html"`
	Author    string `json:"author" validate:"omitempty,max=200"`
}

// AddCommunication appends to the communication log
func (s *DSARService) AddCommunication(ctx context.Context, id string, in CommunicationInput, actor Actor) (*models.DSARRequest, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, 0, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		return applyCommunication(r, in, actor, now), nil
	})
}

func applyCommunication(r *models.DSARRequest, in CommunicationInput, actor Actor, now time.Time) AuditEntry {
	r.AppendCommunication(models.Communication{
		Type:      in.Type,
		Direction: in.Direction,
		Content:   in.Content,
		Format:    defaultString(in.Format, ContentFormatText),
		Author:    authorOrActor(in.Author, actor),
	}, now)
	return AuditEntry{
		Action:      models.AuditActionUpdate,
		Description: fmt.Sprintf("Communication logged (%s, %s)", in.Type, in.Direction),
	}
}

// AssigneeInput names the staff member taking a request
type AssigneeInput struct {
	UserID string `json:"userId" validate:"required,max=100"`
	Name   string `json:"name" validate:"required,max=200"`
	Email  string `json:"email" validate:"required,email"`
}

// Assign hands the request to a staff member and notes the handover
func (s *DSARService) Assign(ctx context.Context, id string, in AssigneeInput, actor Actor) (*models.DSARRequest, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}

	r, err := s.mutate(ctx, id, 0, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		return applyAssignment(r, in, actor, now), nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, r, EventDSARAssigned, "", r.Status, actor)
	return r, nil
}

func applyAssignment(r *models.DSARRequest, in AssigneeInput, actor Actor, now time.Time) AuditEntry {
	var previous string
	if r.AssignedTo != nil {
		previous = r.AssignedTo.Email
	}
	r.AssignedTo = &models.Assignee{
		UserID:     in.UserID,
		Name:       CleanText(in.Name),
		Email:      strings.ToLower(in.Email),
		AssignedAt: now,
	}
	r.AppendNote(fmt.Sprintf("Assigned to %s", r.AssignedTo.Name), actor.Label(), now)
	return AuditEntry{
		Action:      models.AuditActionUpdate,
		Description: fmt.Sprintf("Assigned to %s", r.AssignedTo.Email),
		OldValues:   map[string]interface{}{"assignedTo": previous},
		NewValues:   map[string]interface{}{"assignedTo": r.AssignedTo.Email},
	}
}

// DetailsUpdate changes classification fields. Nil fields are left untouched.
type DetailsUpdate struct {
	Priority       *models.DSARPriority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
	RiskLevel      *models.RiskLevel    `json:"riskLevel,omitempty" validate:"omitempty,oneof=low medium high"`
	LegalBasis     *models.LegalBasis   `json:"legalBasis,omitempty" validate:"omitempty,oneof=consent contract legal_obligation vital_interests public_task legitimate_interests"`
	SensitiveData  *bool                `json:"sensitiveData,omitempty"`
	Tags           []string             `json:"tags,omitempty" validate:"omitempty,max=20,dive,max=50"`
	DataCategories []string             `json:"dataCategories,omitempty" validate:"omitempty,max=50,dive,max=100"`
}

func (d DetailsUpdate) empty() bool {
	return d.Priority == nil && d.RiskLevel == nil && d.LegalBasis == nil &&
		d.SensitiveData == nil && d.Tags == nil && d.DataCategories == nil
}

// UpdateDetails changes priority, risk and classification metadata
func (s *DSARService) UpdateDetails(ctx context.Context, id string, in DetailsUpdate, actor Actor) (*models.DSARRequest, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}
	if in.empty() {
		return nil, &ValidationError{Message: "no fields to update"}
	}

	return s.mutate(ctx, id, 0, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		return applyDetails(r, in), nil
	})
}

func applyDetails(r *models.DSARRequest, in DetailsUpdate) AuditEntry {
	oldValues := map[string]interface{}{}
	newValues := map[string]interface{}{}

	if in.Priority != nil && *in.Priority != r.Priority {
		oldValues["priority"], newValues["priority"] = r.Priority, *in.Priority
		r.Priority = *in.Priority
	}
	if in.RiskLevel != nil && *in.RiskLevel != r.RiskLevel {
		oldValues["riskLevel"], newValues["riskLevel"] = r.RiskLevel, *in.RiskLevel
		r.RiskLevel = *in.RiskLevel
	}
	if in.LegalBasis != nil && *in.LegalBasis != r.LegalBasis {
		oldValues["legalBasis"], newValues["legalBasis"] = r.LegalBasis, *in.LegalBasis
		r.LegalBasis = *in.LegalBasis
	}
	if in.SensitiveData != nil && *in.SensitiveData != r.SensitiveData {
		oldValues["sensitiveData"], newValues["sensitiveData"] = r.SensitiveData, *in.SensitiveData
		r.SensitiveData = *in.SensitiveData
	}
	if in.Tags != nil {
		oldValues["tags"], newValues["tags"] = r.Tags, CleanList(in.Tags)
		r.Tags = nonNil(CleanList(in.Tags))
	}
	if in.DataCategories != nil {
		oldValues["dataCategories"], newValues["dataCategories"] = r.DataCategories, CleanList(in.DataCategories)
		r.DataCategories = nonNil(CleanList(in.DataCategories))
	}

	return AuditEntry{
		Action:      models.AuditActionUpdate,
		Description: "Request details updated",
		OldValues:   oldValues,
		NewValues:   newValues,
	}
}

// UpdateRequest is the combined PUT body: any subset of status, note,
// assignment, communication and details, applied as one write
type UpdateRequest struct {
	DetailsUpdate
	Status           *models.DSARStatus     `json:"status,omitempty" validate:"omitempty,oneof=pending in_progress completed rejected cancelled"`
	Note             string                 `json:"note" validate:"omitempty,max=2000"`
	Author           string                 `json:"author" validate:"omitempty,max=200"`
	RejectionReason  models.RejectionReason `json:"rejectionReason" validate:"omitempty,oneof=identity_not_verified manifestly_unfounded excessive_request legal_exemption data_not_found duplicate_request other"`
	RejectionDetails string                 `json:"rejectionDetails" validate:"omitempty,max=2000"`
	AssignedTo       *AssigneeInput         `json:"assignedTo,omitempty"`
	Communication    *CommunicationInput    `json:"communication,omitempty"`
	ExpectedVersion  int                    `json:"version" validate:"omitempty,min=0"`
}

// Update applies a combined change set in a single read-modify-write
func (s *DSARService) Update(ctx context.Context, id string, in UpdateRequest, actor Actor) (*models.DSARRequest, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}
	if in.Status != nil {
		if err := validateRejectionPairing(*in.Status, in.RejectionReason, in.RejectionDetails); err != nil {
			return nil, err
		}
	} else if in.RejectionReason != "" || in.RejectionDetails != "" {
		return nil, NewFieldError("rejectionReason", "is only allowed when status is rejected")
	}
	if in.Status == nil && in.AssignedTo == nil && in.Communication == nil &&
		strings.TrimSpace(in.Note) == "" && in.DetailsUpdate.empty() {
		return nil, &ValidationError{Message: "no fields to update"}
	}

	from := models.DSARStatus("")
	r, err := s.mutate(ctx, id, in.ExpectedVersion, actor, func(r *models.DSARRequest, now time.Time) (AuditEntry, error) {
		from = r.Status
		var parts []string
		oldValues := map[string]interface{}{}
		newValues := map[string]interface{}{}
		merge := func(e AuditEntry) {
			parts = append(parts, e.Description)
			mergeValues(oldValues, e.OldValues)
			mergeValues(newValues, e.NewValues)
		}

		if !in.DetailsUpdate.empty() {
			merge(applyDetails(r, in.DetailsUpdate))
		}
		if in.AssignedTo != nil {
			merge(applyAssignment(r, *in.AssignedTo, actor, now))
		}
		if in.Communication != nil {
			merge(applyCommunication(r, *in.Communication, actor, now))
		}
		action := models.AuditActionUpdate
		if in.Status != nil {
			_, entry := applyStatusUpdate(r, StatusUpdate{
				Status:           *in.Status,
				Note:             in.Note,
				Author:           in.Author,
				RejectionReason:  in.RejectionReason,
				RejectionDetails: in.RejectionDetails,
			}, actor, now)
			if from != r.Status {
				action = models.AuditActionStatusChange
			}
			merge(entry)
		} else if note := CleanText(in.Note); note != "" {
			r.AppendNote(note, authorOrActor(in.Author, actor), now)
			parts = append(parts, "Processing note added")
		}

		return AuditEntry{
			Action:      action,
			Description: strings.Join(parts, "; "),
			OldValues:   oldValues,
			NewValues:   newValues,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if in.AssignedTo != nil {
		s.publish(ctx, r, EventDSARAssigned, "", r.Status, actor)
	}
	s.afterTransition(ctx, r, from, actor)
	return r, nil
}

// Delete soft-deletes a request. The audit entry is written in the same transaction.
func (s *DSARService) Delete(ctx context.Context, id string, actor Actor) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(r).Error; err != nil {
			return err
		}
		return RecordAuditEvent(tx, actor, AuditEntry{
			Action:       models.AuditActionDelete,
			ResourceType: dsarResource,
			ResourceID:   r.ID,
			ResourceName: r.RequestID,
			Description:  fmt.Sprintf("DSAR %s deleted by %s", r.RequestID, actor.Label()),
			OldValues:    map[string]interface{}{"status": r.Status},
		})
	})
	if err != nil {
		return &PersistenceError{Op: "delete dsar request", Err: err}
	}

	s.logger().Warnw("dsar deleted", "request_id", r.RequestID, "actor", actor.Label())
	s.publish(ctx, r, EventDSARDeleted, "", r.Status, actor)
	return nil
}

// HistoryEntry is one item of the merged audit trail
type HistoryEntry struct {
	Kind      string               `json:"kind"` // note, communication, audit
	Timestamp time.Time            `json:"timestamp"`
	Author    string               `json:"author"`
	Summary   string               `json:"summary"`
	Action    string               `json:"action,omitempty"`
	Direction string               `json:"direction,omitempty"`
	Channel   string               `json:"channel,omitempty"`
	Changes   []models.AuditChange `json:"changes,omitempty"`
}

// History merges processing notes, communications and audit log entries, oldest first
func (s *DSARService) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	logs, err := GetResourceAuditHistory(s.DB.WithContext(ctx), dsarResource, r.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "load audit history", Err: err}
	}

	entries := make([]HistoryEntry, 0, len(r.ProcessingNotes)+len(r.Communications)+len(logs))
	for _, n := range r.ProcessingNotes {
		entries = append(entries, HistoryEntry{Kind: "note", Timestamp: n.Timestamp, Author: n.Author, Summary: n.Note})
	}
	for _, c := range r.Communications {
		entries = append(entries, HistoryEntry{
			Kind:      "communication",
			Timestamp: c.Timestamp,
			Author:    c.Author,
			Summary:   c.Content,
			Direction: c.Direction,
			Channel:   c.Type,
		})
	}
	for i := range logs {
		l := &logs[i]
		entries = append(entries, HistoryEntry{
			Kind:      "audit",
			Timestamp: l.CreatedAt,
			Author:    l.ActorName,
			Summary:   l.Description,
			Action:    string(l.Action),
			Changes:   l.Changes(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// mutate loads a request, applies fn and writes the whole row guarded by its version.
// The audit entry returned by fn is written in the same transaction.
func (s *DSARService) mutate(
	ctx context.Context,
	id string,
	expectedVersion int,
	actor Actor,
	fn func(r *models.DSARRequest, now time.Time) (AuditEntry, error),
) (*models.DSARRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion > 0 && expectedVersion != r.Version {
		return nil, &ConflictError{
			Resource:        dsarResource,
			ID:              r.RequestID,
			ExpectedVersion: expectedVersion,
			CurrentVersion:  r.Version,
		}
	}

	now := s.now()
	entry, err := fn(r, now)
	if err != nil {
		return nil, err
	}

	prev := r.Version
	r.Version = prev + 1
	entry.ResourceType = dsarResource
	entry.ResourceID = r.ID
	entry.ResourceName = r.RequestID

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(r).
			Where("version = ?", prev).
			Select("*").
			Omit(immutableColumns...).
			Updates(r)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ConflictError{Resource: dsarResource, ID: r.RequestID, ExpectedVersion: prev}
		}
		return RecordAuditEvent(tx, actor, entry)
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, conflict
		}
		return nil, &PersistenceError{Op: "update dsar request", Err: err}
	}
	return r, nil
}

func (s *DSARService) publish(ctx context.Context, r *models.DSARRequest, t EventType, from, to models.DSARStatus, actor Actor) {
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(ctx, NewEvent(t, r, from, to, actor.Label(), s.now()))
	if err != nil {
		// The write is already committed; consumers catch up from the poll endpoint
		s.logger().Warnw("failed to publish dsar event", "event", t, "request_id", r.RequestID, "error", err)
	}
}

func authorOrActor(author string, actor Actor) string {
	if a := CleanText(author); a != "" {
		return a
	}
	return actor.Label()
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func mergeValues(dst map[string]interface{}, src interface{}) {
	m, ok := src.(map[string]interface{})
	if !ok {
		return
	}
	for k, v := range m {
		dst[k] = v
	}
}
