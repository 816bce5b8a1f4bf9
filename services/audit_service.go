package services

import (
	"encoding/json"
	"time"

	"consenthub/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actor identifies who performed an operation. It is denormalized into audit
// entries, processing notes and domain events.
type Actor struct {
	ID        string
	Name      string
	Email     string
	Role      string
	IPAddress string
	UserAgent string
}

// SystemActor is used for scheduled jobs and internal callers
var SystemActor = Actor{ID: "system", Name: "system", Role: "system"}

// Label returns the best human-readable identifier for the actor
func (a Actor) Label() string {
	switch {
	case a.Name != "":
		return a.Name
	case a.Email != "":
		return a.Email
	case a.ID != "":
		return a.ID
	default:
		return "system"
	}
}

// AuditEntry describes one audit log write
type AuditEntry struct {
	Action       models.AuditAction
	ResourceType string
	ResourceID   string
	ResourceName string
	Description  string
	OldValues    interface{}
	NewValues    interface{}
}

// RecordAuditEvent writes an audit log entry synchronously, inside tx when the
// caller is running a transaction
func RecordAuditEvent(tx *gorm.DB, actor Actor, entry AuditEntry) error {
	auditLog := buildAuditLog(actor, entry)
	return tx.Create(&auditLog).Error
}

// LogAuditEvent creates a new audit log entry asynchronously
func LogAuditEvent(db *gorm.DB, actor Actor, entry AuditEntry) {
	// Run in goroutine to avoid blocking the request
	go func() {
		if err := RecordAuditEvent(db, actor, entry); err != nil {
			zap.S().Errorw("failed to create audit log", "resource_id", entry.ResourceID, "action", entry.Action, "error", err)
		}
	}()
}

func buildAuditLog(actor Actor, entry AuditEntry) models.AuditLog {
	var oldJSON, newJSON string

	if entry.OldValues != nil {
		if bytes, err := json.Marshal(entry.OldValues); err == nil {
			oldJSON = string(bytes)
		}
	}

	if entry.NewValues != nil {
		if bytes, err := json.Marshal(entry.NewValues); err == nil {
			newJSON = string(bytes)
		}
	}

	role := actor.Role
	if role == "" {
		role = "unknown"
	}

	return models.AuditLog{
		ActorID:      actor.ID,
		ActorName:    actor.Label(),
		ActorEmail:   actor.Email,
		ActorRole:    role,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		ResourceName: entry.ResourceName,
		Action:       entry.Action,
		Description:  entry.Description,
		OldValues:    oldJSON,
		NewValues:    newJSON,
		IPAddress:    actor.IPAddress,
		UserAgent:    actor.UserAgent,
	}
}

// GetResourceAuditHistory retrieves the audit history for a specific resource
func GetResourceAuditHistory(db *gorm.DB, resourceType, resourceID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := db.Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}

// AuditLogFilters contains filter options for audit log queries
type AuditLogFilters struct {
	ActorID      string
	ResourceType string
	Action       string
	DateFrom     time.Time
	DateTo       time.Time
	SearchQuery  string
}

// GetAuditLogs retrieves paginated audit logs
func GetAuditLogs(db *gorm.DB, filters AuditLogFilters, page, pageSize int) ([]models.AuditLog, int64, error) {
	query := db.Model(&models.AuditLog{})

	if filters.ActorID != "" {
		query = query.Where("actor_id = ?", filters.ActorID)
	}
	if filters.ResourceType != "" {
		query = query.Where("resource_type = ?", filters.ResourceType)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if !filters.DateFrom.IsZero() {
		query = query.Where("created_at >= ?", filters.DateFrom)
	}
	if !filters.DateTo.IsZero() {
		query = query.Where("created_at <= ?", filters.DateTo)
	}
	if filters.SearchQuery != "" {
		searchPattern := "%" + filters.SearchQuery + "%"
		query = query.Where(
			"resource_name LIKE ? OR description LIKE ? OR actor_name LIKE ?",
			searchPattern, searchPattern, searchPattern,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []models.AuditLog
	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&logs).Error

	return logs, total, err
}

// LogSecurityEvent logs security-related events to the database and standard log
func LogSecurityEvent(db *gorm.DB, eventType, actorID, details string) {
	zap.S().Warnw("security event", "event", eventType, "actor_id", actorID, "details", details)

	LogAuditEvent(db, Actor{ID: actorID, Role: "unknown"}, AuditEntry{
		Action:       models.AuditAction("SECURITY"),
		ResourceType: "SECURITY_EVENT",
		ResourceID:   eventType,
		Description:  details,
	})
}
