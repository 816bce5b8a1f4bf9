package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"consenthub/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotificationService turns DSAR events into in-app notifications and requester emails
type NotificationService struct {
	DB      *gorm.DB
	Mailer  Mailer
	Metrics *Metrics
	AppURL  string
}

func NewNotificationService(db *gorm.DB, mailer Mailer, metrics *Metrics, appURL string) *NotificationService {
	return &NotificationService{DB: db, Mailer: mailer, Metrics: metrics, AppURL: appURL}
}

// HandleEvent is registered as an EventBus subscriber
func (s *NotificationService) HandleEvent(ctx context.Context, e Event) {
	n, email := s.render(e)
	if n == nil {
		return
	}

	if err := s.CreateNotification(ctx, n); err != nil {
		zap.S().Errorw("failed to create notification", "event", e.Type, "request_id", e.RequestID, "error", err)
		return
	}
	s.Metrics.RecordNotification(n.Type)

	if email != nil && s.Mailer != nil {
		sendAsync(s.Mailer, email)
	}
}

func (s *NotificationService) render(e Event) (*models.Notification, *Email) {
	link := fmt.Sprintf("/dsar/%s", e.RequestID)

	switch e.Type {
	case EventDSARCreated:
		if e.RequesterEmail == "" {
			return nil, nil
		}
		n := &models.Notification{
			RecipientEmail: e.RequesterEmail,
			RequestID:      e.RequestID,
			Type:           models.NotificationTypeDSARCreated,
			Title:          "Request received",
			Message:        fmt.Sprintf("Your request %s was received and is due by %s.", e.RequestID, e.DueDate.Format("2006-01-02")),
			LinkURL:        link,
		}
		return n, BuildReceiptEmail(e, string(e.RequestType), e.DueDate, s.AppURL)

	case EventDSARStatusChanged:
		if e.RequesterEmail == "" {
			return nil, nil
		}
		status := humanize(string(e.ToStatus))
		n := &models.Notification{
			RecipientEmail: e.RequesterEmail,
			RequestID:      e.RequestID,
			Type:           models.NotificationTypeDSARStatusChanged,
			Title:          fmt.Sprintf("Request %s", status),
			Message:        fmt.Sprintf("Your request %s changed from %s to %s.", e.RequestID, humanize(string(e.FromStatus)), status),
			LinkURL:        link,
		}
		return n, BuildStatusChangeEmail(e, statusDetails(e.ToStatus), s.AppURL)

	case EventDSARResponseReady:
		if e.RequesterEmail == "" {
			return nil, nil
		}
		return &models.Notification{
			RecipientEmail: e.RequesterEmail,
			RequestID:      e.RequestID,
			Type:           models.NotificationTypeSystem,
			Title:          "Your data package is ready",
			Message:        fmt.Sprintf("The response package for %s is ready to download.", e.RequestID),
			LinkURL:        link,
		}, nil

	case EventDSAROverdue:
		// Overdue alerts go to the handling staff member, not the requester
		if e.AssigneeEmail == "" {
			return nil, nil
		}
		return &models.Notification{
			RecipientEmail: e.AssigneeEmail,
			RequestID:      e.RequestID,
			Type:           models.NotificationTypeDSAROverdue,
			Title:          "Request overdue",
			Message:        fmt.Sprintf("%s passed its due date of %s.", e.RequestID, e.DueDate.Format("2006-01-02")),
			LinkURL:        link,
		}, nil
	}
	return nil, nil
}

func statusDetails(status models.DSARStatus) string {
	switch status {
	case models.DSARStatusInProgress:
		return "Our privacy team has started working on your request."
	case models.DSARStatusCompleted:
		return "Your request has been completed."
	case models.DSARStatusRejected:
		return "Your request could not be fulfilled. Please check the request details for the reason."
	case models.DSARStatusCancelled:
		return "Your request has been cancelled."
	}
	return ""
}

// GetNotifications returns the newest notifications for a recipient
func (s *NotificationService) GetNotifications(ctx context.Context, email string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	query := s.DB.WithContext(ctx).Where("recipient_email = ?", normalizeEmail(email))
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}

	var notifications []models.Notification
	err := query.Order("created_at DESC").Limit(limit).Find(&notifications).Error
	return notifications, err
}

// MarkAsRead marks one notification read; it must belong to email
func (s *NotificationService) MarkAsRead(ctx context.Context, notificationID, email string) error {
	now := time.Now()
	res := s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_email = ?", notificationID, normalizeEmail(email)).
		Update("read_at", now)
	if res.Error != nil {
		return &PersistenceError{Op: "mark notification read", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Resource: "Notification", ID: notificationID}
	}
	return nil
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, email string) error {
	now := time.Now()
	return s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_email = ? AND read_at IS NULL", normalizeEmail(email)).
		Update("read_at", now).Error
}

func (s *NotificationService) GetNotificationCount(ctx context.Context, email string) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_email = ? AND read_at IS NULL", normalizeEmail(email)).
		Count(&count).Error
	return count, err
}

func (s *NotificationService) CreateNotification(ctx context.Context, notification *models.Notification) error {
	notification.RecipientEmail = normalizeEmail(notification.RecipientEmail)
	return s.DB.WithContext(ctx).Create(notification).Error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
