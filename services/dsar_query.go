package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"consenthub/models"

	"gorm.io/gorm"
)

// Pagination defaults. Out-of-range values are clamped, never rejected.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListFilter selects and orders DSAR requests
type ListFilter struct {
	Status         string
	RequestType    string
	Priority       string
	RequesterEmail string
	RequesterID    string
	AssignedTo     string // assignee userId or email
	SubmittedFrom  *time.Time
	SubmittedTo    *time.Time
	Overdue        *bool
	Search         string

	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// sortColumns maps API sort fields to columns
var sortColumns = map[string]string{
	"submittedAt": "submitted_at",
	"dueDate":     "due_date",
	"status":      "status",
	"requestType": "request_type",
	"updatedAt":   "updated_at",
	"createdAt":   "created_at",
}

const prioritySortExpr = "CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END"

// Normalize clamps pagination and falls back to the default sort
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if _, ok := sortColumns[f.SortBy]; !ok && f.SortBy != "priority" {
		f.SortBy = "submittedAt"
	}
	f.SortOrder = strings.ToLower(f.SortOrder)
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
}

func (f *ListFilter) validate() error {
	fields := map[string]string{}
	if f.Status != "" && !models.DSARStatus(f.Status).IsValid() {
		fields["status"] = "unknown status"
	}
	if f.RequestType != "" && !models.DSARRequestType(f.RequestType).IsValid() {
		fields["requestType"] = "unknown request type"
	}
	if f.Priority != "" && !models.DSARPriority(f.Priority).IsValid() {
		fields["priority"] = "unknown priority"
	}
	if f.SubmittedFrom != nil && f.SubmittedTo != nil && f.SubmittedTo.Before(*f.SubmittedFrom) {
		fields["submittedTo"] = "must not be before submittedFrom"
	}
	if len(fields) > 0 {
		return &ValidationError{Message: "invalid filter", Fields: fields}
	}
	return nil
}

// ListStats are aggregate counts over the caller's scope
type ListStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
	Overdue  int64            `json:"overdue"`
}

// ListResult is one page of requests plus aggregates
type ListResult struct {
	Requests   []models.DSARView `json:"requests"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"totalPages"`
	Stats      ListStats         `json:"stats"`
}

// List returns a filtered, sorted page of requests. Stats cover the requester
// scope of the filter (email/id) and ignore the other filters so the counts can
// drive status tabs.
func (s *DSARService) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	f.Normalize()
	now := s.now()

	query := s.applyFilter(s.DB.WithContext(ctx).Model(&models.DSARRequest{}), f, now)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, &PersistenceError{Op: "count dsar requests", Err: err}
	}

	var requests []models.DSARRequest
	err := query.
		Order(orderClause(f)).
		Order("id ASC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&requests).Error
	if err != nil {
		return nil, &PersistenceError{Op: "list dsar requests", Err: err}
	}

	views := make([]models.DSARView, len(requests))
	for i := range requests {
		views[i] = requests[i].View(now)
	}

	stats, err := s.scopeStats(ctx, ListFilter{RequesterEmail: f.RequesterEmail, RequesterID: f.RequesterID}, now)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(f.Limit) - 1) / int64(f.Limit))

	return &ListResult{
		Requests:   views,
		Total:      total,
		Page:       f.Page,
		Limit:      f.Limit,
		TotalPages: totalPages,
		Stats:      *stats,
	}, nil
}

func orderClause(f ListFilter) string {
	dir := strings.ToUpper(f.SortOrder)
	if f.SortBy == "priority" {
		return fmt.Sprintf("%s %s", prioritySortExpr, dir)
	}
	return fmt.Sprintf("%s %s", sortColumns[f.SortBy], dir)
}

// applyFilter adds WHERE clauses for every set filter field
func (s *DSARService) applyFilter(query *gorm.DB, f ListFilter, now time.Time) *gorm.DB {
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.RequestType != "" {
		query = query.Where("request_type = ?", f.RequestType)
	}
	if f.Priority != "" {
		query = query.Where("priority = ?", f.Priority)
	}
	if f.RequesterEmail != "" {
		query = query.Where("requester_email = ?", strings.ToLower(strings.TrimSpace(f.RequesterEmail)))
	}
	if f.RequesterID != "" {
		query = query.Where("requester_id = ?", f.RequesterID)
	}
	if f.AssignedTo != "" {
		query = query.Where(
			"json_extract(assigned_to, '$.userId') = ? OR json_extract(assigned_to, '$.email') = ?",
			f.AssignedTo, strings.ToLower(f.AssignedTo),
		)
	}
	if f.SubmittedFrom != nil {
		query = query.Where("submitted_at >= ?", f.SubmittedFrom.UTC())
	}
	if f.SubmittedTo != nil {
		query = query.Where("submitted_at <= ?", f.SubmittedTo.UTC())
	}
	if f.Overdue != nil {
		if *f.Overdue {
			query = query.Where(overdueCondition, models.DSARStatusCompleted, now)
		} else {
			query = query.Not(overdueCondition, models.DSARStatusCompleted, now)
		}
	}
	if f.Search != "" {
		pattern := "%" + strings.TrimSpace(f.Search) + "%"
		query = query.Where(
			"request_id LIKE ? OR subject LIKE ? OR requester_name LIKE ? OR requester_email LIKE ?",
			pattern, pattern, pattern, pattern,
		)
	}
	return query
}

// overdueCondition mirrors models.ComputeDeadline: only completed requests stop the clock
const overdueCondition = "status <> ? AND due_date < ?"

func (s *DSARService) scopeStats(ctx context.Context, scope ListFilter, now time.Time) (*ListStats, error) {
	stats := &ListStats{ByStatus: make(map[string]int64, len(models.DSARStatuses))}
	for _, st := range models.DSARStatuses {
		stats.ByStatus[string(st)] = 0
	}

	var rows []struct {
		Status string
		Count  int64
	}
	base := s.applyFilter(s.DB.WithContext(ctx).Model(&models.DSARRequest{}), scope, now)
	if err := base.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, &PersistenceError{Op: "aggregate dsar status", Err: err}
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	overdue := true
	scope.Overdue = &overdue
	err := s.applyFilter(s.DB.WithContext(ctx).Model(&models.DSARRequest{}), scope, now).
		Count(&stats.Overdue).Error
	if err != nil {
		return nil, &PersistenceError{Op: "count overdue dsar requests", Err: err}
	}
	return stats, nil
}

// Stats is the dashboard aggregate
type Stats struct {
	ListStats
	ByType                map[string]int64 `json:"byType"`
	ByPriority            map[string]int64 `json:"byPriority"`
	DueSoon               int64            `json:"dueSoon"`
	AverageProcessingDays float64          `json:"averageProcessingDays"`
}

// DueSoonWindow is how close to the due date an open request counts as due soon
const DueSoonWindow = 7 * 24 * time.Hour

// Stats aggregates counts for the dashboard. scope may restrict to one requester.
func (s *DSARService) Stats(ctx context.Context, scope ListFilter) (*Stats, error) {
	now := s.now()
	scope = ListFilter{RequesterEmail: scope.RequesterEmail, RequesterID: scope.RequesterID}

	base, err := s.scopeStats(ctx, scope, now)
	if err != nil {
		return nil, err
	}
	stats := &Stats{ListStats: *base}

	if stats.ByType, err = s.countBy(ctx, scope, now, "request_type"); err != nil {
		return nil, err
	}
	if stats.ByPriority, err = s.countBy(ctx, scope, now, "priority"); err != nil {
		return nil, err
	}

	err = s.applyFilter(s.DB.WithContext(ctx).Model(&models.DSARRequest{}), scope, now).
		Where("status NOT IN ?", []models.DSARStatus{models.DSARStatusCompleted, models.DSARStatusRejected, models.DSARStatusCancelled}).
		Where("due_date >= ? AND due_date < ?", now, now.Add(DueSoonWindow)).
		Count(&stats.DueSoon).Error
	if err != nil {
		return nil, &PersistenceError{Op: "count due soon dsar requests", Err: err}
	}

	var completed []models.DSARRequest
	err = s.applyFilter(s.DB.WithContext(ctx).Model(&models.DSARRequest{}), scope, now).
		Select("id", "status", "submitted_at", "due_date", "completed_at").
		Where("status = ? AND completed_at IS NOT NULL", models.DSARStatusCompleted).
		Find(&completed).Error
	if err != nil {
		return nil, &PersistenceError{Op: "load completed dsar requests", Err: err}
	}
	if len(completed) > 0 {
		var sum int
		for i := range completed {
			sum += completed[i].Deadline(now).ProcessingDays
		}
		stats.AverageProcessingDays = float64(sum) / float64(len(completed))
	}

	return stats, nil
}

func (s *DSARService) countBy(ctx context.Context, scope ListFilter, now time.Time, column string) (map[string]int64, error) {
	var rows []struct {
		GroupKey string
		Count    int64
	}
	err := s.applyFilter(s.DB.WithContext(ctx).Model(&models.DSARRequest{}), scope, now).
		Select(column + " AS group_key, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, &PersistenceError{Op: "aggregate dsar " + column, Err: err}
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.GroupKey] = row.Count
	}
	return out, nil
}

// ListOverdue returns every request past due that is not completed
func (s *DSARService) ListOverdue(ctx context.Context) ([]models.DSARRequest, error) {
	var requests []models.DSARRequest
	err := s.DB.WithContext(ctx).
		Where(overdueCondition, models.DSARStatusCompleted, s.now()).
		Order("due_date ASC").
		Find(&requests).Error
	if err != nil {
		return nil, &PersistenceError{Op: "list overdue dsar requests", Err: err}
	}
	return requests, nil
}

// ListAll returns every request in scope, newest first, for exports
func (s *DSARService) ListAll(ctx context.Context, scope ListFilter) ([]models.DSARRequest, error) {
	var requests []models.DSARRequest
	err := s.applyFilter(s.DB.WithContext(ctx).Model(&models.DSARRequest{}), scope, s.now()).
		Order("submitted_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, &PersistenceError{Op: "list dsar requests", Err: err}
	}
	return requests, nil
}
