package handlers

import (
	"net/http"
	"strconv"
	"time"

	"consenthub/services"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

const auditLogPageSize = 50

// AuditLogsHandler returns filtered, paginated audit log entries for admins
func AuditLogsHandler(database *gorm.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		page, _ := strconv.Atoi(c.QueryParam("page"))
		if page < 1 {
			page = 1
		}

		filters := services.AuditLogFilters{
			ActorID:      c.QueryParam("actorId"),
			ResourceType: c.QueryParam("resourceType"),
			Action:       c.QueryParam("action"),
			SearchQuery:  c.QueryParam("search"),
		}

		fields := map[string]string{}
		if v := c.QueryParam("dateFrom"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				fields["dateFrom"] = "expected YYYY-MM-DD"
			}
			filters.DateFrom = t
		}
		if v := c.QueryParam("dateTo"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				fields["dateTo"] = "expected YYYY-MM-DD"
			} else {
				filters.DateTo = t.Add(24*time.Hour - time.Second) // end of day
			}
		}
		if len(fields) > 0 {
			return &services.ValidationError{Message: "invalid filter", Fields: fields}
		}

		logs, total, err := services.GetAuditLogs(database.WithContext(c.Request().Context()), filters, page, auditLogPageSize)
		if err != nil {
			return &services.PersistenceError{Op: "list audit logs", Err: err}
		}

		return c.JSON(http.StatusOK, echo.Map{
			"success": true,
			"logs":    logs,
			"total":   total,
			"page":    page,
			"limit":   auditLogPageSize,
		})
	}
}
