package handlers

import (
	"context"

	"consenthub/middleware"
	"consenthub/services"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// Handlers bundles everything RegisterRoutes mounts
type Handlers struct {
	DSAR          *DSARHandler
	Notifications *NotificationHandler
	Consents      *ConsentHandler
	Security      *services.SecurityMonitor
	DB            *gorm.DB
	Limits        *middleware.RateLimiters
	Ping          func(ctx context.Context) error
}

// RegisterRoutes mounts the public probes and the authenticated /api/v1 surface
func RegisterRoutes(e *echo.Echo, h *Handlers, jwtSecret string) {
	e.GET("/health", HealthHandler(h.Ping))

	api := e.Group("/api/v1")
	api.Use(middleware.RequireAuth(jwtSecret))
	api.Use(middleware.AuditContext())
	api.Use(h.Limits.API.Middleware())

	staff := middleware.RequireRole(middleware.RoleCSR, middleware.RoleAdmin)
	submit := h.Limits.Submission.Middleware()
	verify := h.Limits.Verification.Middleware()

	dsar := api.Group("/dsar")
	{
		dsar.POST("/dsarRequest", h.DSAR.CreateHandler, submit)
		dsar.POST("/requests", h.DSAR.CreateHandler, submit)
		dsar.GET("/dsarRequest", h.DSAR.ListHandler)
		dsar.GET("/dsarRequest/:id", h.DSAR.GetHandler)
		dsar.PUT("/dsarRequest/:id", h.DSAR.UpdateHandler,
			middleware.RequireRole(middleware.RoleCSR, middleware.RoleAdmin, middleware.RoleSystem))
		dsar.DELETE("/dsarRequest/:id", h.DSAR.DeleteHandler, middleware.RequireRole(middleware.RoleAdmin))
		dsar.GET("/dsarRequest/:id/history", h.DSAR.HistoryHandler)
		dsar.POST("/dsarRequest/:id/notes", h.DSAR.AddNoteHandler, staff)
		dsar.POST("/dsarRequest/:id/communications", h.DSAR.AddCommunicationHandler, staff)
		dsar.POST("/dsarRequest/:id/verification", h.DSAR.StartVerificationHandler, verify)
		dsar.POST("/dsarRequest/:id/verification/confirm", h.DSAR.ConfirmVerificationHandler, verify)
		dsar.PUT("/dsarRequest/:id/verification", h.DSAR.SetVerificationHandler, staff)
		dsar.POST("/dsarRequest/:id/response", h.DSAR.GenerateResponseHandler, staff)
		dsar.GET("/stats", h.DSAR.StatsHandler, staff)
		dsar.GET("/events", h.DSAR.EventsHandler)
		dsar.GET("/export.xlsx", h.DSAR.ExportRegisterHandler, staff)
	}

	api.GET("/files/*", h.DSAR.DownloadFileHandler)

	notifications := api.Group("/notifications")
	{
		notifications.GET("", h.Notifications.ListHandler)
		notifications.GET("/count", h.Notifications.CountHandler)
		notifications.PUT("/read-all", h.Notifications.MarkAllReadHandler)
		notifications.PUT("/:id/read", h.Notifications.MarkReadHandler)
	}

	adminOnly := middleware.RequireRole(middleware.RoleAdmin)
	api.GET("/security/alerts", SecurityAlertsHandler(h.Security), adminOnly)
	api.GET("/audit-logs", AuditLogsHandler(h.DB), adminOnly)

	consents := api.Group("/consents")
	{
		consents.GET("", h.Consents.ListHandler)
		consents.POST("", h.Consents.RecordHandler)
	}
}
