package handlers

import (
	"net/http"
	"strconv"

	"consenthub/middleware"
	"consenthub/services"

	"github.com/labstack/echo/v4"
)

// NotificationHandler serves the in-app notification inbox
type NotificationHandler struct {
	Notifications *services.NotificationService
}

func NewNotificationHandler(n *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{Notifications: n}
}

// recipient is the caller's own inbox. Staff may look at another inbox with ?email.
func recipient(c echo.Context) string {
	user := middleware.GetCurrentUser(c)
	if email := c.QueryParam("email"); email != "" && user.IsStaff() {
		return email
	}
	return user.Email
}

// ListHandler returns the newest notifications, optionally only unread ones
func (h *NotificationHandler) ListHandler(c echo.Context) error {
	unreadOnly, _ := strconv.ParseBool(c.QueryParam("unread"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	notifications, err := h.Notifications.GetNotifications(c.Request().Context(), recipient(c), unreadOnly, limit)
	if err != nil {
		return &services.PersistenceError{Op: "list notifications", Err: err}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "notifications": notifications})
}

func (h *NotificationHandler) CountHandler(c echo.Context) error {
	count, err := h.Notifications.GetNotificationCount(c.Request().Context(), recipient(c))
	if err != nil {
		return &services.PersistenceError{Op: "count notifications", Err: err}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "unread": count})
}

// MarkReadHandler marks one of the caller's notifications read
func (h *NotificationHandler) MarkReadHandler(c echo.Context) error {
	user := middleware.GetCurrentUser(c)
	if err := h.Notifications.MarkAsRead(c.Request().Context(), c.Param("id"), user.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func (h *NotificationHandler) MarkAllReadHandler(c echo.Context) error {
	user := middleware.GetCurrentUser(c)
	if err := h.Notifications.MarkAllAsRead(c.Request().Context(), user.Email); err != nil {
		return &services.PersistenceError{Op: "mark notifications read", Err: err}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
