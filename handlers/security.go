package handlers

import (
	"net/http"

	"consenthub/services"

	"github.com/labstack/echo/v4"
)

// SecurityAlertsHandler lists recent security alerts for admins
func SecurityAlertsHandler(monitor *services.SecurityMonitor) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"success": true, "alerts": monitor.Alerts()})
	}
}
