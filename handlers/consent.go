package handlers

import (
	"net/http"
	"strings"

	"consenthub/middleware"
	"consenthub/services"

	"github.com/labstack/echo/v4"
)

// ConsentHandler exposes the consent ledger
type ConsentHandler struct {
	Consents *services.ConsentService
}

func NewConsentHandler(c *services.ConsentService) *ConsentHandler {
	return &ConsentHandler{Consents: c}
}

// ListHandler returns the current state per purpose plus the full history
func (h *ConsentHandler) ListHandler(c echo.Context) error {
	ctx := c.Request().Context()
	email := recipient(c)

	current, err := h.Consents.Current(ctx, email)
	if err != nil {
		return err
	}
	history, err := h.Consents.History(ctx, email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "email": email, "current": current, "history": history})
}

// RecordHandler appends a consent decision. Customers record their own only.
func (h *ConsentHandler) RecordHandler(c echo.Context) error {
	user := middleware.GetCurrentUser(c)

	var in services.ConsentInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	if !user.IsStaff() {
		if user.Email == "" {
			return forbidden("Customer token carries no email address")
		}
		if strings.TrimSpace(in.SubjectEmail) == "" {
			in.SubjectEmail = user.Email
		} else if !strings.EqualFold(strings.TrimSpace(in.SubjectEmail), user.Email) {
			return forbidden("Customers can only record their own consent")
		}
		in.SubjectID = user.ID
	}

	entry, err := h.Consents.Record(c.Request().Context(), in, middleware.GetActor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "consent": entry})
}
