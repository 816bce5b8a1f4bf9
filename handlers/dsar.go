package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"consenthub/middleware"
	"consenthub/models"
	"consenthub/services"

	"github.com/labstack/echo/v4"
)

// DSARHandler serves the DSAR REST API
type DSARHandler struct {
	DSAR      *services.DSARService
	Responses *services.ResponseService
	Storage   services.StorageProvider
	Events    services.EventBus
	Security  *services.SecurityMonitor
}

func NewDSARHandler(dsar *services.DSARService, responses *services.ResponseService, storage services.StorageProvider, events services.EventBus, security *services.SecurityMonitor) *DSARHandler {
	return &DSARHandler{DSAR: dsar, Responses: responses, Storage: storage, Events: events, Security: security}
}

// CreateHandler submits a new request. Customers can only file for their own email.
func (h *DSARHandler) CreateHandler(c echo.Context) error {
	user := middleware.GetCurrentUser(c)

	var in services.SubmitRequest
	if err := bindJSON(c, &in); err != nil {
		return err
	}

	if !user.IsStaff() {
		if user.Email == "" {
			return forbidden("Customer token carries no email address")
		}
		if strings.TrimSpace(in.RequesterEmail) == "" {
			in.RequesterEmail = user.Email
		} else if !strings.EqualFold(strings.TrimSpace(in.RequesterEmail), user.Email) {
			return forbidden("Customers can only submit requests for their own email address")
		}
		if in.RequesterID == "" {
			in.RequesterID = user.ID
		}
	}

	r, err := h.DSAR.Submit(c.Request().Context(), in, middleware.GetActor(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": "DSAR request submitted",
		"request": r.View(h.DSAR.Clock()),
	})
}

type listResponse struct {
	Success bool `json:"success"`
	*services.ListResult
}

// ListHandler filters and pages requests. Customers only ever see their own.
func (h *DSARHandler) ListHandler(c echo.Context) error {
	user := middleware.GetCurrentUser(c)

	filter, err := parseListFilter(c)
	if err != nil {
		return err
	}
	if !user.IsStaff() {
		filter.RequesterEmail = user.Email
		filter.RequesterID = ""
		if user.Email == "" {
			if user.ID == "" {
				return forbidden("Customer token carries no identity")
			}
			filter.RequesterID = user.ID
		}
	}

	result, err := h.DSAR.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse{Success: true, ListResult: result})
}

func parseListFilter(c echo.Context) (services.ListFilter, error) {
	q := c.QueryParams()
	f := services.ListFilter{
		Status:         q.Get("status"),
		RequestType:    q.Get("requestType"),
		Priority:       q.Get("priority"),
		RequesterEmail: q.Get("requesterEmail"),
		RequesterID:    q.Get("requesterId"),
		AssignedTo:     q.Get("assignedTo"),
		Search:         q.Get("search"),
		SortBy:         q.Get("sortBy"),
		SortOrder:      q.Get("sortOrder"),
	}
	// Out-of-range or unparsable paging values are clamped by the service
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))

	fields := map[string]string{}
	if v := q.Get("overdue"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fields["overdue"] = "must be true or false"
		} else {
			f.Overdue = &b
		}
	}
	for name, dst := range map[string]**time.Time{"submittedFrom": &f.SubmittedFrom, "submittedTo": &f.SubmittedTo} {
		if v := q.Get(name); v != "" {
			t, err := parseDate(v)
			if err != nil {
				fields[name] = "must be an RFC3339 timestamp or YYYY-MM-DD date"
				continue
			}
			*dst = &t
		}
	}
	if len(fields) > 0 {
		return f, &services.ValidationError{Message: "invalid filter", Fields: fields}
	}
	return f, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", v)
}

// loadAuthorized fetches a request the caller may see. Customers only reach their own.
func (h *DSARHandler) loadAuthorized(c echo.Context) (*models.DSARRequest, error) {
	r, err := h.DSAR.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !canAccess(middleware.GetCurrentUser(c), r) {
		return nil, forbidden("You do not have access to this request")
	}
	return r, nil
}

func canAccess(user *middleware.Principal, r *models.DSARRequest) bool {
	if user == nil {
		return false
	}
	if user.IsStaff() {
		return true
	}
	if user.Email != "" && strings.EqualFold(user.Email, r.RequesterEmail) {
		return true
	}
	return user.ID != "" && user.ID == r.RequesterID
}

// GetHandler returns one request with its derived deadline fields
func (h *DSARHandler) GetHandler(c echo.Context) error {
	r, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	return h.respondRequest(c, r, "")
}

func (h *DSARHandler) respondRequest(c echo.Context, r *models.DSARRequest, message string) error {
	body := echo.Map{"success": true, "request": r.View(h.DSAR.Clock())}
	if message != "" {
		body["message"] = message
	}
	return c.JSON(http.StatusOK, body)
}

// UpdateHandler applies any combination of status, note, assignment, communication and details
func (h *DSARHandler) UpdateHandler(c echo.Context) error {
	var in services.UpdateRequest
	if err := bindJSON(c, &in); err != nil {
		return err
	}

	r, err := h.DSAR.Update(c.Request().Context(), c.Param("id"), in, middleware.GetActor(c))
	if err != nil {
		return err
	}
	return h.respondRequest(c, r, "DSAR request updated")
}

// DeleteHandler soft-deletes a request
func (h *DSARHandler) DeleteHandler(c echo.Context) error {
	if err := h.DSAR.Delete(c.Request().Context(), c.Param("id"), middleware.GetActor(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "DSAR request deleted"})
}

// HistoryHandler returns the merged audit trail
func (h *DSARHandler) HistoryHandler(c echo.Context) error {
	r, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	history, err := h.DSAR.History(c.Request().Context(), r.RequestID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "requestId": r.RequestID, "history": history})
}

type noteRequest struct {
	Note   string `json:"note"`
	Author string `json:"author"`
}

func (h *DSARHandler) AddNoteHandler(c echo.Context) error {
	var in noteRequest
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	r, err := h.DSAR.AddNote(c.Request().Context(), c.Param("id"), in.Note, in.Author, middleware.GetActor(c))
	if err != nil {
		return err
	}
	return h.respondRequest(c, r, "Note added")
}

func (h *DSARHandler) AddCommunicationHandler(c echo.Context) error {
	var in services.CommunicationInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	r, err := h.DSAR.AddCommunication(c.Request().Context(), c.Param("id"), in, middleware.GetActor(c))
	if err != nil {
		return err
	}
	return h.respondRequest(c, r, "Communication logged")
}

// StartVerificationHandler emails a one-time code to the requester
func (h *DSARHandler) StartVerificationHandler(c echo.Context) error {
	r, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	r, err = h.DSAR.StartVerification(c.Request().Context(), r.RequestID, middleware.GetActor(c))
	if err != nil {
		return err
	}
	return h.respondRequest(c, r, fmt.Sprintf("Verification code sent to %s", r.RequesterEmail))
}

type confirmRequest struct {
	Code string `json:"code"`
}

func (h *DSARHandler) ConfirmVerificationHandler(c echo.Context) error {
	r, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	var in confirmRequest
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	r, err = h.DSAR.ConfirmVerification(c.Request().Context(), r.RequestID, in.Code, middleware.GetActor(c))
	if err != nil {
		var ve *services.ValidationError
		if errors.As(err, &ve) && ve.Fields["code"] != "" {
			h.Security.TrackFailedVerification(c.RealIP(), c.Param("id"))
		}
		return err
	}
	return h.respondRequest(c, r, "Identity verified")
}

// SetVerificationHandler records a manual verification decision
func (h *DSARHandler) SetVerificationHandler(c echo.Context) error {
	var in services.VerificationUpdate
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	r, err := h.DSAR.SetVerification(c.Request().Context(), c.Param("id"), in, middleware.GetActor(c))
	if err != nil {
		return err
	}
	return h.respondRequest(c, r, "Verification updated")
}

type responseRequest struct {
	Format string `json:"format"`
}

// GenerateResponseHandler builds the data package for access and portability requests
func (h *DSARHandler) GenerateResponseHandler(c echo.Context) error {
	var in responseRequest
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	r, err := h.Responses.GenerateResponse(c.Request().Context(), c.Param("id"), strings.ToLower(in.Format), middleware.GetActor(c))
	if err != nil {
		return err
	}
	return h.respondRequest(c, r, "Response package generated")
}

// StatsHandler returns dashboard aggregates
func (h *DSARHandler) StatsHandler(c echo.Context) error {
	stats, err := h.DSAR.Stats(c.Request().Context(), services.ListFilter{})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "stats": stats})
}

// EventsHandler returns events newer than ?since so clients can poll for changes
func (h *DSARHandler) EventsHandler(c echo.Context) error {
	user := middleware.GetCurrentUser(c)

	var since uint64
	if v := c.QueryParam("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return services.NewFieldError("since", "must be a non-negative integer")
		}
		since = n
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > services.MaxPageSize {
		limit = services.MaxPageSize
	}

	all := h.Events.Since(since, limit)
	lastSeq := since
	events := make([]services.Event, 0, len(all))
	for _, e := range all {
		lastSeq = e.Seq
		if user.IsStaff() || strings.EqualFold(e.RequesterEmail, user.Email) {
			events = append(events, e)
		}
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "events": events, "lastSeq": lastSeq})
}

// ExportRegisterHandler downloads the DSAR register workbook
func (h *DSARHandler) ExportRegisterHandler(c echo.Context) error {
	filter, err := parseListFilter(c)
	if err != nil {
		return err
	}
	requests, err := h.DSAR.ListAll(c.Request().Context(), filter)
	if err != nil {
		return err
	}

	actor := middleware.GetActor(c)
	h.Security.TrackDownload(actor.IPAddress, actor.ID)

	now := h.DSAR.Clock()
	buf, err := services.BuildRegisterWorkbook(requests, now)
	if err != nil {
		return err
	}

	services.LogAuditEvent(h.DSAR.DB, actor, services.AuditEntry{
		Action:       models.AuditActionDownload,
		ResourceType: "DSARRegister",
		ResourceID:   now.Format("2006-01-02"),
		Description:  fmt.Sprintf("DSAR register exported (%d requests)", len(requests)),
	})

	filename := fmt.Sprintf("dsar_register_%s.xlsx", now.Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// DownloadFileHandler serves a response package kept in local storage.
// Keys look like dsar/<requestId>/response_<unix>.<ext>.
func (h *DSARHandler) DownloadFileHandler(c echo.Context) error {
	key := strings.TrimPrefix(c.Param("*"), "/")
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "dsar" {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}

	ctx := c.Request().Context()
	r, err := h.DSAR.Get(ctx, parts[1])
	if err != nil {
		return err
	}
	user := middleware.GetCurrentUser(c)
	if !canAccess(user, r) {
		return forbidden("You do not have access to this file")
	}
	if r.Response == nil || r.Response.StorageKey != key {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	if h.DSAR.Clock().After(r.Response.ExpiresAt) {
		return echo.NewHTTPError(http.StatusGone, "Download link has expired")
	}

	return h.streamFile(ctx, c, r, key)
}

func (h *DSARHandler) streamFile(ctx context.Context, c echo.Context, r *models.DSARRequest, key string) error {
	reader, contentType, err := h.Storage.Get(ctx, key)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	defer reader.Close()

	actor := middleware.GetActor(c)
	h.Security.TrackDownload(actor.IPAddress, actor.ID)

	services.LogAuditEvent(h.DSAR.DB, actor, services.AuditEntry{
		Action:       models.AuditActionDownload,
		ResourceType: "DSARRequest",
		ResourceID:   r.ID,
		ResourceName: r.RequestID,
		Description:  "Response package downloaded",
	})

	name := key[strings.LastIndex(key, "/")+1:]
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Stream(http.StatusOK, contentType, reader)
}
