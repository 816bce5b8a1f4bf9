package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"consenthub/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorResponse is the failure envelope
type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// HTTPErrorHandler maps service and echo errors onto the JSON envelope
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		zap.S().Errorw("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", status,
			"error", err,
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		zap.S().Errorw("failed to write error response", "error", err)
	}
}

func errorResponse(err error) (int, ErrorResponse) {
	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
		conflict   *services.ConflictError
		persist    *services.PersistenceError
		httpErr    *echo.HTTPError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{
			Error:   "ValidationError",
			Message: validation.Message,
			Fields:  validation.Fields,
		}
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{Error: "NotFoundError", Message: notFound.Error()}
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorResponse{Error: "ConflictError", Message: conflict.Error()}
	case errors.As(err, &persist):
		// Storage details stay in the log
		return http.StatusInternalServerError, ErrorResponse{Error: "PersistenceError", Message: "A storage error occurred"}
	case errors.As(err, &httpErr):
		return httpErr.Code, ErrorResponse{Error: errorCode(httpErr.Code), Message: fmt.Sprint(httpErr.Message)}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "InternalError", Message: "An unexpected error occurred"}
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return "ValidationError"
	case http.StatusUnauthorized:
		return "UnauthorizedError"
	case http.StatusForbidden:
		return "ForbiddenError"
	case http.StatusNotFound:
		return "NotFoundError"
	case http.StatusMethodNotAllowed:
		return "MethodNotAllowed"
	case http.StatusTooManyRequests:
		return "RateLimitError"
	case http.StatusServiceUnavailable:
		return "ServiceUnavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "InternalError"
		}
		return "HTTPError"
	}
}

// bindJSON decodes the request body, reporting malformed JSON as a ValidationError
func bindJSON(c echo.Context, dst interface{}) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return &services.ValidationError{Message: fmt.Sprintf("invalid request body: %v", httpErr.Message)}
		}
		return &services.ValidationError{Message: "invalid request body"}
	}
	return nil
}

func forbidden(msg string) error {
	return echo.NewHTTPError(http.StatusForbidden, msg)
}
