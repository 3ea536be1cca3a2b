package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, statusCode), usually with statusFor(err)
//  3. Error is mapped via core.MapError to get user-friendly message
//  4. Technical error + context is logged with request ID for correlation
//  5. User message is returned as JSON

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/bulkcsv/internal/core"
	"github.com/JonMunkholm/bulkcsv/internal/logging"
)

var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// ImportResponse is returned by import endpoints. Result is set whenever
// the job ran, including when it was aborted part way.
type ImportResponse struct {
	*core.ImportResult
	Failure *ErrorResponse `json:"failure,omitempty"`
}

func newErrorResponse(err error) *ErrorResponse {
	msg := core.MapError(err)
	return &ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// statusFor picks the HTTP status for an error.
func statusFor(err error) int {
	var (
		maxBytes *http.MaxBytesError
		fe       *core.FormatError
		oe       *core.OptionError
		ve       *core.ValidationError
		te       *core.TransportError
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &fe), errors.As(err, &oe):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnknownType), errors.Is(err, core.ErrUnknownView),
		errors.Is(err, core.ErrJobNotFound), errors.Is(err, core.ErrNoRecord):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyJobs):
		return http.StatusServiceUnavailable
	case core.IsConflict(err):
		return http.StatusConflict
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error server-side and returns the
// user-friendly message as JSON.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	resp := newErrorResponse(err)
	logError(r, err, statusCode, resp.Code)

	if statusCode == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, statusCode, resp)
}

// respondImport writes an import result. A job that was aborted still
// reports the rows it got through, next to the reason it stopped.
func respondImport(w http.ResponseWriter, r *http.Request, result *core.ImportResult, err error) {
	if result == nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	resp := ImportResponse{ImportResult: result}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		resp.Failure = newErrorResponse(err)
		logError(r, err, status, resp.Failure.Code)
	} else if result.Location != "" {
		w.Header().Set("Location", result.Location)
		if result.Created == 1 {
			status = http.StatusCreated
		}
	}
	writeJSON(w, status, resp)
}

func logError(r *http.Request, err error, status int, code string) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", code,
	)
}
