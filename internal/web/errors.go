package web

// errors.go turns handler errors into JSON error responses.
//
// The technical error is logged with the request ID; the client gets the
// user message from core.MapError plus a status derived from the error kind.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/routemigrate/internal/core"
	"github.com/JonMunkholm/routemigrate/internal/logging"
)

// Request-level failures detected before the engine is involved.
var (
	errFileTooLarge = errors.New("file too large")
	errNoFile       = errors.New("no file provided")
	errEmptyFile    = errors.New("empty file")
	errRateLimited  = errors.New("rate limit exceeded")
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errNoFile), errors.Is(err, errEmptyFile),
		errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrEmptySelection),
		errors.Is(err, core.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrExecutionInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the matching error response. Details of
// server-side failures stay in the log; the client only sees the mapped
// message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", args...)
	} else {
		logger.Debug("request rejected", args...)
	}

	detail := userMsg.Message
	if status < http.StatusInternalServerError {
		detail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Success: false,
		Error:   detail,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}
