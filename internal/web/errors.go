package web

// errors.go provides unified error response handling for the web layer.
//
// Errors are logged with full technical detail and the request ID, and
// returned to clients as user-friendly messages from core.MapError. Once a
// stream has started the status line is gone, so streaming handlers report
// failures in-band instead (see writeStreamError).

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/enexport/internal/core"
	"github.com/JonMunkholm/enexport/internal/download"
	"github.com/JonMunkholm/enexport/internal/logging"
)

// errStorageDisabled is returned by /api/imports without a database.
var errStorageDisabled = errors.New("record storage is not configured")

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code, Kind) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Kind    string `json:"kind"`
}

func newErrorResponse(err error) ErrorResponse {
	msg := core.MapError(err)
	return ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Kind:    string(core.KindOf(err)),
	}
}

// statusFor maps a download error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, download.ErrTooManyDownloads) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, errStorageDisabled) {
		return http.StatusNotImplemented
	}

	switch core.KindOf(err) {
	case core.KindArgument:
		return http.StatusBadRequest
	case core.KindAuth:
		return http.StatusUnauthorized
	case core.KindBackup:
		return http.StatusInternalServerError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}

	switch core.KindOf(err) {
	case core.KindTransport, core.KindVendor, core.KindSchema, core.KindParse, core.KindIntegrity:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes it as a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	resp := newErrorResponse(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", resp.Code,
	)

	writeJSON(w, statusCode, resp)
}
