// Package httputil provides helpers for rendering storage gateway JSON responses.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/logging"
)

// RequestIDHeader carries the request id on every response.
const RequestIDHeader = "X-Request-Id"

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// WriteError renders err as a JSON error response. Errors that carry no
// GatewayError are logged and rendered as InternalError so their text never
// reaches the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ge, ok := gwerr.As(err)
	if !ok {
		logging.FromContext(r.Context()).Error("Unhandled error", slog.String("path", r.URL.Path), slog.Any("error", err))
		ge = gwerr.ErrInternalError
	}

	// Get the request ID that was set by the request id middleware.
	resp := ErrorResponse{
		Code:      ge.Code,
		Message:   ge.Message,
		RequestID: w.Header().Get(RequestIDHeader),
	}
	WriteJSON(w, ge.HTTPStatus, resp)
}

// WriteJSON marshals v as JSON and writes it to w with the given HTTP status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Writing JSON response failed", "error", err)
	}
}

// FormatTimeHTTP formats a time in HTTP date format (RFC 7231).
func FormatTimeHTTP(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
