package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/farmstall/api/internal/platform/requestctx"
	"github.com/farmstall/api/internal/platform/textutil"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
)

// reserved keys cannot be overwritten by details.
var reserved = map[string]struct{}{
	"error": {}, "message": {}, "status": {}, "request_id": {}, "trace_id": {},
}

// Error is the JSON error body every endpoint returns: a machine code, a human message and optional
// extra fields such as the notifications raised before the failure.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    oneLine(code, codeLimit),
		Message: oneLine(message, messageLimit),
		Status:  status,
	}
}

// Error implements error so handlers can pass an Error through helpers that return error.
func (e Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// WithDetails returns a copy of e carrying details merged over any existing ones.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError writes err as JSON, stamping the chi request id and the trace id when present.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		if _, ok := reserved[k]; !ok {
			payload[k] = v
		}
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if requestID := oneLine(middleware.GetReqID(ctx), idLimit); requestID != "" {
		payload["request_id"] = requestID
	}
	if info, ok := requestctx.Trace(ctx); ok && info.TraceID != "" {
		payload["trace_id"] = oneLine(info.TraceID, idLimit)
	}
	WriteJSON(w, status, payload)
}

func oneLine(value string, limit int) string {
	return textutil.Truncate(strings.Join(strings.Fields(value), " "), limit)
}
