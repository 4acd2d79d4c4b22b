package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tabitours/api/internal/platform/requestctx"
)

// Error is the JSON error envelope: {error, message, status, request_id, trace_id, ...details}.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, 80), Message: clip(message, 512), Status: status}
}

// WithDetails merges extra top-level fields into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
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

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WriteError renders err, stamping the chi request id and trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = err.Status
	if id := clip(middleware.GetReqID(ctx), 80); id != "" {
		payload["request_id"] = id
	}
	if id := clip(requestctx.TraceID(ctx), 64); id != "" {
		payload["trace_id"] = id
	}
	WriteJSON(w, err.Status, payload)
}

func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
