package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/hanna4328/chat-bot/internal/logging"
	"github.com/hanna4328/chat-bot/internal/models"
	"github.com/hanna4328/chat-bot/internal/services"
)

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: requestID(r),
		},
	}
}

func requestID(r *http.Request) string {
	if id := logging.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// handleServiceError turns a typed service error into a JSON response.
// Upstream rejections are passed through with their own status and body.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *services.ValidationError
		misconfig  *services.MisconfiguredError
		rejected   *services.UpstreamRejectedError
		mismatch   *services.UpstreamShapeMismatchError
		limited    *services.RateLimitError
		unreached  *services.UpstreamUnreachableError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, services.HTTPStatus(err), errorResp("VALIDATION_ERROR", validation.Message, r))
	case errors.As(err, &misconfig):
		writeJSON(w, http.StatusInternalServerError, errorResp("MISCONFIGURED", misconfig.Message, r))
	case errors.As(err, &rejected):
		writeUpstreamBody(w, rejected)
	case errors.As(err, &mismatch):
		resp := errorResp("UPSTREAM_SHAPE_MISMATCH", "Unexpected response format from upstream", r)
		resp.Error.Raw = rawJSON(mismatch.Raw)
		writeJSON(w, http.StatusInternalServerError, resp)
	case errors.As(err, &limited):
		if limited.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		}
		writeJSON(w, http.StatusTooManyRequests, errorResp("RATE_LIMITED", limited.Message, r))
	case errors.As(err, &unreached):
		writeJSON(w, http.StatusInternalServerError, errorResp("UPSTREAM_UNREACHABLE", "Failed to reach the model provider", r))
	default:
		slog.ErrorContext(r.Context(), "unhandled service error", logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

func writeUpstreamBody(w http.ResponseWriter, e *services.UpstreamRejectedError) {
	contentType := e.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	if e.RetryAfter != "" {
		w.Header().Set("Retry-After", e.RetryAfter)
	}
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

// rawJSON embeds body as-is when it is JSON, otherwise as a JSON string.
func rawJSON(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
