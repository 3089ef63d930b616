package httperrors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the JSON body of every non-2xx API response. Details
// carries per-field or per-column problems when a request is rejected as a
// whole.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Status  int      `json:"status"`
	Details []string `json:"details,omitempty"`
}

// RespondWithError logs the internal cause and writes a JSON error body.
// Internal error text is never sent to the client.
func RespondWithError(w http.ResponseWriter, logger *slog.Logger, status int, internalError error, userMessage string) {
	write(w, logger, internalError, ErrorResponse{
		Error:   http.StatusText(status),
		Message: userMessage,
		Status:  status,
	})
}

// ValidationFailed rejects a request with 400 and lists every offending
// field or column so the caller can fix them in one go.
func ValidationFailed(w http.ResponseWriter, logger *slog.Logger, message string, details []string) {
	write(w, logger, nil, ErrorResponse{
		Error:   http.StatusText(http.StatusBadRequest),
		Message: message,
		Status:  http.StatusBadRequest,
		Details: details,
	})
}

func write(w http.ResponseWriter, logger *slog.Logger, internalError error, resp ErrorResponse) {
	attrs := []any{
		slog.Int("status", resp.Status),
		slog.String("user_message", resp.Message),
	}
	if len(resp.Details) > 0 {
		attrs = append(attrs, slog.Any("details", resp.Details))
	}
	if internalError != nil {
		attrs = append(attrs, slog.String("internal_error", internalError.Error()))
	}
	if resp.Status >= http.StatusInternalServerError {
		logger.Error("Request failed", attrs...)
	} else {
		logger.Warn("Request rejected", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		// Status line is already sent
		logger.Error("Failed to encode error response", slog.String("encoding_error", err.Error()))
	}
}

func BadRequest(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusBadRequest, err, message)
}

func NotFound(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusNotFound, err, message)
}

func InternalServerError(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	if message == "" {
		message = "An unexpected error occurred."
	}
	RespondWithError(w, logger, http.StatusInternalServerError, err, message)
}

// StatusNotImplemented reports an optional backend (e.g. the execution
// queue) that this deployment runs without.
func StatusNotImplemented(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	if message == "" {
		message = "This feature is not enabled on this server."
	}
	RespondWithError(w, logger, http.StatusNotImplemented, err, message)
}

func ServiceUnavailable(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	if message == "" {
		message = "A required backend service is unavailable."
	}
	RespondWithError(w, logger, http.StatusServiceUnavailable, err, message)
}
