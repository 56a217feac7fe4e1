// Package response provides HTTP response utilities.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/mindwell/convomem/pkg/logger"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		// Headers are already sent; an encode failure can only be logged.
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Global().Warn("failed to encode response", "error", err)
		}
	}
}

// Error writes an error response with the given status code and error details.
func Error(w http.ResponseWriter, statusCode int, code, message string, requestID string) {
	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	}
	JSON(w, statusCode, errResp)
}

// ErrorWithDetails writes an error response with additional details.
func ErrorWithDetails(w http.ResponseWriter, statusCode int, code, message string, details map[string]any, requestID string) {
	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	}
	JSON(w, statusCode, errResp)
}
