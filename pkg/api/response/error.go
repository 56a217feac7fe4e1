package response

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mindwell/convomem/pkg/coach"
	"github.com/mindwell/convomem/pkg/storage"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// Common error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
)

// Common errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTimeout      = errors.New("request timeout")
)

// HTTPStatusFromError maps service and storage errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	var (
		notFound    *storage.NotFoundError
		invalid     *storage.InvalidRecordError
		unavailable *storage.StorageUnavailableError
		validation  validator.ValidationErrors
	)
	switch {
	case errors.Is(err, coach.ErrSessionNotFound), errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, coach.ErrInvalidSessionID), errors.Is(err, ErrInvalidInput),
		errors.As(err, &invalid), errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, coach.ErrSessionEnded):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeFromStatus returns an error code for the given HTTP status.
func ErrorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusMethodNotAllowed:
		return ErrCodeMethodNotAllowed
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusTooManyRequests:
		return ErrCodeTooManyRequests
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeGatewayTimeout
	default:
		return ErrCodeInternalServer
	}
}

// HandleError is a convenience function to handle errors and write appropriate responses.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	code := ErrorCodeFromStatus(status)
	Error(w, status, code, err.Error(), requestID)
}
