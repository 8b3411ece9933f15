package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants for the ingestion pipeline.
// All components MUST use these constants instead of hardcoded strings.
// The taxonomy separates transient conditions (retried or requeued, never a
// unit failure), terminal-per-unit failures (one unit fails, siblings are
// unaffected), and fatal-process conditions (stop pulling work, fail the
// health check).
const (
	// Validation (400) -- rejected at the notification boundary.
	ErrCodeValidationInvalidKind  ErrorCode = "validation_invalid_kind"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidPath  ErrorCode = "validation_invalid_path"
	ErrCodeValidationBatchSize    ErrorCode = "validation_batch_size_exceeded"

	// Not Found (404)
	ErrCodeNotFoundBatch   ErrorCode = "not_found_batch"
	ErrCodeNotFoundListing ErrorCode = "not_found_listing"

	// Transient -- requeued or retried, never surfaced as a unit failure.
	ErrCodeLockContended ErrorCode = "transient_lock_contended"

	// Terminal-per-unit -- the unit is marked failed in its batch.
	ErrCodeFetchExhausted  ErrorCode = "unit_fetch_retries_exhausted"
	ErrCodeFetchTimeout    ErrorCode = "unit_fetch_timeout"
	ErrCodeParseInvalid    ErrorCode = "unit_parse_invalid_document"
	ErrCodeParseNoPricing  ErrorCode = "unit_parse_missing_pricing"
	ErrCodePersistFailed   ErrorCode = "unit_persist_failed"
	ErrCodeUnitTimedOut    ErrorCode = "unit_wall_clock_exceeded"
	ErrCodeUnitUnresponsive ErrorCode = "unit_unresponsive"

	// Fatal-process (500/502) -- surfaced through the health check.
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeLockBackend        ErrorCode = "internal_lock_backend_unavailable"
	ErrCodeQueueBackend       ErrorCode = "internal_queue_backend_unavailable"

	// Upstream (502) -- the remote file server.
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_file_server_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code for the
// API surface. Returns 500 for unrecognized codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case c == ErrCodeLockContended:
		return http.StatusConflict // 409
	case c == ErrCodeUpstreamRateLimited:
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "unit_"), strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// TerminalForUnit reports whether an error code marks the unit failed in its
// batch, as opposed to transient conditions that are requeued.
func (c ErrorCode) TerminalForUnit() bool {
	return strings.HasPrefix(string(c), "unit_")
}

// AppError is the standard application error type used throughout the
// pipeline. Component boundaries (download, parse, persist) convert all
// failures into AppErrors so the orchestrator's state machine only ever sees
// typed failure reasons.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged
// in, leaving the original untouched.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
