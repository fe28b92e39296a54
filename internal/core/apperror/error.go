// Package apperror provides structured error handling for the ledger core.
// All business errors must use AppError so callers get machine-readable
// codes plus enough detail to self-correct (available stock, conflicting
// variety names, and so on).
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes, grouped by taxonomy.
const (
	// Infrastructure errors (5xx)
	CodeInternal         = "INTERNAL_ERROR"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"

	// Validation errors (400) - user-correctable, never retried automatically
	CodeValidation             = "VALIDATION_ERROR"
	CodeInvalidInput           = "INVALID_INPUT"
	CodeVarietyMismatch        = "VARIETY_MISMATCH"
	CodeVarietyConflict        = "VARIETY_CONFLICT"
	CodeSourceStockNotFound    = "SOURCE_STOCK_NOT_FOUND"
	CodeInsufficientStock      = "INSUFFICIENT_STOCK"
	CodeOutturnVarietyMismatch = "OUTTURN_VARIETY_MISMATCH"

	// Projection errors - logged, never escalate past the ledger write
	CodeProjection = "PROJECTION_ERROR"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict = "CONFLICT"
)

// AppError is the standard error type for the ledger core.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (quantities, variety names, ids)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a generic validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidInput creates an invalid argument error (400), e.g. malformed cutoff date.
func NewInvalidInput(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidInput,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewVarietyMismatch is returned when a destination has an allotted variety
// and the proposed movement carries a different one.
func NewVarietyMismatch(allotted, proposed string) *AppError {
	return &AppError{
		Code:       CodeVarietyMismatch,
		Message:    fmt.Sprintf("destination is allotted to variety %s, got %s", allotted, proposed),
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]any{
			"allotted_variety": allotted,
			"proposed_variety": proposed,
		},
	}
}

// NewVarietyConflict is returned when a destination already holds admitted
// stock of a different variety. Stock pools are never mixed.
func NewVarietyConflict(held, proposed string) *AppError {
	return &AppError{
		Code:       CodeVarietyConflict,
		Message:    fmt.Sprintf("destination already holds variety %s, cannot add %s", held, proposed),
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]any{
			"held_variety":     held,
			"proposed_variety": proposed,
		},
	}
}

// NewSourceStockNotFound is returned when a shifting names a source that
// holds no admitted stock of the proposed variety.
func NewSourceStockNotFound(location, variety string) *AppError {
	return &AppError{
		Code:       CodeSourceStockNotFound,
		Message:    fmt.Sprintf("no admitted stock of %s at %s", variety, location),
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]any{
			"location": location,
			"variety":  variety,
		},
	}
}

// NewInsufficientStock carries the exact available quantity so the caller
// can retry with a corrected amount.
func NewInsufficientStock(location, variety string, requested, available int64) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    fmt.Sprintf("insufficient stock at %s: requested %d bags, available %d", location, requested, available),
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]any{
			"location":  location,
			"variety":   variety,
			"requested": requested,
			"available": available,
		},
	}
}

// NewOutturnVarietyMismatch is returned when a movement targets an outturn
// allotted to a different variety.
func NewOutturnVarietyMismatch(allotted, proposed string) *AppError {
	return &AppError{
		Code:       CodeOutturnVarietyMismatch,
		Message:    fmt.Sprintf("outturn is allotted to variety %s, got %s", allotted, proposed),
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]any{
			"allotted_variety": allotted,
			"proposed_variety": proposed,
		},
	}
}

// NewStoreUnavailable wraps a transient store failure. The caller decides
// whether to retry; the core never retries internally.
func NewStoreUnavailable(err error) *AppError {
	return &AppError{
		Code:       CodeStoreUnavailable,
		Message:    "event store unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewProjection wraps a rate/audit projection failure. These are logged and
// isolated; the triggering ledger write stays authoritative.
func NewProjection(op string, err error) *AppError {
	return &AppError{
		Code:       CodeProjection,
		Message:    fmt.Sprintf("projection %s failed", op),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewInternal creates an internal error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsValidation reports whether err belongs to the user-correctable taxonomy.
func IsValidation(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case CodeValidation, CodeInvalidInput, CodeVarietyMismatch, CodeVarietyConflict,
		CodeSourceStockNotFound, CodeInsufficientStock, CodeOutturnVarietyMismatch:
		return true
	}
	return false
}

// IsStoreUnavailable checks if error is CodeStoreUnavailable
func IsStoreUnavailable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeStoreUnavailable
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeNotFound
	}
	return false
}

// AvailableBags extracts the available quantity from an INSUFFICIENT_STOCK
// error. Returns false for any other error.
func AvailableBags(err error) (int64, bool) {
	appErr, ok := AsAppError(err)
	if !ok || appErr.Code != CodeInsufficientStock {
		return 0, false
	}
	if v, ok := appErr.Details["available"].(int64); ok {
		return v, true
	}
	return 0, false
}
