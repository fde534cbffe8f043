package types

import "time"

// ErrorCode API error code
type ErrorCode string

// Common error codes
const (
	// AUTH_*
	ErrCodeUnauthorized      ErrorCode = "AUTH_UNAUTHORIZED"
	ErrCodeInvalidToken      ErrorCode = "AUTH_INVALID_TOKEN"
	ErrCodeInvalidCredential ErrorCode = "AUTH_INVALID_CREDENTIALS"
	ErrCodeForbidden         ErrorCode = "AUTH_FORBIDDEN"
	ErrCodeInsufficientPerms ErrorCode = "AUTH_INSUFFICIENT_PERMISSIONS"

	// REQUEST_*
	ErrCodeBadRequest       ErrorCode = "REQUEST_BAD_REQUEST"
	ErrCodeValidationFailed ErrorCode = "REQUEST_VALIDATION_FAILED"
	ErrCodeInvalidJSON      ErrorCode = "REQUEST_INVALID_JSON"
	ErrCodeMissingField     ErrorCode = "REQUEST_MISSING_FIELD"
	ErrCodeRateLimited      ErrorCode = "REQUEST_RATE_LIMITED"

	// RESOURCE_*
	ErrCodeNotFound      ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "RESOURCE_ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "RESOURCE_CONFLICT"

	// SERVER_*
	ErrCodeInternalError   ErrorCode = "SERVER_INTERNAL_ERROR"
	ErrCodeStorageError    ErrorCode = "SERVER_STORAGE_ERROR"
	ErrCodeExternalService ErrorCode = "SERVER_EXTERNAL_SERVICE_ERROR"

	// BUSINESS_*
	ErrCodeCategoryMissing ErrorCode = "BUSINESS_CATEGORY_NOT_FOUND"
	ErrCodeLastAdmin       ErrorCode = "BUSINESS_LAST_ADMIN"
	ErrCodeCrawlerRunning  ErrorCode = "BUSINESS_CRAWLER_RUNNING"
	ErrCodeInvalidState    ErrorCode = "BUSINESS_INVALID_STATE"
)

// APIError structured error
type APIError struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Error implements error interface
func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func NewAPIErrorWithDetails(code ErrorCode, message string, details map[string]string) *APIError {
	return &APIError{Code: code, Message: message, Details: details}
}

// APIResponse is the envelope every endpoint answers with.
type APIResponse[T any] struct {
	Success   bool      `json:"success"`
	Data      T         `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Pagination describes one page of a list result.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes totalPages for the given window.
func NewPagination(page, limit, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// HealthStatus health probe body
type HealthStatus struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}
