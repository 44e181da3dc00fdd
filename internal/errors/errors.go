// Package errors provides the categorized error taxonomy used across the
// wallet scanner: validation, not-found, conflict, transient, and fatal.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed input that should be skipped,
	// not retried (e.g. a malformed raw transaction in a batch)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents a missing resource (unknown job id,
	// unknown token unit)
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents a duplicate active job for a wallet
	CategoryConflict ErrorCategory = "conflict"
	// CategoryTransient represents a retryable failure (fetch timeout,
	// repository write failure)
	CategoryTransient ErrorCategory = "transient"
	// CategoryFatal represents an exhausted retry budget
	CategoryFatal ErrorCategory = "fatal"
	// CategoryProvider represents a blockchain data provider failure
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents a database failure
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents a cache failure
	CategoryCache ErrorCategory = "cache"
)

// CategorizedError is an error with a category, stable code, and HTTP
// status for the API boundary.
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error for a malformed item
func NewValidationError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewInvalidAddressError creates an invalid wallet address error
func NewInvalidAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_ADDRESS",
		Message:    fmt.Sprintf("invalid address format: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewSyncInProgressError creates a conflict error carrying the id of the
// wallet's already-active sync job.
func NewSyncInProgressError(walletAddress, activeJobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "SYNC_IN_PROGRESS",
		Message:    fmt.Sprintf("sync already in progress for wallet %s", walletAddress),
		Details: map[string]interface{}{
			"walletAddress": walletAddress,
			"jobId":         activeJobID,
		},
	}
}

// NewTransientError creates a retryable error
func NewTransientError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "TRANSIENT_ERROR",
		Message:    fmt.Sprintf("transient failure during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewFatalError creates a fatal error after a retry budget is exhausted
func NewFatalError(operation string, attempts int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFatal,
		StatusCode: http.StatusInternalServerError,
		Code:       "FATAL_ERROR",
		Message:    fmt.Sprintf("%s failed after %d attempts", operation, attempts),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
			"attempts":  attempts,
		},
	}
}

// NewProviderError creates a blockchain data provider error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("data provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize wraps an arbitrary error into a CategorizedError. Already
// categorized errors pass through unchanged.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return &CategorizedError{
		Category:   CategoryFatal,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    "unexpected error",
		Cause:      err,
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether an error should be retried with backoff.
// Validation, not-found, and conflict errors never retry; transient,
// provider, database, and cache errors do.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryTransient, CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	default:
		return false
	}
}

// IsValidation reports whether the error marks a malformed item that
// should be skipped rather than aborting a batch.
func IsValidation(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryValidation
}

// IsConflict reports whether the error is a duplicate-active-job conflict.
func IsConflict(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryConflict
}

// IsNotFound reports whether the error is a missing-resource error.
func IsNotFound(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryNotFound
}
