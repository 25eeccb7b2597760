package models

import (
	"errors"
	"fmt"
)

// Error codes used by the CLI exit mapping, the API responses and internal
// error handling.
const (
	// ErrCodeUsage marks a malformed request. No network I/O has happened.
	ErrCodeUsage = "USAGE_ERROR"
	// ErrCodeNetwork marks a top-level navigation that did not succeed
	// (DNS failure, refused connection, reset, timeout).
	ErrCodeNetwork = "NETWORK_ERROR"

	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeConversion   = "CONTENT_CONVERSION_FAILED"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FetchError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type FetchError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(code, message string, err error) *FetchError {
	return &FetchError{Code: code, Message: message, Err: err}
}

// UsageError is shorthand for a FetchError with ErrCodeUsage.
func UsageError(format string, args ...any) *FetchError {
	return &FetchError{Code: ErrCodeUsage, Message: fmt.Sprintf(format, args...)}
}

// NetworkError is shorthand for a FetchError with ErrCodeNetwork.
func NetworkError(message string, err error) *FetchError {
	return &FetchError{Code: ErrCodeNetwork, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *FetchError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the first FetchError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeInternal
}

// IsUsage reports whether err is (or wraps) a usage error.
func IsUsage(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeUsage
}

// IsNetwork reports whether err is (or wraps) a navigation failure.
func IsNetwork(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeNetwork
}
