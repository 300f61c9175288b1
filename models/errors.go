package models

import (
	"errors"
	"fmt"
	"time"
)

// TimestampFormat is used for every timestamp in API responses.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Error codes used in API responses and internal error handling.
const (
	ErrCodeSessionCreation = "SESSION_CREATION_FAILED"
	ErrCodePoolExhausted   = "POOL_EXHAUSTED"
	ErrCodePoolClosed      = "POOL_CLOSED"
	ErrCodeExtraction      = "EXTRACTION_FAILED"
	ErrCodeNoContent       = "NO_CONTENT_FOUND"
	ErrCodeDisconnected    = "SESSION_DISCONNECTED"
	ErrCodeTimeout         = "SCRAPE_TIMEOUT"
	ErrCodeShuttingDown    = "SHUTTING_DOWN"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path,omitempty"`
}

// ErrorResponse wraps ErrorDetail the way every failed API call is shaped.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}

// NewErrorResponse builds the body for a failed request to path.
func NewErrorResponse(code, message string, status int, path string) ErrorResponse {
	return ErrorResponse{Error: &ErrorDetail{
		Code:       code,
		Message:    message,
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(TimestampFormat),
		Path:       path,
	}}
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first ScrapeError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
