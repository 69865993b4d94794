package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorCode represents a unified error code across the chat core.
type ErrorCode string

// Transient error codes. Errors carrying these codes are retried.
const (
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError   ErrorCode = "UPSTREAM_ERROR"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrModelOverloaded ErrorCode = "MODEL_OVERLOADED"
)

// Terminal error codes.
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrForbidden       ErrorCode = "FORBIDDEN"
	ErrQuotaExceeded   ErrorCode = "QUOTA_EXCEEDED"
	ErrContentFiltered ErrorCode = "CONTENT_FILTERED"
	ErrCanceled        ErrorCode = "CANCELED"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Synthetic codes produced by the resilience layer itself.
const (
	ErrCircuitOpen   ErrorCode = "CIRCUIT_OPEN"
	ErrModelNotFound ErrorCode = "MODEL_NOT_FOUND"
)

// Kind is the coarse classification used by the retry and fallback layers.
type Kind int

const (
	KindTerminal Kind = iota
	KindTransient
	KindCircuitOpen
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCircuitOpen:
		return "circuit_open"
	case KindConfiguration:
		return "configuration"
	default:
		return "terminal"
	}
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code so sentinel errors work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewTransientError creates a retryable error.
func NewTransientError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is a retryable *Error anywhere in the chain.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Classify maps any error onto the shared taxonomy.
//
// Plain errors are inspected for the transport failures every adapter can hit:
// deadline exceeded and net timeouts are transient, as is a refused connection.
// Cancellation by the caller is terminal.
func Classify(err error) Kind {
	if err == nil {
		return KindTerminal
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case ErrCircuitOpen:
			return KindCircuitOpen
		case ErrModelNotFound:
			return KindConfiguration
		}
		if e.Retryable {
			return KindTransient
		}
		return KindTerminal
	}
	if errors.Is(err, context.Canceled) {
		return KindTerminal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindTransient
	}
	return KindTerminal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

// FromTransport converts an HTTP client error into a structured error.
// Anything other than caller cancellation is transient.
func FromTransport(err error, provider string) *Error {
	if errors.Is(err, context.Canceled) {
		return NewError(ErrCanceled, "request canceled").WithCause(err).WithProvider(provider)
	}
	code := ErrUpstreamError
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = ErrUpstreamTimeout
	}
	return NewTransientError(code, "upstream request failed").WithCause(err).WithProvider(provider)
}
