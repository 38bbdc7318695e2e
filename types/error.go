package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
)

// Pipeline error codes
const (
	// ErrAnalysisTimeoutWarning 分析阶段超出预算，非致命
	ErrAnalysisTimeoutWarning ErrorCode = "ANALYSIS_TIMEOUT_WARNING"
	// ErrRetrievalSourceUnavailable 单个检索源不可用，降级为零证据
	ErrRetrievalSourceUnavailable ErrorCode = "RETRIEVAL_SOURCE_UNAVAILABLE"
	// ErrAllRetrievalFailed 所有检索调用失败，走无证据路径
	ErrAllRetrievalFailed ErrorCode = "ALL_RETRIEVAL_FAILED"
	// ErrSynthesisFailure 答案合成不可恢复，运行进入 Failed
	ErrSynthesisFailure ErrorCode = "SYNTHESIS_FAILURE"
	// ErrSafetyEscalationConflict 安全等级被降级，属于程序缺陷
	ErrSafetyEscalationConflict ErrorCode = "SAFETY_ESCALATION_CONFLICT"
	// ErrInvalidTransition 状态机非法迁移
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrCacheMiss FAQ 缓存未命中
	ErrCacheMiss ErrorCode = "CACHE_MISS"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Source     string    `json:"source,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
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

// WithSource records which retrieval source or collaborator failed.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// Fatal reports whether the code terminates a pipeline run.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrSynthesisFailure, ErrInvalidTransition, ErrInternalError:
		return true
	default:
		return false
	}
}

// NewSynthesisError wraps an unrecoverable synthesis failure.
func NewSynthesisError(cause error) *Error {
	return NewError(ErrSynthesisFailure, "answer synthesis failed").
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway)
}

// NewSourceUnavailableError marks a retrieval source as degraded.
func NewSourceUnavailableError(source string, cause error) *Error {
	return NewError(ErrRetrievalSourceUnavailable, "retrieval source unavailable").
		WithSource(source).
		WithCause(cause).
		WithRetryable(true)
}
