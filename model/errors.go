package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Navigation-specific error codes.
const (
	ErrNavigationFailed = "NAVIGATION_FAILED"
	ErrNotIntercepted   = "NOT_INTERCEPTED"
	ErrRoleDenied       = "ROLE_DENIED"
)

// ErrorEnvelope is the standard error response envelope returned by the
// driver API. It implements the error interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewNavigationFailedError returns a NAVIGATION_FAILED error for target.
func NewNavigationFailedError(target string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNavigationFailed,
		Message: fmt.Sprintf("navigation to %s failed: %v", target, cause),
	}
}

// NewNotInterceptedError returns a NOT_INTERCEPTED error, used when a link or
// form must fall back to native browser handling.
func NewNotInterceptedError(target string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNotIntercepted,
		Message: fmt.Sprintf("%s is handled by native navigation", target),
	}
}

// NewRoleDeniedError returns a ROLE_DENIED error carrying the visible reason.
func NewRoleDeniedError(reason string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRoleDenied, Message: reason}
}
