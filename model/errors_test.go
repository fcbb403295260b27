package model

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Page not found"}
	want := "NOT_FOUND: Page not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestConstructors_codes(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrorEnvelope
		code string
	}{
		{"bad request", NewBadRequestError("x"), ErrBadRequest},
		{"unauthorized", NewUnauthorizedError("x"), ErrUnauthorized},
		{"forbidden", NewForbiddenError("x"), ErrForbidden},
		{"not found", NewNotFoundError("x"), ErrNotFound},
		{"conflict", NewConflictError("x"), ErrConflict},
		{"internal", NewInternalError(), ErrInternalError},
		{"backend unavailable", NewBackendUnavailableError(), ErrBackendUnavailable},
		{"backend timeout", NewBackendTimeoutError(), ErrBackendTimeout},
		{"not intercepted", NewNotInterceptedError("/logout"), ErrNotIntercepted},
		{"role denied", NewRoleDeniedError("Richiede ruolo ADMIN"), ErrRoleDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestNewNavigationFailedError(t *testing.T) {
	e := NewNavigationFailedError("/attivita", errors.New("status 500"))
	if e.Code != ErrNavigationFailed {
		t.Errorf("Code = %q, want %q", e.Code, ErrNavigationFailed)
	}
	if !strings.Contains(e.Message, "/attivita") || !strings.Contains(e.Message, "status 500") {
		t.Errorf("Message = %q, want target and cause", e.Message)
	}
}
