// Package transport contains the HTTP router, middleware chain, and request
// handlers of the driver API, which operates the headless SPA client.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/talonops/talon/internal/chart"
	"github.com/talonops/talon/internal/entity"
	"github.com/talonops/talon/internal/navigation"
	"github.com/talonops/talon/internal/sidebar"
	"github.com/talonops/talon/internal/widget"
	"github.com/talonops/talon/model"
)

const maxBodyBytes = 1 << 20

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrNavigationFailed:   http.StatusBadGateway,
	model.ErrNotIntercepted:     http.StatusConflict,
	model.ErrRoleDenied:         http.StatusForbidden,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as a JSON ErrorEnvelope with the matching HTTP
// status code. Errors that are not envelopes are classified first; anything
// unrecognized becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee := envelopeFor(err)

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// envelopeFor classifies the errors returned by the client packages.
func envelopeFor(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	var be *entity.BackendError
	switch {
	case errors.As(err, &be):
		if be.Status >= 400 && be.Status < 500 {
			return &model.ErrorEnvelope{Code: model.ErrBadRequest, Message: be.Error()}
		}
		return &model.ErrorEnvelope{Code: model.ErrBackendUnavailable, Message: be.Error()}
	case errors.Is(err, entity.ErrNotFound), errors.Is(err, sidebar.ErrUnknownItem):
		return model.NewNotFoundError(err.Error())
	case errors.Is(err, sidebar.ErrLocked), errors.Is(err, navigation.ErrNoHistory):
		return model.NewConflictError(err.Error())
	case errors.Is(err, sidebar.ErrNoRoute), errors.Is(err, chart.ErrInvalidLevel),
		errors.Is(err, widget.ErrUnknownOption):
		return model.NewBadRequestError(err.Error())
	case errors.Is(err, navigation.ErrTooManyRedirects):
		return model.NewNavigationFailedError("", err)
	}
	return model.NewInternalError()
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.NewBadRequestError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
