package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a protocol failure with a stable code and an HTTP status.
// The cause is kept server-side only; RespondWithError never writes it
// to the client.
type Error struct {
	Code       string `json:"error"`
	Details    string `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`

	cause error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Details)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code, so call sites can errors.Is against the
// canned values regardless of an attached cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithCausef returns a copy of the error carrying a server-side cause.
func (e *Error) WithCausef(format string, args ...any) *Error {
	err := *e
	err.cause = fmt.Errorf(format, args...)
	return &err
}

// WithDetails returns a copy with a client-visible details string.
func (e *Error) WithDetails(details string) *Error {
	err := *e
	err.Details = details
	return &err
}

// Wallet callback and interaction failures. The client flow surfaces
// these codes verbatim, so they are part of the protocol.
var (
	ErrMissingParameters = &Error{Code: "missing_parameters", HTTPStatus: http.StatusBadRequest}
	ErrSessionNotFound   = &Error{Code: "session_not_found", HTTPStatus: http.StatusBadRequest}
	ErrUIDMismatch       = &Error{Code: "uid_mismatch", HTTPStatus: http.StatusBadRequest}
	ErrSignatureInvalid  = &Error{Code: "signature_invalid", HTTPStatus: http.StatusUnauthorized}
	ErrFinishFailed      = &Error{Code: "finish_failed", HTTPStatus: http.StatusInternalServerError}
	ErrInternal          = &Error{Code: "internal_error", HTTPStatus: http.StatusInternalServerError}
)

// OAuth2 token/userinfo endpoint failures (RFC 6749 error codes).
var (
	ErrInvalidRequest       = &Error{Code: "invalid_request", HTTPStatus: http.StatusBadRequest}
	ErrInvalidClient        = &Error{Code: "invalid_client", HTTPStatus: http.StatusUnauthorized}
	ErrInvalidGrant         = &Error{Code: "invalid_grant", HTTPStatus: http.StatusBadRequest}
	ErrUnsupportedGrantType = &Error{Code: "unsupported_grant_type", HTTPStatus: http.StatusBadRequest}
	ErrInvalidToken         = &Error{Code: "invalid_token", HTTPStatus: http.StatusUnauthorized}
)

// RespondWithError renders err as an {error, details?} JSON body.
// Unknown error types are collapsed into internal_error so no dependency
// fault detail ever crosses the handler boundary.
func RespondWithError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = ErrInternal.WithCausef("%w", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(e)
}
