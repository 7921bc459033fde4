package service

import "errors"

// Validation outcomes of a claim/cancel attempt. The presenter collapses
// the first three into one generic 400 response so an unauthenticated
// caller cannot probe which tokens exist.
var (
	ErrInvalidToken   = errors.New("invalid QR code token")
	ErrExpiredToken   = errors.New("expired QR code token")
	ErrAlreadyClaimed = errors.New("QR code token already claimed")

	ErrUnauthenticated = errors.New("missing or invalid authentication")

	// ErrStorage and ErrMint are internal faults. They are logged with
	// full detail and surfaced to callers as an opaque internal error.
	ErrStorage = errors.New("storage failure")
	ErrMint    = errors.New("credential minting failed")
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	StatusCode int
	Wrapped    error
}

func (e HTTPError) Error() string {
	return e.Wrapped.Error()
}

func (e HTTPError) Unwrap() error {
	return e.Wrapped
}

func httpError(statusCode int, err error) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Wrapped:    err,
	}
}
