// Package apperr defines the error taxonomy shared by the checkout services and
// its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidRequest
	// KindUnavailable means a collaborator is not configured.
	KindUnavailable
	// KindGateway means a collaborator call failed or timed out.
	KindGateway
	KindSignatureInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindUnavailable:
		return "collaborator_unavailable"
	case KindGateway:
		return "collaborator_failed"
	case KindSignatureInvalid:
		return "signature_invalid"
	default:
		return "internal"
	}
}

// Error carries a stable Kind and a caller-facing Message. Err holds the
// underlying cause, which is logged but never returned to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Invalid(msg string) error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

func Unavailable(msg string) error {
	return &Error{Kind: KindUnavailable, Message: msg}
}

func Gateway(msg string, err error) error {
	return &Error{Kind: KindGateway, Message: msg, Err: err}
}

func Signature(msg string, err error) error {
	return &Error{Kind: KindSignatureInvalid, Message: msg, Err: err}
}

func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-facing message for err. Errors outside the
// taxonomy collapse to a generic message so internals never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return http.StatusText(http.StatusInternalServerError)
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest, KindSignatureInvalid:
		return http.StatusBadRequest
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
