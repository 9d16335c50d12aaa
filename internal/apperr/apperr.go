// Package apperr defines the error kinds surfaced by the API and their HTTP
// status mapping.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"postpurchase-api/internal/validation"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindQuotaExceeded
	KindExternalService
	KindPersistence
	KindTimeout
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindExternalService:
		return "external_service"
	case KindPersistence:
		return "persistence"
	case KindTimeout:
		return "timeout"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error carries a user-facing message, a kind, and the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Rejected marks an ExternalService error returned by the remote side as
	// a validation rejection rather than a transport failure.
	Rejected bool
	// Partial marks a Persistence error after which some writes did succeed.
	Partial bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the cause text, which is only ever sent in the error field
// of a response body.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func QuotaExceeded(msg string) *Error {
	return &Error{Kind: KindQuotaExceeded, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func ExternalService(msg string, err error) *Error {
	return &Error{Kind: KindExternalService, Message: msg, Err: err}
}

// Rejected builds an ExternalService error for a remote validation failure.
func Rejected(msg string, err error) *Error {
	return &Error{Kind: KindExternalService, Message: msg, Err: err, Rejected: true}
}

func Persistence(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// PartialPersistence reports that a primary write succeeded and a follow-up
// write failed.
func PartialPersistence(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err, Partial: true}
}

func Timeout(msg string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: msg, Err: err}
}

// FromContext turns a context error into a Timeout, passing other errors
// through unchanged.
func FromContext(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(msg, err)
	}
	return err
}

// KindOf reports the kind of err. Validation errors from the validation
// package are recognized too.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ve *validation.ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err has kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

// IsPartial reports whether err is a partial persistence failure.
func IsPartial(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Partial
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	var e *Error
	errors.As(err, &e)

	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindForbidden:
		return http.StatusForbidden
	case KindExternalService:
		if e != nil && e.Rejected {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message and the internal detail for err.
func Message(err error) (message, detail string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, e.Detail()
	}
	var ve *validation.ValidationError
	if errors.As(err, &ve) {
		return ve.Error(), ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out", err.Error()
	}
	return "internal server error", err.Error()
}
