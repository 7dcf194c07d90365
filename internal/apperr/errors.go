// Package apperr defines the error taxonomy shared by the chat pipeline and
// its HTTP surface. Safety blocks and per-peer delivery failures are not
// errors and never appear here.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error for transport mapping.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindPersistence    Kind = "persistence"
	KindUnavailable    Kind = "unavailable"
	KindInternal       Kind = "internal"
)

// Error carries a Kind, a client-safe message and an optional cause.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"detail"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind and Message so that sentinel values compare equal to
// wrapped copies of themselves.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(msg string) error   { return New(KindValidation, msg) }
func NotFound(msg string) error     { return New(KindNotFound, msg) }
func Forbidden(msg string) error    { return New(KindAuthorization, msg) }
func Unauthorized(msg string) error { return New(KindAuthentication, msg) }

func Persistence(msg string, cause error) error {
	return Wrap(KindPersistence, msg, cause)
}

// Sentinels used across packages. Messages are shown to clients verbatim.
var (
	ErrInvalidCredentials = Unauthorized("Could not validate credentials")
	ErrRoomNotFound       = NotFound("Community not found")
	ErrNotMember          = Forbidden("You are not a member of this community")
	ErrForbiddenRole      = Forbidden("Not enough permissions")
	ErrMalformed          = Validation("Invalid JSON")
	ErrUnknownType        = Validation("Unsupported message type")
	ErrEmptyContent       = Validation("Message content cannot be empty")
	ErrInvalidUTF8        = Validation("Message contains invalid UTF-8")
)

// ContentTooLong returns the validation error for content over max runes.
func ContentTooLong(max int) error {
	return Validation(fmt.Sprintf("Message too long (max %d characters)", max))
}

// KindOf reports the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-safe message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps err to a status code for the REST surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
