// Package apierr defines the error-kind taxonomy used across the tracking
// and planning subsystems, generalizing the donor's customErrorHandler
// (cmd/api/main_with_auth.go) from a single bare fiber.Error mapping into a
// typed kind that every handler returns explicitly.
package apierr

import "github.com/gofiber/fiber/v2"

// Kind is one of the error categories named in SPEC_FULL §7.
type Kind string

const (
	InvalidInput    Kind = "invalid_input"
	AuthFailure     Kind = "auth_failure"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	Precondition    Kind = "precondition"
	Unreachable     Kind = "unreachable"
	TransientStorage Kind = "transient_storage"
)

var statusByKind = map[Kind]int{
	InvalidInput:     fiber.StatusBadRequest,
	AuthFailure:      fiber.StatusUnauthorized,
	NotFound:         fiber.StatusNotFound,
	Conflict:         fiber.StatusConflict,
	Precondition:     fiber.StatusBadRequest,
	Unreachable:      fiber.StatusNotFound,
	TransientStorage: fiber.StatusInternalServerError,
}

// Error is a client-facing error: a stable kind plus a short message. It
// never wraps a raw storage error string onto the wire.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches an internal cause to a client-facing error without ever
// exposing the cause's text to the caller.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Status returns the HTTP status code for a Kind, defaulting to 500.
func Status(k Kind) int {
	if code, ok := statusByKind[k]; ok {
		return code
	}
	return fiber.StatusInternalServerError
}

// Handler is the Fiber error handler wired into fiber.Config.ErrorHandler,
// adapted from the donor's customErrorHandler to dispatch on *apierr.Error
// before falling back to the donor's bare *fiber.Error handling.
func Handler(c *fiber.Ctx, err error) error {
	if apiErr, ok := err.(*Error); ok {
		return c.Status(Status(apiErr.Kind)).JSON(fiber.Map{
			"error":   string(apiErr.Kind),
			"message": apiErr.Message,
		})
	}

	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   "internal_error",
		"message": "an unexpected error occurred",
	})
}
