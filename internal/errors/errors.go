// Package errors defines the storage gateway error taxonomy used throughout MediaShelf.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Class groups gateway errors by how callers are expected to react to them.
type Class int

const (
	// ClassInternal is an unexpected failure inside the gateway itself.
	ClassInternal Class = iota
	// ClassConfiguration marks missing or invalid backend settings. Fatal at startup.
	ClassConfiguration
	// ClassValidation marks a request the gateway refuses before talking to the backend.
	ClassValidation
	// ClassNotFound marks a key that is genuinely absent from the backend.
	ClassNotFound
	// ClassRangeNotSatisfiable marks a well-formed range outside the object.
	ClassRangeNotSatisfiable
	// ClassStorage marks a backend that is unreachable, rejected auth, or failed the write.
	ClassStorage
)

// String returns the taxonomy name of the class.
func (c Class) String() string {
	switch c {
	case ClassConfiguration:
		return "ConfigurationError"
	case ClassValidation:
		return "ValidationError"
	case ClassNotFound:
		return "NotFound"
	case ClassRangeNotSatisfiable:
		return "RangeNotSatisfiable"
	case ClassStorage:
		return "StorageError"
	default:
		return "InternalError"
	}
}

// GatewayError is an error with a machine-readable code, a human-readable
// message, the HTTP status it maps to, and an optional wrapped cause.
type GatewayError struct {
	// Code is the stable error code (e.g., "NoSuchKey", "InvalidContentType").
	Code string `json:"code"`
	// Message is a human-readable description of the error.
	Message string `json:"message"`
	// RequestID is filled in by the HTTP layer when the error is rendered.
	RequestID string `json:"requestId,omitempty"`
	// HTTPStatus is the HTTP status code to return (e.g., 404, 416).
	HTTPStatus int `json:"-"`
	// Class is the taxonomy bucket the error belongs to.
	Class Class `json:"-"`
	// Err is the underlying cause, if any. Never rendered to clients.
	Err error `json:"-"`
}

// Error implements the error interface for GatewayError.
func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%d): %s: %v", e.Class, e.Code, e.HTTPStatus, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s (%d): %s", e.Class, e.Code, e.HTTPStatus, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a GatewayError with the same code, so that a
// copy produced by WithMessage or Wrap still matches its predefined value.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// GetStatus returns the HTTP status. It lets huma render the error directly.
func (e *GatewayError) GetStatus() int {
	return e.HTTPStatus
}

// WithMessage returns a copy of the error with a formatted message.
func (e *GatewayError) WithMessage(format string, args ...any) *GatewayError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of the error carrying err as its cause.
func (e *GatewayError) Wrap(err error) *GatewayError {
	cp := *e
	cp.Err = err
	return &cp
}

// As extracts the first *GatewayError in err's chain.
func As(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if stderrors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// ClassOf returns the class of err, or ClassInternal when err carries no
// GatewayError.
func ClassOf(err error) Class {
	if ge, ok := As(err); ok {
		return ge.Class
	}
	return ClassInternal
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool { return ClassOf(err) == ClassNotFound }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return ClassOf(err) == ClassValidation }

// IsStorage reports whether err is a backend failure.
func IsStorage(err error) bool { return ClassOf(err) == ClassStorage }

// Predefined gateway errors.
var (
	// ErrConfiguration is returned when backend settings are missing or invalid.
	ErrConfiguration = &GatewayError{
		Code:       "ConfigurationError",
		Message:    "The storage gateway is not configured",
		HTTPStatus: http.StatusInternalServerError,
		Class:      ClassConfiguration,
	}

	// ErrInvalidKey is returned when a key does not follow the storage key layout.
	ErrInvalidKey = &GatewayError{
		Code:       "InvalidKey",
		Message:    "The storage key is not valid",
		HTTPStatus: http.StatusBadRequest,
		Class:      ClassValidation,
	}

	// ErrInvalidCategory is returned for an unknown media category.
	ErrInvalidCategory = &GatewayError{
		Code:       "InvalidCategory",
		Message:    "The media category is not known",
		HTTPStatus: http.StatusBadRequest,
		Class:      ClassValidation,
	}

	// ErrInvalidOwner is returned when an owner id cannot be embedded in a key.
	ErrInvalidOwner = &GatewayError{
		Code:       "InvalidOwner",
		Message:    "The owner id is not valid",
		HTTPStatus: http.StatusBadRequest,
		Class:      ClassValidation,
	}

	// ErrInvalidContentType is returned when the content type is not in the
	// category allowlist.
	ErrInvalidContentType = &GatewayError{
		Code:       "InvalidContentType",
		Message:    "The content type is not allowed for this media category",
		HTTPStatus: http.StatusUnsupportedMediaType,
		Class:      ClassValidation,
	}

	// ErrEntityTooLarge is returned when the payload exceeds the category maximum.
	ErrEntityTooLarge = &GatewayError{
		Code:       "EntityTooLarge",
		Message:    "Your proposed upload exceeds the maximum allowed size",
		HTTPStatus: http.StatusRequestEntityTooLarge,
		Class:      ClassValidation,
	}

	// ErrIncompleteBody is returned when the body is shorter than the declared size.
	ErrIncompleteBody = &GatewayError{
		Code:       "IncompleteBody",
		Message:    "The body did not contain the number of bytes declared",
		HTTPStatus: http.StatusBadRequest,
		Class:      ClassValidation,
	}

	// ErrMalformedRange is returned when the Range header cannot be parsed.
	ErrMalformedRange = &GatewayError{
		Code:       "MalformedRange",
		Message:    "The Range header is not a valid byte range",
		HTTPStatus: http.StatusBadRequest,
		Class:      ClassValidation,
	}

	// ErrInvalidRequest is returned for generally invalid requests.
	ErrInvalidRequest = &GatewayError{
		Code:       "InvalidRequest",
		Message:    "Invalid Request",
		HTTPStatus: http.StatusBadRequest,
		Class:      ClassValidation,
	}

	// ErrUnauthorized is returned when the service token is missing or wrong.
	ErrUnauthorized = &GatewayError{
		Code:       "Unauthorized",
		Message:    "A valid service token is required",
		HTTPStatus: http.StatusUnauthorized,
		Class:      ClassValidation,
	}

	// ErrMethodNotAllowed is returned when the HTTP method is not supported.
	ErrMethodNotAllowed = &GatewayError{
		Code:       "MethodNotAllowed",
		Message:    "The specified method is not allowed against this resource",
		HTTPStatus: http.StatusMethodNotAllowed,
		Class:      ClassValidation,
	}

	// ErrNoSuchRoute is returned for paths the gateway does not serve.
	ErrNoSuchRoute = &GatewayError{
		Code:       "NotFound",
		Message:    "No such route",
		HTTPStatus: http.StatusNotFound,
		Class:      ClassValidation,
	}

	// ErrNotReady is returned by the readiness probe while the backend is unreachable.
	ErrNotReady = &GatewayError{
		Code:       "NotReady",
		Message:    "The storage backend is not reachable",
		HTTPStatus: http.StatusServiceUnavailable,
		Class:      ClassStorage,
	}

	// ErrNoSuchKey is returned when the object does not exist.
	ErrNoSuchKey = &GatewayError{
		Code:       "NoSuchKey",
		Message:    "The specified key does not exist",
		HTTPStatus: http.StatusNotFound,
		Class:      ClassNotFound,
	}

	// ErrRangeNotSatisfiable is returned when the range lies outside the object.
	ErrRangeNotSatisfiable = &GatewayError{
		Code:       "InvalidRange",
		Message:    "The requested range is not satisfiable",
		HTTPStatus: http.StatusRequestedRangeNotSatisfiable,
		Class:      ClassRangeNotSatisfiable,
	}

	// ErrStorageUnavailable is returned when the backend cannot be reached or
	// refused the operation.
	ErrStorageUnavailable = &GatewayError{
		Code:       "StorageUnavailable",
		Message:    "The storage backend did not complete the operation",
		HTTPStatus: http.StatusBadGateway,
		Class:      ClassStorage,
	}

	// ErrStorageTimeout is returned when the backend did not answer in time.
	ErrStorageTimeout = &GatewayError{
		Code:       "StorageTimeout",
		Message:    "The storage backend did not respond in time",
		HTTPStatus: http.StatusGatewayTimeout,
		Class:      ClassStorage,
	}

	// ErrPresignUnsupported is returned when the configured backend cannot sign URLs.
	ErrPresignUnsupported = &GatewayError{
		Code:       "PresignUnsupported",
		Message:    "The storage backend cannot issue signed URLs with the configured credentials",
		HTTPStatus: http.StatusNotImplemented,
		Class:      ClassConfiguration,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &GatewayError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: http.StatusInternalServerError,
		Class:      ClassInternal,
	}
)
