package save

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents save-cache error codes.
type ErrorCode int

const (
	// CodeInternal represents an unexpected failure.
	CodeInternal ErrorCode = iota
	// CodeInvalidArgument indicates a malformed id or an empty update.
	CodeInvalidArgument
	// CodeNotFound indicates the save or aggregate has no repository row.
	CodeNotFound
	// CodeAlreadyExists indicates an id or nickname already in use.
	CodeAlreadyExists
	// CodeForbidden indicates the caller does not own the save.
	CodeForbidden
	// CodeUnavailable indicates a backing store is unreachable or its circuit is open.
	CodeUnavailable
)

// String returns the string representation of ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeNotFound:
		return "not_found"
	case CodeAlreadyExists:
		return "already_exists"
	case CodeForbidden:
		return "forbidden"
	case CodeUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is the error type returned by every save-cache component.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// ToHTTPStatus maps the error code to an HTTP status.
func (e *Error) ToHTTPStatus() int {
	switch e.Code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToGRPCStatus maps the error code to a gRPC status.
func (e *Error) ToGRPCStatus() *status.Status {
	switch e.Code {
	case CodeInvalidArgument:
		return status.New(codes.InvalidArgument, e.Message)
	case CodeNotFound:
		return status.New(codes.NotFound, e.Message)
	case CodeAlreadyExists:
		return status.New(codes.AlreadyExists, e.Message)
	case CodeForbidden:
		return status.New(codes.PermissionDenied, e.Message)
	case CodeUnavailable:
		return status.New(codes.Unavailable, e.Message)
	default:
		return status.New(codes.Internal, e.Message)
	}
}

// NewError creates a new error with the given code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps cause with the code of base.
func WrapError(base *Error, message string, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinel errors, compared by code through errors.Is.
var (
	ErrInternal        = NewError(CodeInternal, "internal error")
	ErrInvalidArgument = NewError(CodeInvalidArgument, "invalid argument")
	ErrEmptySaveID     = NewError(CodeInvalidArgument, "save id is required")
	ErrEmptyUpdate     = NewError(CodeInvalidArgument, "update must set at least one field")
	ErrNotFound        = NewError(CodeNotFound, "save not found")
	ErrAlreadyExists   = NewError(CodeAlreadyExists, "save already exists")
	ErrForbidden       = NewError(CodeForbidden, "save belongs to another account")
	ErrUnavailable     = NewError(CodeUnavailable, "backing store unavailable")
)

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsInvalidArgument checks if err carries CodeInvalidArgument.
func IsInvalidArgument(err error) bool { return err != nil && CodeOf(err) == CodeInvalidArgument }

// IsNotFound checks if err carries CodeNotFound.
func IsNotFound(err error) bool { return err != nil && CodeOf(err) == CodeNotFound }

// IsAlreadyExists checks if err carries CodeAlreadyExists.
func IsAlreadyExists(err error) bool { return err != nil && CodeOf(err) == CodeAlreadyExists }

// IsForbidden checks if err carries CodeForbidden.
func IsForbidden(err error) bool { return err != nil && CodeOf(err) == CodeForbidden }

// IsUnavailable checks if err carries CodeUnavailable.
func IsUnavailable(err error) bool { return err != nil && CodeOf(err) == CodeUnavailable }

// ToHTTPStatus converts any error to an HTTP status code.
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ToHTTPStatus()
	}
	return http.StatusInternalServerError
}

// ToGRPCCode converts any error to a gRPC code.
func ToGRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ToGRPCStatus().Code()
	}
	return codes.Internal
}
