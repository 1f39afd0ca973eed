// ABOUTME: Gateway error taxonomy shared by the router and the MCP surface
// ABOUTME: Maps error kinds to JSON-RPC error codes for the wire

package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway-level failure.
type Kind string

// Error kinds
const (
	KindNotFound            Kind = "NotFound"
	KindConflict            Kind = "Conflict"
	KindInvalidArgument     Kind = "InvalidArgument"
	KindUnauthorized        Kind = "Unauthorized"
	KindForbidden           Kind = "Forbidden"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindInternal            Kind = "Internal"
)

// JSON-RPC error codes for each kind. Backend application errors are
// never re-coded; they pass through verbatim.
const (
	CodeInvalidArgument     = -32602
	CodeNotFound            = -32001
	CodeConflict            = -32002
	CodeUnauthorized        = -32003
	CodeForbidden           = -32004
	CodeUpstreamUnavailable = -32010
	CodeInternal            = -32603
)

// Error is a classified gateway failure.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Code returns the JSON-RPC error code for the error's kind.
func (e *Error) Code() int {
	switch e.Kind {
	case KindInvalidArgument:
		return CodeInvalidArgument
	case KindNotFound:
		return CodeNotFound
	case KindConflict:
		return CodeConflict
	case KindUnauthorized:
		return CodeUnauthorized
	case KindForbidden:
		return CodeForbidden
	case KindUpstreamUnavailable:
		return CodeUpstreamUnavailable
	default:
		return CodeInternal
	}
}

// Error constructors
func NotFoundError(msg string) *Error        { return &Error{Kind: KindNotFound, Message: msg} }
func ConflictError(msg string) *Error        { return &Error{Kind: KindConflict, Message: msg} }
func InvalidArgumentError(msg string) *Error { return &Error{Kind: KindInvalidArgument, Message: msg} }
func UnauthorizedError(msg string) *Error    { return &Error{Kind: KindUnauthorized, Message: msg} }
func ForbiddenError(msg string) *Error       { return &Error{Kind: KindForbidden, Message: msg} }

// UpstreamUnavailableError wraps a transport failure reaching a backend.
func UpstreamUnavailableError(msg string, cause error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: msg, cause: cause}
}

// InternalError wraps an unexpected gateway-side failure.
func InternalError(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// AsError extracts a *Error from err, or wraps it as internal.
func AsError(err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return InternalError("unexpected error", err)
}
