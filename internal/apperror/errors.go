// Package apperror defines the error taxonomy of the compilation job subsystem.
package apperror

import "errors"

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Caller errors, surfaced before any job row is written.
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInvalidParameters Code = "INVALID_PARAMETERS"
	CodeNoContent         Code = "NO_CONTENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidState      Code = "INVALID_STATE"

	// Rendering backend errors.
	CodeDispatchFailure        Code = "DISPATCH_FAILURE"
	CodeBackendUnreachable     Code = "BACKEND_UNREACHABLE"
	CodeBackendReportedFailure Code = "BACKEND_REPORTED_FAILURE"
	CodePollTimeout            Code = "POLL_TIMEOUT"
	CodeArtifactUploadFailure  Code = "ARTIFACT_UPLOAD_FAILURE"

	// Local renderer errors.
	CodeNoFramesProcessed  Code = "NO_FRAMES_PROCESSED"
	CodeRuntimeUnavailable Code = "RUNTIME_UNAVAILABLE"
	CodeEncodeFailure      Code = "ENCODE_FAILURE"
)

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}
