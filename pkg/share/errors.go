package share

import "fmt"

// ErrorCode categorizes share engine failures. Peer-facing handlers map
// these to wire status strings; validation errors go back to the caller.
type ErrorCode int

const (
	// ErrValidation is bad user input to share configuration.
	ErrValidation ErrorCode = iota

	// ErrFilesystem is a missing path, a permission problem or a gone
	// device encountered during refresh.
	ErrFilesystem

	// ErrNotFound is a failed virtual path resolution; answered to a
	// peer as FILE_NOT_AVAILABLE.
	ErrNotFound

	// ErrAccessDenied is a path that exists but is not visible to the
	// requesting profile; answered as FILE_ACCESS_DENIED.
	ErrAccessDenied
)

// ValidationKind narrows ErrValidation for callers that present the
// failure to the user.
type ValidationKind int

const (
	ValidationNone ValidationKind = iota
	ValidationPathMissing
	ValidationPathNotAbsolute
	ValidationNestedRoot
	ValidationDuplicateVirtualName
	ValidationUnknownRoot
)

// Error is the structured error value of the share engine.
type Error struct {
	Code    ErrorCode
	Kind    ValidationKind
	Message string
	Path    string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

func validationError(kind ValidationKind, msg, path string) *Error {
	return &Error{Code: ErrValidation, Kind: kind, Message: msg, Path: path}
}

func notFoundError(path string) *Error {
	return &Error{Code: ErrNotFound, Message: "file not available", Path: path}
}

func accessDeniedError(path string) *Error {
	return &Error{Code: ErrAccessDenied, Message: "access denied", Path: path}
}

func filesystemError(msg, path string, err error) *Error {
	return &Error{Code: ErrFilesystem, Message: fmt.Sprintf("%s: %v", msg, err), Path: path}
}

// IsNotFound reports whether err is a failed share lookup.
func IsNotFound(err error) bool {
	se, ok := err.(*Error)
	return ok && se.Code == ErrNotFound
}

// IsAccessDenied reports whether err is a profile visibility rejection.
func IsAccessDenied(err error) bool {
	se, ok := err.(*Error)
	return ok && se.Code == ErrAccessDenied
}
