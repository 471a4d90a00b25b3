package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a server-side failure. Each kind maps to one HTTP status.
type Kind int

const (
	// KindProtocol is a malformed request or an invalid field combination.
	KindProtocol Kind = iota + 1
	// KindAuth is a missing or mismatched shared secret.
	KindAuth
	// KindResolution is a request that referenced something that does not exist on the host, such as its working directory.
	KindResolution
	// KindDispatch is a failure to start the child process.
	KindDispatch
	// KindTimeout is a process that outlived its deadline and was killed.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindResolution:
		return "resolution"
	case KindDispatch:
		return "dispatch"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HTTPStatus returns the response status used for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindProtocol, KindResolution:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failure that is reported to the caller as a structured response.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf formats a message of the given kind. A %w verb becomes the wrapped error.
func Errorf(kind Kind, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: err.Error(), Err: errors.Unwrap(err)}
}

// KindOf returns the kind of err, or KindDispatch if err is not an *Error.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindDispatch
}
