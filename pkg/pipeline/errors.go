package pipeline

import (
	"errors"
	"fmt"
)

// Class is the recovery category assigned to a failed call.
type Class int

const (
	// Opaque failures are passed through to the caller untouched.
	Opaque Class = iota

	// Unreachable means no response was received at all.
	Unreachable

	// Unauthenticated means the API answered 401.
	Unauthenticated

	// Forbidden means the API answered 403.
	Forbidden
)

// Sentinel errors, one per class, for use with errors.Is.
var (
	ErrOpaque          = errors.New("request failed")
	ErrUnreachable     = errors.New("api unreachable")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case Unreachable:
		return "unreachable"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "opaque"
	}
}

func (c Class) sentinel() error {
	switch c {
	case Unreachable:
		return ErrUnreachable
	case Unauthenticated:
		return ErrUnauthenticated
	case Forbidden:
		return ErrForbidden
	default:
		return ErrOpaque
	}
}

// Error is returned for every failed call. Recovery side effects have
// already run by the time the caller sees it.
type Error struct {
	Class      Class
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Capability string
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, e.Class, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: %s: status %d", e.Method, e.URL, e.Class, e.StatusCode)
	default:
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Class)
	}
}

// Unwrap returns the transport error, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's class.
func (e *Error) Is(target error) bool {
	return target == e.Class.sentinel()
}
