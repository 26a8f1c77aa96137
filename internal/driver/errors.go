package driver

import (
	"errors"
	"fmt"
)

// Failure kinds. Every *Error wraps exactly one of them.
var (
	ErrConnect     = errors.New("connect failed")
	ErrQuery       = errors.New("query failed")
	ErrDDL         = errors.New("ddl failed")
	ErrTransaction = errors.New("transaction failed")
	ErrLock        = errors.New("lock failed")
	ErrUnsupported = errors.New("not supported by backend")
	ErrClosed      = errors.New("connection is closed")

	ErrUnknownFunction = errors.New("unknown sql function")
	ErrFunctionArgs    = errors.New("wrong number of function arguments")
)

// Error is a backend failure. Code and Text are the backend's own error code
// and message, unchanged.
type Error struct {
	Kind  error
	Code  string
	Text  string
	Query string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Code != "" {
		msg += fmt.Sprintf(" (%s)", e.Code)
	}
	if e.Text != "" {
		msg += ": " + e.Text
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// CodeOf returns the backend code carried by err, if any.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
