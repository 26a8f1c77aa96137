package status

import (
	"errors"
	"fmt"
)

// Failure is returned by operations that end with a status of severity BUG
// or worse. The backend cause, when there is one, is wrapped unchanged.
type Failure struct {
	Code    Code
	Name    string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s [%s]: %s", f.Name, f.Code.Severity(), f.Message)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Severity returns the severity encoded in the failure's code.
func (f *Failure) Severity() Severity { return f.Code.Severity() }

// Is matches another *Failure with the same code.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Code == f.Code
}

// Is reports whether err carries a failure registered under name.
func Is(err error, name string) bool {
	var f *Failure
	return errors.As(err, &f) && f.Name == name
}

// NameOf returns the status name carried by err, or "" if err holds no
// *Failure.
func NameOf(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Name
	}
	return ""
}
