package status

import (
	"github.com/sirupsen/logrus"
)

// Tracker holds the current status of one acting object (a handle, a schema
// engine) and logs every transition.
type Tracker struct {
	reg  *Registry
	log  logrus.FieldLogger
	code Code
	name string
	msg  string
	err  error
}

// NewTracker returns a tracker whose initial status is OK.
func NewTracker(reg *Registry, log logrus.FieldLogger) *Tracker {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	t := &Tracker{reg: reg, log: log}
	t.Reset()
	return t
}

// Set records the status registered under name. It returns a *Failure when
// the status' severity marks the operation as failed, nil otherwise.
func (t *Tracker) Set(name string, args ...any) error {
	return t.set(name, nil, args...)
}

// Fail is Set with a cause attached to the returned failure.
func (t *Tracker) Fail(name string, cause error, args ...any) error {
	return t.set(name, cause, args...)
}

func (t *Tracker) set(name string, cause error, args ...any) error {
	code, err := t.reg.Code(name)
	if err != nil {
		args = []any{name}
		name = StatusUnknown
		code, _ = t.reg.Code(name)
	}
	t.code = code
	t.name = name
	t.msg = t.reg.Message(code, args...)
	t.err = cause

	entry := t.log.WithField("status", name)
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Log(code.Severity().Level(), t.msg)

	if !code.Severity().Failed() {
		return nil
	}
	return &Failure{Code: code, Name: name, Message: t.msg, Err: cause}
}

// Reset sets the status back to OK without logging.
func (t *Tracker) Reset() {
	t.code, _ = t.reg.Code(StatusOK)
	t.name = StatusOK
	t.msg = ""
	t.err = nil
}

func (t *Tracker) Code() Code         { return t.code }
func (t *Tracker) Name() string       { return t.name }
func (t *Tracker) Severity() Severity { return t.code.Severity() }
func (t *Tracker) Message() string    { return t.msg }

// Err returns the cause attached to the current status, if any.
func (t *Tracker) Err() error { return t.err }

// Logger returns the logger statuses are written to.
func (t *Tracker) Logger() logrus.FieldLogger { return t.log }
