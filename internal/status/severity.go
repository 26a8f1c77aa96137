package status

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Severity classifies a status code. Values are ordered: a higher value is
// always worse than a lower one.
type Severity uint8

const (
	Debug Severity = iota + 1
	Info
	OK
	Success
	Warning
	Bug
	Error
	Fatal
	Critical
)

var severityNames = map[Severity]string{
	Debug:    "DEBUG",
	Info:     "INFO",
	OK:       "OK",
	Success:  "SUCCESS",
	Warning:  "WARNING",
	Bug:      "BUG",
	Error:    "ERROR",
	Fatal:    "FATAL",
	Critical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SEVERITY(%d)", uint8(s))
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	return s >= Debug && s <= Critical
}

// Failed reports whether s marks an aborted operation. Warnings are not
// failures.
func (s Severity) Failed() bool {
	return s > Warning
}

// Level is the log level a status of this severity is logged at.
func (s Severity) Level() logrus.Level {
	switch {
	case s <= Debug:
		return logrus.DebugLevel
	case s == Info:
		return logrus.InfoLevel
	case s <= Success:
		return logrus.DebugLevel
	case s == Warning:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

// ParseSeverity returns the severity with the given (case-insensitive) name.
func ParseSeverity(name string) (Severity, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for sev, n := range severityNames {
		if n == name {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}
