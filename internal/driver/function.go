package driver

import (
	"fmt"
	"strings"
)

// Function is an SQL function a dialect knows how to render.
//
//	Count   COUNT(field); a single "DISTINCT" argument counts distinct values
//	Max     MAX(field)
//	Min     MIN(field)
//	If      args are (operator, value, then, else)
//	IfNull  args are (fallback)
//	Concat  args are appended to field
type Function int

const (
	Count Function = iota + 1
	Max
	Min
	If
	IfNull
	Concat
)

var functionNames = map[Function]string{
	Count:  "COUNT",
	Max:    "MAX",
	Min:    "MIN",
	If:     "IF",
	IfNull: "IFNULL",
	Concat: "CONCAT",
}

func (f Function) String() string {
	if n, ok := functionNames[f]; ok {
		return n
	}
	return fmt.Sprintf("FUNCTION(%d)", int(f))
}

// ParseFunction looks up a function by its (case-insensitive) name.
func ParseFunction(name string) (Function, error) {
	name = strings.ToUpper(name)
	for f, n := range functionNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
}

// CheckArgs verifies the argument count fn requires.
func CheckArgs(fn Function, args []string) error {
	var ok bool
	switch fn {
	case Count:
		ok = len(args) == 0 || (len(args) == 1 && strings.EqualFold(args[0], "DISTINCT"))
	case Max, Min:
		ok = len(args) == 0
	case If:
		ok = len(args) == 4
	case IfNull:
		ok = len(args) == 1
	case Concat:
		ok = len(args) > 0
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFunction, fn)
	}
	if !ok {
		return fmt.Errorf("%w: %s does not take %d arguments", ErrFunctionArgs, fn, len(args))
	}
	return nil
}

// CommonFunction renders the functions whose syntax is shared by all
// supported backends: COUNT, MAX, MIN and a CASE based IF. It returns false
// for the others.
func CommonFunction(fn Function, field string, args []string) (string, bool) {
	switch fn {
	case Count:
		if len(args) == 1 {
			return "COUNT(DISTINCT " + field + ")", true
		}
		return "COUNT(" + field + ")", true
	case Max:
		return "MAX(" + field + ")", true
	case Min:
		return "MIN(" + field + ")", true
	case If:
		return fmt.Sprintf("CASE WHEN %s %s %s THEN %s ELSE %s END", field, args[0], args[1], args[2], args[3]), true
	}
	return "", false
}
