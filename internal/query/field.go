package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tordrt/dbkit/internal/driver"
)

var (
	ErrNoTables         = errors.New("no tables given")
	ErrNoValues         = errors.New("no values given")
	ErrMultiTableInsert = errors.New("insert spans more than one table")
	ErrFieldFormat      = errors.New("invalid field descriptor")
	ErrInvalidFunction  = errors.New("invalid field function")
	ErrInvalidKind      = errors.New("invalid statement kind")
)

// MatchOp is the comparison a field takes part in. None marks a field that
// is selected but not filtered on.
type MatchOp int

const (
	None MatchOp = iota
	EQ
	LT
	GT
	LE
	GE
)

var matchSymbols = map[MatchOp]string{
	None: "!",
	EQ:   "=",
	LT:   "<",
	GT:   ">",
	LE:   "<=",
	GE:   ">=",
}

func (m MatchOp) String() string {
	if s, ok := matchSymbols[m]; ok {
		return s
	}
	return fmt.Sprintf("MatchOp(%d)", int(m))
}

// ParseMatch parses an operator symbol as written in a field reference.
func ParseMatch(s string) (MatchOp, error) {
	for m, sym := range matchSymbols {
		if sym == s {
			return m, nil
		}
	}
	return None, fmt.Errorf("%w: unknown match operator %q", ErrFieldFormat, s)
}

// Order is the sort direction of a field in ORDER BY.
type Order int

const (
	Unordered Order = iota
	Asc
	Desc
)

func (o Order) String() string {
	switch o {
	case Asc:
		return "ASC"
	case Desc:
		return "DESC"
	}
	return ""
}

// Raw is an SQL fragment used as a value without quoting or escaping.
type Raw string

// Value holds the value of a field: unset, a single item or several items.
// A nil item is SQL NULL.
type Value struct {
	items []any
	multi bool
}

// Single returns a value with one item.
func Single(v any) Value { return Value{items: []any{v}} }

// Multi returns a value with several items. As a filter each item is an
// alternative; in an insert each item goes into its own row.
func Multi(vs ...any) Value { return Value{items: vs, multi: true} }

// Null returns the SQL NULL value.
func Null() Value { return Single(nil) }

func (v Value) IsSet() bool   { return len(v.items) > 0 }
func (v Value) IsMulti() bool { return v.multi }
func (v Value) Items() []any  { return v.items }

// Call is a function applied to a field or to its value.
type Call struct {
	Func driver.Function
	Args []string
}

// Having is a HAVING condition on a (usually aggregated) field.
type Having struct {
	Match MatchOp
	Value any
}

// FieldDescriptor describes one field in a statement. The roles it plays
// follow from what is set: Match other than None makes it a filter, a Value
// gives insert and update data, OrderBy, GroupBy and Having add it to those
// clauses. A descriptor with Match None is part of the SELECT list.
type FieldDescriptor struct {
	Table string
	Field string
	// Alias is only used in SELECT lists.
	Alias     string
	Value     Value
	Match     MatchOp
	FieldFunc *Call
	ValueFunc *Call
	OrderBy   Order
	GroupBy   bool
	Having    *Having
}

// Field is a shorthand for a plain table.field descriptor.
func Field(table, field string) FieldDescriptor {
	return FieldDescriptor{Table: table, Field: field}
}

// Where returns a filter descriptor.
func Where(table, field string, match MatchOp, v Value) FieldDescriptor {
	return FieldDescriptor{Table: table, Field: field, Match: match, Value: v}
}

func (f FieldDescriptor) check() error {
	if f.Table == "" || f.Field == "" {
		return fmt.Errorf("%w: table and field are required, got %q", ErrFieldFormat, f.Ref())
	}
	if _, ok := matchSymbols[f.Match]; !ok {
		return fmt.Errorf("%w: %s has match %s", ErrFieldFormat, f.Ref(), f.Match)
	}
	return nil
}

// Ref encodes the descriptor's table, field, alias and field function as
// table#field[=alias][#FUNCTION#arg...].
func (f FieldDescriptor) Ref() string {
	ref := f.Table + "#" + f.Field
	if f.Alias != "" {
		ref += "=" + f.Alias
	}
	if f.FieldFunc != nil {
		ref += "#" + f.FieldFunc.Func.String()
		for _, a := range f.FieldFunc.Args {
			ref += "#" + a
		}
	}
	return ref
}

// ParseRef decodes a field reference written by Ref.
func ParseRef(ref string) (FieldDescriptor, error) {
	parts := strings.Split(ref, "#")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return FieldDescriptor{}, fmt.Errorf("%w: %q is not table#field", ErrFieldFormat, ref)
	}
	fd := FieldDescriptor{Table: parts[0], Field: parts[1]}
	if name, alias, ok := strings.Cut(fd.Field, "="); ok {
		if name == "" || alias == "" {
			return FieldDescriptor{}, fmt.Errorf("%w: empty alias in %q", ErrFieldFormat, ref)
		}
		fd.Field, fd.Alias = name, alias
	}
	if len(parts) > 2 {
		fn, err := driver.ParseFunction(parts[2])
		if err != nil {
			return FieldDescriptor{}, fmt.Errorf("%w: %w", ErrInvalidFunction, err)
		}
		fd.FieldFunc = &Call{Func: fn}
		if len(parts) > 3 {
			fd.FieldFunc.Args = parts[3:]
		}
	}
	return fd, nil
}

// Join is a join condition between two fields.
type Join struct {
	Left  FieldDescriptor
	Match MatchOp
	Right FieldDescriptor
}

// On returns an equality join.
func On(left, right FieldDescriptor) Join {
	return Join{Left: left, Match: EQ, Right: right}
}
