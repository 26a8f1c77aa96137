package schema

import (
	"errors"
	"fmt"
	"strings"
)

// PrimaryName is the name every primary index carries.
const PrimaryName = "PRIMARY"

var (
	ErrNoColumns             = errors.New("no columns defined")
	ErrMultipleAutoIncrement = errors.New("more than one auto increment column")
	ErrDuplicatePrimaryKey   = errors.New("more than one primary key")
	ErrIndexWithoutColumns   = errors.New("index has no columns")
	ErrUnknownIndexColumn    = errors.New("index references an undeclared column")
)

// Validate checks d and normalizes it in place. Running it again on a
// normalized definition changes nothing.
//
// Normalization lower-cases types, drops a zero length, quotes enumerated
// options exactly once, renames the primary index to PRIMARY and adds a
// primary index on the auto increment column when none is declared.
func (d *Definition) Validate() error {
	if len(d.Columns) == 0 {
		return fmt.Errorf("table %s: %w", d.Table, ErrNoColumns)
	}

	autoInc := ""
	for i := range d.Columns {
		col := &d.Columns[i]
		col.Type = strings.ToLower(strings.TrimSpace(col.Type))
		if col.Length != nil && *col.Length == 0 {
			col.Length = nil
		}
		for j, opt := range col.Options {
			col.Options[j] = QuoteOption(opt)
		}
		if col.AutoInc {
			if autoInc != "" {
				return fmt.Errorf("%w: %s and %s", ErrMultipleAutoIncrement, autoInc, col.Name)
			}
			autoInc = col.Name
		}
	}

	hasPrimary := false
	for i := range d.Indexes {
		idx := &d.Indexes[i]
		if strings.EqualFold(idx.Name, PrimaryName) {
			idx.Primary = true
		}
		if idx.Primary {
			if hasPrimary {
				return fmt.Errorf("%w: %s", ErrDuplicatePrimaryKey, idx.Name)
			}
			hasPrimary = true
			idx.Name = PrimaryName
			idx.Unique = false
		}
		if len(idx.Columns) == 0 {
			return fmt.Errorf("%w: %s", ErrIndexWithoutColumns, idx.Name)
		}
		for _, col := range idx.Columns {
			if _, ok := d.Columns.Get(col); !ok {
				return fmt.Errorf("%w: %s.%s", ErrUnknownIndexColumn, idx.Name, col)
			}
		}
	}

	if autoInc != "" && !hasPrimary {
		primary := Index{Name: PrimaryName, IndexSpec: IndexSpec{Primary: true, Columns: []string{autoInc}}}
		d.Indexes = append(Indexes{primary}, d.Indexes...)
	}
	return nil
}

// QuoteOption wraps an enumeration value in single quotes unless it already
// is quoted.
func QuoteOption(opt string) string {
	if len(opt) >= 2 && strings.HasPrefix(opt, "'") && strings.HasSuffix(opt, "'") {
		return opt
	}
	return "'" + strings.ReplaceAll(opt, "'", "''") + "'"
}

// UnquoteOption reverses QuoteOption.
func UnquoteOption(opt string) string {
	if len(opt) >= 2 && strings.HasPrefix(opt, "'") && strings.HasSuffix(opt, "'") {
		return strings.ReplaceAll(opt[1:len(opt)-1], "''", "'")
	}
	return opt
}
