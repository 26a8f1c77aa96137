package query

import (
	"fmt"

	"github.com/tordrt/dbkit/internal/driver"
)

// Shape selects what Read returns.
type Shape int

const (
	// Data returns all rows.
	Data Shape = iota
	// SingleRow returns the first row.
	SingleRow
	// SingleField returns the first field of the first row.
	SingleField
	// RowCount returns the number of rows.
	RowCount
	// FieldCount returns the number of fields per row.
	FieldCount
	// TotalFieldCount returns rows times fields.
	TotalFieldCount
)

var shapeNames = [...]string{"data", "single row", "single field", "row count", "field count", "total field count"}

func (s Shape) valid() bool { return s >= Data && s <= TotalFieldCount }

func (s Shape) String() string {
	if !s.valid() {
		return fmt.Sprintf("shape(%d)", int(s))
	}
	return shapeNames[s]
}

// Result is the outcome of a read. Which members are filled depends on the
// shape that was asked for; Count is always the number of rows.
type Result struct {
	Rows  []driver.Row
	Row   driver.Row
	Value any
	Count int
}

// Empty reports whether the read matched no rows.
func (r Result) Empty() bool { return r.Count == 0 }

func shapeResult(shape Shape, rs *driver.RowSet) Result {
	res := Result{Count: rs.RowCount()}
	switch shape {
	case RowCount:
		res.Value = rs.RowCount()
	case FieldCount:
		res.Value = rs.FieldCount()
	case TotalFieldCount:
		res.Value = rs.RowCount() * rs.FieldCount()
	case SingleRow:
		if row, ok := rs.Next(); ok {
			res.Row = row
		}
	case SingleField:
		if row, ok := rs.Next(); ok && len(row.Values) > 0 {
			res.Row = row
			res.Value = row.Values[0]
		}
	default:
		res.Rows = rs.Rest()
	}
	return res
}
