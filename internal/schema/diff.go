package schema

import (
	"slices"
	"strings"
)

// Diff is the difference between a declared and a live table. Add and Modify
// hold declared specs, Drop holds the live ones.
type Diff struct {
	Add    Columns
	Modify Columns
	Drop   Columns

	AddIndexes    Indexes
	ModifyIndexes Indexes
	DropIndexes   Indexes
}

// Empty reports whether the two tables are structurally identical.
func (d Diff) Empty() bool {
	return len(d.Add) == 0 && len(d.Modify) == 0 && len(d.Drop) == 0 &&
		len(d.AddIndexes) == 0 && len(d.ModifyIndexes) == 0 && len(d.DropIndexes) == 0
}

// Len returns the number of column and index changes.
func (d Diff) Len() int {
	return len(d.Add) + len(d.Modify) + len(d.Drop) +
		len(d.AddIndexes) + len(d.ModifyIndexes) + len(d.DropIndexes)
}

// Compare diffs declared against live. Only attributes that were declared
// are compared, so a live column carrying a comment still matches a declared
// column without one.
func Compare(declared, live *Definition) Diff {
	var diff Diff
	for _, col := range declared.Columns {
		current, ok := live.Columns.Get(col.Name)
		switch {
		case !ok:
			diff.Add = append(diff.Add, col)
		case col.Differs(current):
			diff.Modify = append(diff.Modify, col)
		}
	}
	for _, col := range live.Columns {
		if _, ok := declared.Columns.Get(col.Name); !ok {
			diff.Drop = append(diff.Drop, col)
		}
	}

	for _, idx := range declared.Indexes {
		current, ok := live.Indexes.Get(idx.Name)
		switch {
		case !ok:
			diff.AddIndexes = append(diff.AddIndexes, idx)
		case idx.Differs(current):
			diff.ModifyIndexes = append(diff.ModifyIndexes, idx)
		}
	}
	for _, idx := range live.Indexes {
		if _, ok := declared.Indexes.Get(idx.Name); !ok {
			diff.DropIndexes = append(diff.DropIndexes, idx)
		}
	}
	return diff
}

// Differs reports whether any attribute declared in c differs in live.
func (c ColumnSpec) Differs(live ColumnSpec) bool {
	if !strings.EqualFold(c.Type, live.Type) {
		return true
	}
	if c.Null != live.Null || c.AutoInc != live.AutoInc ||
		c.Unsigned != live.Unsigned || c.Zerofill != live.Zerofill {
		return true
	}
	if c.Length != nil && (live.Length == nil || *c.Length != *live.Length) {
		return true
	}
	if c.Precision != nil && (live.Precision == nil || *c.Precision != *live.Precision) {
		return true
	}
	if c.Default != nil && (live.Default == nil || *c.Default != *live.Default) {
		return true
	}
	if len(c.Options) > 0 && !slices.Equal(c.Options, live.Options) {
		return true
	}
	return c.Comment != "" && c.Comment != live.Comment
}

// Differs reports whether i and live index different columns or differ in
// uniqueness. The index type is compared only when declared.
func (i IndexSpec) Differs(live IndexSpec) bool {
	if i.Primary != live.Primary || i.Unique != live.Unique {
		return true
	}
	if i.Type != "" && !strings.EqualFold(i.Type, live.Type) {
		return true
	}
	return !slices.Equal(i.Columns, live.Columns)
}
