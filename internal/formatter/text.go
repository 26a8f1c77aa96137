// Package formatter renders table definitions and schema diffs as compact
// text or markdown, to one writer or to one file per table.
package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/dbkit/internal/schema"
)

// TextFormatter formats table definitions as compact text
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Format writes the definitions in compact text format
func (f *TextFormatter) Format(defs []*schema.Definition) error {
	for i, def := range defs {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer)
		}
		f.formatTable(def)
	}
	return nil
}

func (f *TextFormatter) formatTable(def *schema.Definition) {
	pkStr := ""
	if pk := primaryKey(def.Indexes); len(pk) > 0 {
		pkStr = fmt.Sprintf(" (PK: %s)", strings.Join(pk, ", "))
	}
	engine := ""
	if def.Engine != "" {
		engine = " ENGINE " + def.Engine
	}
	_, _ = fmt.Fprintf(f.writer, "TABLE %s%s%s\n", def.Table, pkStr, engine)

	for _, col := range def.Columns {
		_, _ = fmt.Fprintf(f.writer, "  %s\n", formatColumn(col))
	}

	if len(def.Indexes) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  INDEXES:")
		for _, idx := range def.Indexes {
			_, _ = fmt.Fprintf(f.writer, "    %s\n", formatIndex(idx))
		}
	}
}

// FormatDiff writes the changes that would bring table in line with its
// definition.
func (f *TextFormatter) FormatDiff(table string, d schema.Diff) error {
	if d.Empty() {
		_, _ = fmt.Fprintf(f.writer, "TABLE %s: no changes\n", table)
		return nil
	}

	_, _ = fmt.Fprintf(f.writer, "TABLE %s\n", table)
	for _, col := range d.Add {
		_, _ = fmt.Fprintf(f.writer, "  + %s\n", formatColumn(col))
	}
	for _, col := range d.Modify {
		_, _ = fmt.Fprintf(f.writer, "  ~ %s\n", formatColumn(col))
	}
	for _, col := range d.Drop {
		_, _ = fmt.Fprintf(f.writer, "  - %s\n", formatColumn(col))
	}
	for _, idx := range d.AddIndexes {
		_, _ = fmt.Fprintf(f.writer, "  + INDEX %s\n", formatIndex(idx))
	}
	for _, idx := range d.ModifyIndexes {
		_, _ = fmt.Fprintf(f.writer, "  ~ INDEX %s\n", formatIndex(idx))
	}
	for _, idx := range d.DropIndexes {
		_, _ = fmt.Fprintf(f.writer, "  - INDEX %s\n", formatIndex(idx))
	}
	return nil
}

func formatColumn(col schema.Column) string {
	parts := []string{col.Name + ":", columnType(col.ColumnSpec)}

	if col.Unsigned {
		parts = append(parts, "UNSIGNED")
	}
	if col.AutoInc {
		parts = append(parts, "AUTO_INCREMENT")
	}
	if !col.Null {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		parts = append(parts, fmt.Sprintf("DEFAULT %s", *col.Default))
	}

	return strings.Join(parts, " ")
}

func formatIndex(idx schema.Index) string {
	s := fmt.Sprintf("%s (%s)", idx.Name, strings.Join(idx.Columns, ", "))
	if idx.Unique {
		s += " UNIQUE"
	}
	if idx.Type != "" {
		s += " " + strings.ToUpper(idx.Type)
	}
	return s
}

// columnType renders the type with its size, or with its values for
// enumerated types.
func columnType(spec schema.ColumnSpec) string {
	switch {
	case len(spec.Options) > 0:
		opts := make([]string, len(spec.Options))
		for i, o := range spec.Options {
			opts[i] = schema.UnquoteOption(o)
		}
		return fmt.Sprintf("%s (%s)", spec.Type, strings.Join(opts, "|"))
	case spec.Length != nil && spec.Precision != nil:
		return fmt.Sprintf("%s(%d,%d)", spec.Type, *spec.Length, *spec.Precision)
	case spec.Length != nil:
		return fmt.Sprintf("%s(%d)", spec.Type, *spec.Length)
	}
	return spec.Type
}

func primaryKey(indexes schema.Indexes) []string {
	for _, idx := range indexes {
		if idx.Primary {
			return idx.Columns
		}
	}
	return nil
}
