package formatter

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/tordrt/dbkit/internal/schema"
)

// MarkdownFormatter formats table definitions as markdown
type MarkdownFormatter struct {
	writer io.Writer
}

// NewMarkdownFormatter creates a new markdown formatter
func NewMarkdownFormatter(w io.Writer) *MarkdownFormatter {
	return &MarkdownFormatter{writer: w}
}

// Format writes the definitions in markdown format
func (f *MarkdownFormatter) Format(defs []*schema.Definition) error {
	_, _ = fmt.Fprintln(f.writer, "# Database Schema")
	_, _ = fmt.Fprintln(f.writer)

	for _, def := range defs {
		f.formatTable(def)
	}
	return nil
}

func (f *MarkdownFormatter) formatTable(def *schema.Definition) {
	_, _ = fmt.Fprintf(f.writer, "## %s\n\n", def.Table)
	if def.Engine != "" {
		_, _ = fmt.Fprintf(f.writer, "Engine: %s\n\n", def.Engine)
	}

	_, _ = fmt.Fprintln(f.writer, "### Columns")
	_, _ = fmt.Fprintln(f.writer)

	pk := primaryKey(def.Indexes)
	for _, col := range def.Columns {
		_, _ = fmt.Fprintf(f.writer, "- %s\n", f.formatColumn(col, pk))
	}
	_, _ = fmt.Fprintln(f.writer)

	if len(def.Indexes) > 0 {
		_, _ = fmt.Fprintln(f.writer, "### Indexes")
		_, _ = fmt.Fprintln(f.writer)
		for _, idx := range def.Indexes {
			_, _ = fmt.Fprintf(f.writer, "- %s\n", f.formatIndex(idx))
		}
		_, _ = fmt.Fprintln(f.writer)
	}
}

// FormatDiff writes the changes that would bring table in line with its
// definition.
func (f *MarkdownFormatter) FormatDiff(table string, d schema.Diff) error {
	_, _ = fmt.Fprintf(f.writer, "## %s\n\n", table)
	if d.Empty() {
		_, _ = fmt.Fprintln(f.writer, "No changes.")
		_, _ = fmt.Fprintln(f.writer)
		return nil
	}

	_, _ = fmt.Fprintln(f.writer, "### Changes")
	_, _ = fmt.Fprintln(f.writer)
	for _, col := range d.Add {
		_, _ = fmt.Fprintf(f.writer, "- add column %s\n", f.formatColumn(col, nil))
	}
	for _, col := range d.Modify {
		_, _ = fmt.Fprintf(f.writer, "- modify column %s\n", f.formatColumn(col, nil))
	}
	for _, col := range d.Drop {
		_, _ = fmt.Fprintf(f.writer, "- drop column **%s**\n", col.Name)
	}
	for _, idx := range d.AddIndexes {
		_, _ = fmt.Fprintf(f.writer, "- add index %s\n", f.formatIndex(idx))
	}
	for _, idx := range d.ModifyIndexes {
		_, _ = fmt.Fprintf(f.writer, "- recreate index %s\n", f.formatIndex(idx))
	}
	for _, idx := range d.DropIndexes {
		_, _ = fmt.Fprintf(f.writer, "- drop index **%s**\n", idx.Name)
	}
	_, _ = fmt.Fprintln(f.writer)
	return nil
}

func (f *MarkdownFormatter) formatColumn(col schema.Column, pk []string) string {
	line := fmt.Sprintf("**%s:** %s", col.Name, columnType(col.ColumnSpec))
	if c := f.formatConstraints(col, pk); c != "" {
		line += ", " + c
	}
	if col.Comment != "" {
		line += " - " + col.Comment
	}
	return line
}

func (f *MarkdownFormatter) formatConstraints(col schema.Column, primaryKey []string) string {
	var constraints []string

	if slices.Contains(primaryKey, col.Name) {
		constraints = append(constraints, "PK")
	}
	if col.Unsigned {
		constraints = append(constraints, "UNSIGNED")
	}
	if col.AutoInc {
		constraints = append(constraints, "AUTO_INCREMENT")
	}
	if !col.Null {
		constraints = append(constraints, "NOT NULL")
	}
	if col.Default != nil {
		constraints = append(constraints, fmt.Sprintf("DEFAULT %s", *col.Default))
	}

	return strings.Join(constraints, ", ")
}

func (f *MarkdownFormatter) formatIndex(idx schema.Index) string {
	s := fmt.Sprintf("%s on (%s)", idx.Name, strings.Join(idx.Columns, ", "))
	switch {
	case idx.Primary:
		s += ", primary"
	case idx.Unique:
		s += ", unique"
	}
	if idx.Type != "" {
		s += ", " + strings.ToLower(idx.Type)
	}
	return s
}
