package formatter

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tordrt/dbkit/internal/schema"
)

const (
	formatMarkdown = "markdown"
	formatText     = "text"
)

// Formats lists the output formats.
var Formats = []string{formatText, formatMarkdown}

// MultiFileFormatter writes table definitions to multiple files in a directory
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string // "text" or "markdown"
}

// NewMultiFileFormatter creates a new multi-file formatter
func NewMultiFileFormatter(outputDir, format string) *MultiFileFormatter {
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
	}
}

// Format writes an overview file and one file per table
func (f *MultiFileFormatter) Format(defs []*schema.Definition) error {
	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := f.writeOverview(defs); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}

	for _, def := range defs {
		if err := f.writeTableFile(def); err != nil {
			return fmt.Errorf("failed to write table file for %s: %w", def.Table, err)
		}
	}

	return nil
}

func (f *MultiFileFormatter) writeOverview(defs []*schema.Definition) error {
	file, err := os.Create(filepath.Join(f.OutputDir, "_overview"+f.getFileExtension()))
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	sorted := slices.Clone(defs)
	slices.SortFunc(sorted, func(a, b *schema.Definition) int {
		return strings.Compare(a.Table, b.Table)
	})

	if f.OutputFormat == formatMarkdown {
		_, _ = fmt.Fprintf(file, "# Schema Overview\n\n")
		_, _ = fmt.Fprintf(file, "Each table has a corresponding file: `<table_name>%s`\n\n", f.getFileExtension())
		_, _ = fmt.Fprintf(file, "## Tables\n\n")
		for _, def := range sorted {
			_, _ = fmt.Fprintf(file, "- **%s** (%s)\n", def.Table, summary(def))
		}
		return nil
	}

	_, _ = fmt.Fprintf(file, "SCHEMA OVERVIEW\n")
	_, _ = fmt.Fprintf(file, "Each table has a file: <table_name>%s\n\n", f.getFileExtension())
	for _, def := range sorted {
		_, _ = fmt.Fprintf(file, "%s (%s)\n", def.Table, summary(def))
	}
	return nil
}

func (f *MultiFileFormatter) writeTableFile(def *schema.Definition) error {
	file, err := os.Create(filepath.Join(f.OutputDir, def.Table+f.getFileExtension()))
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if f.OutputFormat == formatMarkdown {
		NewMarkdownFormatter(file).formatTable(def)
	} else {
		NewTextFormatter(file).formatTable(def)
	}
	return file.Close()
}

func summary(def *schema.Definition) string {
	s := fmt.Sprintf("%d columns, %d indexes", len(def.Columns), len(def.Indexes))
	if pk := primaryKey(def.Indexes); len(pk) > 0 {
		s += ", PK: " + strings.Join(pk, ", ")
	}
	return s
}

func (f *MultiFileFormatter) getFileExtension() string {
	if f.OutputFormat == formatMarkdown {
		return ".md"
	}
	return ".txt"
}
