package formatter

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/dbkit/internal/schema"
)

func usersDefinition() *schema.Definition {
	return &schema.Definition{
		Table:  "users",
		Engine: "InnoDB",
		Columns: schema.Columns{
			{Name: "id", ColumnSpec: schema.ColumnSpec{Type: "int", AutoInc: true}},
			{Name: "name", ColumnSpec: schema.ColumnSpec{Type: "varchar", Length: schema.Int(40)}},
			{Name: "status", ColumnSpec: schema.ColumnSpec{Type: "enum", Options: []string{"'active'", "blocked"}, Default: schema.String("active")}},
			{Name: "email", ColumnSpec: schema.ColumnSpec{Type: "varchar", Length: schema.Int(100), Null: true, Comment: "login"}},
		},
		Indexes: schema.Indexes{
			{Name: "PRIMARY", IndexSpec: schema.IndexSpec{Primary: true, Columns: []string{"id"}}},
			{Name: "email_idx", IndexSpec: schema.IndexSpec{Unique: true, Columns: []string{"email"}}},
		},
	}
}

func rolesDefinition() *schema.Definition {
	return &schema.Definition{
		Table:   "roles",
		Columns: schema.Columns{{Name: "price", ColumnSpec: schema.ColumnSpec{Type: "decimal", Length: schema.Int(10), Precision: schema.Int(2), Unsigned: true}}},
	}
}

func usersDiff() schema.Diff {
	def := usersDefinition()
	return schema.Diff{
		Add:         schema.Columns{def.Columns[3]},
		Modify:      schema.Columns{{Name: "name", ColumnSpec: schema.ColumnSpec{Type: "varchar", Length: schema.Int(60)}}},
		Drop:        schema.Columns{{Name: "legacy", ColumnSpec: schema.ColumnSpec{Type: "text", Null: true}}},
		AddIndexes:  schema.Indexes{def.Indexes[1]},
		DropIndexes: schema.Indexes{{Name: "old_idx", IndexSpec: schema.IndexSpec{Columns: []string{"legacy"}}}},
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTextFormatter(&buf).Format([]*schema.Definition{usersDefinition(), rolesDefinition()}))

	want := `TABLE users (PK: id) ENGINE InnoDB
  id: int AUTO_INCREMENT NOT NULL
  name: varchar(40) NOT NULL
  status: enum (active|blocked) NOT NULL DEFAULT active
  email: varchar(100)

  INDEXES:
    PRIMARY (id)
    email_idx (email) UNIQUE

TABLE roles
  price: decimal(10,2) UNSIGNED NOT NULL
`
	assert.Equal(t, want, buf.String())
}

func TestTextFormatDiff(t *testing.T) {
	var buf bytes.Buffer
	f := NewTextFormatter(&buf)
	require.NoError(t, f.FormatDiff("users", usersDiff()))
	require.NoError(t, f.FormatDiff("roles", schema.Diff{}))

	want := `TABLE users
  + email: varchar(100)
  ~ name: varchar(60) NOT NULL
  - legacy: text
  + INDEX email_idx (email) UNIQUE
  - INDEX old_idx (legacy)
TABLE roles: no changes
`
	assert.Equal(t, want, buf.String())
}

func TestMarkdownFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMarkdownFormatter(&buf).Format([]*schema.Definition{usersDefinition()}))

	want := "# Database Schema\n\n" +
		"## users\n\n" +
		"Engine: InnoDB\n\n" +
		"### Columns\n\n" +
		"- **id:** int, PK, AUTO_INCREMENT, NOT NULL\n" +
		"- **name:** varchar(40), NOT NULL\n" +
		"- **status:** enum (active|blocked), NOT NULL, DEFAULT active\n" +
		"- **email:** varchar(100) - login\n\n" +
		"### Indexes\n\n" +
		"- PRIMARY on (id), primary\n" +
		"- email_idx on (email), unique\n\n"
	assert.Equal(t, want, buf.String())
}

func TestMarkdownFormatDiff(t *testing.T) {
	var buf bytes.Buffer
	f := NewMarkdownFormatter(&buf)
	require.NoError(t, f.FormatDiff("users", usersDiff()))
	require.NoError(t, f.FormatDiff("roles", schema.Diff{}))

	want := "## users\n\n" +
		"### Changes\n\n" +
		"- add column **email:** varchar(100) - login\n" +
		"- modify column **name:** varchar(60), NOT NULL\n" +
		"- drop column **legacy**\n" +
		"- add index email_idx on (email), unique\n" +
		"- drop index **old_idx**\n\n" +
		"## roles\n\n" +
		"No changes.\n\n"
	assert.Equal(t, want, buf.String())
}

func TestMultiFileFormat(t *testing.T) {
	defs := []*schema.Definition{usersDefinition(), rolesDefinition()}

	tests := []struct {
		format   string
		ext      string
		overview string
		table    string
	}{
		{format: "text", ext: ".txt", overview: "users (4 columns, 2 indexes, PK: id)\n", table: "TABLE users (PK: id) ENGINE InnoDB\n"},
		{format: "markdown", ext: ".md", overview: "- **roles** (1 columns, 0 indexes)\n- **users**", table: "## users\n\nEngine: InnoDB\n"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "schema")
			require.NoError(t, NewMultiFileFormatter(dir, tt.format).Format(defs))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 3)

			overview, err := os.ReadFile(filepath.Join(dir, "_overview"+tt.ext))
			require.NoError(t, err)
			assert.Contains(t, string(overview), tt.overview)

			users, err := os.ReadFile(filepath.Join(dir, "users"+tt.ext))
			require.NoError(t, err)
			assert.Contains(t, string(users), tt.table)
			assert.FileExists(t, filepath.Join(dir, "roles"+tt.ext))
		})
	}
}
