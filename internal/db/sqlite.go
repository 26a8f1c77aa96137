package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/schema"
)

// SQLite is the SQLite backend. Params.Name is the database file.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

// SQLiteDSN returns the database file with the connection options appended
// as go-sqlite3 query parameters.
func SQLiteDSN(p driver.Params) string {
	dsn := p.Name
	if dsn == "" {
		dsn = ":memory:"
	}
	if len(p.Options) > 0 {
		q := url.Values{}
		for k, v := range p.Options {
			q.Set(k, v)
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + q.Encode()
	}
	return dsn
}

func (s SQLite) Connect(ctx context.Context, p driver.Params) (driver.Conn, error) {
	sc, err := openSQL(ctx, "sqlite3", SQLiteDSN(p), sqliteErrorCode)
	if err != nil {
		return nil, err
	}
	sc.dialect = s
	sc.tx.beginSQL = "BEGIN"
	return &sqliteConn{sqlConn: sc}, nil
}

// CreateDatabase creates the database file. It fails when the file exists.
func (s SQLite) CreateDatabase(ctx context.Context, p driver.Params) error {
	if p.Name == "" || strings.HasPrefix(p.Name, ":memory:") {
		return &driver.Error{Kind: driver.ErrUnsupported, Text: "an in-memory database cannot be created"}
	}
	file := strings.TrimPrefix(p.Name, "file:")
	if i := strings.Index(file, "?"); i >= 0 {
		file = file[:i]
	}
	if _, err := os.Stat(file); err == nil {
		return &driver.Error{Kind: driver.ErrDDL, Text: "database file " + file + " already exists"}
	}
	conn, err := s.Connect(ctx, p)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	// the file is written on the first statement
	return conn.Exec(ctx, "PRAGMA user_version = 0")
}

func sqliteErrorCode(err error) (string, string) {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return strconv.Itoa(int(se.Code)), se.Error()
	}
	return "", err.Error()
}

func (SQLite) QuoteIdentifier(name string) string { return driver.QuoteIdentifier(name, `"`) }
func (SQLite) EscapeString(s string) string       { return driver.EscapeQuotes(s) }
func (SQLite) UnescapeString(s string) string     { return driver.UnescapeQuotes(s) }

func (SQLite) SQLFunction(fn driver.Function, field string, args ...string) (string, error) {
	if err := driver.CheckArgs(fn, args); err != nil {
		return "", err
	}
	switch fn {
	case driver.IfNull:
		return fmt.Sprintf("IFNULL(%s, %s)", field, args[0]), nil
	case driver.Concat:
		return "(" + field + " || " + strings.Join(args, " || ") + ")", nil
	}
	if sql, ok := driver.CommonFunction(fn, field, args); ok {
		return sql, nil
	}
	return "", fmt.Errorf("%w: %s", driver.ErrUnknownFunction, fn)
}

// sqliteAutoIncrement can only be a column constraint, so an auto increment
// column carries the primary key itself.
const sqliteAutoIncrement = "PRIMARY KEY AUTOINCREMENT"

var sqliteIntegers = map[string]bool{
	"int": true, "integer": true, "tinyint": true, "smallint": true, "mediumint": true, "bigint": true,
}

// MapType keeps declared type names, since SQLite reports them back as
// written. An auto increment column must be INTEGER to alias the rowid.
func (SQLite) MapType(spec schema.ColumnSpec) schema.ColumnSpec {
	out := spec.Clone()
	out.Type = strings.ToLower(out.Type)
	switch {
	case out.AutoInc:
		out.Type = "integer"
		out.Length = nil
		out.Precision = nil
	case sqliteIntegers[out.Type]:
		out.Length = nil
		out.Precision = nil
	case out.Type == "enum" || out.Type == "set":
		out.Type = "text"
		out.Length = nil
	}
	out.Options = nil
	out.Unsigned = false
	out.Zerofill = false
	out.Comment = ""
	return out
}

func (s SQLite) DefineField(name string, spec schema.ColumnSpec) string {
	mapped := s.MapType(spec)
	def := s.QuoteIdentifier(name) + " " + strings.ToUpper(mapped.Type) + sizeSuffix(mapped)
	if !mapped.Null {
		def += " NOT NULL"
	}
	if mapped.AutoInc {
		return def + " " + sqliteAutoIncrement
	}
	if mapped.Default != nil {
		def += " DEFAULT " + defaultLiteral(s, *mapped.Default)
	}
	if len(spec.Options) > 0 {
		def += " CHECK (" + s.QuoteIdentifier(name) + " IN (" + strings.Join(spec.Options, ", ") + "))"
	}
	return def
}

func (s SQLite) DefineIndex(_, _ string, spec schema.IndexSpec) (string, bool) {
	if spec.Primary {
		return "PRIMARY KEY (" + quoteAll(s, spec.Columns) + ")", true
	}
	return "", false
}

// WriteClauses is empty: a default SQLite build rejects ORDER BY and LIMIT
// on UPDATE and DELETE.
func (SQLite) WriteClauses() driver.WriteClause { return 0 }

func (SQLite) IsRetryable(code string) time.Duration {
	switch code {
	case strconv.Itoa(int(sqlite3.ErrBusy)), strconv.Itoa(int(sqlite3.ErrLocked)):
		return 250 * time.Millisecond
	}
	return 0
}

type sqliteConn struct {
	*sqlConn
}

func (c *sqliteConn) unsupported(what string) error {
	return c.fail(driver.ErrUnsupported, "", &driver.Error{Kind: driver.ErrUnsupported, Text: what + " is not supported by sqlite"})
}

func (c *sqliteConn) ListTables(ctx context.Context, pattern string, views bool) ([]schema.Table, error) {
	query := `
		SELECT name, type
		FROM sqlite_master
		WHERE name NOT LIKE 'sqlite_%' AND name LIKE ?
	`
	if views {
		query += " AND type IN ('table', 'view')"
	} else {
		query += " AND type = 'table'"
	}
	query += " ORDER BY name"

	rows, err := c.conn.QueryContext(ctx, query, likePattern(pattern))
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	defer rows.Close()

	var tables []schema.Table
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, c.fail(driver.ErrQuery, query, err)
		}
		tables = append(tables, schema.Table{Name: name, View: kind == "view"})
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	return tables, nil
}

type sqliteColumn struct {
	name    string
	spec    schema.ColumnSpec
	pkOrder int
}

func (c *sqliteConn) tableInfo(ctx context.Context, table string) ([]sqliteColumn, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", c.dialect.QuoteIdentifier(table))

	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	defer rows.Close()

	var columns []sqliteColumn
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, c.fail(driver.ErrQuery, query, err)
		}

		base, length, precision := splitType(colType)
		col := sqliteColumn{name: name, pkOrder: pk, spec: schema.ColumnSpec{
			Type:      base,
			Length:    length,
			Precision: precision,
			Null:      notNull == 0,
		}}
		if defaultValue.Valid {
			d := unquoteDefault(defaultValue.String)
			col.spec.Default = &d
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	if len(columns) == 0 {
		return nil, c.fail(driver.ErrQuery, query, &driver.Error{Kind: driver.ErrQuery, Text: "no such table: " + table})
	}
	return columns, nil
}

// autoIncrement reports whether table was created with an AUTOINCREMENT
// column.
func (c *sqliteConn) autoIncrement(ctx context.Context, table string) (bool, error) {
	query := "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?"
	var ddl sql.NullString
	if err := c.conn.QueryRowContext(ctx, query, table).Scan(&ddl); err != nil {
		return false, c.fail(driver.ErrQuery, query, err)
	}
	return strings.Contains(strings.ToUpper(ddl.String), "AUTOINCREMENT"), nil
}

// DescribeColumns reports the single INTEGER primary key column as auto
// increment when the table was created with AUTOINCREMENT.
func (c *sqliteConn) DescribeColumns(ctx context.Context, table string) (schema.Columns, error) {
	info, err := c.tableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	autoInc, err := c.autoIncrement(ctx, table)
	if err != nil {
		return nil, err
	}

	pkCount := 0
	for _, col := range info {
		if col.pkOrder > 0 {
			pkCount++
		}
	}

	columns := make(schema.Columns, 0, len(info))
	for _, col := range info {
		if autoInc && pkCount == 1 && col.pkOrder > 0 && col.spec.Type == "integer" {
			col.spec.AutoInc = true
		}
		columns = append(columns, schema.Column{Name: col.name, ColumnSpec: col.spec})
	}
	return columns, nil
}

func (c *sqliteConn) DescribeIndexes(ctx context.Context, table string) (schema.Indexes, error) {
	info, err := c.tableInfo(ctx, table)
	if err != nil {
		return nil, err
	}

	var indexes schema.Indexes
	var pk []string
	for order := 1; ; order++ {
		found := false
		for _, col := range info {
			if col.pkOrder == order {
				pk = append(pk, col.name)
				found = true
			}
		}
		if !found {
			break
		}
	}
	if len(pk) > 0 {
		indexes = append(indexes, schema.Index{Name: schema.PrimaryName, IndexSpec: schema.IndexSpec{Primary: true, Columns: pk}})
	}

	query := fmt.Sprintf("PRAGMA index_list(%s)", c.dialect.QuoteIdentifier(table))
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}

	var listed []schema.Index
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string

		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, c.fail(driver.ErrQuery, query, err)
		}

		// Skip auto-generated primary key and constraint indexes
		if origin == "pk" || strings.HasPrefix(name, "sqlite_autoindex") {
			continue
		}
		listed = append(listed, schema.Index{Name: name, IndexSpec: schema.IndexSpec{Unique: unique == 1}})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}

	for _, idx := range listed {
		idx.Columns, err = c.indexColumns(ctx, idx.Name)
		if err != nil {
			return nil, err
		}
		if len(idx.Columns) > 0 {
			indexes = append(indexes, idx)
		}
	}
	return indexes, nil
}

func (c *sqliteConn) indexColumns(ctx context.Context, index string) ([]string, error) {
	query := fmt.Sprintf("PRAGMA index_info(%s)", c.dialect.QuoteIdentifier(index))
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var colName sql.NullString

		if err := rows.Scan(&seqno, &cid, &colName); err != nil {
			return nil, c.fail(driver.ErrQuery, query, err)
		}
		if colName.Valid {
			columns = append(columns, colName.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	return columns, nil
}

// CreateTable ignores engine. A table level primary key is left out when a
// column already declares one.
func (c *sqliteConn) CreateTable(ctx context.Context, table string, definitions []string, _ string) error {
	query := "CREATE TABLE " + c.dialect.QuoteIdentifier(table) + " (\n\t" + strings.Join(sqliteTableDefinitions(definitions), ",\n\t") + "\n)"
	return c.exec(ctx, driver.ErrDDL, query)
}

func sqliteTableDefinitions(definitions []string) []string {
	inline := false
	for _, def := range definitions {
		if strings.HasSuffix(def, " "+sqliteAutoIncrement) {
			inline = true
		}
	}
	if !inline {
		return definitions
	}
	out := make([]string, 0, len(definitions))
	for _, def := range definitions {
		if !strings.HasPrefix(def, "PRIMARY KEY (") {
			out = append(out, def)
		}
	}
	return out
}

func (c *sqliteConn) EmptyTable(ctx context.Context, table string) error {
	return c.exec(ctx, driver.ErrDDL, "DELETE FROM "+c.dialect.QuoteIdentifier(table))
}

func (c *sqliteConn) AddField(ctx context.Context, table, name string, spec schema.ColumnSpec) error {
	return c.exec(ctx, driver.ErrDDL, "ALTER TABLE "+c.dialect.QuoteIdentifier(table)+" ADD COLUMN "+c.dialect.DefineField(name, spec))
}

func (c *sqliteConn) AlterField(context.Context, string, string, schema.ColumnSpec) error {
	return c.unsupported("altering a column")
}

func (c *sqliteConn) DropField(ctx context.Context, table, name string) error {
	return c.exec(ctx, driver.ErrDDL, "ALTER TABLE "+c.dialect.QuoteIdentifier(table)+" DROP COLUMN "+c.dialect.QuoteIdentifier(name))
}

func (c *sqliteConn) CreateIndex(ctx context.Context, table, name string, spec schema.IndexSpec) error {
	if spec.Primary {
		return c.unsupported("adding a primary key")
	}
	query := "CREATE "
	if spec.Unique {
		query += "UNIQUE "
	}
	query += "INDEX " + c.dialect.QuoteIdentifier(name) + " ON " + c.dialect.QuoteIdentifier(table) +
		" (" + quoteAll(c.dialect, spec.Columns) + ")"
	return c.exec(ctx, driver.ErrDDL, query)
}

func (c *sqliteConn) DropIndex(ctx context.Context, _, name string) error {
	if name == schema.PrimaryName {
		return c.unsupported("dropping a primary key")
	}
	return c.exec(ctx, driver.ErrDDL, "DROP INDEX "+c.dialect.QuoteIdentifier(name))
}

// LockTables locks the whole database: SQLite has no table locks. A write
// lock starts an IMMEDIATE transaction, a read lock a DEFERRED one. Inside
// an active transaction this is a no-op.
func (c *sqliteConn) LockTables(ctx context.Context, mode driver.LockMode, _ ...string) error {
	if c.tx.active() {
		return nil
	}
	if _, err := c.tx.begin(""); err != nil {
		return c.fail(driver.ErrLock, "", err)
	}
	c.tx.implicit = true
	stmt := "BEGIN DEFERRED"
	if mode == driver.LockWrite {
		stmt = "BEGIN IMMEDIATE"
	}
	if err := c.exec(ctx, driver.ErrLock, stmt); err != nil {
		c.tx.reset()
		return err
	}
	return nil
}

func (c *sqliteConn) UnlockTables(ctx context.Context, _ ...string) error {
	if !c.tx.implicit {
		return nil
	}
	return c.end(ctx, "", true, false)
}

func (c *sqliteConn) SetSession(ctx context.Context, settings map[string]string) error {
	for _, k := range sortedKeys(settings) {
		if err := c.exec(ctx, driver.ErrQuery, "PRAGMA "+k+" = "+defaultLiteral(c.dialect, settings[k])); err != nil {
			return err
		}
	}
	return nil
}
