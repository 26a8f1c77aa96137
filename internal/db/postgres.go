package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/schema"
)

// Postgres is the PostgreSQL backend.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

// PostgresDSN builds a connection URL from connection parameters.
func PostgresDSN(p driver.Params) string {
	u := url.URL{Scheme: "postgres", Host: p.Server, Path: "/" + p.Name}
	if u.Host == "" {
		u.Host = "localhost"
	}
	switch {
	case p.User != "" && p.Password != "":
		u.User = url.UserPassword(p.User, p.Password)
	case p.User != "":
		u.User = url.User(p.User)
	}
	q := url.Values{}
	for k, v := range p.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d Postgres) Connect(ctx context.Context, p driver.Params) (driver.Conn, error) {
	conn, err := pgx.Connect(ctx, PostgresDSN(p))
	if err != nil {
		code, text := pgErrorCode(err)
		return nil, &driver.Error{Kind: driver.ErrConnect, Code: code, Text: text, Err: fmt.Errorf("failed to connect to database: %w", err)}
	}

	// Test the connection
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		code, text := pgErrorCode(err)
		return nil, &driver.Error{Kind: driver.ErrConnect, Code: code, Text: text, Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	return &pgConn{
		conn:    conn,
		dialect: d,
		tx:      txStack{beginSQL: "BEGIN"},
		multi:   p.AllowMultiple,
	}, nil
}

// CreateDatabase connects to the postgres maintenance database to create
// the one p names.
func (d Postgres) CreateDatabase(ctx context.Context, p driver.Params) error {
	name := p.Name
	p.Name = "postgres"
	p.AllowMultiple = false
	conn, err := d.Connect(ctx, p)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return conn.Exec(ctx, "CREATE DATABASE "+d.QuoteIdentifier(name))
}

func pgErrorCode(err error) (string, string) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code, pe.Message
	}
	return "", err.Error()
}

func (Postgres) QuoteIdentifier(name string) string {
	if strings.Contains(name, "*") {
		return driver.QuoteIdentifier(name, `"`)
	}
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func (Postgres) EscapeString(s string) string   { return driver.EscapeQuotes(s) }
func (Postgres) UnescapeString(s string) string { return driver.UnescapeQuotes(s) }

func (Postgres) SQLFunction(fn driver.Function, field string, args ...string) (string, error) {
	if err := driver.CheckArgs(fn, args); err != nil {
		return "", err
	}
	switch fn {
	case driver.IfNull:
		return fmt.Sprintf("COALESCE(%s, %s)", field, args[0]), nil
	case driver.Concat:
		return "CONCAT(" + field + ", " + strings.Join(args, ", ") + ")", nil
	}
	if sql, ok := driver.CommonFunction(fn, field, args); ok {
		return sql, nil
	}
	return "", fmt.Errorf("%w: %s", driver.ErrUnknownFunction, fn)
}

// pgTypes maps declared type names to the udt names the catalog reports.
var pgTypes = map[string]string{
	"int": "int4", "integer": "int4", "int4": "int4", "mediumint": "int4", "serial": "int4",
	"tinyint": "int2", "smallint": "int2", "int2": "int2",
	"bigint": "int8", "int8": "int8", "bigserial": "int8",
	"varchar": "varchar", "character varying": "varchar", "enum": "varchar", "set": "varchar",
	"char": "bpchar", "character": "bpchar", "bpchar": "bpchar",
	"text": "text", "tinytext": "text", "mediumtext": "text", "longtext": "text",
	"decimal": "numeric", "numeric": "numeric",
	"float": "float4", "real": "float4", "float4": "float4",
	"double": "float8", "double precision": "float8", "float8": "float8",
	"bool": "bool", "boolean": "bool",
	"blob": "bytea", "tinyblob": "bytea", "mediumblob": "bytea", "longblob": "bytea",
	"binary": "bytea", "varbinary": "bytea", "bytea": "bytea",
	"datetime": "timestamp", "timestamp": "timestamp", "timestamptz": "timestamptz",
}

func (Postgres) MapType(spec schema.ColumnSpec) schema.ColumnSpec {
	out := spec.Clone()
	t := strings.ToLower(out.Type)
	if mapped, ok := pgTypes[t]; ok {
		out.Type = mapped
	} else {
		out.Type = t
	}
	if t == "serial" || t == "bigserial" {
		out.AutoInc = true
	}
	if (t == "enum" || t == "set") && out.Length == nil {
		longest := 1
		for _, o := range out.Options {
			longest = max(longest, len(schema.UnquoteOption(o)))
		}
		out.Length = &longest
	}
	switch out.Type {
	case "varchar", "bpchar":
		out.Precision = nil
	case "numeric":
	default:
		out.Length = nil
		out.Precision = nil
	}
	out.Options = nil
	out.Unsigned = false
	out.Zerofill = false
	out.Comment = ""
	return out
}

func pgTypeSQL(spec schema.ColumnSpec) string {
	return strings.ToUpper(spec.Type) + sizeSuffix(spec)
}

func (d Postgres) DefineField(name string, spec schema.ColumnSpec) string {
	mapped := d.MapType(spec)
	var b strings.Builder
	b.WriteString(d.QuoteIdentifier(name) + " ")
	switch {
	case mapped.AutoInc && mapped.Type == "int8":
		b.WriteString("BIGSERIAL")
	case mapped.AutoInc:
		b.WriteString("SERIAL")
	default:
		b.WriteString(pgTypeSQL(mapped))
	}
	if !mapped.Null {
		b.WriteString(" NOT NULL")
	}
	if mapped.Default != nil && !mapped.AutoInc {
		b.WriteString(" DEFAULT " + defaultLiteral(d, *mapped.Default))
	}
	if len(spec.Options) > 0 {
		b.WriteString(" CHECK (" + d.QuoteIdentifier(name) + " IN (" + strings.Join(spec.Options, ", ") + "))")
	}
	return b.String()
}

// DefineIndex renders the primary key inline; every other index is created
// with its own CREATE INDEX statement.
func (d Postgres) DefineIndex(_, _ string, spec schema.IndexSpec) (string, bool) {
	if spec.Primary {
		return "PRIMARY KEY (" + quoteAll(d, spec.Columns) + ")", true
	}
	return "", false
}

var pgRetryable = map[string]time.Duration{
	"40P01": 100 * time.Millisecond, // deadlock_detected
	"40001": 100 * time.Millisecond, // serialization_failure
	"55P03": 500 * time.Millisecond, // lock_not_available
	"53300": time.Second,            // too_many_connections
	"57P03": 5 * time.Second,        // cannot_connect_now
	"08006": time.Second,            // connection_failure
}

func (Postgres) WriteClauses() driver.WriteClause { return 0 }

func (Postgres) IsRetryable(code string) time.Duration {
	return pgRetryable[code]
}

type pgConn struct {
	conn    *pgx.Conn
	dialect Postgres
	tx      txStack
	multi   bool

	lastCode string
	lastText string
}

func (c *pgConn) fail(kind error, query string, err error) error {
	var de *driver.Error
	if errors.As(err, &de) {
		c.lastCode, c.lastText = de.Code, de.Text
		return err
	}
	code, text := pgErrorCode(err)
	c.lastCode, c.lastText = code, text
	return &driver.Error{Kind: kind, Code: code, Text: text, Query: query, Err: err}
}

func (c *pgConn) Read(ctx context.Context, query string) (*driver.RowSet, error) {
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	fields := make([]string, len(descs))
	for i, fd := range descs {
		fields[i] = fd.Name
	}

	var data [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, c.fail(driver.ErrQuery, query, err)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	return driver.NewRowSet(fields, data), nil
}

func (c *pgConn) Write(ctx context.Context, query string) (int64, error) {
	tag, err := c.conn.Exec(ctx, query)
	if err != nil {
		return 0, c.fail(driver.ErrQuery, query, err)
	}
	return tag.RowsAffected(), nil
}

func (c *pgConn) Exec(ctx context.Context, query string) error {
	if c.multi {
		if _, err := c.conn.PgConn().Exec(ctx, query).ReadAll(); err != nil {
			return c.fail(driver.ErrQuery, query, err)
		}
		return nil
	}
	return c.exec(ctx, driver.ErrQuery, query)
}

func (c *pgConn) exec(ctx context.Context, kind error, query string, args ...any) error {
	if _, err := c.conn.Exec(ctx, query, args...); err != nil {
		return c.fail(kind, query, err)
	}
	return nil
}

// LastInsertID reads the current value of the sequence behind field. The
// sequence is looked up first so that a table without one yields 0 instead
// of an error that would abort the running transaction.
func (c *pgConn) LastInsertID(ctx context.Context, table, field string) (int64, error) {
	query := `
		SELECT pg_get_serial_sequence(quote_ident(table_name::text), column_name::text)
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
	`
	var seq *string
	err := c.conn.QueryRow(ctx, query, table, field).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && seq == nil) {
		return 0, nil
	}
	if err != nil {
		return 0, c.fail(driver.ErrQuery, query, err)
	}

	query = "SELECT currval($1::regclass)"
	var id int64
	if err := c.conn.QueryRow(ctx, query, *seq).Scan(&id); err != nil {
		return 0, c.fail(driver.ErrQuery, query, err)
	}
	return id, nil
}

func (c *pgConn) LastError() (string, string) {
	return c.lastCode, c.lastText
}

func (c *pgConn) ListTables(ctx context.Context, pattern string, views bool) ([]schema.Table, error) {
	query := `
		SELECT table_name::text, table_type::text
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name LIKE $1
	`
	if !views {
		query += " AND table_type = 'BASE TABLE'"
	}
	query += " ORDER BY table_name"

	rows, err := c.conn.Query(ctx, query, likePattern(pattern))
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
		tables = append(tables, schema.Table{Name: name, View: kind == "VIEW"})
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	return tables, nil
}

func (c *pgConn) DescribeColumns(ctx context.Context, table string) (schema.Columns, error) {
	query := `
		SELECT
			c.column_name::text,
			c.udt_name::text,
			c.is_nullable::text,
			c.column_default::text,
			c.character_maximum_length::int,
			c.numeric_precision::int,
			c.numeric_scale::int,
			c.is_identity::text
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position
	`

	rows, err := c.conn.Query(ctx, query, table)
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	defer rows.Close()

	var columns schema.Columns
	for rows.Next() {
		var name, udtName, nullable, identity string
		var defaultVal *string
		var charLength, numPrecision, numScale *int32
		if err := rows.Scan(&name, &udtName, &nullable, &defaultVal,
			&charLength, &numPrecision, &numScale, &identity); err != nil {
			return nil, c.fail(driver.ErrQuery, query, err)
		}

		spec := schema.ColumnSpec{
			Type:    udtName,
			Null:    nullable == "YES",
			AutoInc: identity == "YES",
		}
		switch udtName {
		case "varchar", "bpchar":
			spec.Length = int32Ptr(charLength)
		case "numeric":
			spec.Length = int32Ptr(numPrecision)
			spec.Precision = int32Ptr(numScale)
		}
		if defaultVal != nil {
			if strings.HasPrefix(*defaultVal, "nextval(") {
				spec.AutoInc = true
			} else {
				d := unquoteDefault(*defaultVal)
				spec.Default = &d
			}
		}
		columns = append(columns, schema.Column{Name: name, ColumnSpec: spec})
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	return columns, nil
}

func int32Ptr(n *int32) *int {
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}

func (c *pgConn) DescribeIndexes(ctx context.Context, table string) (schema.Indexes, error) {
	query := `
		SELECT
			i.relname::text AS index_name,
			ix.indisunique AS is_unique,
			ix.indisprimary AS is_primary,
			am.amname::text AS index_type,
			array_agg(a.attname::text ORDER BY array_position(ix.indkey, a.attnum)) AS column_names
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_am am ON am.oid = i.relam
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE t.relkind = 'r'
			AND n.nspname = current_schema()
			AND t.relname = $1
		GROUP BY i.relname, ix.indisunique, ix.indisprimary, am.amname
		ORDER BY ix.indisprimary DESC, i.relname
	`

	rows, err := c.conn.Query(ctx, query, table)
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	defer rows.Close()

	var indexes schema.Indexes
	for rows.Next() {
		var idx schema.Index
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Primary, &idx.Type, &idx.Columns); err != nil {
			return nil, c.fail(driver.ErrQuery, query, err)
		}
		if idx.Primary {
			idx.Name = schema.PrimaryName
			idx.Unique = false
		}
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	return indexes, nil
}

// CreateTable ignores engine; PostgreSQL has a single storage engine.
func (c *pgConn) CreateTable(ctx context.Context, table string, definitions []string, _ string) error {
	query := "CREATE TABLE " + c.dialect.QuoteIdentifier(table) + " (\n\t" + strings.Join(definitions, ",\n\t") + "\n)"
	return c.exec(ctx, driver.ErrDDL, query)
}

func (c *pgConn) DropTable(ctx context.Context, table string) error {
	return c.exec(ctx, driver.ErrDDL, "DROP TABLE "+c.dialect.QuoteIdentifier(table))
}

func (c *pgConn) EmptyTable(ctx context.Context, table string) error {
	return c.exec(ctx, driver.ErrDDL, "TRUNCATE TABLE "+c.dialect.QuoteIdentifier(table))
}

func (c *pgConn) alterTable(ctx context.Context, table string, clauses ...string) error {
	return c.exec(ctx, driver.ErrDDL, "ALTER TABLE "+c.dialect.QuoteIdentifier(table)+" "+strings.Join(clauses, ", "))
}

func (c *pgConn) AddField(ctx context.Context, table, name string, spec schema.ColumnSpec) error {
	return c.alterTable(ctx, table, "ADD COLUMN "+c.dialect.DefineField(name, spec))
}

func (c *pgConn) AlterField(ctx context.Context, table, name string, spec schema.ColumnSpec) error {
	mapped := c.dialect.MapType(spec)
	col := "ALTER COLUMN " + c.dialect.QuoteIdentifier(name)
	typ := pgTypeSQL(mapped)

	clauses := []string{col + " TYPE " + typ + " USING " + c.dialect.QuoteIdentifier(name) + "::" + typ}
	if mapped.Null {
		clauses = append(clauses, col+" DROP NOT NULL")
	} else {
		clauses = append(clauses, col+" SET NOT NULL")
	}
	if !mapped.AutoInc {
		if mapped.Default != nil {
			clauses = append(clauses, col+" SET DEFAULT "+defaultLiteral(c.dialect, *mapped.Default))
		} else {
			clauses = append(clauses, col+" DROP DEFAULT")
		}
	}
	return c.alterTable(ctx, table, clauses...)
}

func (c *pgConn) DropField(ctx context.Context, table, name string) error {
	return c.alterTable(ctx, table, "DROP COLUMN "+c.dialect.QuoteIdentifier(name))
}

func (c *pgConn) CreateIndex(ctx context.Context, table, name string, spec schema.IndexSpec) error {
	cols := "(" + quoteAll(c.dialect, spec.Columns) + ")"
	if spec.Primary {
		return c.alterTable(ctx, table, "ADD PRIMARY KEY "+cols)
	}
	query := "CREATE "
	if spec.Unique {
		query += "UNIQUE "
	}
	query += "INDEX " + c.dialect.QuoteIdentifier(name) + " ON " + c.dialect.QuoteIdentifier(table)
	if spec.Type != "" {
		query += " USING " + strings.ToLower(spec.Type)
	}
	return c.exec(ctx, driver.ErrDDL, query+" "+cols)
}

func (c *pgConn) DropIndex(ctx context.Context, table, name string) error {
	if name != schema.PrimaryName {
		return c.exec(ctx, driver.ErrDDL, "DROP INDEX "+c.dialect.QuoteIdentifier(name))
	}
	query := "SELECT conname::text FROM pg_constraint WHERE conrelid = $1::regclass AND contype = 'p'"
	var constraint string
	if err := c.conn.QueryRow(ctx, query, c.dialect.QuoteIdentifier(table)).Scan(&constraint); err != nil {
		return c.fail(driver.ErrDDL, query, err)
	}
	return c.alterTable(ctx, table, "DROP CONSTRAINT "+c.dialect.QuoteIdentifier(constraint))
}

func (c *pgConn) Begin(ctx context.Context, name string) error {
	stmt, err := c.tx.begin(name)
	if err != nil {
		return c.fail(driver.ErrTransaction, "", err)
	}
	return c.exec(ctx, driver.ErrTransaction, stmt)
}

func (c *pgConn) Commit(ctx context.Context, name string, startNew bool) error {
	return c.end(ctx, name, true, startNew)
}

func (c *pgConn) Rollback(ctx context.Context, name string, startNew bool) error {
	return c.end(ctx, name, false, startNew)
}

func (c *pgConn) end(ctx context.Context, name string, commit, startNew bool) error {
	stmt, err := c.tx.end(name, commit)
	if err != nil {
		return c.fail(driver.ErrTransaction, "", err)
	}
	if err := c.exec(ctx, driver.ErrTransaction, stmt); err != nil {
		return err
	}
	if startNew {
		return c.Begin(ctx, name)
	}
	return nil
}

// LockTables takes table locks, starting a transaction to hold them when
// none is active. READ maps to SHARE mode, WRITE to ACCESS EXCLUSIVE.
func (c *pgConn) LockTables(ctx context.Context, mode driver.LockMode, tables ...string) error {
	if len(tables) == 0 {
		return c.fail(driver.ErrLock, "", &driver.Error{Kind: driver.ErrLock, Text: "no tables to lock"})
	}
	started := false
	if !c.tx.active() {
		if err := c.Begin(ctx, ""); err != nil {
			return err
		}
		c.tx.implicit = true
		started = true
	}
	pgMode := "SHARE"
	if mode == driver.LockWrite {
		pgMode = "ACCESS EXCLUSIVE"
	}
	if err := c.exec(ctx, driver.ErrLock, "LOCK TABLE "+quoteAll(c.dialect, tables)+" IN "+pgMode+" MODE"); err != nil {
		// the failed statement aborted the transaction begun above
		if started {
			_ = c.end(ctx, "", false, false)
			c.tx.reset()
		}
		return err
	}
	return nil
}

// UnlockTables commits the transaction LockTables started. Locks taken
// inside a caller's transaction are held until that transaction ends.
func (c *pgConn) UnlockTables(ctx context.Context, _ ...string) error {
	if !c.tx.implicit {
		return nil
	}
	return c.end(ctx, "", true, false)
}

func (c *pgConn) SetSession(ctx context.Context, settings map[string]string) error {
	for _, k := range sortedKeys(settings) {
		if err := c.exec(ctx, driver.ErrQuery, "SELECT set_config($1, $2, false)", k, settings[k]); err != nil {
			return err
		}
	}
	return nil
}

func (c *pgConn) Close(ctx context.Context) error {
	c.tx.reset()
	return c.conn.Close(ctx)
}
