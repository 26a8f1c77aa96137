package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/schema"
)

// MySQL is the MySQL/MariaDB backend.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

// MySQLDSN builds a go-sql-driver DSN from connection parameters.
func MySQLDSN(p driver.Params) string {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.DBName = p.Name
	cfg.ParseTime = true
	cfg.MultiStatements = p.AllowMultiple
	if strings.HasPrefix(p.Server, "/") {
		cfg.Net = "unix"
		cfg.Addr = p.Server
	} else {
		cfg.Net = "tcp"
		cfg.Addr = p.Server
		if cfg.Addr == "" {
			cfg.Addr = "127.0.0.1"
		}
		if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
			cfg.Addr = net.JoinHostPort(cfg.Addr, "3306")
		}
	}
	if len(p.Options) > 0 {
		cfg.Params = make(map[string]string, len(p.Options))
		for k, v := range p.Options {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}

func (m MySQL) Connect(ctx context.Context, p driver.Params) (driver.Conn, error) {
	sc, err := openSQL(ctx, "mysql", MySQLDSN(p), mysqlErrorCode)
	if err != nil {
		return nil, err
	}
	sc.dialect = m
	sc.tx.beginSQL = "START TRANSACTION"
	return &mysqlConn{sqlConn: sc, schemaName: p.Name}, nil
}

func (m MySQL) CreateDatabase(ctx context.Context, p driver.Params) error {
	name := p.Name
	p.Name = ""
	sc, err := openSQL(ctx, "mysql", MySQLDSN(p), mysqlErrorCode)
	if err != nil {
		return err
	}
	sc.dialect = m
	defer sc.Close(ctx)
	return sc.exec(ctx, driver.ErrDDL, "CREATE DATABASE "+m.QuoteIdentifier(name))
}

func mysqlErrorCode(err error) (string, string) {
	var me *mysql.MySQLError
	switch {
	case errors.As(err, &me):
		return strconv.Itoa(int(me.Number)), me.Message
	case errors.Is(err, mysql.ErrInvalidConn):
		return "2013", err.Error()
	default:
		return "", err.Error()
	}
}

func (MySQL) QuoteIdentifier(name string) string { return driver.QuoteIdentifier(name, "`") }

var (
	mysqlEscaper = strings.NewReplacer(
		`\`, `\\`, "'", `\'`, `"`, `\"`, "\x00", `\0`, "\n", `\n`, "\r", `\r`, "\x1a", `\Z`,
	)
	mysqlUnescaper = strings.NewReplacer(
		`\\`, `\`, `\'`, "'", `\"`, `"`, `\0`, "\x00", `\n`, "\n", `\r`, "\r", `\Z`, "\x1a",
	)
)

func (MySQL) EscapeString(s string) string   { return mysqlEscaper.Replace(s) }
func (MySQL) UnescapeString(s string) string { return mysqlUnescaper.Replace(s) }

func (MySQL) SQLFunction(fn driver.Function, field string, args ...string) (string, error) {
	if err := driver.CheckArgs(fn, args); err != nil {
		return "", err
	}
	switch fn {
	case driver.If:
		return fmt.Sprintf("IF(%s %s %s, %s, %s)", field, args[0], args[1], args[2], args[3]), nil
	case driver.IfNull:
		return fmt.Sprintf("IFNULL(%s, %s)", field, args[0]), nil
	case driver.Concat:
		return "CONCAT(" + field + ", " + strings.Join(args, ", ") + ")", nil
	}
	if sql, ok := driver.CommonFunction(fn, field, args); ok {
		return sql, nil
	}
	return "", fmt.Errorf("%w: %s", driver.ErrUnknownFunction, fn)
}

var mysqlTypeAliases = map[string]string{
	"integer": "int",
	"bool":    "tinyint",
	"boolean": "tinyint",
	"numeric": "decimal",
	"dec":     "decimal",
	"real":    "double",
}

// mysqlSized lists the types information_schema reports a length for.
var mysqlSized = map[string]bool{
	"char": true, "varchar": true, "binary": true, "varbinary": true, "decimal": true, "bit": true,
}

func (MySQL) MapType(spec schema.ColumnSpec) schema.ColumnSpec {
	out := spec.Clone()
	out.Type = strings.ToLower(out.Type)
	if alias, ok := mysqlTypeAliases[out.Type]; ok {
		out.Type = alias
	}
	if !mysqlSized[out.Type] {
		out.Length = nil
		out.Precision = nil
	}
	if out.Type != "enum" && out.Type != "set" {
		out.Options = nil
	}
	return out
}

func (m MySQL) DefineField(name string, spec schema.ColumnSpec) string {
	var b strings.Builder
	b.WriteString(m.QuoteIdentifier(name) + " " + strings.ToUpper(spec.Type))
	if len(spec.Options) > 0 {
		b.WriteString("(" + strings.Join(spec.Options, ",") + ")")
	} else {
		b.WriteString(sizeSuffix(spec))
	}
	if spec.Unsigned {
		b.WriteString(" UNSIGNED")
	}
	if spec.Zerofill {
		b.WriteString(" ZEROFILL")
	}
	if spec.Null {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if spec.Default != nil {
		b.WriteString(" DEFAULT " + defaultLiteral(m, *spec.Default))
	}
	if spec.AutoInc {
		b.WriteString(" AUTO_INCREMENT")
	}
	if spec.Comment != "" {
		b.WriteString(" COMMENT '" + m.EscapeString(spec.Comment) + "'")
	}
	return b.String()
}

func (m MySQL) DefineIndex(_, name string, spec schema.IndexSpec) (string, bool) {
	cols := "(" + quoteAll(m, spec.Columns) + ")"
	kind := strings.ToUpper(spec.Type)
	switch {
	case spec.Primary:
		return "PRIMARY KEY " + cols, true
	case kind == "FULLTEXT" || kind == "SPATIAL":
		return kind + " KEY " + m.QuoteIdentifier(name) + " " + cols, true
	}
	clause := "KEY " + m.QuoteIdentifier(name) + " " + cols
	if spec.Unique {
		clause = "UNIQUE " + clause
	}
	if kind != "" {
		clause += " USING " + kind
	}
	return clause, true
}

var mysqlRetryable = map[string]time.Duration{
	"1205": 500 * time.Millisecond, // lock wait timeout
	"1213": 100 * time.Millisecond, // deadlock
	"1040": time.Second,            // too many connections
	"2006": time.Second,            // server has gone away
	"2013": time.Second,            // lost connection
	"1053": 5 * time.Second,        // server shutdown in progress
	"1927": 500 * time.Millisecond, // connection killed
	"1614": 100 * time.Millisecond, // transaction branch rolled back
}

// WriteClauses: MySQL takes ORDER BY and LIMIT but no OFFSET on single
// table writes.
func (MySQL) WriteClauses() driver.WriteClause { return driver.WriteOrderBy | driver.WriteLimit }

func (MySQL) IsRetryable(code string) time.Duration {
	return mysqlRetryable[code]
}

type mysqlConn struct {
	*sqlConn
	schemaName string
}

func (c *mysqlConn) ListTables(ctx context.Context, pattern string, views bool) ([]schema.Table, error) {
	query := `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name LIKE ?
	`
	if !views {
		query += " AND table_type = 'BASE TABLE'"
	}
	query += " ORDER BY table_name"

	rows, err := c.conn.QueryContext(ctx, query, c.schemaName, likePattern(pattern))
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

func (c *mysqlConn) DescribeColumns(ctx context.Context, table string) (schema.Columns, error) {
	query := `
		SELECT
			column_name,
			data_type,
			column_type,
			is_nullable,
			column_default,
			extra,
			character_maximum_length,
			numeric_precision,
			numeric_scale,
			column_comment
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`

	rows, err := c.conn.QueryContext(ctx, query, c.schemaName, table)
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	defer rows.Close()

	var columns schema.Columns
	for rows.Next() {
		var name, dataType, columnType, nullable, extra, comment string
		var defaultVal sql.NullString
		var charLength, numPrecision, numScale sql.NullInt64
		if err := rows.Scan(&name, &dataType, &columnType, &nullable, &defaultVal, &extra,
			&charLength, &numPrecision, &numScale, &comment); err != nil {
			return nil, c.fail(driver.ErrQuery, query, err)
		}

		spec := schema.ColumnSpec{
			Type:     strings.ToLower(dataType),
			Null:     nullable == "YES",
			AutoInc:  strings.Contains(strings.ToLower(extra), "auto_increment"),
			Unsigned: strings.Contains(columnType, "unsigned"),
			Zerofill: strings.Contains(columnType, "zerofill"),
			Comment:  comment,
		}
		switch spec.Type {
		case "decimal":
			spec.Length = intPtr(numPrecision.Int64, numPrecision.Valid)
			spec.Precision = intPtr(numScale.Int64, numScale.Valid)
		case "bit":
			spec.Length = intPtr(numPrecision.Int64, numPrecision.Valid)
		default:
			if mysqlSized[spec.Type] {
				spec.Length = intPtr(charLength.Int64, charLength.Valid)
			}
		}
		if defaultVal.Valid && !(spec.Null && defaultVal.String == "NULL") {
			d := unquoteDefault(defaultVal.String)
			spec.Default = &d
		}
		if spec.Type == "enum" || spec.Type == "set" {
			spec.Options, err = mysqlEnumValues(columnType)
			if err != nil {
				return nil, err
			}
		}
		columns = append(columns, schema.Column{Name: name, ColumnSpec: spec})
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	return columns, nil
}

// mysqlEnumValues parses the options from a column type such as
// "enum('value1','value2')". Options keep their quotes.
func mysqlEnumValues(columnType string) ([]string, error) {
	start := strings.Index(columnType, "(")
	end := strings.LastIndex(columnType, ")")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("invalid enum type format: %s", columnType)
	}

	var values []string
	for _, part := range strings.Split(columnType[start+1:end], ",") {
		values = append(values, schema.QuoteOption(strings.TrimSpace(part)))
	}
	return values, nil
}

func (c *mysqlConn) DescribeIndexes(ctx context.Context, table string) (schema.Indexes, error) {
	query := `
		SELECT
			s.index_name,
			s.non_unique = 0 AS is_unique,
			s.index_type,
			GROUP_CONCAT(s.column_name ORDER BY s.seq_in_index) AS column_names
		FROM information_schema.statistics s
		WHERE s.table_schema = ?
			AND s.table_name = ?
		GROUP BY s.index_name, s.non_unique, s.index_type
		ORDER BY s.index_name = 'PRIMARY' DESC, s.index_name
	`

	rows, err := c.conn.QueryContext(ctx, query, c.schemaName, table)
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	defer rows.Close()

	var indexes schema.Indexes
	for rows.Next() {
		var name, kind, columnNames string
		var isUnique int
		if err := rows.Scan(&name, &isUnique, &kind, &columnNames); err != nil {
			return nil, c.fail(driver.ErrQuery, query, err)
		}

		idx := schema.Index{Name: name, IndexSpec: schema.IndexSpec{
			Unique:  isUnique == 1,
			Type:    strings.ToLower(kind),
			Columns: strings.Split(columnNames, ","),
		}}
		if name == schema.PrimaryName {
			idx.Primary = true
			idx.Unique = false
		}
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	return indexes, nil
}

func (c *mysqlConn) CreateTable(ctx context.Context, table string, definitions []string, engine string) error {
	query := "CREATE TABLE " + c.dialect.QuoteIdentifier(table) + " (\n\t" + strings.Join(definitions, ",\n\t") + "\n)"
	if engine != "" {
		query += " ENGINE=" + engine
	}
	return c.exec(ctx, driver.ErrDDL, query)
}

func (c *mysqlConn) EmptyTable(ctx context.Context, table string) error {
	return c.exec(ctx, driver.ErrDDL, "TRUNCATE TABLE "+c.dialect.QuoteIdentifier(table))
}

func (c *mysqlConn) alterTable(ctx context.Context, table, clause string) error {
	return c.exec(ctx, driver.ErrDDL, "ALTER TABLE "+c.dialect.QuoteIdentifier(table)+" "+clause)
}

func (c *mysqlConn) AddField(ctx context.Context, table, name string, spec schema.ColumnSpec) error {
	return c.alterTable(ctx, table, "ADD COLUMN "+c.dialect.DefineField(name, spec))
}

func (c *mysqlConn) AlterField(ctx context.Context, table, name string, spec schema.ColumnSpec) error {
	return c.alterTable(ctx, table, "MODIFY COLUMN "+c.dialect.DefineField(name, spec))
}

func (c *mysqlConn) DropField(ctx context.Context, table, name string) error {
	return c.alterTable(ctx, table, "DROP COLUMN "+c.dialect.QuoteIdentifier(name))
}

func (c *mysqlConn) CreateIndex(ctx context.Context, table, name string, spec schema.IndexSpec) error {
	clause, _ := c.dialect.DefineIndex(table, name, spec)
	return c.alterTable(ctx, table, "ADD "+clause)
}

func (c *mysqlConn) DropIndex(ctx context.Context, table, name string) error {
	if name == schema.PrimaryName {
		return c.alterTable(ctx, table, "DROP PRIMARY KEY")
	}
	return c.alterTable(ctx, table, "DROP INDEX "+c.dialect.QuoteIdentifier(name))
}

func (c *mysqlConn) LockTables(ctx context.Context, mode driver.LockMode, tables ...string) error {
	if len(tables) == 0 {
		return c.fail(driver.ErrLock, "", &driver.Error{Kind: driver.ErrLock, Text: "no tables to lock"})
	}
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = c.dialect.QuoteIdentifier(t) + " " + mode.String()
	}
	return c.exec(ctx, driver.ErrLock, "LOCK TABLES "+strings.Join(parts, ", "))
}

// UnlockTables releases every lock held by the session; MySQL cannot release
// a subset.
func (c *mysqlConn) UnlockTables(ctx context.Context, _ ...string) error {
	return c.exec(ctx, driver.ErrLock, "UNLOCK TABLES")
}

func (c *mysqlConn) SetSession(ctx context.Context, settings map[string]string) error {
	for _, k := range sortedKeys(settings) {
		query := "SET SESSION " + k + " = " + defaultLiteral(c.dialect, settings[k])
		if err := c.exec(ctx, driver.ErrQuery, query); err != nil {
			return err
		}
	}
	return nil
}
