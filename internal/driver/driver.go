// Package driver defines what a database backend must provide: connection
// handling, raw statement execution, introspection, DDL, transactions and
// table locks, plus the dialect helpers used to render SQL text.
package driver

import (
	"context"
	"time"

	"github.com/tordrt/dbkit/internal/schema"
)

// Params identifies the database a connection is made to. For file based
// backends Name is the database file and Server is ignored.
type Params struct {
	Server   string
	Name     string
	User     string
	Password string
	// Options are passed on to the backend as connection parameters
	// (for example sslmode).
	Options map[string]string
	// AllowMultiple permits several statements in one Exec call.
	AllowMultiple bool
}

// Driver is a database backend.
type Driver interface {
	Dialect
	Name() string
	Connect(ctx context.Context, p Params) (Conn, error)
	// CreateDatabase creates the database p names. Server backends connect
	// without selecting a database to do so.
	CreateDatabase(ctx context.Context, p Params) error
}

// Dialect renders backend specific SQL. It needs no connection.
type Dialect interface {
	QuoteIdentifier(name string) string
	EscapeString(s string) string
	UnescapeString(s string) string
	// SQLFunction renders fn applied to field. See Function for the
	// arguments each function takes.
	SQLFunction(fn Function, field string, args ...string) (string, error)
	// MapType translates a declared column to the backend's native type, in
	// the form DescribeColumns reports it.
	MapType(spec schema.ColumnSpec) schema.ColumnSpec
	DefineField(name string, spec schema.ColumnSpec) string
	// DefineIndex returns the index clause for a CREATE TABLE statement.
	// When inline is false the index must be created with CreateIndex after
	// the table exists.
	DefineIndex(table, name string, spec schema.IndexSpec) (clause string, inline bool)
	// WriteClauses reports which ordering and limiting clauses an UPDATE or
	// DELETE on a single table accepts.
	WriteClauses() WriteClause
	// IsRetryable returns how long to wait before retrying a statement that
	// failed with the given backend error code. Zero means the failure is
	// not worth retrying.
	IsRetryable(code string) time.Duration
}

// WriteClause is a set of clauses an UPDATE or DELETE may carry.
type WriteClause uint8

const (
	WriteOrderBy WriteClause = 1 << iota
	WriteLimit
	WriteOffset
)

func (w WriteClause) Has(c WriteClause) bool { return w&c == c }

// Conn is one open connection. A Conn is not safe for concurrent use.
type Conn interface {
	Read(ctx context.Context, query string) (*RowSet, error)
	// Write executes a data modifying statement and returns the number of
	// affected rows.
	Write(ctx context.Context, query string) (int64, error)
	Exec(ctx context.Context, query string) error
	// LastInsertID returns the value generated for field by the last insert
	// into table, or 0 when none is available.
	LastInsertID(ctx context.Context, table, field string) (int64, error)
	// LastError returns the backend code and text of the last failure.
	LastError() (code, text string)

	ListTables(ctx context.Context, pattern string, views bool) ([]schema.Table, error)
	DescribeColumns(ctx context.Context, table string) (schema.Columns, error)
	DescribeIndexes(ctx context.Context, table string) (schema.Indexes, error)

	CreateTable(ctx context.Context, table string, definitions []string, engine string) error
	DropTable(ctx context.Context, table string) error
	EmptyTable(ctx context.Context, table string) error
	AddField(ctx context.Context, table, name string, spec schema.ColumnSpec) error
	AlterField(ctx context.Context, table, name string, spec schema.ColumnSpec) error
	DropField(ctx context.Context, table, name string) error
	CreateIndex(ctx context.Context, table, name string, spec schema.IndexSpec) error
	DropIndex(ctx context.Context, table, name string) error

	// Begin starts a transaction. A named transaction started while another
	// one is active becomes a savepoint.
	Begin(ctx context.Context, name string) error
	// Commit and Rollback end the named (or, with an empty name, the
	// outermost) transaction. With startNew a new transaction is started
	// right away.
	Commit(ctx context.Context, name string, startNew bool) error
	Rollback(ctx context.Context, name string, startNew bool) error

	LockTables(ctx context.Context, mode LockMode, tables ...string) error
	// UnlockTables releases the given tables, or all locks when none are
	// given.
	UnlockTables(ctx context.Context, tables ...string) error

	SetSession(ctx context.Context, settings map[string]string) error
	Close(ctx context.Context) error
}

// LockMode is the mode a table is locked in.
type LockMode int

const (
	LockRead LockMode = iota + 1
	LockWrite
)

func (m LockMode) String() string {
	switch m {
	case LockRead:
		return "READ"
	case LockWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}
