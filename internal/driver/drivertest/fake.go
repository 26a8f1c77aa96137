// Package drivertest provides an in-memory driver that records every call,
// for testing code built on the driver contract.
package drivertest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/schema"
)

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
)

// Call is one recorded connection call.
type Call struct {
	Op    string
	Table string
	Args  []string
}

func (c Call) String() string {
	s := c.Op
	if c.Table != "" {
		s += " " + c.Table
	}
	if len(c.Args) > 0 {
		s += " " + strings.Join(c.Args, ", ")
	}
	return s
}

// Driver is a fake backend. Identifiers are not quoted, so rendered SQL reads
// like the plain examples in tests. Live tables are kept in Tables and are
// changed by the DDL calls.
type Driver struct {
	mu sync.Mutex

	Tables     map[string]*schema.Definition
	Statements []string
	Calls      []Call
	Connects   []driver.Params
	Databases  []string

	results  []*driver.RowSet
	failures map[string]*driver.Error
	affected int64
	insertID int64
	closed   int
}

func New() *Driver {
	return &Driver{
		Tables:   make(map[string]*schema.Definition),
		failures: make(map[string]*driver.Error),
		affected: 1,
	}
}

// QueueRows queues a result for the next Read.
func (d *Driver) QueueRows(fields []string, rows ...[]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, driver.NewRowSet(fields, rows))
}

// FailOn makes the next call of op (a Conn method name, or "Connect") fail
// with err.
func (d *Driver) FailOn(op string, err *driver.Error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

// SetAffected sets the row count Write reports.
func (d *Driver) SetAffected(n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.affected = n
}

// Ops returns the recorded call operations in order.
func (d *Driver) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := make([]string, len(d.Calls))
	for i, c := range d.Calls {
		ops[i] = c.Op
	}
	return ops
}

// CallsOf returns the recorded calls of op.
func (d *Driver) CallsOf(op string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Closed returns how many connections were closed.
func (d *Driver) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) record(op, table string, args ...string) *driver.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, Call{Op: op, Table: table, Args: args})
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	return nil
}

func (d *Driver) Name() string { return "fake" }

func (d *Driver) Connect(_ context.Context, p driver.Params) (driver.Conn, error) {
	if err := d.record("Connect", "", p.Server, p.Name); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.Connects = append(d.Connects, p)
	d.mu.Unlock()
	return &Conn{d: d}, nil
}

func (d *Driver) CreateDatabase(_ context.Context, p driver.Params) error {
	if err := d.record("CreateDatabase", "", p.Server, p.Name); err != nil {
		return err
	}
	d.mu.Lock()
	d.Databases = append(d.Databases, p.Name)
	d.mu.Unlock()
	return nil
}

func (d *Driver) QuoteIdentifier(name string) string { return name }
func (d *Driver) EscapeString(s string) string       { return driver.EscapeQuotes(s) }
func (d *Driver) UnescapeString(s string) string     { return driver.UnescapeQuotes(s) }

func (d *Driver) SQLFunction(fn driver.Function, field string, args ...string) (string, error) {
	if err := driver.CheckArgs(fn, args); err != nil {
		return "", err
	}
	if sql, ok := driver.CommonFunction(fn, field, args); ok {
		return sql, nil
	}
	switch fn {
	case driver.IfNull:
		return fmt.Sprintf("IFNULL(%s, %s)", field, args[0]), nil
	case driver.Concat:
		return "CONCAT(" + field + ", " + strings.Join(args, ", ") + ")", nil
	}
	return "", fmt.Errorf("%w: %s", driver.ErrUnknownFunction, fn)
}

func (d *Driver) MapType(spec schema.ColumnSpec) schema.ColumnSpec { return spec }

func (d *Driver) DefineField(name string, spec schema.ColumnSpec) string {
	def := name + " " + spec.Type
	if spec.Length != nil {
		def += fmt.Sprintf("(%d)", *spec.Length)
	}
	if !spec.Null {
		def += " NOT NULL"
	}
	if spec.AutoInc {
		def += " AUTO_INCREMENT"
	}
	return def
}

// DefineIndex renders primary and unique keys inline; plain indexes need
// their own statement.
func (d *Driver) DefineIndex(_, name string, spec schema.IndexSpec) (string, bool) {
	cols := strings.Join(spec.Columns, ", ")
	switch {
	case spec.Primary:
		return "PRIMARY KEY (" + cols + ")", true
	case spec.Unique:
		return "UNIQUE KEY " + name + " (" + cols + ")", true
	}
	return "", false
}

// IsRetryable treats the codes "LOCK" and "BUSY" as retryable.
// WriteClauses follows MySQL.
func (d *Driver) WriteClauses() driver.WriteClause { return driver.WriteOrderBy | driver.WriteLimit }

func (d *Driver) IsRetryable(code string) time.Duration {
	switch code {
	case "LOCK":
		return 100 * time.Millisecond
	case "BUSY":
		return 250 * time.Millisecond
	}
	return 0
}

// Conn is a fake connection.
type Conn struct {
	d       *Driver
	lastErr *driver.Error
}

func (c *Conn) fail(err *driver.Error) error {
	if err == nil {
		return nil
	}
	c.lastErr = err
	return err
}

func (c *Conn) statement(op, query string) error {
	if err := c.d.record(op, "", query); err != nil {
		return c.fail(err)
	}
	c.d.mu.Lock()
	c.d.Statements = append(c.d.Statements, query)
	c.d.mu.Unlock()
	return nil
}

func (c *Conn) Read(_ context.Context, query string) (*driver.RowSet, error) {
	if err := c.statement("Read", query); err != nil {
		return nil, err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if len(c.d.results) == 0 {
		return driver.NewRowSet(nil, nil), nil
	}
	rs := c.d.results[0]
	c.d.results = c.d.results[1:]
	return rs, nil
}

func (c *Conn) Write(_ context.Context, query string) (int64, error) {
	if err := c.statement("Write", query); err != nil {
		return 0, err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if strings.HasPrefix(query, "INSERT") {
		c.d.insertID++
	}
	return c.d.affected, nil
}

func (c *Conn) Exec(_ context.Context, query string) error {
	return c.statement("Exec", query)
}

func (c *Conn) LastInsertID(_ context.Context, table, field string) (int64, error) {
	if err := c.d.record("LastInsertID", table, field); err != nil {
		return 0, c.fail(err)
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.d.insertID, nil
}

func (c *Conn) LastError() (string, string) {
	if c.lastErr == nil {
		return "", ""
	}
	return c.lastErr.Code, c.lastErr.Text
}

func (c *Conn) ListTables(_ context.Context, pattern string, _ bool) ([]schema.Table, error) {
	if err := c.d.record("ListTables", "", pattern); err != nil {
		return nil, c.fail(err)
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	glob := strings.NewReplacer("%", "*", "_", "?").Replace(pattern)
	var out []schema.Table
	for name := range c.d.Tables {
		if glob != "" {
			if ok, _ := path.Match(glob, name); !ok {
				continue
			}
		}
		out = append(out, schema.Table{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Conn) table(op, table string) (*schema.Definition, error) {
	if err := c.d.record(op, table); err != nil {
		return nil, c.fail(err)
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	def, ok := c.d.Tables[table]
	if !ok {
		return nil, c.fail(&driver.Error{Kind: driver.ErrQuery, Code: "NOTABLE", Text: "no such table: " + table})
	}
	return def, nil
}

func (c *Conn) DescribeColumns(_ context.Context, table string) (schema.Columns, error) {
	def, err := c.table("DescribeColumns", table)
	if err != nil {
		return nil, err
	}
	return def.Columns.Clone(), nil
}

func (c *Conn) DescribeIndexes(_ context.Context, table string) (schema.Indexes, error) {
	def, err := c.table("DescribeIndexes", table)
	if err != nil {
		return nil, err
	}
	return def.Indexes.Clone(), nil
}

// CreateTable registers an empty table; the column layout is not parsed back
// from the definitions. Tests that need a live layout set Tables directly.
func (c *Conn) CreateTable(_ context.Context, table string, definitions []string, engine string) error {
	args := append([]string{}, definitions...)
	if engine != "" {
		args = append(args, "ENGINE="+engine)
	}
	if err := c.d.record("CreateTable", table, args...); err != nil {
		return c.fail(err)
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.Tables[table] = &schema.Definition{Table: table, Engine: engine}
	return nil
}

func (c *Conn) DropTable(_ context.Context, table string) error {
	if err := c.d.record("DropTable", table); err != nil {
		return c.fail(err)
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	delete(c.d.Tables, table)
	return nil
}

func (c *Conn) EmptyTable(_ context.Context, table string) error {
	return c.fail(c.d.record("EmptyTable", table))
}

func (c *Conn) AddField(_ context.Context, table, name string, spec schema.ColumnSpec) error {
	if err := c.d.record("AddField", table, c.d.DefineField(name, spec)); err != nil {
		return c.fail(err)
	}
	c.alter(table, func(def *schema.Definition) { def.Columns.Set(name, spec.Clone()) })
	return nil
}

func (c *Conn) AlterField(_ context.Context, table, name string, spec schema.ColumnSpec) error {
	if err := c.d.record("AlterField", table, c.d.DefineField(name, spec)); err != nil {
		return c.fail(err)
	}
	c.alter(table, func(def *schema.Definition) { def.Columns.Set(name, spec.Clone()) })
	return nil
}

func (c *Conn) DropField(_ context.Context, table, name string) error {
	if err := c.d.record("DropField", table, name); err != nil {
		return c.fail(err)
	}
	c.alter(table, func(def *schema.Definition) {
		kept := def.Columns[:0]
		for _, col := range def.Columns {
			if col.Name != name {
				kept = append(kept, col)
			}
		}
		def.Columns = kept
	})
	return nil
}

func (c *Conn) CreateIndex(_ context.Context, table, name string, spec schema.IndexSpec) error {
	if err := c.d.record("CreateIndex", table, name, strings.Join(spec.Columns, ",")); err != nil {
		return c.fail(err)
	}
	c.alter(table, func(def *schema.Definition) {
		def.Indexes = append(def.Indexes, schema.Index{Name: name, IndexSpec: spec})
	})
	return nil
}

func (c *Conn) DropIndex(_ context.Context, table, name string) error {
	if err := c.d.record("DropIndex", table, name); err != nil {
		return c.fail(err)
	}
	c.alter(table, func(def *schema.Definition) {
		kept := def.Indexes[:0]
		for _, idx := range def.Indexes {
			if idx.Name != name {
				kept = append(kept, idx)
			}
		}
		def.Indexes = kept
	})
	return nil
}

func (c *Conn) alter(table string, fn func(*schema.Definition)) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if def, ok := c.d.Tables[table]; ok {
		fn(def)
	}
}

func (c *Conn) Begin(_ context.Context, name string) error {
	return c.fail(c.d.record("Begin", "", name))
}

func (c *Conn) Commit(_ context.Context, name string, startNew bool) error {
	return c.fail(c.d.record("Commit", "", name, fmt.Sprint(startNew)))
}

func (c *Conn) Rollback(_ context.Context, name string, startNew bool) error {
	return c.fail(c.d.record("Rollback", "", name, fmt.Sprint(startNew)))
}

func (c *Conn) LockTables(_ context.Context, mode driver.LockMode, tables ...string) error {
	return c.fail(c.d.record("LockTables", "", append([]string{mode.String()}, tables...)...))
}

func (c *Conn) UnlockTables(_ context.Context, tables ...string) error {
	return c.fail(c.d.record("UnlockTables", "", tables...))
}

func (c *Conn) SetSession(_ context.Context, settings map[string]string) error {
	keys := make([]string, 0, len(settings))
	for k, v := range settings {
		keys = append(keys, k+"="+v)
	}
	sort.Strings(keys)
	return c.fail(c.d.record("SetSession", "", keys...))
}

func (c *Conn) Close(context.Context) error {
	if err := c.d.record("Close", ""); err != nil {
		return c.fail(err)
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.closed++
	return nil
}
