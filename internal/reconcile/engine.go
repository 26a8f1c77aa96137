// Package reconcile brings database tables in line with their declared
// definitions. A table that does not exist is created; an existing table is
// described, compared against its definition and altered where they differ.
package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/query"
	"github.com/tordrt/dbkit/internal/schema"
	"github.com/tordrt/dbkit/internal/status"
)

// State is where the engine is in handling one table definition.
type State int

const (
	Empty State = iota
	Defining
	Valid
)

func (s State) String() string {
	switch s {
	case Defining:
		return "in use"
	case Valid:
		return "validated"
	}
	return "empty"
}

// Outcome is what reconciling a table did, or would do.
type Outcome int

const (
	Failed Outcome = iota
	NoChange
	Create
	Alter
)

func (o Outcome) String() string {
	switch o {
	case NoChange:
		return "no change"
	case Create:
		return "create"
	case Alter:
		return "alter"
	}
	return "failed"
}

// Engine reconciles one table definition at a time, using the connection of
// a query handle.
type Engine struct {
	h     *query.Handle
	st    *status.Tracker
	log   logrus.FieldLogger
	state State
	def   *schema.Definition
}

// New creates an engine working through h.
func New(reg *status.Registry, h *query.Handle, log logrus.FieldLogger) (*Engine, error) {
	if err := RegisterCodes(reg); err != nil {
		return nil, fmt.Errorf("failed to register schema statuses: %w", err)
	}
	if log == nil {
		log = h.Logger()
	}
	log = log.WithField("component", "reconcile")
	return &Engine{h: h, st: status.NewTracker(reg, log), log: log}, nil
}

func (e *Engine) State() State { return e.state }

// Definition returns a copy of the definition in use, or nil.
func (e *Engine) Definition() *schema.Definition {
	if e.def == nil {
		return nil
	}
	return e.def.Clone()
}

// Begin starts a definition for table. A definition that is still in use
// is not replaced.
func (e *Engine) Begin(table string) error {
	if e.state != Empty {
		return e.st.Set(InUse, e.def.Table)
	}
	e.st.Reset()
	e.def = &schema.Definition{Table: table}
	e.state = Defining
	return nil
}

// Use starts a definition from a complete one, such as one loaded from a
// schema file, and validates it.
func (e *Engine) Use(def *schema.Definition) error {
	if err := e.Begin(def.Table); err != nil {
		return err
	}
	e.def = def.Clone()
	return e.Validate()
}

// SetEngine sets the storage engine used when the table is created. Not
// every backend supports engines.
func (e *Engine) SetEngine(engine string) error {
	if e.state == Empty {
		return e.st.Set(NotInUse)
	}
	e.def.Engine = engine
	return nil
}

// DefineColumns sets the table's columns and validates the definition.
func (e *Engine) DefineColumns(cols schema.Columns) error {
	if e.state == Empty {
		return e.st.Set(NotInUse)
	}
	e.def.Columns = cols.Clone()
	return e.Validate()
}

// DefineIndexes sets the table's indexes and validates the definition.
func (e *Engine) DefineIndexes(idx schema.Indexes) error {
	if e.state == Empty {
		return e.st.Set(NotInUse)
	}
	e.def.Indexes = idx.Clone()
	return e.Validate()
}

// AlterColumns replaces the named columns in the definition, adding those
// not defined yet, and validates the result.
func (e *Engine) AlterColumns(cols schema.Columns) error {
	if e.state == Empty {
		return e.st.Set(NotInUse)
	}
	for _, col := range cols {
		e.def.Columns.Set(col.Name, col.ColumnSpec.Clone())
	}
	return e.Validate()
}

// Validate checks and normalizes the definition. A definition without
// indexes is valid but reported with a warning.
func (e *Engine) Validate() error {
	if e.state == Empty {
		return e.st.Set(NotInUse)
	}
	e.state = Defining
	if err := e.def.Validate(); err != nil {
		return e.st.Fail(validationStatus(err), err, e.def.Table)
	}
	e.state = Valid
	if len(e.def.Indexes) == 0 {
		return e.st.Set(NoIndex, e.def.Table)
	}
	return e.st.Set(Validated, e.def.Table)
}

// Plan works out what Reconcile would do without changing anything.
func (e *Engine) Plan(ctx context.Context) (Outcome, schema.Diff, error) {
	if err := e.ready(); err != nil {
		return Failed, schema.Diff{}, err
	}
	outcome, diff, err := e.compare(ctx)
	if err != nil {
		return Failed, diff, err
	}
	switch outcome {
	case NoChange:
		_ = e.st.Set(Exists, e.def.Table)
	case Alter:
		_ = e.st.Set(Differs, e.def.Table, diff.Len())
	}
	return outcome, diff, nil
}

// Reconcile creates or alters the table to match the definition. Columns
// and indexes that exist but are not declared are only dropped when
// allowDrops is set. The definition is released afterwards, unless it did
// not validate.
func (e *Engine) Reconcile(ctx context.Context, allowDrops bool) (Outcome, error) {
	if err := e.ready(); err != nil {
		return Failed, err
	}
	defer e.release()

	outcome, diff, err := e.compare(ctx)
	if err != nil {
		return Failed, err
	}
	switch outcome {
	case Create:
		err = e.create(ctx)
	case Alter:
		err = e.alter(ctx, diff, allowDrops)
	default:
		err = e.st.Set(Exists, e.def.Table)
	}
	if err != nil {
		return Failed, err
	}
	return outcome, nil
}

// Reset drops the definition in use and sets the status back to OK.
func (e *Engine) Reset() {
	e.release()
	e.st.Reset()
}

func (e *Engine) release() {
	e.def = nil
	e.state = Empty
}

// ready validates the definition when that has not happened yet.
func (e *Engine) ready() error {
	switch e.state {
	case Empty:
		return e.st.Set(NotInUse)
	case Defining:
		return e.Validate()
	}
	return nil
}

func (e *Engine) compare(ctx context.Context) (Outcome, schema.Diff, error) {
	live, err := e.describe(ctx, e.def.Table)
	if err != nil {
		return Failed, schema.Diff{}, err
	}
	if live == nil {
		return Create, schema.Diff{Add: e.def.Columns.Clone(), AddIndexes: e.def.Indexes.Clone()}, nil
	}

	declared := e.def.Clone()
	for i := range declared.Columns {
		declared.Columns[i].ColumnSpec = e.h.Dialect().MapType(declared.Columns[i].ColumnSpec)
	}
	diff := schema.Compare(declared, live)
	if diff.Empty() {
		return NoChange, diff, nil
	}
	// report declared specs, not their backend mapping
	for i := range diff.Add {
		diff.Add[i].ColumnSpec, _ = e.def.Columns.Get(diff.Add[i].Name)
	}
	for i := range diff.Modify {
		diff.Modify[i].ColumnSpec, _ = e.def.Columns.Get(diff.Modify[i].Name)
	}
	return Alter, diff, nil
}

func (e *Engine) create(ctx context.Context) error {
	conn, err := e.h.Conn(ctx)
	if err != nil {
		return e.dbError(nil, err)
	}
	dialect := e.h.Dialect()
	table := e.tableName(e.def.Table)

	var defs []string
	for _, col := range e.def.Columns {
		defs = append(defs, dialect.DefineField(col.Name, col.ColumnSpec))
	}
	var later schema.Indexes
	for _, idx := range e.def.Indexes {
		clause, inline := dialect.DefineIndex(table, idx.Name, idx.IndexSpec)
		if inline {
			defs = append(defs, clause)
		} else {
			later = append(later, idx)
		}
	}

	if err := conn.CreateTable(ctx, table, defs, e.def.Engine); err != nil {
		return e.dbError(conn, err)
	}
	for _, idx := range later {
		if err := conn.CreateIndex(ctx, table, idx.Name, idx.IndexSpec); err != nil {
			return e.dbError(conn, err)
		}
	}
	return e.st.Set(Created, e.def.Table)
}

// alter applies diff in an order that never leaves an index on a column
// that is about to change: indexes are dropped first, then columns are
// dropped, modified and added, and indexes are (re)created last.
func (e *Engine) alter(ctx context.Context, diff schema.Diff, allowDrops bool) error {
	conn, err := e.h.Conn(ctx)
	if err != nil {
		return e.dbError(nil, err)
	}
	table := e.tableName(e.def.Table)
	changes, skipped := 0, 0

	drop := diff.ModifyIndexes
	if allowDrops {
		drop = append(drop.Clone(), diff.DropIndexes...)
	} else {
		skipped += len(diff.DropIndexes)
	}
	for _, idx := range drop {
		if err := conn.DropIndex(ctx, table, idx.Name); err != nil {
			return e.dbError(conn, err)
		}
		changes++
	}

	if allowDrops {
		for _, col := range diff.Drop {
			if err := conn.DropField(ctx, table, col.Name); err != nil {
				return e.dbError(conn, err)
			}
			changes++
		}
	} else {
		skipped += len(diff.Drop)
	}

	for _, col := range diff.Modify {
		if err := conn.AlterField(ctx, table, col.Name, col.ColumnSpec); err != nil {
			return e.dbError(conn, err)
		}
		changes++
	}
	for _, col := range diff.Add {
		if err := conn.AddField(ctx, table, col.Name, col.ColumnSpec); err != nil {
			return e.dbError(conn, err)
		}
		changes++
	}
	for _, idx := range append(diff.ModifyIndexes.Clone(), diff.AddIndexes...) {
		if err := conn.CreateIndex(ctx, table, idx.Name, idx.IndexSpec); err != nil {
			return e.dbError(conn, err)
		}
		changes++
	}

	if skipped > 0 {
		e.log.WithFields(logrus.Fields{
			"table":   e.def.Table,
			"columns": diff.Drop.Names(),
			"indexes": diff.DropIndexes.Names(),
		}).Warn("undeclared columns and indexes kept")
		return e.st.Set(DropSkipped, e.def.Table, changes, skipped)
	}
	return e.st.Set(Altered, e.def.Table, changes)
}

// Describe returns the live layout of table, or nil with status NOTABLE when
// the table does not exist. It does not touch the definition in use.
func (e *Engine) Describe(ctx context.Context, table string) (*schema.Definition, error) {
	return e.describe(ctx, table)
}

func (e *Engine) describe(ctx context.Context, table string) (*schema.Definition, error) {
	exists, err := e.h.TableExists(ctx, table)
	if err != nil {
		return nil, e.dbError(nil, err, table)
	}
	if !exists {
		_ = e.st.Set(NoTable, table)
		return nil, nil
	}
	conn, err := e.h.Conn(ctx)
	if err != nil {
		return nil, e.dbError(nil, err, table)
	}
	name := e.tableName(table)
	cols, err := conn.DescribeColumns(ctx, name)
	if err != nil {
		return nil, e.dbError(conn, err, table)
	}
	idx, err := conn.DescribeIndexes(ctx, name)
	if err != nil {
		return nil, e.dbError(conn, err, table)
	}
	return &schema.Definition{Table: table, Columns: cols, Indexes: idx}, nil
}

// Drop drops table. A table that does not exist is reported as NOTABLE.
func (e *Engine) Drop(ctx context.Context, table string) error {
	return e.onTable(ctx, table, Dropped, func(conn driver.Conn, name string) error {
		return conn.DropTable(ctx, name)
	})
}

// Truncate removes all rows from table.
func (e *Engine) Truncate(ctx context.Context, table string) error {
	return e.onTable(ctx, table, Emptied, func(conn driver.Conn, name string) error {
		return conn.EmptyTable(ctx, name)
	})
}

func (e *Engine) onTable(ctx context.Context, table, done string, fn func(driver.Conn, string) error) error {
	exists, err := e.h.TableExists(ctx, table)
	if err != nil {
		return e.dbError(nil, err, table)
	}
	if !exists {
		return e.st.Set(NoTable, table)
	}
	conn, err := e.h.Conn(ctx)
	if err != nil {
		return e.dbError(nil, err, table)
	}
	if err := fn(conn, e.tableName(table)); err != nil {
		return e.dbError(conn, err, table)
	}
	return e.st.Set(done, table)
}

// dbError reports a failed backend call with the backend's own error text.
// The table defaults to the one in use.
func (e *Engine) dbError(conn driver.Conn, err error, table ...string) error {
	name := ""
	if len(table) > 0 {
		name = table[0]
	} else if e.def != nil {
		name = e.def.Table
	}
	text := err.Error()
	if conn != nil {
		if _, t := conn.LastError(); t != "" {
			text = t
		}
	}
	return e.st.Fail(DBError, err, name, text)
}

func (e *Engine) tableName(table string) string {
	return e.h.Params().Prefix + table
}

func (e *Engine) Status() string            { return e.st.Name() }
func (e *Engine) Severity() status.Severity { return e.st.Severity() }
func (e *Engine) Message() string           { return e.st.Message() }
