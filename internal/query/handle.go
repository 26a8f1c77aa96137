// Package query builds SQL statements from field descriptors and runs them
// through a driver connection owned by a Handle.
package query

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/schema"
	"github.com/tordrt/dbkit/internal/status"
)

// DefaultIDField is the auto increment field an insert reads back.
const DefaultIDField = "id"

// Params configure a handle.
type Params struct {
	// Engine names the backend, as known to the driver lookup.
	Engine   string
	Server   string
	Name     string
	User     string
	Password string
	// Prefix is prepended to every table name.
	Prefix        string
	Options       map[string]string
	AllowMultiple bool
	// Session settings are applied right after connecting.
	Session map[string]string
}

func (p Params) clone() Params {
	p.Options = maps.Clone(p.Options)
	p.Session = maps.Clone(p.Session)
	return p
}

func (p Params) driverParams() driver.Params {
	return driver.Params{
		Server:        p.Server,
		Name:          p.Name,
		User:          p.User,
		Password:      p.Password,
		Options:       p.Options,
		AllowMultiple: p.AllowMultiple,
	}
}

// Handle owns at most one database connection, opened on first use. A
// handle holds one prepared statement at a time and records the status of
// the last operation. It must not be used by several goroutines at once.
type Handle struct {
	id     string
	params Params
	drv    driver.Driver
	conn   driver.Conn
	comp   *Compiler
	st     *status.Tracker
	log    logrus.FieldLogger
	clone  bool

	kind    Kind
	query   string
	table   string
	idGiven bool
	idField string
	lastID  int64
}

// NewHandle creates a handle on drv. The connection is not opened until it
// is needed.
func NewHandle(reg *status.Registry, drv driver.Driver, p Params, log logrus.FieldLogger) (*Handle, error) {
	if err := RegisterCodes(reg); err != nil {
		return nil, fmt.Errorf("failed to register handle statuses: %w", err)
	}
	return newHandle(reg, drv, p, log, false), nil
}

func newHandle(reg *status.Registry, drv driver.Driver, p Params, log logrus.FieldLogger, clone bool) *Handle {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	id := uuid.NewString()
	log = log.WithFields(logrus.Fields{
		"component": "query",
		"handle":    id,
		"engine":    drv.Name(),
		"database":  p.Name,
	})
	return &Handle{
		id:      id,
		params:  p,
		drv:     drv,
		comp:    NewCompiler(drv, p.Prefix),
		st:      status.NewTracker(reg, log),
		log:     log,
		clone:   clone,
		idField: DefaultIDField,
	}
}

func (h *Handle) ID() string                 { return h.id }
func (h *Handle) IsClone() bool              { return h.clone }
func (h *Handle) IsOpen() bool               { return h.conn != nil }
func (h *Handle) Params() Params             { return h.params.clone() }
func (h *Handle) Dialect() driver.Dialect    { return h.drv }
func (h *Handle) Logger() logrus.FieldLogger { return h.log }

// Open connects to the database unless the handle is open already.
func (h *Handle) Open(ctx context.Context) error {
	if h.conn != nil {
		return nil
	}
	conn, err := h.drv.Connect(ctx, h.params.driverParams())
	if err != nil {
		return h.st.Fail(ConnectErr, err, h.params.Name, h.params.Server, h.params.User)
	}
	if len(h.params.Session) > 0 {
		if err := conn.SetSession(ctx, h.params.Session); err != nil {
			_ = conn.Close(ctx)
			return h.st.Fail(ConnectErr, err, h.params.Name, h.params.Server, h.params.User)
		}
	}
	h.conn = conn
	return h.st.Set(Opened, h.params.Name, h.drv.Name())
}

// Create creates the handle's database. It uses a connection of its own,
// so the handle does not need to be open.
func (h *Handle) Create(ctx context.Context) error {
	if err := h.drv.CreateDatabase(ctx, h.params.driverParams()); err != nil {
		code, text := "", err.Error()
		var de *driver.Error
		if errors.As(err, &de) {
			code, text = de.Code, de.Text
		}
		return h.st.Fail(CreateErr, err, h.params.Name, code, text)
	}
	return h.st.Set(DBCreated, h.params.Name)
}

// Conn returns the handle's connection, opening it if needed.
func (h *Handle) Conn(ctx context.Context) (driver.Conn, error) {
	if err := h.Open(ctx); err != nil {
		return nil, err
	}
	return h.conn, nil
}

// Close closes the connection. A closed handle reopens on next use.
func (h *Handle) Close(ctx context.Context) error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close(ctx)
	h.conn = nil
	if err != nil {
		return h.st.Fail(QueryErr, err, "close")
	}
	return h.st.Set(Closed, h.params.Name)
}

// Reset drops the prepared statement and sets the status back to OK.
func (h *Handle) Reset() {
	h.kind = 0
	h.query = ""
	h.table = ""
	h.idGiven = false
	h.st.Reset()
}

// SetIDField sets the auto increment field read back after inserts.
func (h *Handle) SetIDField(name string) { h.idField = name }

// Prepare compiles p and keeps it as the statement to run. On failure
// nothing stays prepared.
func (h *Handle) Prepare(p Plan) error {
	h.kind, h.query, h.table, h.idGiven = 0, "", "", false
	query, err := h.comp.Compile(p)
	if err != nil {
		return h.st.Fail(prepareStatus(err), err, p.Kind)
	}
	h.kind, h.query = p.Kind, query
	if p.Kind == Insert {
		h.table = p.tables()[0]
		for _, fd := range p.Fields {
			if fd.Field == h.idField && fd.Value.IsSet() {
				h.idGiven = true
			}
		}
	}
	return h.st.Set(QPrepared, p.Kind, query)
}

// PrepareRead prepares a SELECT. With no tables given they are taken from
// the fields.
func (h *Handle) PrepareRead(tables []string, fields []FieldDescriptor, joins ...Join) error {
	return h.Prepare(Plan{Kind: Read, Tables: tables, Fields: fields, Joins: joins})
}

// PrepareInsert prepares an INSERT of the fields' values. All fields must
// belong to the same table.
func (h *Handle) PrepareInsert(fields []FieldDescriptor) error {
	return h.Prepare(Plan{Kind: Insert, Fields: fields})
}

// PrepareUpdate prepares an UPDATE assigning set on the rows matched by where.
func (h *Handle) PrepareUpdate(tables []string, set, where []FieldDescriptor, joins ...Join) error {
	return h.Prepare(Plan{Kind: Update, Tables: tables, Set: set, Fields: where, Joins: joins})
}

// PrepareDelete prepares a DELETE of the rows matched by where.
func (h *Handle) PrepareDelete(tables []string, where []FieldDescriptor, joins ...Join) error {
	return h.Prepare(Plan{Kind: Delete, Tables: tables, Fields: where, Joins: joins})
}

// SetQuery sets an already written statement of the given kind.
func (h *Handle) SetQuery(kind Kind, query string) error {
	h.kind, h.query, h.table, h.idGiven = 0, "", "", false
	if kind < Read || kind > Delete {
		return h.st.Set(InvalidKind, kind)
	}
	if query == "" {
		return h.st.Set(NoQuery)
	}
	h.kind, h.query = kind, query
	return h.st.Set(QPrepared, kind, query)
}

// Query returns the prepared statement.
func (h *Handle) Query() string { return h.query }

// Read runs the prepared SELECT and returns the result in the given shape.
// No matching rows is not an error; the status is then NODATA.
func (h *Handle) Read(ctx context.Context, shape Shape) (Result, error) {
	if !shape.valid() {
		return Result{}, h.st.Set(InvalidShape, int(shape))
	}
	if h.query == "" {
		return Result{}, h.st.Set(NoQuery)
	}
	if h.kind != Read {
		return Result{}, h.st.Set(InvalidKind, h.kind)
	}
	if err := h.Open(ctx); err != nil {
		return Result{}, err
	}

	start := time.Now()
	rs, err := h.conn.Read(ctx, h.query)
	if err != nil {
		err = h.st.Fail(QueryErr, err, h.query)
		sampleStatement(Read, QueryErr, time.Since(start))
		return Result{}, err
	}
	_ = h.st.Set(RowsRead, rs.RowCount(), h.query)
	res := shapeResult(shape, rs)
	if res.Empty() {
		_ = h.st.Set(NoData)
	}
	sampleStatement(Read, h.st.Name(), time.Since(start))
	return res, nil
}

// Write runs the prepared INSERT, UPDATE or DELETE and returns the number of
// affected rows. After an insert the generated id is kept for LastInsertID.
func (h *Handle) Write(ctx context.Context) (int64, error) {
	if h.query == "" {
		return 0, h.st.Set(NoQuery)
	}
	if h.kind == Read {
		return 0, h.st.Set(InvalidKind, h.kind)
	}
	if err := h.Open(ctx); err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := h.conn.Write(ctx, h.query)
	if err != nil {
		err = h.st.Fail(QueryErr, err, h.query)
		sampleStatement(h.kind, QueryErr, time.Since(start))
		return 0, err
	}
	if h.kind == Insert && h.table != "" && !h.idGiven {
		id, err := h.conn.LastInsertID(ctx, h.params.Prefix+h.table, h.idField)
		if err != nil {
			h.log.WithError(err).Debug("no insert id available")
		} else {
			h.lastID = id
		}
	}
	_ = h.st.Set(Updated, n, h.kind)
	sampleStatement(h.kind, Updated, time.Since(start))
	return n, nil
}

// LastInsertID returns the id generated by the last insert on this handle.
func (h *Handle) LastInsertID() int64 { return h.lastID }

// TableName returns table with the handle's prefix, quoted for the backend.
func (h *Handle) TableName(table string) string { return h.comp.TableName(table) }

// TableExists reports whether table (or a view of that name) exists.
func (h *Handle) TableExists(ctx context.Context, table string) (bool, error) {
	if err := h.Open(ctx); err != nil {
		return false, err
	}
	name := h.params.Prefix + table
	tables, err := h.conn.ListTables(ctx, name, true)
	if err != nil {
		return false, h.st.Fail(QueryErr, err, "list tables "+name)
	}
	for _, t := range tables {
		if t.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Tables lists the tables whose names, without the prefix, match the LIKE
// pattern. Views are included when views is set.
func (h *Handle) Tables(ctx context.Context, pattern string, views bool) ([]schema.Table, error) {
	if err := h.Open(ctx); err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "%"
	}
	tables, err := h.conn.ListTables(ctx, h.params.Prefix+pattern, views)
	if err != nil {
		return nil, h.st.Fail(QueryErr, err, "list tables "+pattern)
	}
	out := make([]schema.Table, 0, len(tables))
	for _, t := range tables {
		if name, ok := strings.CutPrefix(t.Name, h.params.Prefix); ok {
			t.Name = name
			out = append(out, t)
		}
	}
	return out, nil
}

func (h *Handle) EscapeString(s string) string   { return h.drv.EscapeString(s) }
func (h *Handle) UnescapeString(s string) string { return h.drv.UnescapeString(s) }

// Begin starts a transaction; a named transaction inside another one is a
// savepoint.
func (h *Handle) Begin(ctx context.Context, name string) error {
	if err := h.Open(ctx); err != nil {
		return err
	}
	if err := h.conn.Begin(ctx, name); err != nil {
		return h.st.Fail(TxErr, err, name)
	}
	return h.st.Set(TxStarted, name)
}

// Commit ends the named transaction (the outermost one when name is empty).
func (h *Handle) Commit(ctx context.Context, name string, startNew bool) error {
	if h.conn == nil {
		return h.st.Set(DBClosed)
	}
	if err := h.conn.Commit(ctx, name, startNew); err != nil {
		return h.st.Fail(TxErr, err, name)
	}
	return h.st.Set(TxEnded, name, "commit")
}

// Rollback undoes the named transaction (the outermost one when name is
// empty).
func (h *Handle) Rollback(ctx context.Context, name string, startNew bool) error {
	if h.conn == nil {
		return h.st.Set(DBClosed)
	}
	if err := h.conn.Rollback(ctx, name, startNew); err != nil {
		return h.st.Fail(TxErr, err, name)
	}
	return h.st.Set(TxEnded, name, "rollback")
}

// InTransaction runs fn in a transaction that is committed when fn returns
// nil and rolled back otherwise.
func (h *Handle) InTransaction(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := h.Begin(ctx, name); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = h.Rollback(ctx, name, false)
			panic(p)
		}
	}()
	if err := fn(ctx); err != nil {
		if rbErr := h.Rollback(ctx, name, false); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return h.Commit(ctx, name, false)
}

// Lock locks tables in the given mode.
func (h *Handle) Lock(ctx context.Context, mode driver.LockMode, tables ...string) error {
	if err := h.Open(ctx); err != nil {
		return err
	}
	names := h.prefixed(tables)
	if err := h.conn.LockTables(ctx, mode, names...); err != nil {
		return h.st.Fail(LockErr, err, names)
	}
	return h.st.Set(Locked, names, mode)
}

// Unlock releases the given tables, or all locks when none are given.
func (h *Handle) Unlock(ctx context.Context, tables ...string) error {
	if h.conn == nil {
		return h.st.Set(DBClosed)
	}
	names := h.prefixed(tables)
	if err := h.conn.UnlockTables(ctx, names...); err != nil {
		return h.st.Fail(LockErr, err, names)
	}
	return h.st.Set(Unlocked, names)
}

// WithLock runs fn with tables locked. The locks are released whatever fn
// returns.
func (h *Handle) WithLock(ctx context.Context, mode driver.LockMode, tables []string, fn func(ctx context.Context) error) (err error) {
	if err := h.Lock(ctx, mode, tables...); err != nil {
		return err
	}
	defer func() {
		if uerr := h.Unlock(ctx, tables...); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}()
	return fn(ctx)
}

func (h *Handle) prefixed(tables []string) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = h.params.Prefix + t
	}
	return out
}

// Status returns the name of the current status.
func (h *Handle) Status() string { return h.st.Name() }

// Severity returns the severity of the current status.
func (h *Handle) Severity() status.Severity { return h.st.Severity() }

// Message returns the rendered message of the current status.
func (h *Handle) Message() string { return h.st.Message() }

// LastError returns the backend code and text of the last backend failure.
func (h *Handle) LastError() (code, text string) {
	if h.conn == nil {
		return "", ""
	}
	return h.conn.LastError()
}

// RetryAfter returns how long to wait before retrying after the last backend
// failure, or 0 when a retry is pointless.
func (h *Handle) RetryAfter() time.Duration {
	code, _ := h.LastError()
	if code == "" {
		return 0
	}
	return h.drv.IsRetryable(code)
}
