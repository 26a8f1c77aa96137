package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/driver/drivertest"
	"github.com/tordrt/dbkit/internal/schema"
	"github.com/tordrt/dbkit/internal/status"
)

func newTestRegistry(t *testing.T) *status.Registry {
	t.Helper()
	reg, err := status.NewRegistry("dbkit", 1)
	require.NoError(t, err)
	return reg
}

func newTestHandle(t *testing.T, p Params) (*Handle, *drivertest.Driver) {
	t.Helper()
	drv := drivertest.New()
	if p.Name == "" {
		p.Name = "testdb"
	}
	h, err := NewHandle(newTestRegistry(t), drv, p, nil)
	require.NoError(t, err)
	return h, drv
}

func TestHandleOpensLazily(t *testing.T) {
	ctx := context.Background()
	h, drv := newTestHandle(t, Params{Session: map[string]string{"sql_mode": "ANSI"}})

	require.NoError(t, h.PrepareRead([]string{"users"}, nil))
	assert.False(t, h.IsOpen())
	assert.Empty(t, drv.Connects)
	assert.Equal(t, QPrepared, h.Status())

	drv.QueueRows([]string{"id"}, []any{1})
	_, err := h.Read(ctx, Data)
	require.NoError(t, err)
	assert.True(t, h.IsOpen())
	require.Len(t, drv.Connects, 1)
	assert.Equal(t, "testdb", drv.Connects[0].Name)
	assert.Equal(t, []string{"Connect", "SetSession", "Read"}, drv.Ops())

	// a second read reuses the connection
	_, err = h.Read(ctx, Data)
	require.NoError(t, err)
	assert.Len(t, drv.Connects, 1)
}

func TestHandleReadShapes(t *testing.T) {
	fields := []string{"id", "name"}
	rows := [][]any{{1, "bob"}, {2, "eve"}}

	tests := []struct {
		shape Shape
		check func(t *testing.T, res Result)
	}{
		{Data, func(t *testing.T, res Result) {
			require.Len(t, res.Rows, 2)
			assert.Equal(t, map[string]any{"id": 2, "name": "eve"}, res.Rows[1].Map())
		}},
		{SingleRow, func(t *testing.T, res Result) {
			v, ok := res.Row.Get("name")
			assert.True(t, ok)
			assert.Equal(t, "bob", v)
			assert.Nil(t, res.Rows)
		}},
		{SingleField, func(t *testing.T, res Result) { assert.Equal(t, 1, res.Value) }},
		{RowCount, func(t *testing.T, res Result) { assert.Equal(t, 2, res.Value) }},
		{FieldCount, func(t *testing.T, res Result) { assert.Equal(t, 2, res.Value) }},
		{TotalFieldCount, func(t *testing.T, res Result) { assert.Equal(t, 4, res.Value) }},
	}

	for _, tt := range tests {
		t.Run(tt.shape.String(), func(t *testing.T) {
			h, drv := newTestHandle(t, Params{})
			drv.QueueRows(fields, rows...)
			require.NoError(t, h.PrepareRead([]string{"users"}, []FieldDescriptor{Field("users", "id"), Field("users", "name")}))

			res, err := h.Read(context.Background(), tt.shape)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Count)
			assert.Equal(t, RowsRead, h.Status())
			tt.check(t, res)
		})
	}
}

func TestHandleReadNoData(t *testing.T) {
	h, _ := newTestHandle(t, Params{})
	require.NoError(t, h.PrepareRead([]string{"users"}, nil))

	res, err := h.Read(context.Background(), SingleRow)
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, NoData, h.Status())
	assert.Equal(t, status.Info, h.Severity())
}

func TestHandleMultiTableInsert(t *testing.T) {
	h, drv := newTestHandle(t, Params{})
	err := h.PrepareInsert([]FieldDescriptor{
		{Table: "users", Field: "name", Value: Single("bob")},
		{Table: "roles", Field: "name", Value: Single("admin")},
	})
	require.Error(t, err)
	assert.True(t, status.Is(err, MultiTable))
	assert.ErrorIs(t, err, ErrMultiTableInsert)
	assert.Equal(t, status.Error, h.Severity())
	assert.Empty(t, h.Query())

	_, err = h.Write(context.Background())
	assert.True(t, status.Is(err, NoQuery))
	assert.Empty(t, drv.Statements)
	assert.Empty(t, drv.Connects)
}

func TestHandleWriteInsertKeepsID(t *testing.T) {
	ctx := context.Background()
	h, drv := newTestHandle(t, Params{Prefix: "app_"})

	for want := int64(1); want <= 2; want++ {
		require.NoError(t, h.PrepareInsert([]FieldDescriptor{{Table: "users", Field: "name", Value: Single("bob")}}))
		n, err := h.Write(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, want, h.LastInsertID())
		assert.Equal(t, Updated, h.Status())
	}
	assert.Equal(t, "INSERT INTO app_users (name) VALUES ('bob')", drv.Statements[0])
	calls := drv.CallsOf("LastInsertID")
	require.Len(t, calls, 2)
	assert.Equal(t, "app_users", calls[0].Table)
	assert.Equal(t, []string{"id"}, calls[0].Args)

	// an explicit id is not read back
	require.NoError(t, h.PrepareInsert([]FieldDescriptor{{Table: "users", Field: "id", Value: Single(9)}}))
	_, err := h.Write(ctx)
	require.NoError(t, err)
	assert.Len(t, drv.CallsOf("LastInsertID"), 2)
}

func TestHandleWriteKinds(t *testing.T) {
	ctx := context.Background()
	h, drv := newTestHandle(t, Params{})
	drv.SetAffected(3)

	require.NoError(t, h.PrepareUpdate(nil,
		[]FieldDescriptor{{Table: "users", Field: "active", Value: Single(false)}},
		[]FieldDescriptor{Where("users", "role", EQ, Single("guest"))},
	))
	n, err := h.Write(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, h.PrepareDelete([]string{"sessions"}, nil))
	_, err = h.Write(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"UPDATE users SET active = FALSE WHERE users.role = 'guest'",
		"DELETE FROM sessions",
	}, drv.Statements)
	assert.Empty(t, drv.CallsOf("LastInsertID"))

	_, err = h.Read(ctx, Data)
	assert.True(t, status.Is(err, InvalidKind))
}

func TestHandleSetQuery(t *testing.T) {
	ctx := context.Background()
	h, drv := newTestHandle(t, Params{})

	require.NoError(t, h.SetQuery(Read, "SELECT 1"))
	drv.QueueRows([]string{"1"}, []any{1})
	res, err := h.Read(ctx, SingleField)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Value)

	err = h.SetQuery(Kind(42), "SELECT 1")
	assert.True(t, status.Is(err, InvalidKind))
	assert.Equal(t, status.Bug, h.Severity())

	err = h.SetQuery(Read, "")
	assert.True(t, status.Is(err, NoQuery))

	_, err = h.Read(ctx, Shape(99))
	assert.True(t, status.Is(err, InvalidShape))
}

func TestHandleQueryError(t *testing.T) {
	ctx := context.Background()
	h, drv := newTestHandle(t, Params{})
	drv.FailOn("Read", &driver.Error{Kind: driver.ErrQuery, Code: "LOCK", Text: "lock wait timeout"})

	require.NoError(t, h.PrepareRead([]string{"users"}, nil))
	_, err := h.Read(ctx, Data)
	require.Error(t, err)
	assert.True(t, status.Is(err, QueryErr))
	assert.ErrorIs(t, err, driver.ErrQuery)
	assert.Contains(t, h.Message(), "SELECT * FROM users")

	code, text := h.LastError()
	assert.Equal(t, "LOCK", code)
	assert.Equal(t, "lock wait timeout", text)
	assert.Equal(t, 100*time.Millisecond, h.RetryAfter())

	// the statement stays prepared and can be retried
	_, err = h.Read(ctx, Data)
	assert.NoError(t, err)
}

func TestHandleConnectError(t *testing.T) {
	h, drv := newTestHandle(t, Params{Server: "db1", User: "app"})
	drv.FailOn("Connect", &driver.Error{Kind: driver.ErrConnect, Code: "1045", Text: "access denied"})

	require.NoError(t, h.PrepareRead([]string{"users"}, nil))
	_, err := h.Read(context.Background(), Data)
	assert.True(t, status.Is(err, ConnectErr))
	assert.ErrorIs(t, err, driver.ErrConnect)
	assert.Equal(t, "cannot connect to database testdb on db1 as app", h.Message())
	assert.False(t, h.IsOpen())
	assert.Zero(t, h.RetryAfter())
}

func TestHandleCreate(t *testing.T) {
	ctx := context.Background()
	h, drv := newTestHandle(t, Params{Server: "db1"})

	require.NoError(t, h.Create(ctx))
	assert.Equal(t, DBCreated, h.Status())
	assert.Equal(t, "database testdb created", h.Message())
	assert.Equal(t, []string{"testdb"}, drv.Databases)
	assert.False(t, h.IsOpen())

	drv.FailOn("CreateDatabase", &driver.Error{Kind: driver.ErrDDL, Code: "1007", Text: "database exists"})
	err := h.Create(ctx)
	assert.True(t, status.Is(err, CreateErr))
	assert.ErrorIs(t, err, driver.ErrDDL)
	assert.Equal(t, "cannot create database testdb: error 1007: database exists", h.Message())
	assert.Equal(t, []string{"testdb"}, drv.Databases)
}

func TestHandleTableExists(t *testing.T) {
	ctx := context.Background()
	h, drv := newTestHandle(t, Params{Prefix: "app_"})
	drv.Tables["app_users"] = &schema.Definition{Table: "app_users"}

	ok, err := h.TableExists(ctx, "users")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.TableExists(ctx, "user")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "app_users", h.TableName("users"))
	assert.Equal(t, "it''s", h.EscapeString("it's"))
	assert.Equal(t, "it's", h.UnescapeString("it''s"))
}

func TestHandleTables(t *testing.T) {
	ctx := context.Background()
	h, drv := newTestHandle(t, Params{Prefix: "app_"})
	for _, name := range []string{"app_users", "app_roles", "appxusers", "other"} {
		drv.Tables[name] = &schema.Definition{Table: name}
	}

	tables, err := h.Tables(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, []schema.Table{{Name: "roles"}, {Name: "users"}}, tables)

	tables, err = h.Tables(ctx, "u%", false)
	require.NoError(t, err)
	assert.Equal(t, []schema.Table{{Name: "users"}}, tables)

	drv.FailOn("ListTables", &driver.Error{Kind: driver.ErrQuery, Code: "1146", Text: "no access"})
	_, err = h.Tables(ctx, "", false)
	assert.True(t, status.Is(err, QueryErr))
}

func TestHandleInTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		h, drv := newTestHandle(t, Params{})
		err := h.InTransaction(ctx, "batch", func(ctx context.Context) error {
			require.NoError(t, h.PrepareDelete([]string{"sessions"}, nil))
			_, err := h.Write(ctx)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"Connect", "Begin", "Write", "Commit"}, drv.Ops())
		assert.Equal(t, TxEnded, h.Status())
	})

	t.Run("rollback on error", func(t *testing.T) {
		h, drv := newTestHandle(t, Params{})
		boom := errors.New("boom")
		err := h.InTransaction(ctx, "batch", func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"Connect", "Begin", "Rollback"}, drv.Ops())
		assert.Equal(t, []string{"batch", "false"}, drv.CallsOf("Rollback")[0].Args)
	})

	t.Run("begin fails", func(t *testing.T) {
		h, drv := newTestHandle(t, Params{})
		drv.FailOn("Begin", &driver.Error{Kind: driver.ErrTransaction, Text: "savepoint exists"})
		called := false
		err := h.InTransaction(ctx, "batch", func(context.Context) error { called = true; return nil })
		assert.True(t, status.Is(err, TxErr))
		assert.False(t, called)
	})

	t.Run("commit without connection", func(t *testing.T) {
		h, _ := newTestHandle(t, Params{})
		assert.True(t, status.Is(h.Commit(ctx, "", false), DBClosed))
	})
}

func TestHandleWithLock(t *testing.T) {
	ctx := context.Background()

	t.Run("released on error", func(t *testing.T) {
		h, drv := newTestHandle(t, Params{Prefix: "app_"})
		boom := errors.New("boom")
		err := h.WithLock(ctx, driver.LockWrite, []string{"users"}, func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"Connect", "LockTables", "UnlockTables"}, drv.Ops())
		assert.Equal(t, []string{"WRITE", "app_users"}, drv.CallsOf("LockTables")[0].Args)
		assert.Equal(t, []string{"app_users"}, drv.CallsOf("UnlockTables")[0].Args)
	})

	t.Run("lock failure skips fn", func(t *testing.T) {
		h, drv := newTestHandle(t, Params{})
		drv.FailOn("LockTables", &driver.Error{Kind: driver.ErrLock, Code: "LOCK"})
		called := false
		err := h.WithLock(ctx, driver.LockRead, []string{"users"}, func(context.Context) error { called = true; return nil })
		assert.True(t, status.Is(err, LockErr))
		assert.False(t, called)
		assert.Empty(t, drv.CallsOf("UnlockTables"))
	})

	t.Run("unlock failure is reported", func(t *testing.T) {
		h, drv := newTestHandle(t, Params{})
		drv.FailOn("UnlockTables", &driver.Error{Kind: driver.ErrLock, Text: "gone"})
		err := h.WithLock(ctx, driver.LockRead, []string{"users"}, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, driver.ErrLock)
	})
}

func TestHandleCloseAndReset(t *testing.T) {
	ctx := context.Background()
	h, drv := newTestHandle(t, Params{})

	require.NoError(t, h.Close(ctx))
	assert.Zero(t, drv.Closed())

	require.NoError(t, h.Open(ctx))
	require.NoError(t, h.Close(ctx))
	assert.Equal(t, 1, drv.Closed())
	assert.Equal(t, Closed, h.Status())
	assert.False(t, h.IsOpen())

	require.NoError(t, h.PrepareRead([]string{"users"}, nil))
	h.Reset()
	assert.Empty(t, h.Query())
	assert.Equal(t, status.StatusOK, h.Status())
}
