package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tordrt/dbkit/internal/driver"
)

// sqlConn is the part of a connection shared by the database/sql backends.
// It holds one dedicated *sql.Conn so session state (transactions, locks,
// temporary tables) stays on the same server connection.
type sqlConn struct {
	db       *sql.DB
	conn     *sql.Conn
	dialect  driver.Dialect
	classify func(error) (code, text string)

	tx       txStack
	lastCode string
	lastText string
	lastID   int64
}

func openSQL(ctx context.Context, driverName, dsn string, classify func(error) (string, string)) (*sqlConn, error) {
	wrap := func(msg string, err error) error {
		code, text := classify(err)
		return &driver.Error{Kind: driver.ErrConnect, Code: code, Text: text, Err: fmt.Errorf("%s: %w", msg, err)}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, wrap("failed to open database", err)
	}
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap("failed to ping database", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, wrap("failed to reserve connection", err)
	}
	return &sqlConn{db: db, conn: conn, classify: classify}, nil
}

func (c *sqlConn) fail(kind error, query string, err error) error {
	var de *driver.Error
	if errors.As(err, &de) {
		c.lastCode, c.lastText = de.Code, de.Text
		return err
	}
	code, text := c.classify(err)
	c.lastCode, c.lastText = code, text
	return &driver.Error{Kind: kind, Code: code, Text: text, Query: query, Err: err}
}

func (c *sqlConn) Read(ctx context.Context, query string) (*driver.RowSet, error) {
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	defer rows.Close()

	fields, err := rows.Columns()
	if err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}

	var data [][]any
	for rows.Next() {
		values := make([]any, len(fields))
		ptrs := make([]any, len(fields))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, c.fail(driver.ErrQuery, query, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(driver.ErrQuery, query, err)
	}
	return driver.NewRowSet(fields, data), nil
}

func (c *sqlConn) Write(ctx context.Context, query string) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, c.fail(driver.ErrQuery, query, err)
	}
	c.lastID = 0
	if id, err := res.LastInsertId(); err == nil {
		c.lastID = id
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, c.fail(driver.ErrQuery, query, err)
	}
	return n, nil
}

func (c *sqlConn) Exec(ctx context.Context, query string) error {
	return c.exec(ctx, driver.ErrQuery, query)
}

func (c *sqlConn) exec(ctx context.Context, kind error, query string) error {
	if _, err := c.conn.ExecContext(ctx, query); err != nil {
		return c.fail(kind, query, err)
	}
	return nil
}

// LastInsertID returns the id generated by the last insert on this
// connection; table and field are not needed by these backends.
func (c *sqlConn) LastInsertID(context.Context, string, string) (int64, error) {
	return c.lastID, nil
}

func (c *sqlConn) LastError() (string, string) {
	return c.lastCode, c.lastText
}

func (c *sqlConn) DropTable(ctx context.Context, table string) error {
	return c.exec(ctx, driver.ErrDDL, "DROP TABLE "+c.dialect.QuoteIdentifier(table))
}

func (c *sqlConn) Begin(ctx context.Context, name string) error {
	stmt, err := c.tx.begin(name)
	if err != nil {
		return c.fail(driver.ErrTransaction, "", err)
	}
	return c.exec(ctx, driver.ErrTransaction, stmt)
}

func (c *sqlConn) Commit(ctx context.Context, name string, startNew bool) error {
	return c.end(ctx, name, true, startNew)
}

func (c *sqlConn) Rollback(ctx context.Context, name string, startNew bool) error {
	return c.end(ctx, name, false, startNew)
}

func (c *sqlConn) end(ctx context.Context, name string, commit, startNew bool) error {
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

func (c *sqlConn) Close(context.Context) error {
	c.tx.reset()
	connErr := c.conn.Close()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	if connErr != nil && !errors.Is(connErr, sql.ErrConnDone) {
		return fmt.Errorf("failed to close connection: %w", connErr)
	}
	return nil
}
