package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/schema"
)

func TestSQLiteCreateDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shop.db")

	require.NoError(t, SQLite{}.CreateDatabase(ctx, driver.Params{Name: path}))
	_, err := os.Stat(path)
	require.NoError(t, err)

	err = SQLite{}.CreateDatabase(ctx, driver.Params{Name: path})
	assert.ErrorIs(t, err, driver.ErrDDL)
	assert.ErrorContains(t, err, "already exists")

	err = SQLite{}.CreateDatabase(ctx, driver.Params{Name: ":memory:"})
	assert.ErrorIs(t, err, driver.ErrUnsupported)
}

func TestSQLiteDescribeAutoIncrement(t *testing.T) {
	ctx := context.Background()
	d := SQLite{}
	conn, err := d.Connect(ctx, driver.Params{Name: filepath.Join(t.TempDir(), "shop.db")})
	require.NoError(t, err)
	defer conn.Close(ctx)

	primary, _ := d.DefineIndex("t", schema.PrimaryName, schema.IndexSpec{Primary: true, Columns: []string{"id"}})
	tests := []struct {
		table   string
		spec    schema.ColumnSpec
		autoInc bool
	}{
		{table: "plain_key", spec: schema.ColumnSpec{Type: "integer"}, autoInc: false},
		{table: "auto_key", spec: schema.ColumnSpec{Type: "int", AutoInc: true}, autoInc: true},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			defs := []string{d.DefineField("id", tt.spec), d.DefineField("v", schema.ColumnSpec{Type: "text", Null: true}), primary}
			require.NoError(t, conn.CreateTable(ctx, tt.table, defs, ""))

			columns, err := conn.DescribeColumns(ctx, tt.table)
			require.NoError(t, err)
			live, _ := columns.Get("id")
			assert.Equal(t, d.MapType(tt.spec), live)
			assert.Equal(t, tt.autoInc, live.AutoInc)

			indexes, err := conn.DescribeIndexes(ctx, tt.table)
			require.NoError(t, err)
			assert.Equal(t, []string{schema.PrimaryName}, indexes.Names())
		})
	}
}
