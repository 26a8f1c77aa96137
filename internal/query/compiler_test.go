package query

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/dbkit/internal/db"
	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/driver/drivertest"
)

func compile(t *testing.T, prefix string, p Plan) (string, error) {
	t.Helper()
	return NewCompiler(drivertest.New(), prefix).Compile(p)
}

func TestCompileRead(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		plan   Plan
		want   string
	}{
		{
			name: "all fields",
			plan: Plan{Kind: Read, Tables: []string{"users"}},
			want: "SELECT * FROM users",
		},
		{
			name: "multi value filter becomes OR group",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				Where("users", "status", EQ, Multi("active", "pending")),
			}},
			want: "SELECT * FROM users WHERE (users.status = 'active' OR users.status = 'pending')",
		},
		{
			name: "repeated values collapse",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				Where("users", "status", EQ, Multi("active", "active")),
			}},
			want: "SELECT * FROM users WHERE users.status = 'active'",
		},
		{
			name: "wildcard becomes LIKE",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				Where("users", "name", EQ, Single("jo%")),
			}},
			want: "SELECT * FROM users WHERE users.name LIKE 'jo%'",
		},
		{
			name: "escaped percent is literal",
			plan: Plan{Kind: Read, Tables: []string{"stats"}, Fields: []FieldDescriptor{
				Where("stats", "label", EQ, Single(`100\%`)),
			}},
			want: `SELECT * FROM stats WHERE stats.label = '100\%'`,
		},
		{
			name: "null equality",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				Where("users", "deleted_at", EQ, Null()),
			}},
			want: "SELECT * FROM users WHERE users.deleted_at IS NULL",
		},
		{
			name: "quotes are escaped",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				Where("users", "name", EQ, Single("O'Brien")),
			}},
			want: "SELECT * FROM users WHERE users.name = 'O''Brien'",
		},
		{
			name: "function and alias in select list",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				{Table: "users", Field: "id", Alias: "n", FieldFunc: &Call{Func: driver.Count}},
			}},
			want: "SELECT COUNT(users.id) AS n FROM users",
		},
		{
			name: "joins follow filters",
			plan: Plan{
				Kind: Read,
				Fields: []FieldDescriptor{
					Field("users", "name"),
					Where("roles", "name", EQ, Single("admin")),
				},
				Joins: []Join{On(Field("users", "role_id"), Field("roles", "id"))},
			},
			want: "SELECT users.name FROM users, roles WHERE roles.name = 'admin' AND users.role_id = roles.id",
		},
		{
			name: "group, having, order and limit",
			plan: Plan{
				Kind:   Read,
				Tables: []string{"users"},
				Fields: []FieldDescriptor{
					{Table: "users", Field: "country", GroupBy: true},
					{
						Table: "users", Field: "id", Alias: "n",
						FieldFunc: &Call{Func: driver.Count},
						Having:    &Having{Match: GT, Value: 5},
						OrderBy:   Desc,
					},
				},
				Limit: &Limit{Count: 10, Offset: 20},
			},
			want: "SELECT users.country, COUNT(users.id) AS n FROM users GROUP BY users.country " +
				"HAVING COUNT(users.id) > 5 ORDER BY COUNT(users.id) DESC LIMIT 10 OFFSET 20",
		},
		{
			name:   "table prefix",
			prefix: "app_",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				Field("users", "name"),
				Where("users", "id", EQ, Single(7)),
			}},
			want: "SELECT app_users.name FROM app_users WHERE app_users.id = 7",
		},
		{
			name: "value function",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{{
				Table: "users", Field: "name", Match: EQ, Value: Single("bob"),
				ValueFunc: &Call{Func: driver.Concat, Args: []string{"'!'"}},
			}}},
			want: "SELECT * FROM users WHERE users.name = CONCAT('bob', '!')",
		},
		{
			name: "raw value and comparison operators",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				Where("users", "created", LT, Single(Raw("NOW()"))),
				Where("users", "score", GE, Single(1.5)),
				Where("users", "active", EQ, Single(true)),
			}},
			want: "SELECT * FROM users WHERE users.created < NOW() AND users.score >= 1.5 AND users.active = TRUE",
		},
		{
			name: "time value",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				Where("users", "created", GT, Single(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))),
			}},
			want: "SELECT * FROM users WHERE users.created > '2024-01-02 03:04:05'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compile(t, tt.prefix, tt.plan)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileWrite(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
		want string
	}{
		{
			name: "insert",
			plan: Plan{Kind: Insert, Fields: []FieldDescriptor{
				{Table: "users", Field: "name", Value: Single("bob")},
				{Table: "users", Field: "email", Value: Null()},
				Field("users", "ignored"),
			}},
			want: "INSERT INTO users (name, email) VALUES ('bob', NULL)",
		},
		{
			name: "insert several rows",
			plan: Plan{Kind: Insert, Fields: []FieldDescriptor{
				{Table: "users", Field: "name", Value: Multi("a", "b")},
				{Table: "users", Field: "role", Value: Single(1)},
			}},
			want: "INSERT INTO users (name, role) VALUES ('a', 1), ('b', 1)",
		},
		{
			name: "insert ignores order and limit",
			plan: Plan{
				Kind:   Insert,
				Fields: []FieldDescriptor{{Table: "users", Field: "name", Value: Single("bob"), OrderBy: Asc}},
				Limit:  &Limit{Count: 1},
			},
			want: "INSERT INTO users (name) VALUES ('bob')",
		},
		{
			name: "update",
			plan: Plan{
				Kind: Update,
				Set: []FieldDescriptor{
					{Table: "users", Field: "name", Value: Single("x")},
					{Table: "users", Field: "email", Value: Null()},
				},
				Fields: []FieldDescriptor{Where("users", "id", EQ, Single(3))},
			},
			want: "UPDATE users SET name = 'x', email = NULL WHERE users.id = 3",
		},
		{
			name: "update with order and limit",
			plan: Plan{
				Kind: Update,
				Set:  []FieldDescriptor{{Table: "jobs", Field: "owner", Value: Single("w1")}},
				Fields: []FieldDescriptor{
					Where("jobs", "owner", EQ, Null()),
					{Table: "jobs", Field: "created", OrderBy: Asc},
				},
				Limit: &Limit{Count: 1},
			},
			want: "UPDATE jobs SET owner = 'w1' WHERE jobs.owner IS NULL ORDER BY jobs.created ASC LIMIT 1",
		},
		{
			name: "update over several tables",
			plan: Plan{
				Kind:  Update,
				Set:   []FieldDescriptor{{Table: "users", Field: "active", Value: Single(false)}},
				Joins: []Join{On(Field("users", "role_id"), Field("roles", "id"))},
				Fields: []FieldDescriptor{
					Where("roles", "name", EQ, Single("guest")),
				},
			},
			want: "UPDATE users, roles SET users.active = FALSE WHERE roles.name = 'guest' AND users.role_id = roles.id",
		},
		{
			name: "delete",
			plan: Plan{Kind: Delete, Tables: []string{"users"}, Fields: []FieldDescriptor{
				Where("users", "id", LE, Single(3)),
			}},
			want: "DELETE FROM users WHERE users.id <= 3",
		},
		{
			name: "delete everything",
			plan: Plan{Kind: Delete, Tables: []string{"sessions"}},
			want: "DELETE FROM sessions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compile(t, "", tt.plan)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
		want error
	}{
		{
			name: "read without tables",
			plan: Plan{Kind: Read},
			want: ErrNoTables,
		},
		{
			name: "insert into two tables",
			plan: Plan{Kind: Insert, Fields: []FieldDescriptor{
				{Table: "users", Field: "name", Value: Single("bob")},
				{Table: "roles", Field: "name", Value: Single("admin")},
			}},
			want: ErrMultiTableInsert,
		},
		{
			name: "insert without values",
			plan: Plan{Kind: Insert, Fields: []FieldDescriptor{Field("users", "name")}},
			want: ErrNoValues,
		},
		{
			name: "insert rows of different length",
			plan: Plan{Kind: Insert, Fields: []FieldDescriptor{
				{Table: "users", Field: "name", Value: Multi("a", "b")},
				{Table: "users", Field: "role", Value: Multi(1, 2, 3)},
			}},
			want: ErrFieldFormat,
		},
		{
			name: "update without assignments",
			plan: Plan{Kind: Update, Tables: []string{"users"}},
			want: ErrNoValues,
		},
		{
			name: "delete without tables",
			plan: Plan{Kind: Delete},
			want: ErrNoTables,
		},
		{
			name: "descriptor without field",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{{Table: "users"}}},
			want: ErrFieldFormat,
		},
		{
			name: "filter without value",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				{Table: "users", Field: "id", Match: EQ},
			}},
			want: ErrFieldFormat,
		},
		{
			name: "function with wrong arguments",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				{Table: "users", Field: "id", FieldFunc: &Call{Func: driver.Max, Args: []string{"1"}}},
			}},
			want: ErrInvalidFunction,
		},
		{
			name: "join without operator",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Joins: []Join{
				{Left: Field("users", "role_id"), Right: Field("roles", "id")},
			}},
			want: ErrFieldFormat,
		},
		{
			name: "having without operator",
			plan: Plan{Kind: Read, Tables: []string{"users"}, Fields: []FieldDescriptor{
				{Table: "users", Field: "id", Having: &Having{Value: 1}},
			}},
			want: ErrFieldFormat,
		},
		{
			name: "delete with offset",
			plan: Plan{Kind: Delete, Tables: []string{"jobs"}, Limit: &Limit{Count: 10, Offset: 10}},
			want: driver.ErrUnsupported,
		},
		{
			name: "update over several tables with limit",
			plan: Plan{
				Kind:  Update,
				Set:   []FieldDescriptor{{Table: "users", Field: "active", Value: Single(false)}},
				Joins: []Join{On(Field("users", "role_id"), Field("roles", "id"))},
				Limit: &Limit{Count: 1},
			},
			want: driver.ErrUnsupported,
		},
		{
			name: "unknown kind",
			plan: Plan{Tables: []string{"users"}},
			want: ErrInvalidKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compile(t, "", tt.plan)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, got)
		})
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref  string
		want FieldDescriptor
	}{
		{ref: "users#name", want: Field("users", "name")},
		{ref: "users#name=who", want: FieldDescriptor{Table: "users", Field: "name", Alias: "who"}},
		{
			ref:  "users#id=n#COUNT#DISTINCT",
			want: FieldDescriptor{Table: "users", Field: "id", Alias: "n", FieldFunc: &Call{Func: driver.Count, Args: []string{"DISTINCT"}}},
		},
		{ref: "users#id#max", want: FieldDescriptor{Table: "users", Field: "id", FieldFunc: &Call{Func: driver.Max}}},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParseRef(tt.ref)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(Value{})); diff != "" {
				t.Errorf("ParseRef() mismatch (-want +got):\n%s", diff)
			}
			again, err := ParseRef(got.Ref())
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}

	for _, bad := range []string{"users", "#name", "users#", "users#name=", "users#id#NOPE"} {
		_, err := ParseRef(bad)
		assert.Error(t, err, bad)
	}
	_, err := ParseRef("users#id#NOPE")
	assert.ErrorIs(t, err, ErrInvalidFunction)
}

func TestParseMatch(t *testing.T) {
	for _, m := range []MatchOp{None, EQ, LT, GT, LE, GE} {
		got, err := ParseMatch(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMatch("<>")
	assert.ErrorIs(t, err, ErrFieldFormat)
}

func TestCompileWriteClausesPerDialect(t *testing.T) {
	ordered := Plan{
		Kind:   Delete,
		Tables: []string{"jobs"},
		Fields: []FieldDescriptor{{Table: "jobs", Field: "created", OrderBy: Asc}},
		Limit:  &Limit{Count: 5},
	}
	tests := []struct {
		name    string
		dialect driver.Dialect
		want    string
	}{
		{name: "mysql", dialect: db.MySQL{}, want: "DELETE FROM `jobs` ORDER BY `jobs`.`created` ASC LIMIT 5"},
		{name: "postgres", dialect: db.Postgres{}},
		{name: "sqlite", dialect: db.SQLite{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewCompiler(tt.dialect, "").Compile(ordered)
			if tt.want == "" {
				assert.ErrorIs(t, err, driver.ErrUnsupported)
				assert.Equal(t, Unsupported, prepareStatus(err))
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
