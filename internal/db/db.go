// Package db holds the MySQL, PostgreSQL and SQLite backends.
package db

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/schema"
)

var drivers = map[string]driver.Driver{
	"mysql":    MySQL{},
	"postgres": Postgres{},
	"sqlite":   SQLite{},
}

// Driver returns the backend registered under name.
func Driver(name string) (driver.Driver, error) {
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", name)
	}
	return d, nil
}

// Names lists the supported backends.
func Names() []string {
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// defaultLiteral renders a column default. Numbers, NULL and the current
// time functions are left bare; anything else is quoted.
func defaultLiteral(d driver.Dialect, v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	switch strings.ToUpper(v) {
	case "NULL", "CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_TIME", "NOW()":
		return v
	}
	return "'" + d.EscapeString(v) + "'"
}

// unquoteDefault strips a cast and the quotes from a default as reported by
// the catalog.
func unquoteDefault(v string) string {
	if i := strings.Index(v, "::"); i > 0 && strings.HasPrefix(v, "'") {
		v = v[:i]
	}
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	}
	return v
}

// splitType parses "varchar(40)" or "decimal(10,2)" into the base type and
// its length and precision.
func splitType(t string) (base string, length, precision *int) {
	t = strings.ToLower(strings.TrimSpace(t))
	open := strings.Index(t, "(")
	if open < 0 || !strings.HasSuffix(t, ")") {
		return t, nil, nil
	}
	base = strings.TrimSpace(t[:open])
	args := strings.Split(t[open+1:len(t)-1], ",")
	if n, err := strconv.Atoi(strings.TrimSpace(args[0])); err == nil {
		length = &n
	}
	if len(args) > 1 {
		if n, err := strconv.Atoi(strings.TrimSpace(args[1])); err == nil {
			precision = &n
		}
	}
	return base, length, precision
}

// sizeSuffix renders the "(length[,precision])" part of a type.
func sizeSuffix(spec schema.ColumnSpec) string {
	switch {
	case spec.Length == nil:
		return ""
	case spec.Precision != nil:
		return fmt.Sprintf("(%d,%d)", *spec.Length, *spec.Precision)
	default:
		return fmt.Sprintf("(%d)", *spec.Length)
	}
}

func quoteAll(d driver.Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

func likePattern(pattern string) string {
	if pattern == "" {
		return "%"
	}
	return pattern
}

func intPtr(n int64, valid bool) *int {
	if !valid {
		return nil
	}
	v := int(n)
	return &v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ driver.Driver = MySQL{}
	_ driver.Driver = Postgres{}
	_ driver.Driver = SQLite{}

	_ driver.Conn = (*mysqlConn)(nil)
	_ driver.Conn = (*pgConn)(nil)
	_ driver.Conn = (*sqliteConn)(nil)
)
