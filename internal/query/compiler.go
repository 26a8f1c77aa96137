package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tordrt/dbkit/internal/driver"
)

// A % at the start of a value, or one not escaped by a backslash, makes the
// value a LIKE pattern.
var wildcard = regexp.MustCompile(`(^%|[^\\]%)`)

// Compiler renders plans into SQL for one dialect. Table names get prefix
// prepended.
type Compiler struct {
	dialect driver.Dialect
	prefix  string
}

func NewCompiler(d driver.Dialect, prefix string) *Compiler {
	return &Compiler{dialect: d, prefix: prefix}
}

// TableName returns the prefixed and quoted name of table.
func (c *Compiler) TableName(table string) string {
	return c.dialect.QuoteIdentifier(c.prefix + table)
}

// Compile renders p. Nothing is rendered when the plan is invalid.
func (c *Compiler) Compile(p Plan) (string, error) {
	for _, fd := range p.Fields {
		if err := fd.check(); err != nil {
			return "", err
		}
	}
	for _, fd := range p.Set {
		if err := fd.check(); err != nil {
			return "", err
		}
	}
	switch p.Kind {
	case Read:
		return c.compileRead(p)
	case Insert:
		return c.compileInsert(p)
	case Update:
		return c.compileUpdate(p)
	case Delete:
		return c.compileDelete(p)
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidKind, p.Kind)
}

func (c *Compiler) compileRead(p Plan) (string, error) {
	tables := p.tables()
	if len(tables) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoTables, p.Kind)
	}
	var selects, groups, havings []string
	for _, fd := range p.Fields {
		if fd.Match == None {
			expr, err := c.field(fd, true)
			if err != nil {
				return "", err
			}
			selects = append(selects, expr)
		}
		if fd.GroupBy {
			expr, err := c.field(fd, false)
			if err != nil {
				return "", err
			}
			groups = append(groups, expr)
		}
		if fd.Having != nil {
			cond, err := c.having(fd)
			if err != nil {
				return "", err
			}
			havings = append(havings, cond)
		}
	}
	list := "*"
	if len(selects) > 0 {
		list = strings.Join(selects, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + list + " FROM " + c.tableList(tables))
	if err := c.writeWhere(&sb, p); err != nil {
		return "", err
	}
	if len(groups) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	}
	if len(havings) > 0 {
		sb.WriteString(" HAVING " + strings.Join(havings, " AND "))
	}
	if err := c.writeOrderLimit(&sb, p); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (c *Compiler) compileInsert(p Plan) (string, error) {
	tables := append([]string(nil), p.Tables...)
	seen := make(map[string]bool)
	for _, t := range tables {
		seen[t] = true
	}
	var values []FieldDescriptor
	for _, fd := range p.Fields {
		if !seen[fd.Table] {
			seen[fd.Table] = true
			tables = append(tables, fd.Table)
		}
		if fd.Value.IsSet() {
			values = append(values, fd)
		}
	}
	switch {
	case len(tables) == 0:
		return "", fmt.Errorf("%w for %s", ErrNoTables, p.Kind)
	case len(tables) > 1:
		return "", fmt.Errorf("%w: %s", ErrMultiTableInsert, strings.Join(tables, ", "))
	case len(values) == 0:
		return "", fmt.Errorf("%w for %s", ErrNoValues, p.Kind)
	}

	rows := 1
	for _, fd := range values {
		if !fd.Value.IsMulti() {
			continue
		}
		n := len(fd.Value.Items())
		if rows > 1 && n != rows {
			return "", fmt.Errorf("%w: %s has %d values, expected %d", ErrFieldFormat, fd.Ref(), n, rows)
		}
		rows = n
	}

	cols := make([]string, len(values))
	for i, fd := range values {
		cols[i] = c.dialect.QuoteIdentifier(fd.Field)
	}
	tuples := make([]string, rows)
	for r := range tuples {
		vals := make([]string, len(values))
		for i, fd := range values {
			item := fd.Value.Items()[0]
			if fd.Value.IsMulti() {
				if len(fd.Value.Items()) != rows {
					return "", fmt.Errorf("%w: %s has %d values, expected %d", ErrFieldFormat, fd.Ref(), len(fd.Value.Items()), rows)
				}
				item = fd.Value.Items()[r]
			}
			v, err := c.value(fd, item)
			if err != nil {
				return "", err
			}
			vals[i] = v
		}
		tuples[r] = "(" + strings.Join(vals, ", ") + ")"
	}
	return "INSERT INTO " + c.TableName(tables[0]) +
		" (" + strings.Join(cols, ", ") + ") VALUES " + strings.Join(tuples, ", "), nil
}

func (c *Compiler) compileUpdate(p Plan) (string, error) {
	tables := p.tables()
	if len(tables) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoTables, p.Kind)
	}
	var sets []string
	for _, fd := range p.Set {
		if !fd.Value.IsSet() {
			continue
		}
		if fd.Value.IsMulti() && len(fd.Value.Items()) > 1 {
			return "", fmt.Errorf("%w: %s cannot be set to several values", ErrFieldFormat, fd.Ref())
		}
		target := c.dialect.QuoteIdentifier(fd.Field)
		if len(tables) > 1 {
			target = c.TableName(fd.Table) + "." + target
		}
		v, err := c.value(fd, fd.Value.Items()[0])
		if err != nil {
			return "", err
		}
		sets = append(sets, target+" = "+v)
	}
	if len(sets) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoValues, p.Kind)
	}

	var sb strings.Builder
	sb.WriteString("UPDATE " + c.tableList(tables) + " SET " + strings.Join(sets, ", "))
	if err := c.writeWhere(&sb, p); err != nil {
		return "", err
	}
	if err := c.checkWriteClauses(p, len(tables)); err != nil {
		return "", err
	}
	if err := c.writeOrderLimit(&sb, p); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (c *Compiler) compileDelete(p Plan) (string, error) {
	tables := p.tables()
	if len(tables) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoTables, p.Kind)
	}
	var sb strings.Builder
	if len(tables) > 1 {
		sb.WriteString("DELETE " + c.tableList(tables) + " FROM " + c.tableList(tables))
	} else {
		sb.WriteString("DELETE FROM " + c.TableName(tables[0]))
	}
	if err := c.writeWhere(&sb, p); err != nil {
		return "", err
	}
	if err := c.checkWriteClauses(p, len(tables)); err != nil {
		return "", err
	}
	if err := c.writeOrderLimit(&sb, p); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// checkWriteClauses rejects ordering and limits the dialect cannot render
// for an UPDATE or DELETE. No dialect takes them on a multi-table write.
func (c *Compiler) checkWriteClauses(p Plan, tables int) error {
	var used driver.WriteClause
	for _, fd := range p.Fields {
		if fd.OrderBy != Unordered {
			used |= driver.WriteOrderBy
		}
	}
	if p.Limit != nil && p.Limit.Count > 0 {
		used |= driver.WriteLimit
		if p.Limit.Offset > 0 {
			used |= driver.WriteOffset
		}
	}
	if used == 0 {
		return nil
	}
	allowed := c.dialect.WriteClauses()
	if tables > 1 {
		allowed = 0
	}
	for _, clause := range []struct {
		flag driver.WriteClause
		name string
	}{
		{driver.WriteOrderBy, "ORDER BY"},
		{driver.WriteLimit, "LIMIT"},
		{driver.WriteOffset, "OFFSET"},
	} {
		if used.Has(clause.flag) && !allowed.Has(clause.flag) {
			return fmt.Errorf("%w: %s with %s", driver.ErrUnsupported, p.Kind, clause.name)
		}
	}
	return nil
}

func (c *Compiler) tableList(tables []string) string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = c.TableName(t)
	}
	return strings.Join(names, ", ")
}

// writeWhere writes the filters followed by the join conditions, all
// joined with AND.
func (c *Compiler) writeWhere(sb *strings.Builder, p Plan) error {
	var conds []string
	for _, fd := range p.Fields {
		if fd.Match == None {
			continue
		}
		cond, err := c.filter(fd)
		if err != nil {
			return err
		}
		conds = append(conds, cond)
	}
	for _, j := range p.Joins {
		cond, err := c.join(j)
		if err != nil {
			return err
		}
		conds = append(conds, cond)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	return nil
}

func (c *Compiler) writeOrderLimit(sb *strings.Builder, p Plan) error {
	var orders []string
	for _, fd := range p.Fields {
		if fd.OrderBy == Unordered {
			continue
		}
		expr, err := c.field(fd, false)
		if err != nil {
			return err
		}
		orders = append(orders, expr+" "+fd.OrderBy.String())
	}
	if len(orders) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}
	if p.Limit != nil && p.Limit.Count > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(p.Limit.Count))
		if p.Limit.Offset > 0 {
			sb.WriteString(" OFFSET " + strconv.Itoa(p.Limit.Offset))
		}
	}
	return nil
}

// field renders a field reference with its table prefix and field function.
// Aliases are only added to SELECT list entries.
func (c *Compiler) field(fd FieldDescriptor, selectList bool) (string, error) {
	name := "*"
	if fd.Field != "*" {
		name = c.dialect.QuoteIdentifier(fd.Field)
	}
	expr := c.TableName(fd.Table) + "." + name
	if fd.FieldFunc != nil {
		var err error
		expr, err = c.dialect.SQLFunction(fd.FieldFunc.Func, expr, fd.FieldFunc.Args...)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrInvalidFunction, fd.Ref(), err)
		}
	}
	if selectList && fd.Alias != "" {
		expr += " AS " + c.dialect.QuoteIdentifier(fd.Alias)
	}
	return expr, nil
}

// filter renders the condition of one filter field. Several distinct values
// become a parenthesized OR group.
func (c *Compiler) filter(fd FieldDescriptor) (string, error) {
	if !fd.Value.IsSet() {
		return "", fmt.Errorf("%w: %s has no value to match", ErrFieldFormat, fd.Ref())
	}
	lhs, err := c.field(fd, false)
	if err != nil {
		return "", err
	}
	var conds []string
	seen := make(map[string]bool)
	for _, item := range fd.Value.Items() {
		cond, err := c.compare(fd, lhs, fd.Match, item)
		if err != nil {
			return "", err
		}
		if !seen[cond] {
			seen[cond] = true
			conds = append(conds, cond)
		}
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return "(" + strings.Join(conds, " OR ") + ")", nil
}

func (c *Compiler) compare(fd FieldDescriptor, lhs string, match MatchOp, item any) (string, error) {
	if item == nil {
		if match == EQ {
			return lhs + " IS NULL", nil
		}
		return lhs + " " + match.String() + " NULL", nil
	}
	v, err := c.value(fd, item)
	if err != nil {
		return "", err
	}
	if s, ok := item.(string); ok && wildcard.MatchString(s) {
		return lhs + " LIKE " + v, nil
	}
	return lhs + " " + match.String() + " " + v, nil
}

func (c *Compiler) having(fd FieldDescriptor) (string, error) {
	if fd.Having.Match == None {
		return "", fmt.Errorf("%w: %s has a HAVING condition without operator", ErrFieldFormat, fd.Ref())
	}
	lhs, err := c.field(fd, false)
	if err != nil {
		return "", err
	}
	if fd.Having.Value == nil {
		if fd.Having.Match == EQ {
			return lhs + " IS NULL", nil
		}
		return lhs + " " + fd.Having.Match.String() + " NULL", nil
	}
	return lhs + " " + fd.Having.Match.String() + " " + c.literal(fd.Having.Value), nil
}

func (c *Compiler) join(j Join) (string, error) {
	if j.Match == None {
		return "", fmt.Errorf("%w: join %s to %s has no operator", ErrFieldFormat, j.Left.Ref(), j.Right.Ref())
	}
	if err := j.Left.check(); err != nil {
		return "", err
	}
	if err := j.Right.check(); err != nil {
		return "", err
	}
	left, err := c.field(j.Left, false)
	if err != nil {
		return "", err
	}
	right, err := c.field(j.Right, false)
	if err != nil {
		return "", err
	}
	return left + " " + j.Match.String() + " " + right, nil
}

// value renders one value item, applying the field's value function.
func (c *Compiler) value(fd FieldDescriptor, item any) (string, error) {
	v := c.literal(item)
	if fd.ValueFunc == nil || item == nil {
		return v, nil
	}
	out, err := c.dialect.SQLFunction(fd.ValueFunc.Func, v, fd.ValueFunc.Args...)
	if err != nil {
		return "", fmt.Errorf("%w: value of %s: %w", ErrInvalidFunction, fd.Ref(), err)
	}
	return out, nil
}

func (c *Compiler) literal(item any) string {
	switch v := item.(type) {
	case nil:
		return "NULL"
	case Raw:
		return string(v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return c.quote(v.Format(time.DateTime))
	case []byte:
		return c.quote(string(v))
	case string:
		return c.quote(v)
	case fmt.Stringer:
		return c.quote(v.String())
	}
	return c.quote(fmt.Sprint(item))
}

func (c *Compiler) quote(s string) string {
	return "'" + c.dialect.EscapeString(s) + "'"
}
