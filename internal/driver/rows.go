package driver

// Row is one result row; Values line up with Fields.
type Row struct {
	Fields []string
	Values []any
}

// Get returns the value of the named field.
func (r Row) Get(field string) (any, bool) {
	for i, f := range r.Fields {
		if f == field {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row as a field to value map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Fields))
	for i, f := range r.Fields {
		m[f] = r.Values[i]
	}
	return m
}

// RowSet is the result of a read. It can be walked once; run the query again
// to walk it again.
type RowSet struct {
	fields []string
	rows   [][]any
	pos    int
}

func NewRowSet(fields []string, rows [][]any) *RowSet {
	return &RowSet{fields: fields, rows: rows}
}

func (rs *RowSet) RowCount() int    { return len(rs.rows) }
func (rs *RowSet) FieldCount() int  { return len(rs.fields) }
func (rs *RowSet) Fields() []string { return rs.fields }

// Next returns the next row, or false when all rows were consumed.
func (rs *RowSet) Next() (Row, bool) {
	if rs.pos >= len(rs.rows) {
		return Row{}, false
	}
	row := Row{Fields: rs.fields, Values: rs.rows[rs.pos]}
	rs.pos++
	return row, true
}

// Rest returns all rows not yet consumed.
func (rs *RowSet) Rest() []Row {
	var out []Row
	for {
		row, ok := rs.Next()
		if !ok {
			return out
		}
		out = append(out, row)
	}
}
