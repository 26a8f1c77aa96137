package schema

import "slices"

// ColumnSpec describes one column. Pointer fields are optional: nil means the
// attribute was not declared.
type ColumnSpec struct {
	Type      string   `yaml:"type"`
	Length    *int     `yaml:"length,omitempty"`
	Precision *int     `yaml:"precision,omitempty"`
	Null      bool     `yaml:"null,omitempty"`
	AutoInc   bool     `yaml:"auto_inc,omitempty"`
	Default   *string  `yaml:"default,omitempty"`
	Options   []string `yaml:"options,omitempty"`
	Unsigned  bool     `yaml:"unsigned,omitempty"`
	Zerofill  bool     `yaml:"zerofill,omitempty"`
	Comment   string   `yaml:"comment,omitempty"`
}

// Clone returns a deep copy of c.
func (c ColumnSpec) Clone() ColumnSpec {
	out := c
	if c.Length != nil {
		n := *c.Length
		out.Length = &n
	}
	if c.Precision != nil {
		n := *c.Precision
		out.Precision = &n
	}
	if c.Default != nil {
		d := *c.Default
		out.Default = &d
	}
	out.Options = slices.Clone(c.Options)
	return out
}

// Column is a named ColumnSpec.
type Column struct {
	Name string
	ColumnSpec
}

// Columns is an ordered set of columns; order is declaration order.
type Columns []Column

// Get returns the column with the given name.
func (cs Columns) Get(name string) (ColumnSpec, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c.ColumnSpec, true
		}
	}
	return ColumnSpec{}, false
}

// Names returns the column names in order.
func (cs Columns) Names() []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}

// Set replaces the column called name, or appends it.
func (cs *Columns) Set(name string, spec ColumnSpec) {
	for i := range *cs {
		if (*cs)[i].Name == name {
			(*cs)[i].ColumnSpec = spec
			return
		}
	}
	*cs = append(*cs, Column{Name: name, ColumnSpec: spec})
}

func (cs Columns) Clone() Columns {
	if cs == nil {
		return nil
	}
	out := make(Columns, len(cs))
	for i, c := range cs {
		out[i] = Column{Name: c.Name, ColumnSpec: c.ColumnSpec.Clone()}
	}
	return out
}

// IndexSpec describes one index.
type IndexSpec struct {
	Unique  bool     `yaml:"unique,omitempty"`
	Primary bool     `yaml:"primary,omitempty"`
	Type    string   `yaml:"type,omitempty"`
	Columns []string `yaml:"columns"`
}

// Index is a named IndexSpec.
type Index struct {
	Name string
	IndexSpec
}

// Indexes is an ordered set of indexes.
type Indexes []Index

func (is Indexes) Get(name string) (IndexSpec, bool) {
	for _, i := range is {
		if i.Name == name {
			return i.IndexSpec, true
		}
	}
	return IndexSpec{}, false
}

func (is Indexes) Names() []string {
	names := make([]string, len(is))
	for i, idx := range is {
		names[i] = idx.Name
	}
	return names
}

func (is Indexes) Clone() Indexes {
	if is == nil {
		return nil
	}
	out := make(Indexes, len(is))
	for i, idx := range is {
		spec := idx.IndexSpec
		spec.Columns = slices.Clone(idx.Columns)
		out[i] = Index{Name: idx.Name, IndexSpec: spec}
	}
	return out
}

// Definition is the declared (or described) layout of one table.
type Definition struct {
	Table   string  `yaml:"table"`
	Engine  string  `yaml:"engine,omitempty"`
	Columns Columns `yaml:"columns"`
	Indexes Indexes `yaml:"indexes,omitempty"`
}

func (d *Definition) Clone() *Definition {
	return &Definition{
		Table:   d.Table,
		Engine:  d.Engine,
		Columns: d.Columns.Clone(),
		Indexes: d.Indexes.Clone(),
	}
}

// Table is a table descriptor as returned by a table listing.
type Table struct {
	Name string
	View bool
}

// Int and String return pointers for the optional ColumnSpec attributes.
func Int(n int) *int { return &n }

func String(s string) *string { return &s }
