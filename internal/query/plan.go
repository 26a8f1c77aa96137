package query

import "fmt"

// Kind is the kind of statement a plan compiles to.
type Kind int

const (
	Read Kind = iota + 1
	Insert
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Limit restricts the number of rows a statement reads or changes.
type Limit struct {
	Count  int
	Offset int
}

// Plan is everything needed to compile one statement.
//
// Fields holds the SELECT list and the filters for reads, the values for
// inserts and the filters for updates and deletes. Set holds the
// assignments of an update. When Tables is empty the tables are taken from
// the fields in order of appearance.
type Plan struct {
	Kind   Kind
	Tables []string
	Fields []FieldDescriptor
	Set    []FieldDescriptor
	Joins  []Join
	Limit  *Limit
}

// tables returns the plan's tables, or those referenced by its fields.
func (p Plan) tables() []string {
	if len(p.Tables) > 0 {
		return p.Tables
	}
	var out []string
	seen := make(map[string]bool)
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, fd := range p.Set {
		add(fd.Table)
	}
	for _, fd := range p.Fields {
		add(fd.Table)
	}
	for _, j := range p.Joins {
		add(j.Left.Table)
		add(j.Right.Table)
	}
	return out
}
