package db

import (
	"fmt"
	"slices"

	"github.com/tordrt/dbkit/internal/driver"
)

// txStack tracks nested named transactions. The outermost one is a real
// transaction, the ones started inside it are savepoints.
type txStack struct {
	beginSQL string
	names    []string
	// implicit is set when a transaction was started to hold table locks.
	implicit bool
}

func (t *txStack) active() bool { return len(t.names) > 0 }

func (t *txStack) begin(name string) (string, error) {
	if !t.active() {
		t.names = append(t.names, name)
		return t.beginSQL, nil
	}
	if name == "" {
		name = fmt.Sprintf("sp_%d", len(t.names))
	}
	if slices.Contains(t.names, name) {
		return "", &driver.Error{Kind: driver.ErrTransaction, Text: fmt.Sprintf("transaction %q is already active", name)}
	}
	t.names = append(t.names, name)
	return "SAVEPOINT " + name, nil
}

// end returns the statement that commits (or rolls back) the named
// transaction and forgets it together with everything nested in it.
func (t *txStack) end(name string, commit bool) (string, error) {
	if !t.active() {
		return "", &driver.Error{Kind: driver.ErrTransaction, Text: "no active transaction"}
	}
	pos := 0
	if name != "" {
		pos = slices.Index(t.names, name)
		if pos < 0 {
			return "", &driver.Error{Kind: driver.ErrTransaction, Text: fmt.Sprintf("unknown transaction %q", name)}
		}
	}
	sp := t.names[pos]
	t.names = t.names[:pos]
	if pos == 0 {
		t.implicit = false
		if commit {
			return "COMMIT", nil
		}
		return "ROLLBACK", nil
	}
	if commit {
		return "RELEASE SAVEPOINT " + sp, nil
	}
	return "ROLLBACK TO SAVEPOINT " + sp, nil
}

func (t *txStack) reset() {
	t.names = nil
	t.implicit = false
}
