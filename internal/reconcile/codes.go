package reconcile

import (
	"errors"

	"github.com/tordrt/dbkit/internal/schema"
	"github.com/tordrt/dbkit/internal/status"
)

// Class is the status class of the schema engine.
const Class = "schemehandle"

// Statuses reported by the engine.
const (
	Validated   = "VALIDATED"
	NoTable     = "NOTABLE"
	Exists      = "EXISTS"
	Differs     = "DIFFERS"
	Created     = "CREATED"
	Altered     = "ALTERED"
	Dropped     = "DROPPED"
	Emptied     = "EMPTIED"
	NoIndex     = "NOINDEX"
	DropSkipped = "DROPSKIPPED"
	InUse       = "INUSE"
	NotInUse    = "NOTINUSE"
	DBError     = "DBERROR"
	DuplPrKey   = "DUPLPRKEY"
	MulAutoInc  = "MULAUTOINC"
	NoColIdx    = "NOCOLIDX"
	IvColIdx    = "IVCOLIDX"
	NoCols      = "NOCOLS"
)

var codes = []status.Decl{
	{Name: Validated, Severity: status.Debug, Message: "definition of table %s validated"},

	{Name: NoTable, Severity: status.Info, Message: "table %s does not exist"},
	{Name: Exists, Severity: status.Info, Message: "table %s exists and matches its definition"},
	{Name: Differs, Severity: status.Info, Message: "table %s differs from its definition, changes: %d"},

	{Name: Created, Severity: status.Success, Message: "table %s created"},
	{Name: Altered, Severity: status.Success, Message: "table %s altered with %d changes"},
	{Name: Dropped, Severity: status.Success, Message: "table %s dropped"},
	{Name: Emptied, Severity: status.Success, Message: "table %s emptied"},

	{Name: NoIndex, Severity: status.Warning, Message: "table %s has no indexes"},
	{Name: DropSkipped, Severity: status.Warning, Message: "table %s altered with %d changes, %d drops skipped"},

	{Name: InUse, Severity: status.Bug, Message: "definition of table %s is still in use"},
	{Name: NotInUse, Severity: status.Bug, Message: "no table definition in use"},

	{Name: DBError, Severity: status.Error, Message: "database error on table %s: %s"},
	{Name: DuplPrKey, Severity: status.Error, Message: "table %s has more than one primary key"},
	{Name: MulAutoInc, Severity: status.Error, Message: "table %s has more than one auto increment column"},
	{Name: NoColIdx, Severity: status.Error, Message: "table %s has an index without columns"},
	{Name: IvColIdx, Severity: status.Error, Message: "table %s has an index on an undeclared column"},
	{Name: NoCols, Severity: status.Error, Message: "table %s has no columns"},
}

// RegisterCodes declares the engine statuses in reg. Calling it again on
// the same registry is a no-op.
func RegisterCodes(reg *status.Registry) error {
	if _, ok := reg.Class(Class); ok {
		return nil
	}
	return reg.Declare(Class, codes...)
}

func validationStatus(err error) string {
	switch {
	case errors.Is(err, schema.ErrNoColumns):
		return NoCols
	case errors.Is(err, schema.ErrMultipleAutoIncrement):
		return MulAutoInc
	case errors.Is(err, schema.ErrDuplicatePrimaryKey):
		return DuplPrKey
	case errors.Is(err, schema.ErrIndexWithoutColumns):
		return NoColIdx
	}
	return IvColIdx
}
