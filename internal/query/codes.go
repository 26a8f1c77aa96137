package query

import (
	"errors"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/status"
)

// Class is the status class of database handles.
const Class = "dbhandle"

// Statuses reported by handles and the manager.
const (
	QPrepared  = "QPREPARED"
	RowsRead   = "ROWSREAD"
	TxStarted  = "TXSTARTED"
	TxEnded    = "TXENDED"
	Locked     = "LOCKED"
	Unlocked   = "UNLOCKED"
	Opened     = "OPENED"
	Closed     = "CLOSED"
	DBCreated  = "DBCREATED"
	Updated    = "UPDATED"
	NoData     = "NODATA"
	NoQuery    = "NOQUERY"
	NoTables   = "NOTABLES"
	NoValues   = "NOVALUES"
	MultiTable = "MULTITABLE"

	InvalidFunction = "IVFUNCTION"
	InvalidField    = "IVFLDFORMAT"
	InvalidKind     = "IVKIND"
	InvalidShape    = "IVSHAPE"
	Unsupported     = "UNSUPPORTED"
	CloneOfClone    = "CLONEACLONE"
	NotAClone       = "NOTACLONE"
	ConnectErr      = "CONNECTERR"
	CreateErr       = "CREATERR"
	DBClosed        = "DBCLOSED"
	QueryErr        = "QUERYERR"
	TxErr           = "TXERR"
	LockErr         = "LOCKERR"
)

var codes = []status.Decl{
	{Name: QPrepared, Severity: status.Debug, Message: "prepared %s statement: %s"},
	{Name: RowsRead, Severity: status.Debug, Message: "%d rows read with query: %s"},
	{Name: TxStarted, Severity: status.Debug, Message: "transaction %q started"},
	{Name: TxEnded, Severity: status.Debug, Message: "transaction %q ended with %s"},
	{Name: Locked, Severity: status.Debug, Message: "tables %v locked for %s"},
	{Name: Unlocked, Severity: status.Debug, Message: "tables %v unlocked"},

	{Name: NoData, Severity: status.Info, Message: "query had no results"},

	{Name: Opened, Severity: status.Success, Message: "database %s opened on %s"},
	{Name: Closed, Severity: status.Success, Message: "database %s closed"},
	{Name: DBCreated, Severity: status.Success, Message: "database %s created"},
	{Name: Updated, Severity: status.Success, Message: "%d rows affected by %s"},

	{Name: NoQuery, Severity: status.Bug, Message: "no statement prepared"},
	{Name: InvalidKind, Severity: status.Bug, Message: "invalid statement kind: %v"},
	{Name: InvalidShape, Severity: status.Bug, Message: "invalid read shape %d"},

	{Name: NoTables, Severity: status.Error, Message: "no tables given for %s statement"},
	{Name: NoValues, Severity: status.Error, Message: "no values given for %s statement"},
	{Name: MultiTable, Severity: status.Error, Message: "%s statement spans more than one table"},
	{Name: InvalidFunction, Severity: status.Error, Message: "invalid function in %s statement"},
	{Name: InvalidField, Severity: status.Error, Message: "invalid field descriptor in %s statement"},
	{Name: Unsupported, Severity: status.Error, Message: "%s statement uses a clause the backend does not support"},
	{Name: CloneOfClone, Severity: status.Error, Message: "handle %s is a clone and cannot be cloned"},
	{Name: NotAClone, Severity: status.Error, Message: "handle %s is not a clone"},
	{Name: ConnectErr, Severity: status.Error, Message: "cannot connect to database %s on %s as %s"},
	{Name: CreateErr, Severity: status.Error, Message: "cannot create database %s: error %s: %s"},
	{Name: DBClosed, Severity: status.Error, Message: "database is not open"},
	{Name: QueryErr, Severity: status.Error, Message: "query failed: %s"},
	{Name: TxErr, Severity: status.Error, Message: "transaction %q failed"},
	{Name: LockErr, Severity: status.Error, Message: "locking tables %v failed"},
}

// RegisterCodes declares the handle statuses in reg. Calling it again on
// the same registry is a no-op.
func RegisterCodes(reg *status.Registry) error {
	if _, ok := reg.Class(Class); ok {
		return nil
	}
	return reg.Declare(Class, codes...)
}

// prepareStatus maps a compile error to the status it is reported as.
func prepareStatus(err error) string {
	switch {
	case errors.Is(err, ErrNoTables):
		return NoTables
	case errors.Is(err, ErrNoValues):
		return NoValues
	case errors.Is(err, ErrMultiTableInsert):
		return MultiTable
	case errors.Is(err, ErrInvalidFunction):
		return InvalidFunction
	case errors.Is(err, ErrInvalidKind):
		return InvalidKind
	case errors.Is(err, driver.ErrUnsupported):
		return Unsupported
	}
	return InvalidField
}
