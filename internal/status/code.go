package status

import "fmt"

// Code is a packed status value:
//
//	application(8) | class(12) | sequence(8) | severity(4)
type Code uint32

const (
	appMask      Code = 0xff000000
	classMask    Code = 0x00fff000
	sequenceMask Code = 0x00000ff0
	severityMask Code = 0x0000000f

	classStep    Code = 0x1000
	sequenceStep Code = 0x10
)

// App returns the application id.
func (c Code) App() uint8 { return uint8((c & appMask) >> 24) }

// Class returns the class part of the code, still in place (so it can be
// compared against the value RegisterClass returned).
func (c Code) Class() Code { return c & (appMask | classMask) }

// Sequence returns the sequence number within the class and severity.
func (c Code) Sequence() uint8 { return uint8((c & sequenceMask) >> 4) }

// Severity returns the severity encoded in the low bits.
func (c Code) Severity() Severity { return Severity(c & severityMask) }

func (c Code) String() string { return fmt.Sprintf("0x%08x", uint32(c)) }
