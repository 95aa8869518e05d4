package store

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Tables
// --------------------------------------------------------------------------

// Table identifies one of the fixed registry tables.
type Table string

const (
	TablePackages Table = "packages"
	TableReleases Table = "releases"
	TableOwners   Table = "owners"
	TableNodes    Table = "nodes"
	TableVersion  Table = "registry_version"
)

// AllTables lists every table a store must provide.
var AllTables = []Table{
	TablePackages,
	TableReleases,
	TableOwners,
	TableNodes,
	TableVersion,
}

// Record is a single row of a table. Rev is the logical write index of the
// last mutation that touched the record and is used for optimistic
// transaction validation.
type Record struct {
	Key   string
	Value []byte
	Rev   uint64
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Tx is the handle passed to a transaction function. All methods are only
// valid for the duration of the function. Reads observe the committed state
// plus any writes staged by this transaction (read-your-writes).
type Tx interface {
	// Read returns the record for a key. The boolean return value indicates
	// whether the record was found.
	Read(table Table, key string) (Record, bool, error)
	// Select returns all records of a table matching the predicate.
	Select(table Table, pred func(Record) bool) ([]Record, error)
	// Write stages an insert or update of a record.
	Write(table Table, key string, value []byte) error
	// Delete stages the removal of a record.
	Delete(table Table, key string) error
}

// TxFunc is the body of a transaction. Returning a non-nil error aborts the
// transaction and discards all staged writes; the error is surfaced to the
// caller unchanged.
type TxFunc func(tx Tx) error

// IStore is the generic interface for the replicated table store. All catalog
// mutations go through Transaction; DirtyRead/DirtySelect are best-effort
// snapshot reads that must never feed a mutating decision.
type IStore interface {
	// Transaction executes fn with atomic visibility of its staged writes.
	// The commit is all-or-nothing: either every staged write becomes visible
	// to other transactions at once, or none do. A conflicting concurrent
	// commit causes one internal re-run of fn before a *Error with
	// RetCConflict is surfaced.
	Transaction(fn TxFunc) error
	// DirtyRead returns a record without transactional isolation.
	DirtyRead(table Table, key string) (Record, bool, error)
	// DirtySelect returns matching records without transactional isolation.
	DirtySelect(table Table, pred func(Record) bool) ([]Record, error)
	// WriteIndex returns the logical index of the last committed batch. It
	// only moves forward and serves as a cheap progress indicator.
	WriteIndex() (uint64, error)
	// Close releases all resources held by the store.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCConflict:
		errorCode = "Conflict"
	case RetCInvalidOperation:
		errorCode = "InvalidOperation"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("StoreError (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new store Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// IsConflict reports whether err is a store Error carrying RetCConflict.
func IsConflict(err error) bool {
	se, ok := err.(*Error)
	return ok && se.Code == RetCConflict
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCConflict                        // 2: Optimistic validation failed, a concurrent commit won.
	RetCInvalidOperation                // 3: Invalid operation (unknown table, malformed command).
)
