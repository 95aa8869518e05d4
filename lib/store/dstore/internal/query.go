package internal

import "github.com/hexmirror/hexmirror/lib/store"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTRead     QueryType = iota // Retrieve a record by key.
	QueryTSelect                    // Retrieve all records of a table plus its revision.
	QueryTWriteIdx                  // Retrieve the write index of the engine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTRead:
		return "Read"
	case QueryTSelect:
		return "Select"
	case QueryTWriteIdx:
		return "WriteIdx"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via
// SyncRead or StaleRead.
type Query struct {
	Type  QueryType
	Table store.Table
	Key   string // empty for table-level queries
}

// ReadResult is the result of a QueryTRead operation.
type ReadResult struct {
	Record store.Record
	Ok     bool
}

// SelectResult is the result of a QueryTSelect operation. Rev is the table
// revision the rows were taken at, used as the transaction's table guard.
type SelectResult struct {
	Rows []store.Record
	Rev  uint64
}
