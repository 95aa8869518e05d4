package tables

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"sync"

	"github.com/hexmirror/hexmirror/lib/store"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum       = "HXTABLES\x00" // Snapshot format identifier
	snapshotFormat = 1              // Snapshot format version
)

// --------------------------------------------------------------------------
// Batch Types
// --------------------------------------------------------------------------

// MutOp defines the possible mutation operations of a batch.
type MutOp uint8

const (
	MutPut    MutOp = iota // Insert or update a record.
	MutDelete              // Remove a record.
)

// Mutation is a single staged write of a transaction.
type Mutation struct {
	Op    MutOp
	Table store.Table
	Key   string
	Value []byte
}

// Guard captures what a transaction observed when it read. A key guard
// (Key != "") pins the revision of a single record, or its absence when
// Exists is false. A table guard (Key == "") pins the revision of the whole
// table and is recorded by Select.
type Guard struct {
	Table  store.Table
	Key    string
	Rev    uint64
	Exists bool
}

// Batch is the commit unit of a transaction: the read set to validate and
// the write set to apply. A batch is applied atomically or not at all.
type Batch struct {
	Guards []Guard
	Muts   []Mutation
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine is the in-memory table engine shared by the local and the
// distributed store. It keeps one map per table plus per-record and
// per-table revisions used for optimistic transaction validation.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	tables   map[store.Table]map[string]store.Record
	tableRev map[store.Table]uint64
	writeIdx uint64
}

// NewEngine creates an empty engine with all registry tables initialized.
func NewEngine() *Engine {
	e := &Engine{
		tables:   make(map[store.Table]map[string]store.Record, len(store.AllTables)),
		tableRev: make(map[store.Table]uint64, len(store.AllTables)),
	}
	for _, t := range store.AllTables {
		e.tables[t] = make(map[string]store.Record)
		e.tableRev[t] = 0
	}
	return e
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

// Get retrieves a copy of the record for an exact key.
// The boolean return value indicates whether the record was found.
func (e *Engine) Get(table store.Table, key string) (store.Record, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rows, ok := e.tables[table]
	if !ok {
		return store.Record{}, false, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown table: %s", table))
	}
	rec, ok := rows[key]
	if !ok {
		return store.Record{}, false, nil
	}
	return copyRecord(rec), true, nil
}

// Select returns copies of all records of a table together with the current
// table revision. Filtering happens at the caller; the engine hands out the
// full table so that the revision it reports matches the data it returned.
func (e *Engine) Select(table store.Table) ([]store.Record, uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rows, ok := e.tables[table]
	if !ok {
		return nil, 0, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown table: %s", table))
	}
	out := make([]store.Record, 0, len(rows))
	for _, rec := range rows {
		out = append(out, copyRecord(rec))
	}
	return out, e.tableRev[table], nil
}

// WriteIdx returns the logical write index of the last applied batch.
func (e *Engine) WriteIdx() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.writeIdx
}

// --------------------------------------------------------------------------
// Batch Application
// --------------------------------------------------------------------------

// Apply validates the guards of a batch against the current state and, if
// they all still hold, applies every mutation with idx as the new revision.
// Validation and application happen under one lock so no concurrent batch
// can interleave. The returned code is RetCSuccess, RetCConflict when a
// guard failed, or RetCInvalidOperation for an unknown table.
func (e *Engine) Apply(batch Batch, idx uint64) store.RetCode {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Validate tables first so a malformed batch never half-applies.
	for _, m := range batch.Muts {
		if _, ok := e.tables[m.Table]; !ok {
			return store.RetCInvalidOperation
		}
	}

	for _, g := range batch.Guards {
		rows, ok := e.tables[g.Table]
		if !ok {
			return store.RetCInvalidOperation
		}
		if g.Key == "" {
			// Table guard: the table must not have changed since the select.
			if e.tableRev[g.Table] != g.Rev {
				return store.RetCConflict
			}
			continue
		}
		rec, found := rows[g.Key]
		if g.Exists {
			if !found || rec.Rev != g.Rev {
				return store.RetCConflict
			}
		} else if found {
			return store.RetCConflict
		}
	}

	for _, m := range batch.Muts {
		rows := e.tables[m.Table]
		switch m.Op {
		case MutPut:
			val := make([]byte, len(m.Value))
			copy(val, m.Value)
			rows[m.Key] = store.Record{Key: m.Key, Value: val, Rev: idx}
		case MutDelete:
			delete(rows, m.Key)
		}
		e.tableRev[m.Table] = idx
	}

	if idx > e.writeIdx {
		e.writeIdx = idx
	}
	return store.RetCSuccess
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// snapshot is the gob-encoded on-disk layout of an engine.
type snapshot struct {
	Format   int
	Tables   map[store.Table]map[string]store.Record
	TableRev map[store.Table]uint64
	WriteIdx uint64
}

// Save persists the current state of the engine to the provided io.Writer.
func (e *Engine) Save(w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	snap := snapshot{
		Format:   snapshotFormat,
		Tables:   e.tables,
		TableRev: e.tableRev,
		WriteIdx: e.writeIdx,
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return bw.Flush()
}

// Load restores the engine state from data provided by an io.Reader,
// replacing all current contents.
func (e *Engine) Load(r io.Reader) error {
	br := bufio.NewReader(r)

	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if string(magic) != magicNum {
		return fmt.Errorf("invalid snapshot header")
	}

	var snap snapshot
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Format != snapshotFormat {
		return fmt.Errorf("unsupported snapshot format %d", snap.Format)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables = snap.Tables
	e.tableRev = snap.TableRev
	e.writeIdx = snap.WriteIdx

	// Older snapshots may predate a table; make sure all tables exist.
	for _, t := range store.AllTables {
		if _, ok := e.tables[t]; !ok {
			e.tables[t] = make(map[string]store.Record)
		}
		if _, ok := e.tableRev[t]; !ok {
			e.tableRev[t] = 0
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// copyRecord returns a deep copy so callers can never mutate engine state.
func copyRecord(rec store.Record) store.Record {
	val := make([]byte, len(rec.Value))
	copy(val, rec.Value)
	return store.Record{Key: rec.Key, Value: val, Rev: rec.Rev}
}
