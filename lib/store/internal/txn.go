package internal

import (
	"github.com/hexmirror/hexmirror/lib/store"
	"github.com/hexmirror/hexmirror/lib/store/tables"
)

// Reader abstracts where a transaction reads committed state from. The local
// store reads its engine directly, the distributed store issues linearizable
// queries against the RAFT state machine.
type Reader interface {
	// ReadCommitted returns the committed record for a key.
	ReadCommitted(table store.Table, key string) (store.Record, bool, error)
	// SelectCommitted returns all committed records of a table plus the
	// table revision the result was taken at.
	SelectCommitted(table store.Table) ([]store.Record, uint64, error)
}

// Txn is the optimistic transaction handle shared by both store
// implementations. It stages writes locally, answers reads from the staged
// overlay first (read-your-writes) and records a guard for every committed
// record it observed. Committing is the caller's job: the collected batch is
// applied atomically by the engine, which re-validates all guards.
type Txn struct {
	reader  Reader
	guards  []tables.Guard
	guarded map[string]struct{}
	muts    []tables.Mutation
}

// NewTxn creates a transaction handle reading committed state through reader.
func NewTxn(reader Reader) *Txn {
	return &Txn{
		reader:  reader,
		guarded: make(map[string]struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (t *Txn) Read(table store.Table, key string) (store.Record, bool, error) {
	// Staged writes win over committed state.
	if m, ok := t.stagedFor(table, key); ok {
		if m.Op == tables.MutDelete {
			return store.Record{}, false, nil
		}
		return store.Record{Key: key, Value: append([]byte(nil), m.Value...)}, true, nil
	}

	rec, found, err := t.reader.ReadCommitted(table, key)
	if err != nil {
		return store.Record{}, false, err
	}
	t.guard(tables.Guard{Table: table, Key: key, Rev: rec.Rev, Exists: found})
	return rec, found, nil
}

func (t *Txn) Select(table store.Table, pred func(store.Record) bool) ([]store.Record, error) {
	rows, rev, err := t.reader.SelectCommitted(table)
	if err != nil {
		return nil, err
	}
	t.guard(tables.Guard{Table: table, Rev: rev, Exists: true})

	// Overlay the staged writes of this transaction.
	merged := make(map[string]store.Record, len(rows))
	for _, rec := range rows {
		merged[rec.Key] = rec
	}
	for _, m := range t.muts {
		if m.Table != table {
			continue
		}
		switch m.Op {
		case tables.MutPut:
			merged[m.Key] = store.Record{Key: m.Key, Value: append([]byte(nil), m.Value...)}
		case tables.MutDelete:
			delete(merged, m.Key)
		}
	}

	out := make([]store.Record, 0, len(merged))
	for _, rec := range merged {
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (t *Txn) Write(table store.Table, key string, value []byte) error {
	t.muts = append(t.muts, tables.Mutation{
		Op:    tables.MutPut,
		Table: table,
		Key:   key,
		Value: append([]byte(nil), value...),
	})
	return nil
}

func (t *Txn) Delete(table store.Table, key string) error {
	t.muts = append(t.muts, tables.Mutation{
		Op:    tables.MutDelete,
		Table: table,
		Key:   key,
	})
	return nil
}

// --------------------------------------------------------------------------
// Commit support
// --------------------------------------------------------------------------

// HasWrites reports whether the transaction staged any mutation. Read-only
// transactions skip the commit step entirely.
func (t *Txn) HasWrites() bool {
	return len(t.muts) > 0
}

// Batch returns the commit unit of this transaction.
func (t *Txn) Batch() tables.Batch {
	return tables.Batch{Guards: t.guards, Muts: t.muts}
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// stagedFor returns the latest staged mutation for a key, if any.
func (t *Txn) stagedFor(table store.Table, key string) (tables.Mutation, bool) {
	for i := len(t.muts) - 1; i >= 0; i-- {
		if t.muts[i].Table == table && t.muts[i].Key == key {
			return t.muts[i], true
		}
	}
	return tables.Mutation{}, false
}

// guard records a read guard once per (table, key).
func (t *Txn) guard(g tables.Guard) {
	id := string(g.Table) + "\x00" + g.Key
	if _, ok := t.guarded[id]; ok {
		return
	}
	t.guarded[id] = struct{}{}
	t.guards = append(t.guards, g)
}
