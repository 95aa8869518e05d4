package lstore

import (
	"sync/atomic"

	"github.com/hexmirror/hexmirror/lib/store"
	"github.com/hexmirror/hexmirror/lib/store/internal"
	"github.com/hexmirror/hexmirror/lib/store/tables"
)

type storeImpl struct {
	engine *tables.Engine
	index  atomic.Uint64
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single
// node. It applies transaction batches directly to an in-memory table engine.
func NewLocalStore() store.IStore {
	return &storeImpl{
		engine: tables.NewEngine(),
	}
}

// incAndGetIndex increments the write index and returns the new value.
// It is used to ensure that each committed batch has a unique revision.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Transaction(fn store.TxFunc) error {
	// One internal retry absorbs a lost optimistic race.
	var code store.RetCode
	for attempt := 0; attempt < 2; attempt++ {
		txn := internal.NewTxn(engineReader{s.engine})

		if err := fn(txn); err != nil {
			// Abort: staged writes are discarded with the txn.
			return err
		}
		if !txn.HasWrites() {
			return nil
		}

		code = s.engine.Apply(txn.Batch(), s.incAndGetIndex())
		switch code {
		case store.RetCSuccess:
			return nil
		case store.RetCConflict:
			continue
		default:
			return store.NewError(code, "failed to apply transaction batch")
		}
	}
	return store.NewError(store.RetCConflict, "transaction conflicted after retry")
}

func (s *storeImpl) DirtyRead(table store.Table, key string) (store.Record, bool, error) {
	return s.engine.Get(table, key)
}

func (s *storeImpl) DirtySelect(table store.Table, pred func(store.Record) bool) ([]store.Record, error) {
	rows, _, err := s.engine.Select(table)
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return rows, nil
	}
	out := rows[:0]
	for _, rec := range rows {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *storeImpl) WriteIndex() (uint64, error) {
	return s.engine.WriteIdx(), nil
}

func (s *storeImpl) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Reader adapter
// --------------------------------------------------------------------------

// engineReader lets transactions read committed state straight from the
// engine.
type engineReader struct {
	engine *tables.Engine
}

func (r engineReader) ReadCommitted(table store.Table, key string) (store.Record, bool, error) {
	return r.engine.Get(table, key)
}

func (r engineReader) SelectCommitted(table store.Table) ([]store.Record, uint64, error) {
	return r.engine.Select(table)
}
