package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/hexmirror/hexmirror/lib/store"
	"github.com/hexmirror/hexmirror/lib/store/dstore/internal"
	"github.com/hexmirror/hexmirror/lib/store/tables"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// TableStateMachine is a state machine implementation for Dragonboat RAFT.
// Every replica applies the same transaction batches in log order to its own
// table engine, so all replicas hold identical table contents.
type TableStateMachine struct {
	replicaID uint64
	shardID   uint64
	engine    *tables.Engine
}

// CreateStateMachineFactory returns a function that can be used by dragonboat
// to create a new state machine for a node host.
func CreateStateMachineFactory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &TableStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			engine:    tables.NewEngine(),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the
// corresponding engine method.
func (fsm *TableStateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse the request into a Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	// Handle different Query types
	switch q.Type {
	case internal.QueryTRead:
		rec, found, err := fsm.engine.Get(q.Table, q.Key)
		if err != nil {
			return nil, err
		}
		return internal.ReadResult{
			Record: rec,
			Ok:     found,
		}, nil
	case internal.QueryTSelect:
		rows, rev, err := fsm.engine.Select(q.Table)
		if err != nil {
			return nil, err
		}
		return internal.SelectResult{
			Rows: rows,
			Rev:  rev,
		}, nil
	case internal.QueryTWriteIdx:
		return fsm.engine.WriteIdx(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update handles committed transaction batches. Each entry carries one
// serialized Command whose guards are re-validated against the replica state
// before its mutations are applied; a guard failure yields RetCConflict for
// the proposing coordinator without touching the tables.
func (fsm *TableStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}

		// Deserialize the command
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}

		// Validate and apply atomically, stamped with the log index
		code := fsm.engine.Apply(cmd.Batch, e.Index)
		switch code {
		case store.RetCSuccess:
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCSuccess),
				Data:  []byte(fmt.Sprintf("applied: %d mutations", len(cmd.Batch.Muts))),
			}
		case store.RetCConflict:
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCConflict),
				Data:  []byte("stale read set, transaction must be re-run"),
			}
		default:
			entries[idx].Result = sm.Result{
				Value: uint64(code),
				Data:  []byte("failed to apply transaction batch"),
			}
		}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use
// fuzzy snapshotting
func (fsm *TableStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy engine snapshot to the writer
func (fsm *TableStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.engine.Save(writer)
}

// RecoverFromSnapshot restores the full table contents. This is also the path
// a joining node takes to receive its initial copy of all tables.
func (fsm *TableStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.engine.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *TableStateMachine) Close() error {
	return nil
}
