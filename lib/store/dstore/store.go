package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hexmirror/hexmirror/lib/store"
	"github.com/hexmirror/hexmirror/lib/store/dstore/internal"
	txnstage "github.com/hexmirror/hexmirror/lib/store/internal"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the distributed store.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the
// state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed store instance which uses
// raft consensus to replicate every committed transaction to all replicas of
// the shard. A commit requires majority acknowledgement; under partition the
// minority side fails transactions instead of diverging.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// propose sends a serialized transaction command via SyncPropose.
// It returns the state machine's return code, or an error for transport
// failures.
func (s *storeImpl) propose(cmd internal.Command) (store.RetCode, error) {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, cmd.Serialize())
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return store.RetCInternalError, store.NewError(store.RetCInternalError, err.Error())
		}
		code := store.RetCode(res.Value)
		if code != store.RetCSuccess && code != store.RetCConflict {
			return code, store.NewError(code, string(res.Data))
		}
		return code, nil
	}
	return store.RetCInternalError, store.NewError(store.RetCInternalError, "timeout")
}

// read is a generic helper function that queries the state machine and
// attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to query
// the state machine. If linearizability is not required, the stale parameter
// can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function
// retries up to 5 times.
func read[R any](s *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		if stale {
			res, err = s.nh.StaleRead(s.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			res, err = s.nh.SyncRead(ctx, s.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Transaction(fn store.TxFunc) error {
	// One internal retry absorbs a lost optimistic race; transient raft
	// unavailability is retried inside propose/read already.
	var code store.RetCode
	for attempt := 0; attempt < 2; attempt++ {
		txn := txnstage.NewTxn(remoteReader{s})

		if err := fn(txn); err != nil {
			return err
		}
		if !txn.HasWrites() {
			// Reads were linearizable, nothing to commit.
			return nil
		}

		var err error
		code, err = s.propose(internal.Command{Batch: txn.Batch()})
		if err != nil {
			return err
		}
		switch code {
		case store.RetCSuccess:
			return nil
		case store.RetCConflict:
			continue
		}
	}
	return store.NewError(store.RetCConflict, "transaction conflicted after retry")
}

func (s *storeImpl) DirtyRead(table store.Table, key string) (store.Record, bool, error) {
	res, err := read[internal.ReadResult](s, internal.Query{
		Type:  internal.QueryTRead,
		Table: table,
		Key:   key,
	}, true) // Note: allow for stale reads
	if err != nil {
		return store.Record{}, false, err
	}
	return res.Record, res.Ok, nil
}

func (s *storeImpl) DirtySelect(table store.Table, pred func(store.Record) bool) ([]store.Record, error) {
	res, err := read[internal.SelectResult](s, internal.Query{
		Type:  internal.QueryTSelect,
		Table: table,
	}, true) // Note: allow for stale reads
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return res.Rows, nil
	}
	out := res.Rows[:0]
	for _, rec := range res.Rows {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *storeImpl) WriteIndex() (uint64, error) {
	return read[uint64](s, internal.Query{
		Type: internal.QueryTWriteIdx,
	}, true) // Note: allow for stale reads
}

func (s *storeImpl) Close() error {
	// The NodeHost is shared with the cluster manager and owned by the
	// process that created it.
	return nil
}

// --------------------------------------------------------------------------
// Reader adapter
// --------------------------------------------------------------------------

// remoteReader lets transactions read committed state through linearizable
// queries against the state machine.
type remoteReader struct {
	s *storeImpl
}

func (r remoteReader) ReadCommitted(table store.Table, key string) (store.Record, bool, error) {
	res, err := read[internal.ReadResult](r.s, internal.Query{
		Type:  internal.QueryTRead,
		Table: table,
		Key:   key,
	}, false)
	if err != nil {
		return store.Record{}, false, err
	}
	return res.Record, res.Ok, nil
}

func (r remoteReader) SelectCommitted(table store.Table) ([]store.Record, uint64, error) {
	res, err := read[internal.SelectResult](r.s, internal.Query{
		Type:  internal.QueryTSelect,
		Table: table,
	}, false)
	if err != nil {
		return nil, 0, err
	}
	return res.Rows, res.Rev, nil
}
