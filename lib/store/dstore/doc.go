// Package dstore provides the distributed implementation of the store.IStore
// interface on top of the Dragonboat RAFT consensus library.
//
// Transactions are coordinated optimistically: the transaction function runs
// on the proposing node, reading committed state through linearizable
// SyncRead queries while recording the revision of everything it read. Its
// staged writes are then proposed as one log entry. Every replica
// re-validates the recorded read set when applying the entry; if a concurrent
// commit invalidated it, the entry applies as a no-op conflict and the
// coordinator re-runs the transaction function once before surfacing the
// conflict.
//
// Because commits travel through the raft log, a transaction is acknowledged
// only once a majority of replicas has accepted it. This is the documented
// commit policy of this system: consistency is favored over availability, so
// a partitioned minority fails writes instead of diverging and losing updates
// on rejoin.
//
// New replicas receive their initial state via the RAFT snapshot mechanism
// (see TableStateMachine.RecoverFromSnapshot), which transfers the full table
// contents of the shard.
package dstore
