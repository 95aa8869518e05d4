// Package tables implements the in-memory table engine backing both store
// implementations. It holds one map per registry table, tracks a revision per
// record and per table, and applies transaction batches atomically after
// validating their read guards.
//
// The engine is deliberately dumb: it knows nothing about packages or
// releases and nothing about replication. The local store wraps a single
// engine directly; the distributed store embeds one engine per replica inside
// the RAFT state machine, so that applying the same batches in the same order
// yields the same state everywhere.
//
// Snapshots (Save/Load) use a small magic header followed by a gob-encoded
// dump of all tables and are used both for RAFT snapshotting and for
// transferring the full table contents to a joining node.
package tables
