// Package store defines the transactional table store every other registry
// subsystem is built on. It provides serializable multi-record transactions
// over a fixed set of tables (packages, releases, owners, nodes,
// registry_version) together with unified, code-based error reporting.
//
// The package focuses on:
//   - A unified interface (IStore) for transactional table access across
//     different backends
//   - Optimistic concurrency: transactions record the revision of every
//     record they read and commit only if none of them changed in the
//     meantime
//   - Best-effort dirty reads for low-stakes diagnostics outside of any
//     transaction
//
// Key Components:
//
//   - IStore Interface: The core abstraction. Transaction executes a TxFunc
//     with atomic all-or-nothing visibility of its writes; an error returned
//     by the function rolls back every staged write. Conflicting commits are
//     re-run once internally before being surfaced as RetCConflict.
//
//   - Tx Interface: The in-transaction handle offering Read, Select, Write
//     and Delete over the fixed tables. Reads observe committed state plus
//     the transaction's own staged writes.
//
//   - Error System: A structured error reporting mechanism using typed error
//     codes and descriptive messages, allowing callers to distinguish
//     transient conflicts from internal failures.
//
// Implementations:
//
//	The package includes two implementations of the IStore interface:
//
//	- Local Store (lstore): A single-node implementation over the in-memory
//	  table engine. Suitable for single-process deployments and tests.
//	  Available in the "github.com/hexmirror/hexmirror/lib/store/lstore"
//	  package.
//
//	- Distributed Store (dstore): An implementation built on the Dragonboat
//	  RAFT consensus library. Transactions are prepared optimistically on the
//	  coordinating node and committed as a single atomic log entry that every
//	  replica applies. A commit requires acknowledgement by a majority of
//	  replicas; this trades availability under partition for the absence of
//	  lost updates. Available in the
//	  "github.com/hexmirror/hexmirror/lib/store/dstore" package.
package store
