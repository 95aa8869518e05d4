// Package lstore provides the single-node implementation of the store.IStore
// interface. Transactions run optimistically against one in-memory table
// engine; commit validation and application happen atomically under the
// engine lock, so two transactions touching the same record serialize while
// disjoint transactions proceed concurrently.
package lstore
