// Package registry implements the package catalog: publishing local
// releases, resolving packages with local-over-cached source priority,
// cache-aside filling from the upstream repository, listing and searching,
// cache eviction, ownership and release retirement.
//
// Rows live in the replicated table store; every mutation runs as one store
// transaction that also bumps the monotone registry version counter, so a
// single committed change is enough for clients to detect staleness. The
// source of a row (local or cached) is fixed at creation. When one name
// exists under both sources the local rows win; the cached rows stay
// untouched and are reported as shadowed by listings.
//
// Upstream fetches never run inside a store transaction: the catalog
// fetches first and then commits the result as an idempotent upsert, so
// slow upstreams cannot stall the store and concurrent fills of the same
// package converge.
package registry
