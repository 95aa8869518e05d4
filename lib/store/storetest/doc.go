// Package storetest provides a reusable conformance test suite for
// store.IStore implementations. Both the local and the distributed store are
// expected to pass the same suite, which covers commit visibility, rollback,
// read-your-writes, selects over staged state and lost-update protection
// under concurrent writers.
package storetest
