// Package internal holds the transaction staging logic shared by the local
// and the distributed store: the overlay of staged writes, read-your-writes
// resolution and read-guard collection. It is not part of the public store
// API.
package internal
