// Package internal defines the wire representation of transaction commits
// (Command) and read-only lookups (Query) exchanged with the RAFT state
// machine. Commands use a hand-rolled length-prefixed binary layout since
// every committed transaction passes through it.
package internal
