// Package cluster tracks registry cluster membership. Node records live in
// the replicated node table, so every replica sees the same member list;
// raft configuration changes go through a ReplicaControl so the manager can
// be tested without a running cluster.
//
// The lifecycle of a node is joining -> active -> leaving -> removed. Leave
// and Remove are separate operator steps: Leave announces the intent and
// stops routing, Remove performs the raft membership change and drops the
// record. Stale nodes (no heartbeat within the configured window) are only
// reported, never evicted automatically; a partitioned node that comes back
// resumes heartbeating and leaves the stale list by itself.
package cluster
