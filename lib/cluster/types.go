package cluster

import (
	"errors"
	"time"
)

// NodeStatus is the lifecycle state of a cluster member.
type NodeStatus string

const (
	// StatusJoining marks a node whose raft membership change is pending.
	StatusJoining NodeStatus = "joining"
	// StatusActive marks a fully joined node.
	StatusActive NodeStatus = "active"
	// StatusLeaving marks a node announced for removal.
	StatusLeaving NodeStatus = "leaving"
)

// Node is one row of the node table.
type Node struct {
	// ID is the operator-chosen node name (e.g. "node-1").
	ID string `json:"id"`
	// ReplicaID is the raft replica ID derived from ID.
	ReplicaID uint64 `json:"replica_id"`
	// RaftAddress is the host:port the replica listens on.
	RaftAddress string     `json:"raft_address"`
	Status      NodeStatus `json:"status"`
	JoinedAt    time.Time  `json:"joined_at"`
	LastSeen    time.Time  `json:"last_seen"`
}

var (
	// ErrUnknownNode means no record exists for the node ID.
	ErrUnknownNode = errors.New("unknown node")
	// ErrAlreadyMember means a join was attempted for an active node.
	ErrAlreadyMember = errors.New("node is already a member")
	// ErrNotLeaving means remove was attempted before leave.
	ErrNotLeaving = errors.New("node has not announced leave")
)

// HashNodeID maps a node name to its raft replica ID (FNV-1a).
func HashNodeID(id string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	hash := uint64(offset64)
	for i := 0; i < len(id); i++ {
		hash ^= uint64(id[i])
		hash *= prime64
	}
	return hash
}
