package cluster

import (
	"context"

	"github.com/lni/dragonboat/v4"
)

// ReplicaControl performs raft configuration changes. The manager only
// talks to this interface so membership logic is testable without a
// NodeHost.
type ReplicaControl interface {
	// AddReplica adds a replica to the shard. The new replica starts from a
	// snapshot and catches up before it counts towards the quorum.
	AddReplica(ctx context.Context, replicaID uint64, target string) error
	// RemoveReplica removes a replica from the shard.
	RemoveReplica(ctx context.Context, replicaID uint64) error
}

// raftControl drives membership changes through a dragonboat NodeHost.
type raftControl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
}

// NewRaftControl creates a ReplicaControl for the given shard.
func NewRaftControl(nh *dragonboat.NodeHost, shardID uint64) ReplicaControl {
	return &raftControl{nh: nh, shardID: shardID}
}

func (r *raftControl) AddReplica(ctx context.Context, replicaID uint64, target string) error {
	return r.nh.SyncRequestAddReplica(ctx, r.shardID, replicaID, target, 0)
}

func (r *raftControl) RemoveReplica(ctx context.Context, replicaID uint64) error {
	return r.nh.SyncRequestDeleteReplica(ctx, r.shardID, replicaID, 0)
}

// noopControl is used in single-node mode where there is no raft shard to
// reconfigure.
type noopControl struct{}

// NewNoopControl creates a ReplicaControl that accepts every change.
func NewNoopControl() ReplicaControl {
	return noopControl{}
}

func (noopControl) AddReplica(context.Context, uint64, string) error { return nil }
func (noopControl) RemoveReplica(context.Context, uint64) error      { return nil }
