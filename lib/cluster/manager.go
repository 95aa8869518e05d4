package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/hexmirror/hexmirror/lib/codec"
	"github.com/hexmirror/hexmirror/lib/store"
)

var log = logger.GetLogger("cluster")

// Config holds the membership timing parameters.
type Config struct {
	// HeartbeatInterval is how often a node refreshes its LastSeen stamp.
	HeartbeatInterval time.Duration
	// StaleAfter is how long a node may stay silent before it is reported
	// as stale.
	StaleAfter time.Duration
}

// DefaultConfig returns the membership defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		StaleAfter:        30 * time.Second,
	}
}

// Manager maintains the node table and drives raft membership changes.
type Manager struct {
	store   store.IStore
	codec   codec.ICodec
	control ReplicaControl
	cfg     Config

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a membership manager on top of the shared store.
func NewManager(s store.IStore, cdc codec.ICodec, control ReplicaControl, cfg Config) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}
	return &Manager{
		store:   s,
		codec:   cdc,
		control: control,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Membership changes
// --------------------------------------------------------------------------

// Join adds a node to the cluster. The record is written as joining first,
// then the raft membership change runs, then the record flips to active.
// Rejoining a node that never completed its join (or announced leave) is
// allowed; joining an active node fails with ErrAlreadyMember.
func (m *Manager) Join(ctx context.Context, nodeID, raftAddress string) error {
	if nodeID == "" || raftAddress == "" {
		return fmt.Errorf("node ID and raft address are required")
	}

	now := time.Now().UTC()
	node := Node{
		ID:          nodeID,
		ReplicaID:   HashNodeID(nodeID),
		RaftAddress: raftAddress,
		Status:      StatusJoining,
		JoinedAt:    now,
		LastSeen:    now,
	}

	err := m.store.Transaction(func(tx store.Tx) error {
		if rec, ok, err := tx.Read(store.TableNodes, nodeID); err != nil {
			return err
		} else if ok {
			prev, err := m.decodeNode(rec)
			if err != nil {
				return err
			}
			if prev.Status == StatusActive {
				return fmt.Errorf("%w: %s", ErrAlreadyMember, nodeID)
			}
			node.JoinedAt = prev.JoinedAt
		}
		return m.writeNode(tx, node)
	})
	if err != nil {
		return err
	}

	if err := m.control.AddReplica(ctx, node.ReplicaID, raftAddress); err != nil {
		return fmt.Errorf("failed to add replica %s: %w", nodeID, err)
	}

	node.Status = StatusActive
	if err := m.store.Transaction(func(tx store.Tx) error {
		return m.writeNode(tx, node)
	}); err != nil {
		return err
	}

	log.Infof("node %s (%d) joined at %s", nodeID, node.ReplicaID, raftAddress)
	return nil
}

// Announce writes the node record of a bootstrap member as active, without
// a raft configuration change. Initial cluster members are already part of
// the raft membership when the shard starts; only later joiners go through
// Join.
func (m *Manager) Announce(nodeID, raftAddress string) error {
	now := time.Now().UTC()
	node := Node{
		ID:          nodeID,
		ReplicaID:   HashNodeID(nodeID),
		RaftAddress: raftAddress,
		Status:      StatusActive,
		JoinedAt:    now,
		LastSeen:    now,
	}
	return m.store.Transaction(func(tx store.Tx) error {
		if rec, ok, err := tx.Read(store.TableNodes, nodeID); err != nil {
			return err
		} else if ok {
			prev, err := m.decodeNode(rec)
			if err != nil {
				return err
			}
			node.JoinedAt = prev.JoinedAt
		}
		return m.writeNode(tx, node)
	})
}

// Leave announces that a node is going away. The node keeps serving until
// Remove is called; the two-step dance lets operators drain traffic first.
func (m *Manager) Leave(ctx context.Context, nodeID string) error {
	err := m.updateNode(nodeID, func(node *Node) error {
		node.Status = StatusLeaving
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("node %s is leaving", nodeID)
	return nil
}

// Remove performs the raft membership change and deletes the node record.
// It refuses nodes that have not announced leave.
func (m *Manager) Remove(ctx context.Context, nodeID string) error {
	var replicaID uint64
	err := m.store.Transaction(func(tx store.Tx) error {
		rec, ok, err := tx.Read(store.TableNodes, nodeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
		}
		node, err := m.decodeNode(rec)
		if err != nil {
			return err
		}
		if node.Status != StatusLeaving {
			return fmt.Errorf("%w: %s is %s", ErrNotLeaving, nodeID, node.Status)
		}
		replicaID = node.ReplicaID
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.control.RemoveReplica(ctx, replicaID); err != nil {
		return fmt.Errorf("failed to remove replica %s: %w", nodeID, err)
	}

	if err := m.store.Transaction(func(tx store.Tx) error {
		return tx.Delete(store.TableNodes, nodeID)
	}); err != nil {
		return err
	}

	log.Infof("node %s (%d) removed", nodeID, replicaID)
	return nil
}

// Heartbeat refreshes the LastSeen stamp of a node.
func (m *Manager) Heartbeat(nodeID string) error {
	return m.updateNode(nodeID, func(node *Node) error {
		node.LastSeen = time.Now().UTC()
		return nil
	})
}

// --------------------------------------------------------------------------
// Views
// --------------------------------------------------------------------------

// Members lists all node records, sorted by ID. The read is dirty; the
// member list is operator information, not a routing decision.
func (m *Manager) Members() ([]Node, error) {
	recs, err := m.store.DirtySelect(store.TableNodes, func(store.Record) bool { return true })
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(recs))
	for _, rec := range recs {
		node, err := m.decodeNode(rec)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// Stale reports active nodes whose last heartbeat is older than StaleAfter.
// Stale nodes are never removed automatically.
func (m *Manager) Stale() ([]Node, error) {
	members, err := m.Members()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-m.cfg.StaleAfter)
	var stale []Node
	for _, node := range members {
		if node.Status == StatusActive && node.LastSeen.Before(cutoff) {
			stale = append(stale, node)
		}
	}
	return stale, nil
}

// --------------------------------------------------------------------------
// Heartbeat loop
// --------------------------------------------------------------------------

// StartHeartbeat launches the background heartbeat loop for the local node.
// Stop ends it.
func (m *Manager) StartHeartbeat(nodeID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if err := m.Heartbeat(nodeID); err != nil {
					log.Warningf("heartbeat for %s failed: %v", nodeID, err)
				}
			}
		}
	}()
}

// Stop ends the heartbeat loop and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// --------------------------------------------------------------------------
// Row helpers
// --------------------------------------------------------------------------

func (m *Manager) decodeNode(rec store.Record) (Node, error) {
	var node Node
	if err := m.codec.Decode(rec.Value, &node); err != nil {
		return Node{}, fmt.Errorf("decoding node record %s: %w", rec.Key, err)
	}
	return node, nil
}

func (m *Manager) writeNode(tx store.Tx, node Node) error {
	data, err := m.codec.Encode(node)
	if err != nil {
		return fmt.Errorf("encoding node record %s: %w", node.ID, err)
	}
	return tx.Write(store.TableNodes, node.ID, data)
}

// updateNode applies fn to an existing node record in one transaction.
func (m *Manager) updateNode(nodeID string, fn func(*Node) error) error {
	return m.store.Transaction(func(tx store.Tx) error {
		rec, ok, err := tx.Read(store.TableNodes, nodeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
		}
		node, err := m.decodeNode(rec)
		if err != nil {
			return err
		}
		if err := fn(&node); err != nil {
			return err
		}
		return m.writeNode(tx, node)
	})
}
