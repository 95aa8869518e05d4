package serve

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lni/dragonboat/v4/config"

	"github.com/hexmirror/hexmirror/lib/upstream"
)

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// serverConfig holds all configuration parameters for the registry server.
type serverConfig struct {
	// Raft shard hosting the table store
	ShardID uint64

	// Node identity
	NodeID      string
	ReplicaID   uint64
	RaftAddress string
	// Join marks a node joining an existing cluster instead of being part
	// of the bootstrap membership.
	Join bool

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ClusterMembers     map[uint64]string
	memberNames        map[string]string

	// Store and artifact settings
	TimeoutSecond int64
	BlobDir       string

	// Membership timing (seconds)
	HeartbeatSecond  int
	StaleAfterSecond int

	// Metrics/health endpoint
	MetricsEndpoint string

	// Logging configuration
	LogLevel string

	// Upstream repository settings
	Upstream upstream.Config
}

// clusterMode reports whether the server runs a replicated store.
func (c *serverConfig) clusterMode() bool {
	return len(c.ClusterMembers) > 0 || c.Join
}

// ToDragonboatConfig converts the serverConfig to a Dragonboat Config
func (c *serverConfig) toDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// toNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *serverConfig) toNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.RaftAddress,
	}
}

// String returns a formatted string representation of the configuration
func (c *serverConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Registry Server")
	addField("Metrics Endpoint", c.MetricsEndpoint)
	addField("Blob Directory", c.BlobDir)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Log Level", c.LogLevel)

	addSection("Upstream")
	addField("Enabled", fmt.Sprintf("%t", c.Upstream.Enabled))
	if c.Upstream.Enabled {
		addField("API URL", c.Upstream.APIURL)
		addField("Repo URL", c.Upstream.RepoURL)
		addField("Timeout", c.Upstream.Timeout.String())
		addField("Retry Attempts", strconv.Itoa(c.Upstream.RetryAttempts))
		addField("Retry Delay", c.Upstream.RetryDelay.String())
	}

	if c.clusterMode() {
		addSection("Node Identity")
		addField("Node ID", c.NodeID)
		addField("Replica ID", strconv.FormatUint(c.ReplicaID, 10))
		addField("RAFT Address", c.RaftAddress)
		addField("Joining", fmt.Sprintf("%t", c.Join))

		addSection("RAFT Parameters")
		addField("Shard ID", strconv.FormatUint(c.ShardID, 10))
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		// Sort names for consistent output
		var names []string
		for name := range c.memberNames {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			addField(name, c.memberNames[name])
		}
	} else {
		addSection("Mode")
		addField("Store", "local (single node)")
	}

	return sb.String()
}
