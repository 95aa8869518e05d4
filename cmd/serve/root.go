package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/hexmirror/hexmirror/cmd/util"
	"github.com/hexmirror/hexmirror/lib/blob"
	"github.com/hexmirror/hexmirror/lib/cluster"
	"github.com/hexmirror/hexmirror/lib/logging"
	"github.com/hexmirror/hexmirror/lib/registry"
	"github.com/hexmirror/hexmirror/lib/store"
	"github.com/hexmirror/hexmirror/lib/store/dstore"
	"github.com/hexmirror/hexmirror/lib/store/lstore"
	"github.com/hexmirror/hexmirror/lib/upstream"
)

var (
	cfg      = &serverConfig{}
	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start the hexmirror registry server",
		Long:    `Start the hexmirror registry server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is HEXMIRROR_<flag> (e.g. HEXMIRROR_LOG_LEVEL=debug)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "shard-id"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("ShardID of the raft shard hosting the catalog tables"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(cluster mode) ReplicaID is the unique identifier for this node (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(cluster mode) ClusterMembers is a comma-separated list of bootstrap members in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "raft-address"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(cluster mode) RaftAddress this node listens on. Defaults to the address listed for this node in cluster-members"))

	key = "join"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("(cluster mode) Join an existing cluster instead of bootstrapping. Requires raft-address; an active member must admit this node"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("(cluster mode) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two nodes. Other raft timing parameters are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Uint64(key, 1000, cmdUtil.WrapString("(cluster mode) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied raft log entries"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Uint64(key, 500, cmdUtil.WrapString("(cluster mode) CompactionOverhead defines the number of applied entries retained after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(cluster mode) DataDir is the directory used for storing the raft log and snapshots"))

	key = "blob-dir"
	ServeCmd.PersistentFlags().String(key, "blobs", cmdUtil.WrapString("BlobDir is the directory used for storing release tarballs and docs archives"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for store operations"))

	key = "heartbeat-interval"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Interval in seconds between membership heartbeats"))

	key = "stale-after"
	ServeCmd.PersistentFlags().Int(key, 30, cmdUtil.WrapString("Seconds without a heartbeat after which a node is reported as stale"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9090", cmdUtil.WrapString("The address on which the metrics and health endpoints will listen"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "upstream-enabled"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Enable cache-aside mirroring from the upstream repository"))

	key = "upstream-api-url"
	ServeCmd.PersistentFlags().String(key, "https://hex.pm/api", cmdUtil.WrapString("Base URL of the upstream JSON API"))

	key = "upstream-repo-url"
	ServeCmd.PersistentFlags().String(key, "https://repo.hex.pm", cmdUtil.WrapString("Base URL of the upstream repository CDN serving tarballs and registry blobs"))

	key = "upstream-api-key"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Authorization key sent with upstream requests"))

	key = "upstream-timeout"
	ServeCmd.PersistentFlags().Int(key, 15000, cmdUtil.WrapString("Timeout in milliseconds for a single upstream request (1000-300000)"))

	key = "upstream-retry-attempts"
	ServeCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("Total number of tries per upstream request (1-9)"))

	key = "upstream-retry-delay"
	ServeCmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("Constant delay in milliseconds between upstream retries (100-60000)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	cfg.ShardID = viper.GetUint64("shard-id")
	cfg.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	cfg.SnapshotEntries = viper.GetUint64("snapshot-entries")
	cfg.CompactionOverhead = viper.GetUint64("compaction-overhead")
	cfg.DataDir = viper.GetString("data-dir")
	cfg.BlobDir = viper.GetString("blob-dir")
	cfg.TimeoutSecond = viper.GetInt64("timeout")
	cfg.HeartbeatSecond = viper.GetInt("heartbeat-interval")
	cfg.StaleAfterSecond = viper.GetInt("stale-after")
	cfg.MetricsEndpoint = viper.GetString("metrics-endpoint")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.Join = viper.GetBool("join")
	cfg.RaftAddress = viper.GetString("raft-address")

	// parse replica id
	cfg.NodeID = viper.GetString("replica-id")
	if cfg.NodeID != "" {
		cfg.ReplicaID = cluster.HashNodeID(cfg.NodeID)
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		cfg.ClusterMembers = make(map[uint64]string)
		cfg.memberNames = make(map[string]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			name := strings.TrimSpace(parts[0])
			addr := strings.TrimSpace(parts[1])
			cfg.ClusterMembers[cluster.HashNodeID(name)] = addr
			cfg.memberNames[name] = addr
		}
	}

	if cfg.clusterMode() {
		if cfg.NodeID == "" {
			return fmt.Errorf("replica-id is required in cluster mode")
		}
		if addr, ok := cfg.ClusterMembers[cfg.ReplicaID]; ok {
			if cfg.RaftAddress == "" {
				cfg.RaftAddress = addr
			}
		} else if !cfg.Join {
			return fmt.Errorf("no address found for replica ID %s in cluster members", cfg.NodeID)
		}
		if cfg.RaftAddress == "" {
			return fmt.Errorf("raft-address is required when joining an existing cluster")
		}
	}

	// upstream settings
	cfg.Upstream = upstream.Config{
		Enabled:       viper.GetBool("upstream-enabled"),
		APIURL:        viper.GetString("upstream-api-url"),
		RepoURL:       viper.GetString("upstream-repo-url"),
		APIKey:        viper.GetString("upstream-api-key"),
		Timeout:       time.Duration(viper.GetInt("upstream-timeout")) * time.Millisecond,
		RetryAttempts: viper.GetInt("upstream-retry-attempts"),
		RetryDelay:    time.Duration(viper.GetInt("upstream-retry-delay")) * time.Millisecond,
	}
	if cfg.Upstream.Enabled {
		if err := cfg.Upstream.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// run starts the registry server
func run(_ *cobra.Command, _ []string) error {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if err := logging.Init(cfg.LogLevel); err != nil {
		return err
	}
	log := logger.GetLogger("server")
	log.Infof("starting hexmirror")
	log.Infof("%s", cfg.String())

	cdc, err := cmdUtil.GetCodec()
	if err != nil {
		return err
	}
	log.Infof("storing rows with the %s codec", cdc.Name())

	blobs, err := blob.NewFSStore(cfg.BlobDir)
	if err != nil {
		return err
	}

	timeout := time.Duration(cfg.TimeoutSecond) * time.Second

	// Create the table store: replicated via raft in cluster mode, plain
	// in-process otherwise.
	var (
		st      store.IStore
		control cluster.ReplicaControl
	)
	if cfg.clusterMode() {
		nodeHost, err := dragonboat.NewNodeHost(cfg.toNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		defer nodeHost.Close()

		initialMembers := cfg.ClusterMembers
		if cfg.Join {
			// Joining nodes receive the membership from the cluster.
			initialMembers = map[uint64]string{}
		}
		if err := nodeHost.StartConcurrentReplica(initialMembers, cfg.Join, dstore.CreateStateMachineFactory(), cfg.toDragonboatConfig()); err != nil {
			return fmt.Errorf("failed to start shard %d: %w", cfg.ShardID, err)
		}

		st = dstore.NewDistributedStore(nodeHost, cfg.ShardID, timeout)
		control = cluster.NewRaftControl(nodeHost, cfg.ShardID)
	} else {
		st = lstore.NewLocalStore()
		control = cluster.NewNoopControl()
	}
	defer st.Close()

	// Upstream client (optional)
	var up registry.UpstreamSource
	if cfg.Upstream.Enabled {
		client, err := upstream.NewClient(cfg.Upstream)
		if err != nil {
			return err
		}
		up = client
	}

	catalog := registry.New(st, blobs, cdc, up)

	// Membership
	manager := cluster.NewManager(st, cdc, control, cluster.Config{
		HeartbeatInterval: time.Duration(cfg.HeartbeatSecond) * time.Second,
		StaleAfter:        time.Duration(cfg.StaleAfterSecond) * time.Second,
	})
	if cfg.clusterMode() {
		registerNode(manager, log)
		manager.StartHeartbeat(cfg.NodeID)
		defer manager.Stop()
	}

	// Metrics, health and cluster admin endpoint
	srv := serveMetrics(catalog, manager, st, log)

	// Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

// registerNode writes this node's membership record. Bootstrap members are
// already part of the raft membership and only announce themselves. A
// joining node cannot reach the shard on its own: its replica is not part of
// the membership until an existing active member has proposed the
// configuration change, so it only waits to be admitted.
func registerNode(manager *cluster.Manager, log logger.ILogger) {
	if cfg.Join {
		log.Infof("waiting for an active member to admit node %s "+
			"(run `hexmirror cluster join %s %s` against one)",
			cfg.NodeID, cfg.NodeID, cfg.RaftAddress)
		return
	}

	go func() {
		if err := manager.Announce(cfg.NodeID, cfg.RaftAddress); err != nil {
			log.Warningf("failed to announce node %s: %v", cfg.NodeID, err)
		}
	}()
}

// newServeMux builds the metrics, health and cluster admin endpoint of one
// node. The /cluster actions run against the shared replicated store, so an
// operator can point them at any active member.
func newServeMux(catalog *registry.Catalog, manager *cluster.Manager, st store.IStore) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		vmetrics.WritePrometheus(w, true)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		version, err := catalog.RegistryVersion()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeIdx, _ := st.WriteIndex()
		members, _ := manager.Members()
		stale, _ := manager.Stale()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           "ok",
			"registry_version": version,
			"write_index":      writeIdx,
			"members":          len(members),
			"stale":            len(stale),
		})
	})

	mux.HandleFunc("/cluster/members", func(w http.ResponseWriter, r *http.Request) {
		members, err := manager.Members()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(members)
	})
	mux.HandleFunc("/cluster/join", func(w http.ResponseWriter, r *http.Request) {
		// Admission of a new node: this member proposes the raft
		// configuration change on the joiner's behalf.
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		nodeID := r.URL.Query().Get("node")
		addr := r.URL.Query().Get("addr")
		if nodeID == "" || addr == "" {
			http.Error(w, "missing node or addr parameter", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := manager.Join(ctx, nodeID, addr); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/cluster/leave", func(w http.ResponseWriter, r *http.Request) {
		clusterAction(w, r, manager.Leave)
	})
	mux.HandleFunc("/cluster/remove", func(w http.ResponseWriter, r *http.Request) {
		clusterAction(w, r, manager.Remove)
	})
	return mux
}

// serveMetrics exposes /metrics (Prometheus), /health and the /cluster admin
// actions on the configured endpoint.
func serveMetrics(catalog *registry.Catalog, manager *cluster.Manager, st store.IStore, log logger.ILogger) *http.Server {
	srv := &http.Server{Addr: cfg.MetricsEndpoint, Handler: newServeMux(catalog, manager, st)}
	go func() {
		log.Infof("metrics listening on %s", cfg.MetricsEndpoint)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server failed: %v", err)
		}
	}()
	return srv
}

// clusterAction runs an operator-driven membership change named by the
// "node" query parameter.
func clusterAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nodeID := r.URL.Query().Get("node")
	if nodeID == "" {
		http.Error(w, "missing node parameter", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := fn(ctx, nodeID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
