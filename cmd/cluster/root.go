package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/hexmirror/hexmirror/cmd/util"
	"github.com/hexmirror/hexmirror/lib/cluster"
)

var (
	ClusterCmd = &cobra.Command{
		Use:   "cluster",
		Short: "Inspect and manage cluster membership",
		Long:  "Operator commands for cluster membership. They talk to the admin endpoint of a running node (the same address that serves /metrics and /health).",
	}

	statusCmd = &cobra.Command{
		Use:     "status",
		Short:   "Show the membership of the cluster",
		PreRunE: processClusterConfig,
		RunE:    runStatus,
	}

	joinCmd = &cobra.Command{
		Use:     "join <node-id> <raft-address>",
		Short:   "Admit a new node into the cluster",
		Long:    "Admit a new node into the cluster. Run this against an ACTIVE member; the new node must already be running with join=true and the given raft address.",
		Args:    cobra.ExactArgs(2),
		PreRunE: processClusterConfig,
		RunE: func(_ *cobra.Command, args []string) error {
			return postJoin(args[0], args[1])
		},
	}

	leaveCmd = &cobra.Command{
		Use:     "leave <node-id>",
		Short:   "Mark a node as leaving the cluster",
		Args:    cobra.ExactArgs(1),
		PreRunE: processClusterConfig,
		RunE: func(_ *cobra.Command, args []string) error {
			return postAction("leave", args[0])
		},
	}

	removeCmd = &cobra.Command{
		Use:     "remove <node-id>",
		Short:   "Remove a leaving node from the cluster",
		Args:    cobra.ExactArgs(1),
		PreRunE: processClusterConfig,
		RunE: func(_ *cobra.Command, args []string) error {
			return postAction("remove", args[0])
		},
	}

	endpoint string
)

func init() {
	// add flags
	key := "endpoint"
	ClusterCmd.PersistentFlags().String(key, "http://localhost:9090", cmdUtil.WrapString("Admin endpoint of a running node"))

	// Add Commands
	ClusterCmd.AddCommand(statusCmd)
	ClusterCmd.AddCommand(joinCmd)
	ClusterCmd.AddCommand(leaveCmd)
	ClusterCmd.AddCommand(removeCmd)
}

func processClusterConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	endpoint = viper.GetString("endpoint")
	return nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func runStatus(_ *cobra.Command, _ []string) error {
	resp, err := httpClient().Get(endpoint + "/cluster/members")
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var members []cluster.Node
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil {
		return fmt.Errorf("failed to decode member list: %w", err)
	}

	if len(members) == 0 {
		fmt.Println("No members registered")
		return nil
	}

	fmt.Printf("%-16s %-8s %-24s %-20s\n", "NODE", "STATUS", "RAFT ADDRESS", "LAST SEEN")
	for _, m := range members {
		fmt.Printf("%-16s %-8s %-24s %-20s\n",
			m.ID, m.Status, m.RaftAddress, m.LastSeen.Format(time.RFC3339))
	}
	return nil
}

func postJoin(nodeID, raftAddress string) error {
	target := fmt.Sprintf("%s/cluster/join?node=%s&addr=%s",
		endpoint, url.QueryEscape(nodeID), url.QueryEscape(raftAddress))
	resp, err := httpClient().Post(target, "", nil)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("join failed with status %d: %s", resp.StatusCode, body)
	}

	fmt.Printf("join: %s at %s ok\n", nodeID, raftAddress)
	return nil
}

func postAction(action, nodeID string) error {
	target := fmt.Sprintf("%s/cluster/%s?node=%s", endpoint, action, url.QueryEscape(nodeID))
	resp, err := httpClient().Post(target, "", nil)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s failed with status %d: %s", action, resp.StatusCode, body)
	}

	fmt.Printf("%s: %s ok\n", action, nodeID)
	return nil
}
