package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	clusterCmd "github.com/hexmirror/hexmirror/cmd/cluster"
	"github.com/hexmirror/hexmirror/cmd/perf"
	"github.com/hexmirror/hexmirror/cmd/serve"
	"github.com/hexmirror/hexmirror/cmd/util"
)

const (
	Version = "0.4.2"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "hexmirror",
		Short: "replicated private package registry",
		Long: fmt.Sprintf(`hexmirror (v%s)

A replicated private package registry with upstream cache-aside
mirroring, leveraging RAFT consensus for a consistent catalog across
all nodes.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hexmirror",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hexmirror v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(clusterCmd.ClusterCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "codec"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("codec used to encode table rows (json, gob)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
