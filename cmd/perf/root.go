package perf

import (
	"context"
	"fmt"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/hexmirror/hexmirror/cmd/util"
	"github.com/hexmirror/hexmirror/lib/blob"
	"github.com/hexmirror/hexmirror/lib/registry"
	"github.com/hexmirror/hexmirror/lib/store/lstore"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Benchmark the embedded catalog",
		Long:    "Run publish/resolve/list/download benchmarks against an in-process catalog. Useful to size a node and to compare codecs.",
		PreRunE: processPerfConfig,
		RunE:    run,
	}
	perfPackages = 100
	perfOps      = 5000
	perfThreads  = 8
)

func init() {
	// add flags
	key := "packages"
	PerfCmd.Flags().Int(key, 100, cmdUtil.WrapString("How many packages to seed before the benchmark"))
	key = "ops"
	PerfCmd.Flags().Int(key, 5000, cmdUtil.WrapString("How many operations to run per benchmark"))
	key = "threads"
	PerfCmd.Flags().Int(key, 8, cmdUtil.WrapString("Number of concurrent workers"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	perfPackages = viper.GetInt("packages")
	perfOps = viper.GetInt("ops")
	perfThreads = viper.GetInt("threads")
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	cdc, err := cmdUtil.GetCodec()
	if err != nil {
		return err
	}

	fmt.Println("Benchmarking the embedded catalog")
	fmt.Printf("Packages: %d, Ops: %d, Threads: %d, Codec: %s\n\n",
		perfPackages, perfOps, perfThreads, cdc.Name())
	catalog := registry.New(lstore.NewLocalStore(), blob.NewMemoryStore(), cdc, nil)

	reg := gometrics.NewRegistry()
	publishTimer := gometrics.GetOrRegisterTimer("publish", reg)
	resolveTimer := gometrics.GetOrRegisterTimer("resolve", reg)
	listTimer := gometrics.GetOrRegisterTimer("list", reg)
	downloadTimer := gometrics.GetOrRegisterTimer("record-download", reg)

	// Seed
	names := make([]string, perfPackages)
	for i := range names {
		names[i] = fmt.Sprintf("perf_pkg_%d", i)
		req := registry.PublishRequest{
			Name:      names[i],
			Version:   "1.0.0",
			Meta:      registry.Meta{Description: "benchmark package"},
			Tarball:   []byte("benchmark tarball"),
			Publisher: "perf",
		}
		var perr error
		publishTimer.Time(func() {
			_, perr = catalog.Publish(req)
		})
		if perr != nil {
			return fmt.Errorf("seeding failed: %w", perr)
		}
	}
	printTimer("publish", publishTimer)

	ctx := context.Background()

	runParallel(func(i int) {
		resolveTimer.Time(func() {
			_, _ = catalog.Resolve(ctx, names[i%len(names)])
		})
	})
	printTimer("resolve", resolveTimer)

	runParallel(func(i int) {
		listTimer.Time(func() {
			_, _, _ = catalog.List(registry.ListOptions{PerPage: 20})
		})
	})
	printTimer("list", listTimer)

	runParallel(func(i int) {
		downloadTimer.Time(func() {
			_ = catalog.RecordDownload(names[i%len(names)], "1.0.0")
		})
	})
	printTimer("record-download", downloadTimer)

	return nil
}

// runParallel spreads perfOps calls of fn over perfThreads workers.
func runParallel(fn func(i int)) {
	var wg sync.WaitGroup
	perThread := perfOps / perfThreads
	for t := 0; t < perfThreads; t++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				fn(offset + i)
			}
		}(t * perThread)
	}
	wg.Wait()
}

// printTimer prints one benchmark result line
func printTimer(name string, t gometrics.Timer) {
	ms := func(ns float64) float64 { return ns / float64(time.Millisecond) }
	fmt.Printf("%-20s%8d ops\t%10.3f ms/op (mean)\t%10.3f ms/op (p95)\t%10.0f ops/sec\n",
		name, t.Count(), ms(t.Mean()), ms(t.Percentile(0.95)), t.RateMean())
}
