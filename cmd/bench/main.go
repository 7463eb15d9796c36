// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main provides benchmarking tools for the latch-free index layer.
//
// This command-line tool drives an index through a set of workloads and
// prints throughput for each. It's useful for comparing engines, key forms
// and node tuning on a given machine.
//
// # Benchmark Categories
//
// The benchmark suite includes:
//   - Single-threaded operations (baseline insert, lookup and delete)
//   - Concurrent inserts (split and CAS contention)
//   - Mixed workloads (inserts, deletes and lookups racing)
//   - Range scans (ordered iteration over sibling chains)
//
// # Usage
//
// Run all benchmarks with defaults:
//
//	go run ./cmd/bench
//
// Compare engines and key forms:
//
//	go run ./cmd/bench --index-type hash --key-type varchar --threads 16
//
// Tune the tree and print the metrics at the end:
//
//	go run ./cmd/bench --leaf-node-size 256 --max-delta-chain 4 --metrics
//
// Every tuning flag can also be set through LFIDX_* environment variables,
// a .env file or a config file passed with --config.
//
// # Dangers and Warnings
//
//   - **Resource Consumption**: Benchmarks can consume significant CPU and memory resources.
//   - **Data Loss**: Benchmarks use in-memory indexes - all entries are lost after completion.
//   - **Garbage Collection**: Go's GC may impact benchmark results unpredictably.
//
// # Interpreting Results
//
// Key metrics to consider:
//   - **Throughput**: Operations per second (higher is better)
//   - **CAS Retries**: Lost installs; grows with contention on hot pages
//   - **Structure**: Height, splits and merges after the run
//
// # See Also
//
// For interactive testing, see the REPL tool.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"

	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/config"
	core "github.com/kianostad/lfidx/internal/core"
	"github.com/kianostad/lfidx/internal/logging"
	"github.com/kianostad/lfidx/internal/monitoring/metrics"
	"github.com/kianostad/lfidx/internal/types"
)

var plog = logger.GetLogger("cmd")

var (
	v = config.NewViper()

	rootCmd = &cobra.Command{
		Use:          "bench",
		Short:        "Benchmarks for the latch-free index layer",
		PreRunE:      processConfig,
		RunE:         run,
		SilenceUsage: true,
	}

	cfg        config.Config
	numKeys    = 100000
	numThreads = runtime.GOMAXPROCS(0)
	indexType  = core.BwTree
	keyType    = types.BigInt
	printStats = false
)

func init() {
	if err := config.SetupFlags(rootCmd, v); err != nil {
		panic(err)
	}
	flags := rootCmd.Flags()
	flags.String("config", "", "Optional config file (yaml, json or toml)")
	flags.Int("keys", numKeys, "Number of keys per benchmark")
	flags.Int("threads", numThreads, "Number of goroutines for concurrent benchmarks")
	flags.String("index-type", indexType.String(), "Index engine: bwtree or hash")
	flags.String("key-type", keyType.String(), "Key column type: bigint, integer or varchar")
	flags.Bool("metrics", printStats, "Print Prometheus metrics after the run")
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := v.GetString("config"); path != "" {
		if err := config.ReadFile(v, path); err != nil {
			return err
		}
	}

	var err error
	if cfg, err = config.Load(v); err != nil {
		return err
	}
	if err := logging.Init(cfg.LogLevel); err != nil {
		return err
	}

	numKeys = v.GetInt("keys")
	numThreads = v.GetInt("threads")
	printStats = v.GetBool("metrics")
	if numKeys <= 0 || numThreads <= 0 {
		return errors.Newf("keys and threads must be positive, got %d and %d", numKeys, numThreads)
	}
	if indexType, err = core.ParseIndexType(v.GetString("index-type")); err != nil {
		return err
	}
	if keyType, err = types.ParseTypeID(v.GetString("key-type")); err != nil {
		return err
	}
	switch keyType {
	case types.Integer, types.BigInt, types.Varchar:
	default:
		return errors.Newf("unsupported key type %s", keyType)
	}
	return nil
}

// workload bundles an index with the key schema used to build its keys.
type workload struct {
	idx       core.Index
	keySchema *catalog.Schema
	metrics   *metrics.Metrics
}

func newWorkload(name string) (*workload, error) {
	table := catalog.NewSchema(
		catalog.NewColumn("id", keyType),
		catalog.NewColumn("payload", types.Varchar),
	)
	keySchema, err := table.Project([]uint32{0})
	if err != nil {
		return nil, err
	}
	meta, err := core.NewIndexMetadata(core.MetadataSpec{
		Name:        name,
		OID:         1,
		TableOID:    1,
		Type:        indexType,
		TupleSchema: table,
		KeySchema:   keySchema,
		KeyAttrs:    []uint32{0},
	})
	if err != nil {
		return nil, err
	}
	m := metrics.New(name)
	idx, err := core.New(meta, core.WithConfig(cfg), core.WithMetrics(m))
	if err != nil {
		m.Close()
		return nil, err
	}
	return &workload{idx: idx, keySchema: keySchema, metrics: m}, nil
}

func (w *workload) key(i int) *catalog.Tuple {
	var val types.Value
	switch keyType {
	case types.Varchar:
		val = types.NewVarchar("key" + strconv.Itoa(i))
	default:
		val = types.NewIntegral(keyType, int64(i))
	}
	return catalog.NewTupleFromValues(w.keySchema, val)
}

func loc(i int) catalog.ItemPointer {
	return catalog.ItemPointer{Block: uint32(i / 64), Offset: uint32(i % 64)}
}

func (w *workload) close(ctx context.Context) {
	if printStats {
		if err := w.metrics.Sync(ctx); err != nil {
			plog.Warningf("sync metrics: %v", err)
		}
		fmt.Println(w.metrics.ExportPrometheus())
	}
	if err := w.idx.Close(ctx); err != nil {
		plog.Warningf("close index: %v", err)
	}
	w.metrics.Close()
}

func report(label string, n int, d time.Duration) {
	fmt.Printf("   %s: %d ops in %v (%.0f ops/sec)\n", label, n, d, float64(n)/d.Seconds())
}

func printStructure(idx core.Index) {
	s := idx.Stats()
	fmt.Printf("   Structure: %d entries, height %d, %d splits, %d merges, %d consolidations, %d CAS retries\n",
		s.Entries, s.Height, s.Splits, s.Merges, s.Consolidations, s.CASRetries)
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Latch-Free Index Benchmarks")
	fmt.Println("===========================")
	fmt.Printf("Engine: %s, key: %s, keys: %d, threads: %d\n", indexType, keyType, numKeys, numThreads)

	ctx := context.Background()

	// Benchmark 1: Single-threaded operations
	if err := benchmarkSingleThreaded(ctx); err != nil {
		return err
	}

	// Benchmark 2: Concurrent inserts
	if err := benchmarkConcurrentInserts(ctx); err != nil {
		return err
	}

	// Benchmark 3: Mixed workload
	if err := benchmarkMixedWorkload(ctx); err != nil {
		return err
	}

	// Benchmark 4: Range scans
	return benchmarkRangeScans(ctx)
}

func benchmarkSingleThreaded(ctx context.Context) error {
	fmt.Println("\n1. Single-threaded operations")
	w, err := newWorkload("bench_single")
	if err != nil {
		return err
	}
	defer w.close(ctx)

	start := time.Now()
	for i := 0; i < numKeys; i++ {
		if err := w.idx.InsertEntry(ctx, w.key(i), loc(i)); err != nil {
			return err
		}
	}
	report("Insert", numKeys, time.Since(start))

	start = time.Now()
	for i := 0; i < numKeys; i++ {
		if _, err := w.idx.Lookup(ctx, w.key(i)); err != nil {
			return err
		}
	}
	report("Lookup", numKeys, time.Since(start))

	start = time.Now()
	for i := 0; i < numKeys; i += 2 {
		if err := w.idx.DeleteEntry(ctx, w.key(i), loc(i)); err != nil {
			return err
		}
	}
	report("Delete", numKeys/2, time.Since(start))
	printStructure(w.idx)
	return w.idx.CheckInvariants()
}

func benchmarkConcurrentInserts(ctx context.Context) error {
	fmt.Println("\n2. Concurrent inserts")
	w, err := newWorkload("bench_concurrent")
	if err != nil {
		return err
	}
	defer w.close(ctx)

	var wg sync.WaitGroup
	errs := make(chan error, numThreads)
	start := time.Now()
	for g := 0; g < numThreads; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i < numKeys; i += numThreads {
				if err := w.idx.InsertEntry(ctx, w.key(i), loc(i)); err != nil {
					errs <- err
					return
				}
			}
		}(g)
	}
	wg.Wait()
	report("Insert", numKeys, time.Since(start))
	close(errs)
	if err := <-errs; err != nil {
		return err
	}
	printStructure(w.idx)
	return w.idx.CheckInvariants()
}

func benchmarkMixedWorkload(ctx context.Context) error {
	fmt.Println("\n3. Mixed workload (50% lookup, 25% insert, 25% delete)")
	w, err := newWorkload("bench_mixed")
	if err != nil {
		return err
	}
	defer w.close(ctx)

	for i := 0; i < numKeys; i++ {
		if err := w.idx.InsertEntry(ctx, w.key(i), loc(i)); err != nil {
			return err
		}
	}

	perThread := numKeys / numThreads
	var wg sync.WaitGroup
	start := time.Now()
	for g := 0; g < numThreads; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < perThread; j++ {
				i := g + j*numThreads
				switch j % 4 {
				case 0, 1:
					_, _ = w.idx.ScanKey(ctx, w.key(i))
				case 2:
					_ = w.idx.InsertEntry(ctx, w.key(numKeys+i), loc(i))
				case 3:
					_ = w.idx.DeleteEntry(ctx, w.key(i), loc(i))
				}
			}
		}(g)
	}
	wg.Wait()
	report("Mixed", perThread*numThreads, time.Since(start))
	printStructure(w.idx)
	return w.idx.CheckInvariants()
}

func benchmarkRangeScans(ctx context.Context) error {
	fmt.Println("\n4. Range scans")
	w, err := newWorkload("bench_range")
	if err != nil {
		return err
	}
	defer w.close(ctx)

	for i := 0; i < numKeys; i++ {
		if err := w.idx.InsertEntry(ctx, w.key(i), loc(i)); err != nil {
			return err
		}
	}

	start := time.Now()
	entries, err := w.idx.ScanAll(ctx)
	if err != nil {
		return err
	}
	report("Full scan entries", len(entries), time.Since(start))

	const width = 100
	scans := 0
	returned := 0
	start = time.Now()
	step := max(1, numKeys/100)
	for i := 0; i+width < numKeys; i += step {
		locs, err := w.idx.ScanRange(ctx, core.RangeOptions{
			Low: w.key(i), High: w.key(i + width), LowInclusive: true,
		})
		if err != nil {
			return err
		}
		scans++
		returned += len(locs)
	}
	if scans > 0 {
		report(fmt.Sprintf("Range scans (%d entries)", returned), scans, time.Since(start))
	}

	start = time.Now()
	desc, err := w.idx.ScanRange(ctx, core.RangeOptions{Descending: true})
	if err != nil {
		return err
	}
	report("Descending scan entries", len(desc), time.Since(start))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
